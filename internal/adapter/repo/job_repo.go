package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/domain"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/infra"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/sqlinline"
)

// capacityLockKey serializes every count-then-write against the running-job
// ceiling. Admission and promotion both take it, so the global concurrency
// check is never a read followed by a separate write.
const capacityLockKey int64 = 7391424201

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	sql infra.SQLClient
}

func NewJobRepository(sql infra.SQLClient) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// CreateAdmitted decides running vs queued and inserts the row in one
// transaction holding the capacity lock. The per-user active check is repeated
// inside the lock so two concurrent submissions by the same user cannot both
// pass the pre-check done by the admission controller.
func (r *JobRepositoryPG) CreateAdmitted(ctx context.Context, job *domain.Job, maxConcurrent int) error {
	return r.sql.WithTx(ctx, func(tx infra.SQLExecutor) error {
		if _, err := tx.Exec(ctx, sqlinline.QAdmissionLock, capacityLockKey); err != nil {
			return fmt.Errorf("acquire capacity lock: %w", err)
		}

		active, err := scanJob(tx.QueryRow(ctx, sqlinline.QSelectActiveJobByUser, job.UserID))
		if err == nil {
			return &domain.ActiveJobError{Job: active}
		} else if err != domain.ErrNotFound {
			return fmt.Errorf("check active job: %w", err)
		}

		var running int
		if err := tx.QueryRow(ctx, sqlinline.QCountRunningJobs).Scan(&running); err != nil {
			return fmt.Errorf("count running jobs: %w", err)
		}

		job.Status = domain.JobStatusQueued
		job.CurrentStep = "queued"
		if running < maxConcurrent {
			job.Status = domain.JobStatusRunning
			job.CurrentStep = "admitted"
		}

		row := tx.QueryRow(ctx, sqlinline.QInsertJob,
			job.ID, job.ToolType, job.UserID, job.Status, job.CreditCost,
			nullableJSON(job.Payload), job.CurrentStep)
		if err := row.Scan(&job.CreatedAt, &job.UpdatedAt, &job.StartedAt); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		job.StepHistory = []domain.StepEntry{{Step: job.CurrentStep, Timestamp: job.CreatedAt}}
		return nil
	})
}

func (r *JobRepositoryPG) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobByID, id))
}

func (r *JobRepositoryPG) FindByExternalRef(ctx context.Context, ref string) (*domain.Job, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobByExternalRef, ref))
}

func (r *JobRepositoryPG) FindActiveByUser(ctx context.Context, userID string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectActiveJobByUser, userID))
	if err == domain.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// TransitionTo is the conditional-update primitive. Zero rows affected means
// another caller already moved the job; we report that as ErrConflict and the
// caller takes no further action.
func (r *JobRepositoryPG) TransitionTo(ctx context.Context, id uuid.UUID, from, to domain.JobStatus, fields domain.TerminalFields) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QTransitionJob,
		id, from, to, fields.OutputURL, fields.ErrorMessage, nullableJSON(fields.RawPayload))
	if err != nil {
		return fmt.Errorf("transition job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *JobRepositoryPG) SetExternalRef(ctx context.Context, id uuid.UUID, ref string, requiresPoll bool) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QSetJobExternalRef, id, ref, requiresPoll)
	if err != nil {
		return fmt.Errorf("set external ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *JobRepositoryPG) AppendStep(ctx context.Context, id uuid.UUID, step, details string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QAppendJobStep, id, step, details)
	return err
}

// PromoteOldestQueued claims the FIFO head under the capacity lock. Returns
// nil when the queue is empty or every slot is taken.
func (r *JobRepositoryPG) PromoteOldestQueued(ctx context.Context, maxConcurrent int) (*domain.Job, error) {
	var promoted *domain.Job
	err := r.sql.WithTx(ctx, func(tx infra.SQLExecutor) error {
		if _, err := tx.Exec(ctx, sqlinline.QAdmissionLock, capacityLockKey); err != nil {
			return fmt.Errorf("acquire capacity lock: %w", err)
		}
		job, err := scanJob(tx.QueryRow(ctx, sqlinline.QPromoteOldestQueued, maxConcurrent))
		if err == domain.ErrNotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("promote queued job: %w", err)
		}
		promoted = job
		return nil
	})
	return promoted, err
}

func (r *JobRepositoryPG) ListStalled(ctx context.Context, stuckAfter time.Duration, limit int) ([]domain.Job, error) {
	cutoff := time.Now().Add(-stuckAfter)
	rows, err := r.sql.Query(ctx, sqlinline.QListStalledRunning, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stalled jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *JobRepositoryPG) Touch(ctx context.Context, id uuid.UUID) error {
	_, err := r.sql.Exec(ctx, sqlinline.QTouchJob, id)
	return err
}

func (r *JobRepositoryPG) MarkChecked(ctx context.Context, id uuid.UUID) error {
	_, err := r.sql.Exec(ctx, sqlinline.QMarkJobChecked, id)
	return err
}

func (r *JobRepositoryPG) ListRunningPollable(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListRunningPollable, limit)
	if err != nil {
		return nil, fmt.Errorf("list pollable jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)

func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJobFrom(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	job, err := scanJobFrom(row.Scan)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func scanJobFrom(scan func(dest ...any) error) (*domain.Job, error) {
	var (
		job     domain.Job
		history []byte
	)
	if err := scan(
		&job.ID,
		&job.ToolType,
		&job.UserID,
		&job.Status,
		&job.CreditCost,
		&job.Payload,
		&job.ExternalTaskRef,
		&job.RequiresPoll,
		&job.CurrentStep,
		&history,
		&job.OutputURL,
		&job.ErrorMessage,
		&job.CreditsRefunded,
		&job.RawCompletion,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.LastCheckedAt,
	); err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &job.StepHistory); err != nil {
			return nil, fmt.Errorf("decode step history: %w", err)
		}
	}
	return &job, nil
}

func nullableJSON(b json.RawMessage) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
