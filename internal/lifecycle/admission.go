package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/domain"
)

// SubmitParams carries one submission request.
type SubmitParams struct {
	UserID     string
	ToolType   domain.ToolType
	CreditCost int
	Payload    json.RawMessage
}

// Admission decides whether a submitted job runs immediately or waits in the
// queue. Rejections happen before any job row exists, so there is nothing to
// roll back on those paths.
type Admission struct {
	jobs          domain.JobRepository
	credits       domain.CreditLedger
	dispatcher    *Dispatcher
	promoter      *Promoter
	maxConcurrent int
	logger        zerolog.Logger
}

func NewAdmission(jobs domain.JobRepository, credits domain.CreditLedger, dispatcher *Dispatcher, promoter *Promoter, maxConcurrent int, logger zerolog.Logger) *Admission {
	return &Admission{
		jobs:          jobs,
		credits:       credits,
		dispatcher:    dispatcher,
		promoter:      promoter,
		maxConcurrent: maxConcurrent,
		logger:        logger.With().Str("component", "admission").Logger(),
	}
}

// Submit reserves credits and admits the job. The returned job is running,
// queued, or — when the provider rejected the dispatch synchronously —
// already failed with credits refunded.
func (a *Admission) Submit(ctx context.Context, p SubmitParams) (*domain.Job, error) {
	if !p.ToolType.Valid() {
		return nil, domain.ErrUnsupportedTool
	}
	if p.CreditCost <= 0 {
		return nil, fmt.Errorf("credit cost must be positive, got %d", p.CreditCost)
	}

	if active, err := a.jobs.FindActiveByUser(ctx, p.UserID); err != nil {
		return nil, fmt.Errorf("check active job: %w", err)
	} else if active != nil {
		return nil, &domain.ActiveJobError{Job: active}
	}

	job := &domain.Job{
		ID:         uuid.New(),
		ToolType:   p.ToolType,
		UserID:     p.UserID,
		CreditCost: p.CreditCost,
		Payload:    p.Payload,
	}

	balance, err := a.credits.Reserve(ctx, p.UserID, job.ID, p.CreditCost,
		fmt.Sprintf("consumption: %s job", p.ToolType))
	if err != nil {
		return nil, err
	}
	a.logger.Info().
		Str("job_id", job.ID.String()).
		Str("user_id", p.UserID).
		Int("cost", p.CreditCost).
		Int("balance", balance).
		Msg("credits reserved")

	if err := a.jobs.CreateAdmitted(ctx, job, a.maxConcurrent); err != nil {
		// The reservation already happened; hand the credits back before
		// surfacing the rejection.
		a.rollbackReservation(ctx, job)
		return nil, err
	}

	a.logger.Info().
		Str("job_id", job.ID.String()).
		Str("tool_type", string(job.ToolType)).
		Str("status", string(job.Status)).
		Msg("job admitted")

	if job.Status == domain.JobStatusRunning {
		if err := a.dispatcher.Dispatch(ctx, job); err != nil {
			// The job is terminal failed and refunded; its slot is free
			// again, so let the queue head have it.
			if _, perr := a.promoter.PromoteNext(ctx); perr != nil {
				a.logger.Error().Err(perr).Msg("promotion after dispatch failure failed")
			}
		}
	}
	return job, nil
}

func (a *Admission) rollbackReservation(ctx context.Context, job *domain.Job) {
	if _, err := a.credits.Grant(ctx, job.UserID, job.CreditCost,
		fmt.Sprintf("reservation rollback for job %s", job.ID)); err != nil {
		a.logger.Error().Err(err).
			Str("job_id", job.ID.String()).
			Str("user_id", job.UserID).
			Int("amount", job.CreditCost).
			Msg("reservation rollback failed, credits stranded")
	}
}
