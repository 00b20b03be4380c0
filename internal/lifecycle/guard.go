package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/domain"
)

// Guard serves user-facing lookups and cancellation. Cancellation is the only
// terminal transition a user can trigger directly, so ownership is re-checked
// here rather than trusted from the caller.
type Guard struct {
	jobs      domain.JobRepository
	finalizer *Finalizer
	promoter  *Promoter
	logger    zerolog.Logger
}

func NewGuard(jobs domain.JobRepository, finalizer *Finalizer, promoter *Promoter, logger zerolog.Logger) *Guard {
	return &Guard{
		jobs:      jobs,
		finalizer: finalizer,
		promoter:  promoter,
		logger:    logger.With().Str("component", "guard").Logger(),
	}
}

// GetActive returns the user's queued or running job, or nil.
func (g *Guard) GetActive(ctx context.Context, userID string) (*domain.Job, error) {
	return g.jobs.FindActiveByUser(ctx, userID)
}

// Get returns the job only when it belongs to userID. A foreign job reads as
// ErrNotFound so job IDs do not leak across users.
func (g *Guard) Get(ctx context.Context, userID string, jobID uuid.UUID) (*domain.Job, error) {
	job, err := g.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// Cancel cancels the user's job and refunds its credits. Returns the job in
// its post-cancel state. A job that already reached a terminal status yields
// ErrNotCancellable, whether it got there before the call or during it.
func (g *Guard) Cancel(ctx context.Context, userID string, jobID uuid.UUID) (*domain.Job, error) {
	job, err := g.Get(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Active() {
		return nil, domain.ErrNotCancellable
	}

	wasRunning := job.Status == domain.JobStatusRunning
	won, err := g.finalizer.Cancel(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	if !won {
		// Something else finalized the job between our read and the
		// conditional update. From the user's view it is no longer
		// cancellable.
		return nil, domain.ErrNotCancellable
	}

	g.logger.Info().
		Str("job_id", jobID.String()).
		Str("user_id", userID).
		Bool("was_running", wasRunning).
		Msg("job cancelled")

	if wasRunning {
		if _, err := g.promoter.PromoteNext(ctx); err != nil {
			g.logger.Error().Err(err).Msg("promotion after cancel failed")
		}
	}
	return job, nil
}
