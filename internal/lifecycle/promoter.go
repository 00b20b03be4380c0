package lifecycle

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/domain"
)

// Promoter fills freed capacity from the FIFO queue. It runs once per
// completion event and speculatively on a worker timer, so a dropped
// promotion trigger only delays a queued job, never strands it.
type Promoter struct {
	jobs          domain.JobRepository
	dispatcher    *Dispatcher
	maxConcurrent int
	logger        zerolog.Logger
}

func NewPromoter(jobs domain.JobRepository, dispatcher *Dispatcher, maxConcurrent int, logger zerolog.Logger) *Promoter {
	return &Promoter{
		jobs:          jobs,
		dispatcher:    dispatcher,
		maxConcurrent: maxConcurrent,
		logger:        logger.With().Str("component", "promoter").Logger(),
	}
}

// PromoteNext claims the oldest queued job if a slot is free and dispatches
// it. When the dispatch is rejected the slot frees again immediately, so the
// scan continues until a job sticks or the queue is drained.
func (p *Promoter) PromoteNext(ctx context.Context) (*domain.Job, error) {
	for {
		job, err := p.jobs.PromoteOldestQueued(ctx, p.maxConcurrent)
		if err != nil {
			return nil, err
		}
		if job == nil {
			return nil, nil
		}
		p.logger.Info().
			Str("job_id", job.ID.String()).
			Str("user_id", job.UserID).
			Msg("promoted queued job")
		if err := p.dispatcher.Dispatch(ctx, job); err != nil {
			p.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("promoted job failed to dispatch")
			continue
		}
		return job, nil
	}
}

// Sweep promotes until capacity is full or the queue is empty, for the
// periodic self-healing pass.
func (p *Promoter) Sweep(ctx context.Context) error {
	for {
		job, err := p.PromoteNext(ctx)
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}
	}
}
