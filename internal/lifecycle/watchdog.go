package lifecycle

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/domain"
)

const watchdogBatchSize = 20

// Watchdog recovers running jobs whose progress stopped: jobs the provider
// silently dropped, webhooks that never arrived, workers that died mid-flight.
// A stalled job with a provider reference gets one last status check before
// being declared dead, so a merely slow webhook does not strand the user's
// credits.
type Watchdog struct {
	jobs            domain.JobRepository
	ingestor        *Ingestor
	finalizer       *Finalizer
	promoter        *Promoter
	stuckThreshold  time.Duration
	recheckCooldown time.Duration
	logger          zerolog.Logger
}

func NewWatchdog(jobs domain.JobRepository, ingestor *Ingestor, finalizer *Finalizer, promoter *Promoter, stuckThreshold, recheckCooldown time.Duration, logger zerolog.Logger) *Watchdog {
	return &Watchdog{
		jobs:            jobs,
		ingestor:        ingestor,
		finalizer:       finalizer,
		promoter:        promoter,
		stuckThreshold:  stuckThreshold,
		recheckCooldown: recheckCooldown,
		logger:          logger.With().Str("component", "watchdog").Logger(),
	}
}

// Sweep inspects stalled running jobs. Per job it either forces a failure
// (refunding and freeing the slot) or issues a provider re-check that resets
// the cooldown. Errors on one job never stop the sweep.
func (w *Watchdog) Sweep(ctx context.Context) error {
	stalled, err := w.jobs.ListStalled(ctx, w.stuckThreshold, watchdogBatchSize)
	if err != nil {
		return err
	}
	for i := range stalled {
		w.inspect(ctx, &stalled[i])
	}
	return nil
}

func (w *Watchdog) inspect(ctx context.Context, job *domain.Job) {
	log := w.logger.With().
		Str("job_id", job.ID.String()).
		Dur("elapsed", job.Elapsed(time.Now())).
		Logger()

	// Never dispatched: there is no provider task to ask about.
	if job.ExternalTaskRef == "" {
		log.Warn().Msg("job stalled before dispatch, failing")
		w.forceFail(ctx, job, "job stalled before dispatch")
		return
	}

	// Give the provider one chance to answer before declaring the job dead.
	// Only a check issued after the job's last progress counts; a stamp
	// from an earlier stall episode is stale.
	rechecked := job.LastCheckedAt != nil && job.LastCheckedAt.After(job.UpdatedAt)
	if !rechecked {
		log.Info().Str("external_ref", job.ExternalTaskRef).Msg("stalled job, re-checking provider")
		if err := w.jobs.MarkChecked(ctx, job.ID); err != nil {
			log.Warn().Err(err).Msg("mark checked failed")
		}
		if _, err := w.ingestor.Poll(ctx, job); err != nil {
			log.Warn().Err(err).Msg("provider re-check failed")
		}
		return
	}

	if time.Since(*job.LastCheckedAt) < w.recheckCooldown {
		// Re-checked recently and still stalled; wait out the cooldown.
		return
	}

	log.Warn().Str("external_ref", job.ExternalTaskRef).Msg("job stalled past recheck cooldown, failing")
	w.forceFail(ctx, job, "job stalled: no completion signal from provider")
}

func (w *Watchdog) forceFail(ctx context.Context, job *domain.Job, reason string) {
	won, err := w.finalizer.Fail(ctx, job, domain.TerminalFields{ErrorMessage: reason})
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("watchdog finalize failed")
		return
	}
	if !won {
		return
	}
	if _, err := w.promoter.PromoteNext(ctx); err != nil {
		w.logger.Error().Err(err).Msg("promotion after watchdog failure failed")
	}
}
