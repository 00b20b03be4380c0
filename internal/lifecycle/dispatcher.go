package lifecycle

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/domain"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/providers/compute"
)

// Dispatcher hands an admitted running job to the external provider and
// records the correlation handle completion signals will carry.
type Dispatcher struct {
	jobs       domain.JobRepository
	client     compute.Client
	finalizer  *Finalizer
	webhookURL string
	logger     zerolog.Logger
}

func NewDispatcher(jobs domain.JobRepository, client compute.Client, finalizer *Finalizer, webhookURL string, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		jobs:       jobs,
		client:     client,
		finalizer:  finalizer,
		webhookURL: webhookURL,
		logger:     logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch submits the job to the provider. A synchronous rejection is not
// transient: the job is finalized as failed with a refund, and the error is
// returned so the caller can refill the freed slot. Step appends are
// best-effort and never fail the dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, job *domain.Job) error {
	d.appendStep(ctx, job, "dispatching", string(job.ToolType))

	handle, err := d.client.SubmitTask(ctx, compute.TaskRequest{
		JobID:      job.ID,
		ToolType:   string(job.ToolType),
		Payload:    job.Payload,
		WebhookURL: d.webhookURL,
	})
	if err != nil {
		d.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("provider rejected task")
		if _, ferr := d.finalizer.Fail(ctx, job, domain.TerminalFields{
			ErrorMessage: fmt.Sprintf("dispatch rejected: %v", err),
		}); ferr != nil {
			return ferr
		}
		return fmt.Errorf("dispatch job %s: %w", job.ID, err)
	}

	if err := d.jobs.SetExternalRef(ctx, job.ID, handle.Ref, handle.RequiresPoll); err != nil {
		// The job left running while we talked to the provider (a cancel
		// won the race). Its eventual completion signal will hit a
		// terminal row and no-op.
		d.logger.Warn().Err(err).
			Str("job_id", job.ID.String()).
			Str("external_ref", handle.Ref).
			Msg("dispatched job no longer running")
		return nil
	}
	job.ExternalTaskRef = handle.Ref
	job.RequiresPoll = handle.RequiresPoll

	d.appendStep(ctx, job, "submitted", handle.Ref)
	d.logger.Info().
		Str("job_id", job.ID.String()).
		Str("external_ref", handle.Ref).
		Bool("requires_poll", handle.RequiresPoll).
		Msg("task submitted")
	return nil
}

func (d *Dispatcher) appendStep(ctx context.Context, job *domain.Job, step, details string) {
	if err := d.jobs.AppendStep(ctx, job.ID, step, details); err != nil {
		d.logger.Warn().Err(err).Str("job_id", job.ID.String()).Str("step", step).Msg("append step failed")
	}
}
