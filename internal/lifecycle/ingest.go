package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/domain"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/providers/compute"
)

// Outcome is the provider-reported end of a task, normalized from either a
// webhook envelope or a poll result.
type Outcome struct {
	Succeeded bool
	OutputURL string
	Error     string
	Raw       json.RawMessage
}

// WebhookEnvelope is the provider push payload.
type WebhookEnvelope struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	OutputURL string `json:"output_url"`
	ErrorMsg  string `json:"error_message"`
}

// Ingestor finalizes jobs from completion signals. Webhook delivery is
// at-least-once and sometimes zero-times; both entry points funnel into one
// idempotent finalization whose only guard is the conditional transition.
type Ingestor struct {
	jobs      domain.JobRepository
	client    compute.Client
	finalizer *Finalizer
	promoter  *Promoter
	logger    zerolog.Logger
}

func NewIngestor(jobs domain.JobRepository, client compute.Client, finalizer *Finalizer, promoter *Promoter, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		jobs:      jobs,
		client:    client,
		finalizer: finalizer,
		promoter:  promoter,
		logger:    logger.With().Str("component", "ingestor").Logger(),
	}
}

// HandleWebhook resolves the correlation reference and finalizes the job. An
// unknown reference is acknowledged and dropped: the job may have been
// force-failed already, and failing the delivery would only trigger provider
// retries nobody needs.
func (i *Ingestor) HandleWebhook(ctx context.Context, envelope WebhookEnvelope, raw json.RawMessage) error {
	if envelope.TaskID == "" {
		return errors.New("webhook envelope carries no task id")
	}
	job, err := i.jobs.FindByExternalRef(ctx, envelope.TaskID)
	if errors.Is(err, domain.ErrNotFound) {
		i.logger.Info().Str("external_ref", envelope.TaskID).Msg("orphan webhook dropped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve webhook ref: %w", err)
	}

	out := Outcome{
		Succeeded: envelope.ErrorMsg == "" && !strings.EqualFold(envelope.Status, "failed"),
		OutputURL: envelope.OutputURL,
		Error:     envelope.ErrorMsg,
		Raw:       raw,
	}
	if !out.Succeeded && out.Error == "" {
		out.Error = "task failed"
	}
	return i.Finalize(ctx, job, out)
}

// Poll queries the provider for an operation-handle job. A "still pending"
// answer counts as progress; done=true follows the same finalization path as
// a webhook. A provider error deliberately leaves the job untouched, so the
// watchdog's stalled clock keeps running while the provider is unreachable.
func (i *Ingestor) Poll(ctx context.Context, job *domain.Job) (bool, error) {
	if job.ExternalTaskRef == "" {
		return false, errors.New("job has no external reference to poll")
	}
	op, err := i.client.CheckOperation(ctx, job.ExternalTaskRef)
	if err != nil {
		return false, fmt.Errorf("poll job %s: %w", job.ID, err)
	}

	if !op.Done {
		i.recordProgress(ctx, job)
		return false, nil
	}

	return true, i.Finalize(ctx, job, Outcome{
		Succeeded: op.Succeeded,
		OutputURL: op.OutputURL,
		Error:     op.Error,
		Raw:       op.Raw,
	})
}

// Finalize applies the terminal transition. A lost transition means the
// signal was a duplicate (or a cancel won); either way there is nothing left
// to do. Every won transition frees a slot, so the promoter runs after each.
func (i *Ingestor) Finalize(ctx context.Context, job *domain.Job, out Outcome) error {
	fields := domain.TerminalFields{
		OutputURL:    out.OutputURL,
		ErrorMessage: out.Error,
		RawPayload:   out.Raw,
	}

	var (
		won bool
		err error
	)
	if out.Succeeded {
		won, err = i.finalizer.Complete(ctx, job, fields)
	} else {
		won, err = i.finalizer.Fail(ctx, job, fields)
	}
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	i.logger.Info().
		Str("job_id", job.ID.String()).
		Str("status", string(job.Status)).
		Msg("job finalized")

	if _, err := i.promoter.PromoteNext(ctx); err != nil {
		i.logger.Error().Err(err).Msg("promotion after finalize failed")
	}
	return nil
}

func (i *Ingestor) recordProgress(ctx context.Context, job *domain.Job) {
	// Only append when something actually changed; a slow provider polled
	// every few seconds would otherwise flood the step history. Repeat
	// pending answers still refresh updated_at so the job does not read
	// as stalled while the provider is answering for it.
	const step = "processing"
	if job.CurrentStep == step {
		if err := i.jobs.Touch(ctx, job.ID); err != nil {
			i.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("touch failed")
		}
		return
	}
	if err := i.jobs.AppendStep(ctx, job.ID, step, "provider accepted, awaiting completion"); err != nil {
		i.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("append step failed")
		return
	}
	job.CurrentStep = step
}
