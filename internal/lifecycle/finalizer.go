package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/domain"
)

// Finalizer is the single code path for "settle credits and free the slot".
// Ordinary completion, processing failure, dispatch rejection, cancellation
// and watchdog timeouts all resolve through it, so a refund can only ever be
// attempted after the matching terminal transition was won.
type Finalizer struct {
	jobs    domain.JobRepository
	credits domain.CreditLedger
	logger  zerolog.Logger
}

func NewFinalizer(jobs domain.JobRepository, credits domain.CreditLedger, logger zerolog.Logger) *Finalizer {
	return &Finalizer{
		jobs:    jobs,
		credits: credits,
		logger:  logger.With().Str("component", "finalizer").Logger(),
	}
}

// Complete moves a running job to completed. Returns false without error when
// another caller already finalized the job (the duplicate-signal no-op).
func (f *Finalizer) Complete(ctx context.Context, job *domain.Job, fields domain.TerminalFields) (bool, error) {
	won, err := f.transition(ctx, job, domain.JobStatusRunning, domain.JobStatusCompleted, fields)
	if err != nil || !won {
		return won, err
	}
	job.OutputURL = fields.OutputURL
	return true, nil
}

// Fail moves a running job to failed and refunds its credits.
func (f *Finalizer) Fail(ctx context.Context, job *domain.Job, fields domain.TerminalFields) (bool, error) {
	won, err := f.transition(ctx, job, domain.JobStatusRunning, domain.JobStatusFailed, fields)
	if err != nil || !won {
		return won, err
	}
	job.ErrorMessage = fields.ErrorMessage
	return true, f.refund(ctx, job, "refund: job failed")
}

// Cancel moves a queued or running job to cancelled and refunds its credits.
// The from-status precondition makes a cancel racing a completion safe: only
// one of them wins.
func (f *Finalizer) Cancel(ctx context.Context, job *domain.Job) (bool, error) {
	won, err := f.transition(ctx, job, job.Status, domain.JobStatusCancelled, domain.TerminalFields{})
	if err != nil || !won {
		return won, err
	}
	return true, f.refund(ctx, job, "refund: job cancelled")
}

func (f *Finalizer) transition(ctx context.Context, job *domain.Job, from, to domain.JobStatus, fields domain.TerminalFields) (bool, error) {
	err := f.jobs.TransitionTo(ctx, job.ID, from, to, fields)
	if errors.Is(err, domain.ErrConflict) {
		f.logger.Debug().
			Str("job_id", job.ID.String()).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("transition lost, job already moved")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("finalize %s -> %s: %w", from, to, err)
	}
	job.Status = to
	return true, nil
}

func (f *Finalizer) refund(ctx context.Context, job *domain.Job, description string) error {
	balance, err := f.credits.Refund(ctx, job.ID, job.UserID, job.CreditCost, description)
	if errors.Is(err, domain.ErrAlreadyRefunded) {
		f.logger.Debug().Str("job_id", job.ID.String()).Msg("refund skipped, already settled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("refund job %s: %w", job.ID, err)
	}
	job.CreditsRefunded = true
	f.logger.Info().
		Str("job_id", job.ID.String()).
		Str("user_id", job.UserID).
		Int("amount", job.CreditCost).
		Int("balance", balance).
		Msg("credits refunded")
	return nil
}
