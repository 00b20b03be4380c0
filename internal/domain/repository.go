package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobRepository defines persistence for job lifecycle records. TransitionTo is
// the concurrency primitive everything else relies on: a single conditional
// update whose precondition failure means another caller already moved the job.
type JobRepository interface {
	// CreateAdmitted inserts the job and atomically decides its initial
	// status: running while fewer than maxConcurrent jobs run system-wide,
	// queued otherwise. The count check and the insert are one atomic unit.
	CreateAdmitted(ctx context.Context, job *Job, maxConcurrent int) error

	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)

	// FindByExternalRef resolves a provider correlation reference to a job.
	// Returns ErrNotFound for orphan signals.
	FindByExternalRef(ctx context.Context, ref string) (*Job, error)

	// FindActiveByUser returns the user's queued or running job, or nil when
	// the user holds no slot.
	FindActiveByUser(ctx context.Context, userID string) (*Job, error)

	// TransitionTo applies "update where id=? and status=from" in one
	// statement, writing the terminal fields alongside. ErrConflict means the
	// precondition failed and the caller must take no further action.
	TransitionTo(ctx context.Context, id uuid.UUID, from, to JobStatus, fields TerminalFields) error

	// SetExternalRef records the provider correlation handle after a
	// successful dispatch and whether completion must be pulled by polling.
	SetExternalRef(ctx context.Context, id uuid.UUID, ref string, requiresPoll bool) error

	// AppendStep appends to step_history and updates current_step. Callers
	// treat errors as best-effort observability loss, never as failure.
	AppendStep(ctx context.Context, id uuid.UUID, step, details string) error

	// PromoteOldestQueued claims the oldest queued job (created_at, id order)
	// iff the running count is below maxConcurrent, transitioning it to
	// running atomically. Returns nil when nothing was promoted.
	PromoteOldestQueued(ctx context.Context, maxConcurrent int) (*Job, error)

	// ListStalled returns running jobs whose last update is older than
	// stuckAfter, for the watchdog sweep.
	ListStalled(ctx context.Context, stuckAfter time.Duration, limit int) ([]Job, error)

	// Touch refreshes updated_at on a running job. The poll loop calls it
	// when the provider answers "still pending", so a job the provider is
	// actively reporting on never reads as stalled.
	Touch(ctx context.Context, id uuid.UUID) error

	// MarkChecked stamps last_checked_at. Only the watchdog calls it: the
	// stamp records "I asked the provider about this stalled job", and a
	// stamp newer than updated_at but older than the cooldown is the
	// watchdog's licence to force-fail.
	MarkChecked(ctx context.Context, id uuid.UUID) error

	// ListRunningPollable returns running jobs registered for poll-based
	// completion, oldest first.
	ListRunningPollable(ctx context.Context, limit int) ([]Job, error)
}

// CreditLedger defines balance-affecting operations. Every mutation appends a
// transaction; balances are only a projection of the transaction log.
type CreditLedger interface {
	// Reserve debits amount for the submission of jobID, drawing monthly
	// credits before lifetime ones, as one atomic unit. Returns the new total
	// balance or ErrInsufficientCredits (leaving the account untouched).
	Reserve(ctx context.Context, userID string, jobID uuid.UUID, amount int, description string) (int, error)

	// Refund credits amount back for a failed or cancelled job. Idempotent
	// keyed on the job's credits_refunded flag: a second call returns
	// ErrAlreadyRefunded without appending a transaction.
	Refund(ctx context.Context, jobID uuid.UUID, userID string, amount int, description string) (int, error)

	// Reset replaces the monthly balance with amount (non-cumulative grant).
	Reset(ctx context.Context, userID string, amount int, description string) (int, error)

	// Grant adds amount to the lifetime balance (bonuses, compensations).
	Grant(ctx context.Context, userID string, amount int, description string) (int, error)

	Balance(ctx context.Context, userID string) (*CreditAccount, error)
}
