package repo

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/domain"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/infra"
)

// openTestDB connects to the database named by DATABASE_URL and applies the
// schema, skipping the test when none is configured. The tests here exercise
// the SQL the in-memory fakes cannot see: the monthly-first draw order, the
// credits_refunded flip, and the consumption row that lands before any jobs
// row exists for it.
func openTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../../migrations/0001_init.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)
	return pool
}

func TestCreditLedgerDrawOrderAndRefundGuard(t *testing.T) {
	pool := openTestDB(t)
	runner := infra.NewSQLRunner(pool, zerolog.Nop())
	jobs := NewJobRepository(runner)
	ledger := NewCreditLedger(runner)

	ctx := context.Background()
	userID := "it-" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `delete from credit_transactions where user_id = $1`, userID)
		_, _ = pool.Exec(ctx, `delete from jobs where user_id = $1`, userID)
		_, _ = pool.Exec(ctx, `delete from credit_accounts where user_id = $1`, userID)
	})

	_, err := ledger.Reset(ctx, userID, 6, "monthly reset")
	require.NoError(t, err)
	_, err = ledger.Grant(ctx, userID, 10, "bonus grant")
	require.NoError(t, err)

	// The reservation commits before any jobs row exists for the id; the
	// ledger's job_id is a soft reference.
	jobID := uuid.New()
	balance, err := ledger.Reserve(ctx, userID, jobID, 10, "reservation")
	require.NoError(t, err)
	require.Equal(t, 6, balance)

	// Monthly credits drain before lifetime ones.
	acc, err := ledger.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 0, acc.MonthlyBalance)
	require.Equal(t, 6, acc.LifetimeBalance)

	_, err = ledger.Reserve(ctx, userID, uuid.New(), 7, "over budget")
	require.ErrorIs(t, err, domain.ErrInsufficientCredits)

	job := &domain.Job{
		ID:         jobID,
		ToolType:   domain.ToolUpscaler,
		UserID:     userID,
		CreditCost: 10,
		Payload:    json.RawMessage(`{}`),
	}
	require.NoError(t, jobs.CreateAdmitted(ctx, job, 1<<20))
	require.NoError(t, jobs.TransitionTo(ctx, jobID, job.Status, domain.JobStatusFailed, domain.TerminalFields{
		ErrorMessage: "provider gave up",
	}))

	refunded, err := ledger.Refund(ctx, jobID, userID, 10, "refund")
	require.NoError(t, err)
	require.Equal(t, 16, refunded)

	// The credits_refunded flip makes a duplicate refund a no-op.
	_, err = ledger.Refund(ctx, jobID, userID, 10, "refund again")
	require.ErrorIs(t, err, domain.ErrAlreadyRefunded)

	acc, err = ledger.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 0, acc.MonthlyBalance)
	require.Equal(t, 16, acc.LifetimeBalance)
}
