package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/domain"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/infra"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/sqlinline"
)

// CreditLedgerPG implements domain.CreditLedger on PostgreSQL. Every mutation
// is a single CTE statement that updates the balance projection and appends
// the ledger row together, so no partial settlement can ever be observed.
type CreditLedgerPG struct {
	sql infra.SQLExecutor
}

func NewCreditLedger(sql infra.SQLExecutor) *CreditLedgerPG {
	return &CreditLedgerPG{sql: sql}
}

// Reserve debits amount for the submission of jobID. An empty result means
// the conditional debit did not fire: the balance was insufficient.
func (r *CreditLedgerPG) Reserve(ctx context.Context, userID string, jobID uuid.UUID, amount int, description string) (int, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QReserveCredits, userID, amount, description, jobID)
	var balance int
	if err := row.Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrInsufficientCredits
		}
		return 0, fmt.Errorf("reserve credits: %w", err)
	}
	return balance, nil
}

// Refund credits amount back for a failed or cancelled job. The statement only
// fires while the job's credits_refunded flag is still false; an empty result
// means somebody already settled this job.
func (r *CreditLedgerPG) Refund(ctx context.Context, jobID uuid.UUID, userID string, amount int, description string) (int, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QRefundCredits, jobID, userID, amount, description)
	var balance int
	if err := row.Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrAlreadyRefunded
		}
		return 0, fmt.Errorf("refund credits: %w", err)
	}
	return balance, nil
}

func (r *CreditLedgerPG) Reset(ctx context.Context, userID string, amount int, description string) (int, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QResetCredits, userID, amount, description)
	var balance int
	if err := row.Scan(&balance); err != nil {
		return 0, fmt.Errorf("reset credits: %w", err)
	}
	return balance, nil
}

func (r *CreditLedgerPG) Grant(ctx context.Context, userID string, amount int, description string) (int, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QGrantCredits, userID, amount, description)
	var balance int
	if err := row.Scan(&balance); err != nil {
		return 0, fmt.Errorf("grant credits: %w", err)
	}
	return balance, nil
}

func (r *CreditLedgerPG) Balance(ctx context.Context, userID string) (*domain.CreditAccount, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectCreditAccount, userID)
	var account domain.CreditAccount
	if err := row.Scan(
		&account.UserID,
		&account.MonthlyBalance,
		&account.LifetimeBalance,
		&account.PromoExpiry,
		&account.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("load credit account: %w", err)
	}
	return &account, nil
}

var _ domain.CreditLedger = (*CreditLedgerPG)(nil)
