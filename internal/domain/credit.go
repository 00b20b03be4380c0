package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionConsumption TransactionType = "consumption"
	TransactionRefund      TransactionType = "refund"
	TransactionBonus       TransactionType = "bonus"
	TransactionReset       TransactionType = "reset"
)

// CreditType names the balance pool a transaction drew from or credited.
type CreditType string

const (
	CreditMonthly  CreditType = "monthly"
	CreditLifetime CreditType = "lifetime"
)

// CreditAccount is the mutable balance projection for one user. It is only
// ever written through ledger operations, never directly.
type CreditAccount struct {
	UserID          string
	MonthlyBalance  int
	LifetimeBalance int
	PromoExpiry     *time.Time
	UpdatedAt       time.Time
}

// Total is the spendable balance across both pools.
func (a *CreditAccount) Total() int {
	return a.MonthlyBalance + a.LifetimeBalance
}

// CreditTransaction is one append-only ledger entry. The ledger is the sole
// source of truth for whether a job has already been refunded.
type CreditTransaction struct {
	ID              uuid.UUID
	UserID          string
	JobID           *uuid.UUID
	Amount          int
	BalanceAfter    int
	TransactionType TransactionType
	CreditType      CreditType
	Description     string
	CreatedAt       time.Time
}
