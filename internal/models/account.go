package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	AccountFrozen AccountStatus = "FROZEN"
)

// Account is the durable money-holding record. Balance and status are the
// only fields the transfer engine mutates; everything else is set at
// account-opening time.
type Account struct {
	ID                  string          `json:"id" db:"id"`
	OwnerID             string          `json:"owner_id" db:"owner_id"`
	AccountNumber       string          `json:"account_number" db:"account_number"`
	Balance             decimal.Decimal `json:"balance" db:"balance"`
	Status              AccountStatus   `json:"status" db:"status"`
	PINHash             string          `json:"-" db:"pin_hash"`
	FailedPINAttempts   int             `json:"-" db:"failed_pin_attempts"`
	PerTransactionLimit decimal.Decimal `json:"per_transaction_limit" db:"per_transaction_limit"`
	LastTransactionDate *time.Time      `json:"last_transaction_date,omitempty" db:"last_transaction_date"`
	Version             int             `json:"version" db:"version"` // for optimistic locking
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

func (a *Account) IsFrozen() bool {
	return a.Status == AccountFrozen
}
