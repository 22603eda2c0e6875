package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"
)

type EntryStatus string

const (
	EntryPending EntryStatus = "PENDING"
	EntrySuccess EntryStatus = "SUCCESS"
	EntryFailed  EntryStatus = "FAILED"
)

// LedgerEntry is one half of a transfer. The DEBIT and CREDIT halves share a
// reference ID; uniqueness holds on (reference_id, direction), never on the
// reference alone. Entries are never deleted and status only moves forward
// (PENDING to SUCCESS or FAILED).
type LedgerEntry struct {
	ID            string          `json:"id" db:"id"`
	ReferenceID   string          `json:"reference_id" db:"reference_id"`
	FromAccountID string          `json:"from_account_id" db:"from_account_id"`
	ToAccountID   string          `json:"to_account_id" db:"to_account_id"`
	OwnerID       string          `json:"owner_id" db:"owner_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Direction     Direction       `json:"direction" db:"direction"`
	Status        EntryStatus     `json:"status" db:"status"`
	Description   string          `json:"description" db:"description"`
	Flagged       bool            `json:"flagged" db:"flagged"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
