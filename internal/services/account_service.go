package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultcore/backend/internal/models"
)

// AccountService is the durable account store. Balance mutation goes through
// row locks taken in ascending account-ID order plus an optimistic version
// check, so concurrent transfers touching the same account can neither
// deadlock nor lose updates.
type AccountService struct {
	db *sql.DB
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{db: db}
}

const accountColumns = `id, owner_id, account_number, balance, status, pin_hash, failed_pin_attempts, per_transaction_limit, last_transaction_date, version, updated_at`

func scanAccount(row *sql.Row) (*models.Account, error) {
	var account models.Account
	var pinHash sql.NullString
	err := row.Scan(
		&account.ID, &account.OwnerID, &account.AccountNumber, &account.Balance,
		&account.Status, &pinHash, &account.FailedPINAttempts,
		&account.PerTransactionLimit, &account.LastTransactionDate,
		&account.Version, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	account.PINHash = pinHash.String
	return &account, nil
}

// GetByID loads one account by its opaque ID.
func (s *AccountService) GetByID(ctx context.Context, accountID string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)

	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeUnavailable("account lookup", err)
	}
	return account, nil
}

// GetByNumber loads one account by its human-facing account number.
func (s *AccountService) GetByNumber(ctx context.Context, accountNumber string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, accountNumber)

	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeUnavailable("account lookup", err)
	}
	return account, nil
}

// Debit atomically subtracts amount from the account balance in its own
// transaction. Usable by any money-movement caller, not just transfers.
func (s *AccountService) Debit(ctx context.Context, accountID string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return s.adjustBalance(ctx, accountID, amount.Neg())
}

// Credit atomically adds amount to the account balance in its own
// transaction.
func (s *AccountService) Credit(ctx context.Context, accountID string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return s.adjustBalance(ctx, accountID, amount)
}

func (s *AccountService) adjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeUnavailable("balance adjustment", err)
	}
	defer tx.Rollback()

	account, err := s.lockAccount(ctx, tx, accountID)
	if err != nil {
		return err
	}

	newBalance := account.Balance.Add(delta)
	if newBalance.Sign() < 0 {
		return ErrInsufficientBalance
	}

	if err := s.updateBalance(ctx, tx, account.ID, newBalance, account.Version); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeUnavailable("balance adjustment", err)
	}
	return nil
}

// lockAccount takes the per-account row lock and returns the current record.
func (s *AccountService) lockAccount(ctx context.Context, tx *sql.Tx, accountID string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT id, owner_id, account_number, balance, status, per_transaction_limit, version
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(
		&account.ID, &account.OwnerID, &account.AccountNumber, &account.Balance,
		&account.Status, &account.PerTransactionLimit, &account.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeUnavailable("account lock", err)
	}
	return &account, nil
}

// lockPair locks both accounts of a transfer in ascending-ID order so a
// concurrent A-to-B and B-to-A pair cannot deadlock, then returns them in
// (from, to) order.
func (s *AccountService) lockPair(ctx context.Context, tx *sql.Tx, fromID, toID string) (*models.Account, *models.Account, error) {
	firstLock, secondLock := fromID, toID
	if fromID > toID {
		firstLock, secondLock = toID, fromID
	}

	first, err := s.lockAccount(ctx, tx, firstLock)
	if err != nil {
		return nil, nil, err
	}

	second, err := s.lockAccount(ctx, tx, secondLock)
	if err != nil {
		return nil, nil, err
	}

	if firstLock != fromID {
		first, second = second, first
	}
	return first, second, nil
}

// updateBalance writes the new balance guarded by the version column. A
// missed version means another writer slipped past the row lock, which is a
// store-level anomaly rather than a business rejection.
func (s *AccountService) updateBalance(ctx context.Context, tx *sql.Tx, accountID string, newBalance decimal.Decimal, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)
	if err != nil {
		return storeUnavailable("balance update", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storeUnavailable("balance update", err)
	}
	if rowsAffected == 0 {
		return storeUnavailable("balance update", fmt.Errorf("optimistic lock failed for account %s", accountID))
	}
	return nil
}

// touchLastTransaction records the most recent outgoing-transfer date on the
// source account.
func (s *AccountService) touchLastTransaction(ctx context.Context, tx *sql.Tx, accountID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET last_transaction_date = CURRENT_DATE
		WHERE id = $1`, accountID)
	if err != nil {
		return storeUnavailable("last transaction date", err)
	}
	return nil
}
