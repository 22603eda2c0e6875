package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/vaultcore/backend/internal/models"
)

const lockQuery = `SELECT id, owner_id, account_number, balance, status, per_transaction_limit, version FROM accounts WHERE id = \$1 FOR UPDATE`

const balanceUpdateQuery = `UPDATE accounts SET balance = \$1, version = version \+ 1, updated_at = \$2 WHERE id = \$3 AND version = \$4`

func accountRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "owner_id", "account_number", "balance", "status", "pin_hash",
		"failed_pin_attempts", "per_transaction_limit", "last_transaction_date",
		"version", "updated_at",
	})
}

func lockRows(id, ownerID, number, balance string, version int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "owner_id", "account_number", "balance", "status", "per_transaction_limit", "version",
	}).AddRow(id, ownerID, number, balance, "ACTIVE", "5000", version)
}

func TestAccountService_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	t.Run("existing account", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE id = \$1`).
			WithArgs("acc-1").
			WillReturnRows(accountRows().
				AddRow("acc-1", "user-1", "1111111111", "1000", "ACTIVE", "salt$hash", 0, "5000", nil, 1, time.Now()))

		account, err := service.GetByID(context.Background(), "acc-1")
		assert.NoError(t, err)
		assert.Equal(t, "acc-1", account.ID)
		assert.Equal(t, "user-1", account.OwnerID)
		assert.True(t, account.Balance.Equal(decimal.NewFromInt(1000)))
		assert.Equal(t, models.AccountActive, account.Status)
		assert.Nil(t, account.LastTransactionDate)
	})

	t.Run("missing account", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE id = \$1`).
			WithArgs("missing").
			WillReturnRows(accountRows())

		_, err := service.GetByID(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("store failure", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE id = \$1`).
			WithArgs("acc-1").
			WillReturnError(errors.New("connection refused"))

		_, err := service.GetByID(context.Background(), "acc-1")
		assert.Error(t, err)
		assert.Equal(t, KindStoreUnavailable, KindOf(err))
	})
}

func TestAccountService_GetByNumber(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	t.Run("existing account", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE account_number = \$1`).
			WithArgs("1111111111").
			WillReturnRows(accountRows().
				AddRow("acc-1", "user-1", "1111111111", "250", "FROZEN", "salt$hash", 2, "5000", nil, 3, time.Now()))

		account, err := service.GetByNumber(context.Background(), "1111111111")
		assert.NoError(t, err)
		assert.Equal(t, "acc-1", account.ID)
		assert.True(t, account.IsFrozen())
		assert.Equal(t, 2, account.FailedPINAttempts)
	})

	t.Run("missing account", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE account_number = \$1`).
			WithArgs("0000000000").
			WillReturnRows(accountRows())

		_, err := service.GetByNumber(context.Background(), "0000000000")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAccountService_Debit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	t.Run("successful debit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).
			WithArgs("acc-1").
			WillReturnRows(lockRows("acc-1", "user-1", "1111111111", "1000", 1))
		mock.ExpectExec(balanceUpdateQuery).
			WithArgs(decimal.NewFromInt(700), sqlmock.AnyArg(), "acc-1", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := service.Debit(context.Background(), "acc-1", decimal.NewFromInt(300))
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).
			WithArgs("acc-1").
			WillReturnRows(lockRows("acc-1", "user-1", "1111111111", "100", 1))
		mock.ExpectRollback()

		err := service.Debit(context.Background(), "acc-1", decimal.NewFromInt(300))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount", func(t *testing.T) {
		err := service.Debit(context.Background(), "acc-1", decimal.Zero)
		assert.ErrorIs(t, err, ErrInvalidAmount)

		err = service.Debit(context.Background(), "acc-1", decimal.NewFromInt(-50))
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("optimistic lock failure", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).
			WithArgs("acc-1").
			WillReturnRows(lockRows("acc-1", "user-1", "1111111111", "1000", 1))
		mock.ExpectExec(balanceUpdateQuery).
			WithArgs(decimal.NewFromInt(700), sqlmock.AnyArg(), "acc-1", 1).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := service.Debit(context.Background(), "acc-1", decimal.NewFromInt(300))
		assert.Error(t, err)
		assert.Equal(t, KindStoreUnavailable, KindOf(err))
		assert.Contains(t, err.Error(), "optimistic lock failed")
	})
}

func TestAccountService_Credit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	t.Run("successful credit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).
			WithArgs("acc-2").
			WillReturnRows(lockRows("acc-2", "user-2", "2222222222", "500", 4))
		mock.ExpectExec(balanceUpdateQuery).
			WithArgs(decimal.NewFromInt(800), sqlmock.AnyArg(), "acc-2", 4).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := service.Credit(context.Background(), "acc-2", decimal.NewFromInt(300))
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount", func(t *testing.T) {
		err := service.Credit(context.Background(), "acc-2", decimal.Zero)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("missing account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "owner_id", "account_number", "balance", "status", "per_transaction_limit", "version",
			}))
		mock.ExpectRollback()

		err := service.Credit(context.Background(), "missing", decimal.NewFromInt(50))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAccountService_lockPair(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	t.Run("locks ascending then restores from-to order", func(t *testing.T) {
		mock.ExpectBegin()
		tx, err := db.Begin()
		assert.NoError(t, err)

		// Transfer goes acc-9 -> acc-1; the lower ID must be locked first.
		mock.ExpectQuery(lockQuery).
			WithArgs("acc-1").
			WillReturnRows(lockRows("acc-1", "user-1", "1111111111", "500", 1))
		mock.ExpectQuery(lockQuery).
			WithArgs("acc-9").
			WillReturnRows(lockRows("acc-9", "user-9", "9999999999", "1000", 1))

		from, to, err := service.lockPair(context.Background(), tx, "acc-9", "acc-1")
		assert.NoError(t, err)
		assert.Equal(t, "acc-9", from.ID)
		assert.Equal(t, "acc-1", to.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already ascending", func(t *testing.T) {
		mock.ExpectBegin()
		tx, err := db.Begin()
		assert.NoError(t, err)

		mock.ExpectQuery(lockQuery).
			WithArgs("acc-1").
			WillReturnRows(lockRows("acc-1", "user-1", "1111111111", "500", 1))
		mock.ExpectQuery(lockQuery).
			WithArgs("acc-2").
			WillReturnRows(lockRows("acc-2", "user-2", "2222222222", "1000", 1))

		from, to, err := service.lockPair(context.Background(), tx, "acc-1", "acc-2")
		assert.NoError(t, err)
		assert.Equal(t, "acc-1", from.ID)
		assert.Equal(t, "acc-2", to.ID)
	})
}
