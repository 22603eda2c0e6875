package services

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/vaultcore/backend/internal/models"
)

func TestHashPIN(t *testing.T) {
	// Setup viper config
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)

	t.Run("hash verifies against original pin", func(t *testing.T) {
		hash, err := HashPIN("1234")
		assert.NoError(t, err)
		assert.NotEmpty(t, hash)
		assert.NotContains(t, hash, "1234")
		assert.True(t, verifyPIN("1234", hash))
	})

	t.Run("hash rejects wrong pin", func(t *testing.T) {
		hash, err := HashPIN("1234")
		assert.NoError(t, err)
		assert.False(t, verifyPIN("4321", hash))
	})

	t.Run("same pin hashes differently", func(t *testing.T) {
		first, err := HashPIN("1234")
		assert.NoError(t, err)
		second, err := HashPIN("1234")
		assert.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	t.Run("malformed stored hash never verifies", func(t *testing.T) {
		assert.False(t, verifyPIN("1234", ""))
		assert.False(t, verifyPIN("1234", "no-separator"))
		assert.False(t, verifyPIN("1234", "!!!$!!!"))
	})
}

func TestAccountSecurityService_EnsureActive(t *testing.T) {
	service := NewAccountSecurityService(nil)

	t.Run("active account passes", func(t *testing.T) {
		account := &models.Account{ID: "acc-1", Status: models.AccountActive}
		assert.NoError(t, service.EnsureActive(account))
	})

	t.Run("frozen account is rejected", func(t *testing.T) {
		account := &models.Account{ID: "acc-1", Status: models.AccountFrozen}
		err := service.EnsureActive(account)
		assert.ErrorIs(t, err, ErrAccountFrozen)
	})
}

func TestAccountSecurityService_VerifyPIN(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountSecurityService(db)

	pinHash, err := HashPIN("1234")
	assert.NoError(t, err)
	account := &models.Account{ID: "acc-1", PINHash: pinHash}

	t.Run("correct pin", func(t *testing.T) {
		err := service.VerifyPIN(context.Background(), account, "1234")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong pin records failed attempt", func(t *testing.T) {
		mock.ExpectExec(failedAttemptQuery).
			WithArgs("acc-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := service.VerifyPIN(context.Background(), account, "9999")
		assert.ErrorIs(t, err, ErrInvalidPIN)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("counter write failure does not mask the rejection", func(t *testing.T) {
		mock.ExpectExec(failedAttemptQuery).
			WithArgs("acc-1").
			WillReturnError(errors.New("connection refused"))

		err := service.VerifyPIN(context.Background(), account, "9999")
		assert.ErrorIs(t, err, ErrInvalidPIN)
	})
}

func TestAccountSecurityService_ChangePIN(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountSecurityService(db)

	t.Run("successful rotation", func(t *testing.T) {
		pinHash, err := HashPIN("1234")
		assert.NoError(t, err)
		account := &models.Account{ID: "acc-1", PINHash: pinHash, FailedPINAttempts: 2}

		mock.ExpectExec(`UPDATE accounts SET pin_hash = \$1, failed_pin_attempts = 0, updated_at = NOW\(\) WHERE id = \$2`).
			WithArgs(sqlmock.AnyArg(), "acc-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err = service.ChangePIN(context.Background(), account, "1234", "5678")
		assert.NoError(t, err)
		assert.Equal(t, 0, account.FailedPINAttempts)
		assert.True(t, verifyPIN("5678", account.PINHash))
		assert.False(t, verifyPIN("1234", account.PINHash))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong old pin", func(t *testing.T) {
		pinHash, err := HashPIN("1234")
		assert.NoError(t, err)
		account := &models.Account{ID: "acc-1", PINHash: pinHash}

		mock.ExpectExec(failedAttemptQuery).
			WithArgs("acc-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err = service.ChangePIN(context.Background(), account, "9999", "5678")
		assert.ErrorIs(t, err, ErrInvalidPIN)
		assert.True(t, verifyPIN("1234", account.PINHash))
	})
}
