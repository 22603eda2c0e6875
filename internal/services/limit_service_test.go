package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/vaultcore/backend/internal/models"
)

func TestTransactionLimitService_ValidateLimit(t *testing.T) {
	service := NewTransactionLimitService()
	account := &models.Account{
		ID:                  "acc-1",
		PerTransactionLimit: decimal.NewFromInt(5000),
	}

	t.Run("amount under limit", func(t *testing.T) {
		err := service.ValidateLimit(account, decimal.NewFromInt(300))
		assert.NoError(t, err)
	})

	t.Run("amount equal to limit", func(t *testing.T) {
		err := service.ValidateLimit(account, decimal.NewFromInt(5000))
		assert.NoError(t, err)
	})

	t.Run("amount over limit", func(t *testing.T) {
		err := service.ValidateLimit(account, decimal.NewFromInt(6000))
		assert.ErrorIs(t, err, ErrLimitExceeded)
	})

	t.Run("fractional breach", func(t *testing.T) {
		amount, err := decimal.NewFromString("5000.01")
		assert.NoError(t, err)
		assert.ErrorIs(t, service.ValidateLimit(account, amount), ErrLimitExceeded)
	})
}
