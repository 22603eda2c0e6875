package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/vaultcore/backend/internal/models"
)

const notificationQueue = "notification_queue"

// NotificationService pushes post-commit alerts onto a Redis queue for an
// external delivery worker. Every call is fire-and-forget: failures are
// logged and dropped, never surfaced to the transfer path.
type NotificationService struct {
	redis *redis.Client
}

func NewNotificationService(redisClient *redis.Client) *NotificationService {
	return &NotificationService{redis: redisClient}
}

type transactionAlert struct {
	AccountNumber string    `json:"account_number"`
	Amount        string    `json:"amount"`
	Direction     string    `json:"direction"`
	Kind          string    `json:"kind"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *NotificationService) SendTransactionAlert(account *models.Account, amount decimal.Decimal, direction models.Direction) {
	s.push(transactionAlert{
		AccountNumber: account.AccountNumber,
		Amount:        amount.String(),
		Direction:     string(direction),
		Kind:          "TRANSACTION_ALERT",
		CreatedAt:     time.Now(),
	})
}

func (s *NotificationService) SendLowBalanceAlert(account *models.Account) {
	s.push(transactionAlert{
		AccountNumber: account.AccountNumber,
		Kind:          "LOW_BALANCE_ALERT",
		CreatedAt:     time.Now(),
	})
}

func (s *NotificationService) push(alert transactionAlert) {
	if s.redis == nil {
		log.Printf("[NOTIFY] %s for account %s (no queue configured)", alert.Kind, alert.AccountNumber)
		return
	}

	data, err := json.Marshal(alert)
	if err != nil {
		log.Printf("[NOTIFY] Failed to encode %s: %v", alert.Kind, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.redis.RPush(ctx, notificationQueue, string(data)).Err(); err != nil {
		log.Printf("[NOTIFY] Failed to queue %s for account %s: %v", alert.Kind, alert.AccountNumber, err)
	}
}
