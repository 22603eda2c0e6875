package services

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vaultcore/backend/internal/models"
)

// stubSink records notification calls so tests can assert on post-commit
// alerts without a Redis instance. Safe for the async delivery goroutine.
type stubSink struct {
	mu               sync.Mutex
	transactionCalls []models.Direction
	lowBalanceCalls  int
}

func (s *stubSink) SendTransactionAlert(account *models.Account, amount decimal.Decimal, direction models.Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactionCalls = append(s.transactionCalls, direction)
}

func (s *stubSink) SendLowBalanceAlert(account *models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lowBalanceCalls++
}

func (s *stubSink) alertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transactionCalls)
}

func (s *stubSink) lowBalanceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lowBalanceCalls
}

type stubSettlementQueue struct {
	mu      sync.Mutex
	records []SettlementRecord
}

func (s *stubSettlementQueue) QueueTransfer(record SettlementRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
}

func (s *stubSettlementQueue) queued() []SettlementRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SettlementRecord, len(s.records))
	copy(out, s.records)
	return out
}
