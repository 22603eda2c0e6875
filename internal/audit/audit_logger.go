package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	ReferenceID string    `json:"reference_id"`
	ActorID     string    `json:"actor_id,omitempty"`
	AccountID   string    `json:"account_id,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	Status      string    `json:"status"`
	Details     any       `json:"details,omitempty"`
}

// Logger emits single-line JSON audit events for transfer commits, failures
// and invariant anomalies. PIN material never passes through here.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (l *Logger) LogTransfer(referenceID, actorID, fromAccount, toAccount, amount, status string) {
	l.log(Event{
		Timestamp:   time.Now(),
		EventType:   "TRANSFER",
		ReferenceID: referenceID,
		ActorID:     actorID,
		Amount:      amount,
		Status:      status,
		Details: map[string]string{
			"from_account": fromAccount,
			"to_account":   toAccount,
		},
	})
}

func (l *Logger) LogError(referenceID, accountID string, err error) {
	l.log(Event{
		Timestamp:   time.Now(),
		EventType:   "ERROR",
		ReferenceID: referenceID,
		AccountID:   accountID,
		Status:      "FAILED",
		Details:     map[string]string{"error": err.Error()},
	})
}

// LogAnomaly records a programming-invariant violation, such as a ledger
// pair found outside PENDING at finalization time.
func (l *Logger) LogAnomaly(referenceID, accountID, details string) {
	l.log(Event{
		Timestamp:   time.Now(),
		EventType:   "ANOMALY",
		ReferenceID: referenceID,
		AccountID:   accountID,
		Status:      "FAILED",
		Details:     map[string]string{"details": details},
	})
}

func (l *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
