package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finman/internal/core"
)

// WithdrawalEventMessage announces one committed withdrawal. The event
// ID is the deduplication key: consumers archive at most one row per ID,
// so redelivered or replayed messages are harmless.
type WithdrawalEventMessage struct {
	EventID       string          `json:"event_id"`
	CategoryID    int64           `json:"category_id"`
	Amount        decimal.Decimal `json:"amount"`
	PreviousTotal decimal.Decimal `json:"previous_total"`
	NewTotal      decimal.Decimal `json:"new_total"`
	Items         int             `json:"items"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewWithdrawalEventMessage builds the message for a committed result,
// assigning a fresh event ID.
func NewWithdrawalEventMessage(res *core.WithdrawalResult) *WithdrawalEventMessage {
	return &WithdrawalEventMessage{
		EventID:       uuid.NewString(),
		CategoryID:    res.CategoryID,
		Amount:        res.Requested,
		PreviousTotal: res.PreviousTotal,
		NewTotal:      res.NewTotal,
		Items:         len(res.Deductions),
		Timestamp:     time.Now(),
	}
}

func (m *WithdrawalEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func WithdrawalEventMessageFromJSON(data []byte) (*WithdrawalEventMessage, error) {
	var msg WithdrawalEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
