// Package worker archives withdrawal events from the queue into the
// durable audit trail.
package worker

import (
	"context"
	"fmt"
	"time"

	"finman/internal/amqp"
	"finman/internal/log"
	"finman/internal/storage"
)

// AuditWorker consumes withdrawal events and records them. Archiving is
// idempotent on the event ID, so broker redeliveries and ambiguous
// publisher retries collapse to a single audit row.
type AuditWorker struct {
	storage *storage.SQLiteRepository
	logger  *log.Logger
}

func NewAuditWorker(st *storage.SQLiteRepository, logger *log.Logger) *AuditWorker {
	return &AuditWorker{
		storage: st,
		logger:  logger,
	}
}

// HandleEvent archives one withdrawal event.
func (w *AuditWorker) HandleEvent(ctx context.Context, msg *amqp.WithdrawalEventMessage) error {
	if msg.EventID == "" {
		return fmt.Errorf("event without id")
	}

	createdAt := msg.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	err := w.storage.RecordWithdrawalEvent(ctx, storage.WithdrawalEvent{
		EventID:        msg.EventID,
		CategoryID:     msg.CategoryID,
		Amount:         msg.Amount,
		PreviousTotal:  msg.PreviousTotal,
		NewTotal:       msg.NewTotal,
		DeductionCount: msg.Items,
		CreatedAt:      createdAt,
	})
	if err != nil {
		return fmt.Errorf("archive withdrawal event: %w", err)
	}

	w.logger.InfoContext(ctx, "Withdrawal event archived",
		"event_id", msg.EventID,
		"category_id", msg.CategoryID,
		"amount", msg.Amount.StringFixed(2),
		"items", msg.Items)

	return nil
}

// ReportArchived logs the size of the audit trail; runs on the periodic
// tick so a silent consumer is noticeable.
func (w *AuditWorker) ReportArchived(ctx context.Context) error {
	n, err := w.storage.WithdrawalEventCount(ctx)
	if err != nil {
		return fmt.Errorf("count archived events: %w", err)
	}
	w.logger.InfoContext(ctx, "Audit trail checkpoint", "archived_events", n)
	return nil
}
