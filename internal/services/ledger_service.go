// Package services orchestrates ledger operations across storage and
// the event stream.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"finman/internal/amqp"
	"finman/internal/core"
	"finman/internal/storage"
)

// EventPublisher is the outbound side of the withdrawal event stream.
// A nil publisher disables publishing without disabling withdrawals.
type EventPublisher interface {
	PublishWithdrawalEvent(ctx context.Context, msg *amqp.WithdrawalEventMessage) error
	Close() error
}

// LedgerService is the public ledger operation surface: withdrawals and
// the balance queries needed to validate them.
//
// Withdrawals against the same category are serialized on a per-category
// lock and executed inside a single storage transaction. The lock closes
// the window where two concurrent requests both read a sufficient total
// from the same snapshot; the transaction makes the deductions
// all-or-nothing.
type LedgerService struct {
	storage   *storage.SQLiteRepository
	publisher EventPublisher

	mu            sync.Mutex
	categoryLocks map[int64]*sync.Mutex
}

func NewLedgerService(st *storage.SQLiteRepository, publisher EventPublisher) *LedgerService {
	return &LedgerService{
		storage:       st,
		publisher:     publisher,
		categoryLocks: make(map[int64]*sync.Mutex),
	}
}

func (s *LedgerService) lockCategory(categoryID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.categoryLocks[categoryID]
	if !ok {
		m = &sync.Mutex{}
		s.categoryLocks[categoryID] = m
	}
	return m
}

// Withdraw deducts amount from the category's pooled balance, consuming
// deposits oldest-first.
//
// Failure modes: core.ErrInvalidAmount for a non-positive or malformed
// amount, core.ErrNotFound for an unknown category,
// *core.InsufficientFundsError when the amount exceeds the available
// total (nothing is mutated), and wrapped storage errors otherwise — a
// storage failure rolls the whole operation back, so a retry after a
// true failure observes the untouched state.
func (s *LedgerService) Withdraw(ctx context.Context, categoryID int64, amount decimal.Decimal) (*core.WithdrawalResult, error) {
	if err := core.ValidateAmount(amount); err != nil {
		return nil, err
	}

	lock := s.lockCategory(categoryID)
	lock.Lock()
	defer lock.Unlock()

	wtx, err := s.storage.BeginWithdrawal(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin withdrawal: %w", err)
	}
	defer wtx.Rollback()

	exists, err := wtx.CategoryExists(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("resolve category: %w", err)
	}
	if !exists {
		return nil, core.ErrNotFound
	}

	previousTotal, err := wtx.CategoryTotal(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("aggregate available balance: %w", err)
	}
	if amount.GreaterThan(previousTotal) {
		return nil, &core.InsufficientFundsError{Requested: amount, Available: previousTotal}
	}

	deposits, err := wtx.WithdrawableDeposits(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("fetch deposits: %w", err)
	}

	plan, err := core.Allocate(deposits, amount)
	if err != nil {
		// The aggregator pre-checked sufficiency against the same
		// snapshot, so the allocator cannot run short here.
		return nil, fmt.Errorf("allocate withdrawal: %w", err)
	}

	for _, d := range plan {
		if err := wtx.ApplyDeduction(ctx, d.DepositID, d.RemainingBalance); err != nil {
			return nil, fmt.Errorf("persist deduction: %w", err)
		}
	}

	if err := wtx.Commit(); err != nil {
		return nil, fmt.Errorf("commit withdrawal: %w", err)
	}

	result := &core.WithdrawalResult{
		CategoryID:    categoryID,
		Requested:     amount,
		PreviousTotal: previousTotal,
		NewTotal:      previousTotal.Sub(amount),
		Deductions:    plan,
	}

	slog.InfoContext(ctx, "Withdrawal committed",
		"category_id", categoryID,
		"amount", core.FormatAmount(amount),
		"previous_total", core.FormatAmount(result.PreviousTotal),
		"new_total", core.FormatAmount(result.NewTotal),
		"deposits_touched", len(plan))

	s.publishEvent(ctx, result)

	return result, nil
}

// publishEvent announces a committed withdrawal. Publishing is
// best-effort: the withdrawal already committed, so a broker outage only
// delays the audit trail.
func (s *LedgerService) publishEvent(ctx context.Context, result *core.WithdrawalResult) {
	if s.publisher == nil {
		return
	}
	msg := amqp.NewWithdrawalEventMessage(result)
	if err := s.publisher.PublishWithdrawalEvent(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish withdrawal event",
			"event_id", msg.EventID,
			"category_id", result.CategoryID,
			"error", err)
	}
}

// CategoryTotal returns the category's available balance.
func (s *LedgerService) CategoryTotal(ctx context.Context, categoryID int64) (decimal.Decimal, error) {
	if _, err := s.storage.GetCategory(ctx, categoryID); err != nil {
		return decimal.Zero, err
	}
	total, err := s.storage.CategoryTotal(ctx, categoryID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("category total: %w", err)
	}
	return total, nil
}

// TotalAssets returns the sum of remaining balances across all
// categories. Derived on every call, never cached.
func (s *LedgerService) TotalAssets(ctx context.Context) (decimal.Decimal, error) {
	total, err := s.storage.TotalAssets(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("total assets: %w", err)
	}
	return total, nil
}

// Close releases storage and publisher resources.
func (s *LedgerService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %v", errs)
	}

	return nil
}
