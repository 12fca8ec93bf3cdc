package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrCategoryExists = errors.New("category name already exists")
	ErrEmptyName      = errors.New("empty name")
)

// ErrInsufficientFunds is the sentinel for errors.Is checks; the concrete
// error returned by a withdrawal is always *InsufficientFundsError.
var ErrInsufficientFunds = errors.New("insufficient funds")

// InsufficientFundsError reports a withdrawal that exceeds the category's
// available balance. No state is mutated when it is returned.
type InsufficientFundsError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: requested %s, available %s",
		e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

type Category struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CategorySummary is a category together with its derived totals. The
// totals are computed from deposit rows at read time, never stored.
type CategorySummary struct {
	Category
	TotalAmount decimal.Decimal
	ItemCount   int
}

// DepositRecord is a single unit of money placed into a category. The
// remaining balance only ever decreases, via withdrawals; a record that
// reaches zero stays around as history until the user deletes it.
type DepositRecord struct {
	ID               int64
	CategoryID       int64
	Name             string
	OriginalAmount   decimal.Decimal
	RemainingBalance decimal.Decimal
	Description      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewDeposit carries the fields for creating a deposit record. Remaining
// is optional: when nil the record starts fully available.
type NewDeposit struct {
	CategoryID  int64
	Name        string
	Amount      decimal.Decimal
	Remaining   *decimal.Decimal
	Description string
}

// WithdrawalResult reports one committed withdrawal: the before/after
// totals and the deposits consumed, oldest first.
type WithdrawalResult struct {
	CategoryID    int64
	Requested     decimal.Decimal
	PreviousTotal decimal.Decimal
	NewTotal      decimal.Decimal
	Deductions    []Deduction
}

func (c Category) Validate() error {
	if len(strings.TrimSpace(c.Name)) == 0 {
		return ErrEmptyName
	}
	if len(c.Name) > 100 {
		return fmt.Errorf("%w: category name too long (max 100 characters)", ErrInvalidInput)
	}
	return nil
}

func (d NewDeposit) Validate() error {
	if d.CategoryID <= 0 {
		return fmt.Errorf("%w: missing category", ErrInvalidInput)
	}
	if len(strings.TrimSpace(d.Name)) == 0 {
		return ErrEmptyName
	}
	if len(d.Name) > 200 {
		return fmt.Errorf("%w: deposit name too long (max 200 characters)", ErrInvalidInput)
	}
	if err := ValidateAmount(d.Amount); err != nil {
		return err
	}
	if d.Remaining != nil {
		r := *d.Remaining
		if r.IsNegative() || r.GreaterThan(d.Amount) {
			return fmt.Errorf("%w: remaining balance must be between 0 and the original amount", ErrInvalidInput)
		}
		if r.Exponent() < -2 {
			return ErrInvalidAmount
		}
	}
	return nil
}

// InitialBalance resolves the deposit creation rule: a fresh deposit
// starts fully available unless an explicit remaining balance was given.
func (d NewDeposit) InitialBalance() decimal.Decimal {
	if d.Remaining != nil {
		return *d.Remaining
	}
	return d.Amount
}

// ValidateAmount enforces the minimum unit of 0.01 and the two-digit
// scale on amounts entering the ledger.
func ValidateAmount(a decimal.Decimal) error {
	if a.LessThan(MinAmount) {
		return ErrInvalidAmount
	}
	if a.Exponent() < -2 {
		return ErrInvalidAmount
	}
	return nil
}
