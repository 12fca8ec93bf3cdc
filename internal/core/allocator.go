package core

import "github.com/shopspring/decimal"

// Deduction is one step of a withdrawal plan: how much comes out of
// which deposit, and the balance left on it afterwards.
type Deduction struct {
	DepositID        int64
	Name             string
	Amount           decimal.Decimal
	RemainingBalance decimal.Decimal
}

// Allocate walks deposits oldest-first and builds the deduction plan for
// a withdrawal of target.
//
// The input must already be ordered by creation time ascending, ties
// broken by ID ascending; storage guarantees this, which is what makes
// the plan deterministic for a given ledger state. Deposits with a zero
// remaining balance are skipped, never selected.
//
// Returns ErrInvalidAmount for a non-positive target and
// *InsufficientFundsError when the deposits cannot cover it; in the
// latter case no plan is produced and nothing was mutated.
func Allocate(deposits []DepositRecord, target decimal.Decimal) ([]Deduction, error) {
	if target.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	available := decimal.Zero
	for _, d := range deposits {
		if d.RemainingBalance.IsPositive() {
			available = available.Add(d.RemainingBalance)
		}
	}
	if target.GreaterThan(available) {
		return nil, &InsufficientFundsError{Requested: target, Available: available}
	}

	plan := make([]Deduction, 0, len(deposits))
	remaining := target
	for _, d := range deposits {
		if remaining.IsZero() {
			break
		}
		if !d.RemainingBalance.IsPositive() {
			continue
		}
		deduction := decimal.Min(d.RemainingBalance, remaining)
		plan = append(plan, Deduction{
			DepositID:        d.ID,
			Name:             d.Name,
			Amount:           deduction,
			RemainingBalance: d.RemainingBalance.Sub(deduction),
		})
		remaining = remaining.Sub(deduction)
	}
	return plan, nil
}
