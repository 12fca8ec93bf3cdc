package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dep(id int64, name, remaining string, age time.Duration) DepositRecord {
	bal := decimal.RequireFromString(remaining)
	return DepositRecord{
		ID:               id,
		Name:             name,
		OriginalAmount:   bal,
		RemainingBalance: bal,
		CreatedAt:        time.Now().Add(-age),
	}
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAllocateFIFOOrder(t *testing.T) {
	deposits := []DepositRecord{
		dep(1, "rent", "30.00", 3*time.Hour),
		dep(2, "groceries", "20.00", 2*time.Hour),
		dep(3, "savings", "50.00", time.Hour),
	}

	plan, err := Allocate(deposits, amt("40.00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("expected 2 deductions, got %d", len(plan))
	}
	if plan[0].DepositID != 1 || !plan[0].Amount.Equal(amt("30.00")) || !plan[0].RemainingBalance.IsZero() {
		t.Fatalf("first deduction wrong: %+v", plan[0])
	}
	if plan[1].DepositID != 2 || !plan[1].Amount.Equal(amt("10.00")) || !plan[1].RemainingBalance.Equal(amt("10.00")) {
		t.Fatalf("second deduction wrong: %+v", plan[1])
	}
}

func TestAllocateExactExhaustion(t *testing.T) {
	deposits := []DepositRecord{
		dep(1, "a", "30.00", 2*time.Hour),
		dep(2, "b", "20.00", time.Hour),
	}

	plan, err := Allocate(deposits, amt("50.00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("expected 2 deductions, got %d", len(plan))
	}
	for i, d := range plan {
		if !d.RemainingBalance.IsZero() {
			t.Fatalf("deduction %d leaves nonzero balance %s", i, d.RemainingBalance)
		}
	}
}

func TestAllocateSkipsDepletedDeposits(t *testing.T) {
	oldest := dep(1, "depleted", "10.00", 3*time.Hour)
	oldest.RemainingBalance = decimal.Zero
	deposits := []DepositRecord{
		oldest,
		dep(2, "live", "25.00", time.Hour),
	}

	plan, err := Allocate(deposits, amt("5.00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 1 || plan[0].DepositID != 2 {
		t.Fatalf("expected deduction from deposit 2 only, got %+v", plan)
	}
}

func TestAllocateInsufficientFunds(t *testing.T) {
	deposits := []DepositRecord{
		dep(1, "a", "30.00", 2*time.Hour),
		dep(2, "b", "20.00", time.Hour),
	}

	plan, err := Allocate(deposits, amt("50.01"))
	if plan != nil {
		t.Fatalf("expected no plan, got %+v", plan)
	}
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	var insErr *InsufficientFundsError
	if !errors.As(err, &insErr) {
		t.Fatalf("expected *InsufficientFundsError, got %T", err)
	}
	if !insErr.Requested.Equal(amt("50.01")) || !insErr.Available.Equal(amt("50.00")) {
		t.Fatalf("wrong figures: requested %s available %s", insErr.Requested, insErr.Available)
	}
}

func TestAllocateRejectsNonPositiveTarget(t *testing.T) {
	deposits := []DepositRecord{dep(1, "a", "30.00", time.Hour)}
	for _, target := range []string{"0", "-1"} {
		_, err := Allocate(deposits, decimal.RequireFromString(target))
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("target %s: expected ErrInvalidAmount, got %v", target, err)
		}
	}
}

func TestAllocateEmptySequence(t *testing.T) {
	_, err := Allocate(nil, amt("1.00"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestAllocateDeterministic(t *testing.T) {
	deposits := []DepositRecord{
		dep(1, "a", "15.00", 3*time.Hour),
		dep(2, "b", "15.00", 2*time.Hour),
		dep(3, "c", "15.00", time.Hour),
	}

	first, err := Allocate(deposits, amt("20.00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Allocate(deposits, amt("20.00"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(again) != len(first) {
			t.Fatalf("plan length changed between runs")
		}
		for j := range again {
			if again[j].DepositID != first[j].DepositID || !again[j].Amount.Equal(first[j].Amount) {
				t.Fatalf("plan differs at step %d: %+v vs %+v", j, again[j], first[j])
			}
		}
	}
}
