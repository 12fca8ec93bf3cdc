// Package core holds the ledger domain: deposit records, money parsing
// and the FIFO withdrawal allocator.
//
// All amounts are fixed-point decimals with two fractional digits.
// Binary floating point never enters the withdrawal path.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// MinAmount is the smallest unit of money the ledger accepts.
var MinAmount = decimal.New(1, -2) // 0.01

// ParseAmount converts a user-supplied decimal string to an exact amount.
//
// It accepts both dot (12.34) and comma (12,34) separators and performs
// half-up rounding on the third decimal place. Signs are rejected: only
// strictly positive amounts are valid inputs to the ledger.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,34")  -> 12.34
//	ParseAmount("12.345") -> 12.35 (rounds up)
//	ParseAmount("-1")     -> ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.LessThan(MinAmount) {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseBalance is ParseAmount for remaining balances, where zero is a
// legal value (a deposit recorded as already spent).
func ParseBalance(s string) (decimal.Decimal, error) {
	return parseDecimal(s)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, part := range parts {
		for _, r := range part {
			if !unicode.IsDigit(r) {
				return decimal.Zero, ErrInvalidAmount
			}
		}
	}
	if len(s) > 32 {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	// Half-up on the third fractional digit
	return d.Round(2), nil
}

// FormatAmount renders an amount with exactly two decimal digits.
func FormatAmount(a decimal.Decimal) string {
	return a.StringFixed(2)
}

// ToCents converts an amount to integer cents for storage.
func ToCents(a decimal.Decimal) int64 {
	return a.Shift(2).IntPart()
}

// FromCents converts stored integer cents back to an amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
