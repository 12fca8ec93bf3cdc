package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"12.34", "12.34", true},
		{"12,34", "12.34", true},
		{"  40 ", "40.00", true},
		{"0.01", "0.01", true},
		{"12.345", "12.35", true}, // half-up on third digit
		{"12.344", "12.34", true},
		{"100", "100.00", true},
		{"", "", false},
		{"0", "", false},
		{"0.00", "", false},
		{"0.004", "", false}, // rounds to zero
		{"-1", "", false},
		{"+1", "", false},
		{"1.2.3", "", false},
		{"abc", "", false},
		{"12e3", "", false},
		{"NaN", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected error: %v", tc.in, err)
			}
			if got.StringFixed(2) != tc.want {
				t.Fatalf("ParseAmount(%q) = %s, want %s", tc.in, got.StringFixed(2), tc.want)
			}
		} else if err == nil {
			t.Fatalf("ParseAmount(%q) expected error, got %s", tc.in, got)
		}
	}
}

func TestCentsRoundTrip(t *testing.T) {
	cases := []struct {
		amount string
		cents  int64
	}{
		{"0.01", 1},
		{"12.34", 1234},
		{"100.00", 10000},
	}
	for _, tc := range cases {
		d := decimal.RequireFromString(tc.amount)
		if got := ToCents(d); got != tc.cents {
			t.Fatalf("ToCents(%s) = %d, want %d", tc.amount, got, tc.cents)
		}
		if got := FromCents(tc.cents); !got.Equal(d) {
			t.Fatalf("FromCents(%d) = %s, want %s", tc.cents, got, tc.amount)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(decimal.RequireFromString("7.5")); got != "7.50" {
		t.Fatalf("FormatAmount(7.5) = %q, want 7.50", got)
	}
}
