package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TransactionStatus
		want     bool
	}{
		{TxnPending, TxnSucceeded, true},
		{TxnPending, TxnFailed, true},
		{TxnPending, TxnPartiallyRefunded, false},
		{TxnSucceeded, TxnPartiallyRefunded, true},
		{TxnSucceeded, TxnFullyRefunded, true},
		{TxnSucceeded, TxnFailed, false},
		{TxnSucceeded, TxnPending, false},
		{TxnPartiallyRefunded, TxnPartiallyRefunded, true},
		{TxnPartiallyRefunded, TxnFullyRefunded, true},
		{TxnPartiallyRefunded, TxnSucceeded, false},
		{TxnFailed, TxnSucceeded, false},
		{TxnFailed, TxnPending, false},
		{TxnFullyRefunded, TxnPartiallyRefunded, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCheckInvariants(t *testing.T) {
	d := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }

	ok := Transaction{Amount: d("100.00"), Fees: d("2.50"), NetAmount: d("97.50")}
	if err := ok.CheckInvariants(); err != nil {
		t.Fatalf("valid transaction rejected: %v", err)
	}

	bad := []Transaction{
		{Amount: d("0"), Fees: d("0"), NetAmount: d("0")},
		{Amount: d("100"), Fees: d("-1"), NetAmount: d("101")},
		{Amount: d("100"), Fees: d("2"), NetAmount: d("97")},
	}
	for i, tx := range bad {
		if err := tx.CheckInvariants(); err == nil {
			t.Errorf("case %d: invalid transaction accepted", i)
		}
	}
}

func TestRailValid(t *testing.T) {
	for _, r := range []Rail{RailCard, RailBank, RailStablecoin} {
		if !r.Valid() {
			t.Errorf("%s should be valid", r)
		}
	}
	if Rail("wire").Valid() {
		t.Error("unknown rail accepted")
	}
}
