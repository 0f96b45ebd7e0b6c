package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		ID:     "tx-1",
		Date:   time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		Amount: decimal.NewFromInt(100),
		Kind:   KindIncome,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Transaction{
		{ID: "", Date: good.Date, Kind: KindIncome},
		{ID: "a", Kind: KindIncome},
		{ID: "a", Date: good.Date, Kind: "gift"},
	}
	for i, tx := range bads {
		if err := tx.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestParseKind(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"income", KindIncome, true},
		{" Expense ", KindExpense, true},
		{"balance-adjustment", KindBalanceAdjustment, true},
		{"transfer", KindTransfer, true},
		{"refund", "", false},
	}
	for _, tc := range cases {
		got, err := ParseKind(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("ParseKind(%q) = %q, %v", tc.in, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ParseKind(%q) expected error", tc.in)
		}
	}
}

func TestAdjustsBalance(t *testing.T) {
	if !(Transaction{Kind: KindBalanceAdjustment}).AdjustsBalance() {
		t.Fatal("balance adjustment kind should adjust balance")
	}
	if !(Transaction{Kind: KindIncome, IsBalanceAdjustment: true}).AdjustsBalance() {
		t.Fatal("flagged income should adjust balance")
	}
	if (Transaction{Kind: KindExpense}).AdjustsBalance() {
		t.Fatal("plain expense should not adjust balance")
	}
}

func TestCurrencyToken(t *testing.T) {
	cases := map[string]string{
		"usd":   "USD",
		" EUR ": "EUR",
		"":      NullCurrency,
		"   ":   NullCurrency,
	}
	for in, want := range cases {
		if got := CurrencyToken(in); got != want {
			t.Fatalf("CurrencyToken(%q) = %q, want %q", in, got, want)
		}
	}
}
