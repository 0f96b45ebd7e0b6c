package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ledgerindex/internal/core"
)

// SummarySeparator joins a date key and a currency token in a summary key.
const SummarySeparator = "|"

var ErrInvalidSummaryKey = errors.New("invalid summary key")

// Summary aggregates one day of transactions in one currency. Every field is
// kept non-negative.
type Summary struct {
	Total         int64           `json:"total"`
	Income        int64           `json:"income"`
	Expense       int64           `json:"expense"`
	Transfer      int64           `json:"transfer"`
	NeedsReview   int64           `json:"needs_review"`
	Uncleared     int64           `json:"uncleared"`
	IncomeAmount  decimal.Decimal `json:"income_amount"`
	ExpenseAmount decimal.Decimal `json:"expense_amount"`
}

// SummaryKey composes the key for one day and currency.
func SummaryKey(day core.DateKey, currency string) string {
	return string(day) + SummarySeparator + core.CurrencyToken(currency)
}

// ParseSummaryKey splits key on the first separator.
func ParseSummaryKey(key string) (core.DateKey, string, error) {
	i := strings.Index(key, SummarySeparator)
	if i <= 0 || i == len(key)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSummaryKey, key)
	}
	day, err := core.ParseDateKey(key[:i])
	if err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSummaryKey, key)
	}
	return day, key[i+1:], nil
}

// summaryPrefixRange returns the key range covering every summary of day.
func summaryPrefixRange(day core.DateKey) (string, string) {
	return string(day) + SummarySeparator, string(day) + SummarySeparator + "\xff"
}

// apply adds (sign > 0) or removes (sign < 0) one transaction.
func (s *Summary) apply(tx core.Transaction, sign int64) {
	s.Total += sign
	amount := tx.Amount.Abs()
	switch tx.Kind {
	case core.KindIncome:
		s.Income += sign
		if !tx.AdjustsBalance() {
			s.IncomeAmount = s.IncomeAmount.Add(amount.Mul(decimal.NewFromInt(sign)))
		}
	case core.KindExpense:
		s.Expense += sign
		if !tx.AdjustsBalance() {
			s.ExpenseAmount = s.ExpenseAmount.Add(amount.Mul(decimal.NewFromInt(sign)))
		}
	case core.KindTransfer:
		s.Transfer += sign
	}
	if tx.NeedsReview {
		s.NeedsReview += sign
	}
	if !tx.IsCleared {
		s.Uncleared += sign
	}
	s.clamp()
}

func (s *Summary) add(o Summary) {
	s.Total += o.Total
	s.Income += o.Income
	s.Expense += o.Expense
	s.Transfer += o.Transfer
	s.NeedsReview += o.NeedsReview
	s.Uncleared += o.Uncleared
	s.IncomeAmount = s.IncomeAmount.Add(o.IncomeAmount)
	s.ExpenseAmount = s.ExpenseAmount.Add(o.ExpenseAmount)
	s.clamp()
}

func (s *Summary) clamp() {
	for _, c := range []*int64{&s.Total, &s.Income, &s.Expense, &s.Transfer, &s.NeedsReview, &s.Uncleared} {
		if *c < 0 {
			*c = 0
		}
	}
	if s.IncomeAmount.IsNegative() {
		s.IncomeAmount = decimal.Zero
	}
	if s.ExpenseAmount.IsNegative() {
		s.ExpenseAmount = decimal.Zero
	}
}

// Empty reports whether the summary should be deleted rather than stored.
func (s Summary) Empty() bool {
	return s.Total <= 0
}

// SummaryCodec persists summaries as JSON and clamps whatever it reads back.
type SummaryCodec struct{}

func (SummaryCodec) Encode(s Summary) ([]byte, error) {
	return json.Marshal(s)
}

func (SummaryCodec) Decode(data []byte) (Summary, error) {
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	s.clamp()
	return s, nil
}
