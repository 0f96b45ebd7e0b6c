package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	KindIncome            Kind = "income"
	KindExpense           Kind = "expense"
	KindTransfer          Kind = "transfer"
	KindBalanceAdjustment Kind = "balance_adjustment"
)

// NullCurrency is the currency token used for transactions without a currency.
const NullCurrency = "__none__"

type (
	Kind string

	// Transaction is the record owned by the record store. The index only
	// looks at the projected fields; Note is carried through untouched.
	Transaction struct {
		ID                  string
		Date                time.Time
		Currency            string
		Amount              decimal.Decimal
		Kind                Kind
		NeedsReview         bool
		IsCleared           bool
		IsBalanceAdjustment bool
		Note                string
	}
)

var (
	ErrEmptyID     = errors.New("empty transaction id")
	ErrZeroDate    = errors.New("transaction date cannot be zero")
	ErrInvalidKind = errors.New("invalid transaction kind")
)

// ParseKind parses a kind name, accepting the hyphenated spelling too.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !k.Valid() {
		return "", ErrInvalidKind
	}
	return k, nil
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindIncome, KindExpense, KindTransfer, KindBalanceAdjustment:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	return string(k)
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrEmptyID
	}
	if t.Date.IsZero() {
		return ErrZeroDate
	}
	if !t.Kind.Valid() {
		return ErrInvalidKind
	}
	return nil
}

// AdjustsBalance reports whether the record is a balance adjustment, either by
// kind or by flag. Adjustments never contribute income or expense amounts.
func (t Transaction) AdjustsBalance() bool {
	return t.IsBalanceAdjustment || t.Kind == KindBalanceAdjustment
}

// NormalizeCurrency trims and upper-cases a currency code. Blank input yields "".
func NormalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// CurrencyToken returns the normalized currency, or NullCurrency when blank.
func CurrencyToken(c string) string {
	if n := NormalizeCurrency(c); n != "" {
		return n
	}
	return NullCurrency
}
