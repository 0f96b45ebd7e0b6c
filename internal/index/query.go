package index

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ledgerindex/internal/core"
	"ledgerindex/internal/log"
)

// lastDateKey bounds open-ended index ranges.
const lastDateKey core.DateKey = "99999999"

// Statistics aggregates every transaction in the store.
type Statistics struct {
	Total             int64                      `json:"total"`
	Income            int64                      `json:"income"`
	Expense           int64                      `json:"expense"`
	Transfer          int64                      `json:"transfer"`
	NeedsReview       int64                      `json:"needs_review"`
	Uncleared         int64                      `json:"uncleared"`
	IncomeByCurrency  map[string]decimal.Decimal `json:"total_income_by_currency"`
	ExpenseByCurrency map[string]decimal.Decimal `json:"total_expense_by_currency"`
}

func (s Statistics) clone() Statistics {
	out := s
	out.IncomeByCurrency = make(map[string]decimal.Decimal, len(s.IncomeByCurrency))
	for k, v := range s.IncomeByCurrency {
		out.IncomeByCurrency[k] = v
	}
	out.ExpenseByCurrency = make(map[string]decimal.Decimal, len(s.ExpenseByCurrency))
	for k, v := range s.ExpenseByCurrency {
		out.ExpenseByCurrency[k] = v
	}
	return out
}

// TransactionsForDate returns the transactions on the local day of t.
func (e *Engine) TransactionsForDate(ctx context.Context, t time.Time) ([]core.Transaction, error) {
	day := e.keyOf(t)
	return e.read(ctx, "date", day, day)
}

// TransactionsInRange returns the transactions between the local days of
// start and end, inclusive. Results are grouped by day.
func (e *Engine) TransactionsInRange(ctx context.Context, start, end time.Time) ([]core.Transaction, error) {
	from, to := e.keyOf(start), e.keyOf(end)
	if to < from {
		return nil, nil
	}
	return e.read(ctx, "range", from, to)
}

// TransactionsUpTo returns every transaction up to and including the local
// day of t.
func (e *Engine) TransactionsUpTo(ctx context.Context, t time.Time) ([]core.Transaction, error) {
	return e.read(ctx, "up_to", "", e.keyOf(t))
}

func (e *Engine) read(ctx context.Context, query string, from, to core.DateKey) ([]core.Transaction, error) {
	e.prepare(ctx)
	cov := coverageOf(e.snapshot(), from, to)

	switch cov.Route {
	case RouteIndexed:
		return e.readIndex(ctx, from, to)
	case RouteSplit:
		e.metrics.ScanRead(query)
		before, err := e.scan(ctx, from, cov.Boundary.AddDays(-1))
		if err != nil {
			return nil, err
		}
		after, err := e.readIndex(ctx, cov.Boundary, to)
		if err != nil {
			return nil, err
		}
		return appendUnique(before, after), nil
	default:
		e.metrics.ScanRead(query)
		return e.scan(ctx, from, to)
	}
}

// readIndex resolves the buckets in [from, to] through the record store,
// skipping ids whose record is gone or no longer on that day.
func (e *Engine) readIndex(ctx context.Context, from, to core.DateKey) ([]core.Transaction, error) {
	if to.IsZero() {
		to = lastDateKey
	}
	var out []core.Transaction
	seen := make(map[string]struct{})
	err := e.stores.DateIndex.Range(ctx, string(from), string(to), func(key string, ids []string) error {
		day := core.DateKey(key)
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			tx, ok, err := e.stores.Records.Get(ctx, id)
			if err != nil {
				return fmt.Errorf("get transaction: %w", err)
			}
			if !ok || e.keyOf(tx.Date) != day {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, tx)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read date index: %w", err)
	}
	return out, nil
}

// scan filters a full pass over the record store to [from, to].
func (e *Engine) scan(ctx context.Context, from, to core.DateKey) ([]core.Transaction, error) {
	w := Window{From: from, To: to}
	var out []core.Transaction
	y := yielder{every: e.opts.YieldEvery}
	err := e.stores.Records.ForEach(ctx, func(tx core.Transaction) error {
		if w.Contains(e.keyOf(tx.Date)) {
			out = append(out, tx)
		}
		return y.tick(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := e.keyOf(out[i].Date), e.keyOf(out[j].Date)
		if di != dj {
			return di < dj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func appendUnique(a, b []core.Transaction) []core.Transaction {
	seen := make(map[string]struct{}, len(a))
	for _, tx := range a {
		seen[tx.ID] = struct{}{}
	}
	for _, tx := range b {
		if _, dup := seen[tx.ID]; !dup {
			a = append(a, tx)
		}
	}
	return a
}

// Statistics totals every transaction. Summaries with no currency are
// reported under defaultCurrency.
func (e *Engine) Statistics(ctx context.Context, defaultCurrency string) (Statistics, error) {
	e.prepare(ctx)
	gen := e.stats.Generation()
	fallback := core.NormalizeCurrency(defaultCurrency)
	cov := coverageOf(e.snapshot(), "", "")
	cacheKey := cov.Route.String() + ":" + fallback
	if s, ok := e.stats.Get(cacheKey); ok {
		return s.clone(), nil
	}

	var (
		stats Statistics
		err   error
	)
	if cov.Route == RouteIndexed {
		stats, err = e.indexedStatistics(ctx, fallback)
	} else {
		e.metrics.ScanRead("statistics")
		stats, err = e.scanStatistics(ctx, fallback)
	}
	if err != nil {
		return Statistics{}, err
	}

	// A write during the computation purges the cache; drop this result then.
	e.stats.SetIfGeneration(cacheKey, stats, gen)
	return stats.clone(), nil
}

func (e *Engine) indexedStatistics(ctx context.Context, fallback string) (Statistics, error) {
	r := newStatsReducer(fallback)
	err := e.stores.Summaries.ForEach(ctx, func(key string, s Summary) error {
		_, token, err := ParseSummaryKey(key)
		if err != nil {
			e.logger.WarnContext(ctx, "Skipping malformed summary key", log.FieldOperation, log.OpQuery, "key", key)
			return nil
		}
		r.add(token, s)
		return nil
	})
	if err != nil {
		return Statistics{}, fmt.Errorf("read daily summaries: %w", err)
	}
	return r.stats, nil
}

func (e *Engine) scanStatistics(ctx context.Context, fallback string) (Statistics, error) {
	acc := newAccumulator(e.opts.Location, Window{}, false)
	if err := acc.consume(ctx, e.stores.Records.ForEach, e.opts.YieldEvery); err != nil {
		return Statistics{}, fmt.Errorf("scan records: %w", err)
	}
	r := newStatsReducer(fallback)
	for key, s := range acc.summaries {
		_, token, err := ParseSummaryKey(key)
		if err != nil {
			continue
		}
		r.add(token, s)
	}
	return r.stats, nil
}

type statsReducer struct {
	fallback string
	stats    Statistics
}

func newStatsReducer(fallback string) *statsReducer {
	return &statsReducer{
		fallback: fallback,
		stats: Statistics{
			IncomeByCurrency:  make(map[string]decimal.Decimal),
			ExpenseByCurrency: make(map[string]decimal.Decimal),
		},
	}
}

func (r *statsReducer) add(token string, s Summary) {
	currency := token
	if token == core.NullCurrency {
		currency = r.fallback
	}
	r.stats.Total += s.Total
	r.stats.Income += s.Income
	r.stats.Expense += s.Expense
	r.stats.Transfer += s.Transfer
	r.stats.NeedsReview += s.NeedsReview
	r.stats.Uncleared += s.Uncleared
	if s.Income > 0 {
		r.stats.IncomeByCurrency[currency] = r.stats.IncomeByCurrency[currency].Add(s.IncomeAmount)
	}
	if s.Expense > 0 {
		r.stats.ExpenseByCurrency[currency] = r.stats.ExpenseByCurrency[currency].Add(s.ExpenseAmount)
	}
}
