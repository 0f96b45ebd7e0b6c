package index

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledgerindex/internal/core"
	"ledgerindex/internal/kv/memory"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	records *memory.RecordStore
	dates   *memory.Box[[]string]
	sums    *memory.Box[Summary]
	meta    *memory.Box[string]
}

func newTestEnv() *testEnv {
	return &testEnv{
		records: memory.NewRecordStore(time.UTC),
		dates:   memory.NewBox[[]string](),
		sums:    memory.NewBox[Summary](),
		meta:    memory.NewBox[string](),
	}
}

func (env *testEnv) stores() Stores {
	return Stores{Records: env.records, DateIndex: env.dates, Summaries: env.sums, Meta: env.meta}
}

func (env *testEnv) seed(t *testing.T, txs ...core.Transaction) {
	t.Helper()
	for _, tx := range txs {
		if err := env.records.Put(context.Background(), tx); err != nil {
			t.Fatalf("seed %s: %v", tx.ID, err)
		}
	}
}

func testOptions() Options {
	return Options{
		Location:            time.UTC,
		BootstrapWindowDays: 30,
		BackfillChunkDays:   90,
		YieldEvery:          7,
		Now:                 func() time.Time { return testNow },
	}
}

func newTestEngine(t *testing.T, env *testEnv, configure ...func(*Options)) *Engine {
	t.Helper()
	opts := testOptions()
	for _, fn := range configure {
		fn(&opts)
	}
	e, err := NewEngine(env.stores(), opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func readyEngine(t *testing.T, env *testEnv, configure ...func(*Options)) *Engine {
	t.Helper()
	e := newTestEngine(t, env, configure...)
	if err := e.EnsureReady(context.Background()); err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	return e
}

func daysAgo(n int) time.Time {
	return testNow.AddDate(0, 0, -n)
}

func dayKey(n int) core.DateKey {
	return core.KeyOf(daysAgo(n), time.UTC)
}

func newTx(id string, ago int, kind core.Kind, amount int64, currency string) core.Transaction {
	return core.Transaction{
		ID:        id,
		Date:      daysAgo(ago),
		Currency:  currency,
		Amount:    decimal.NewFromInt(amount),
		Kind:      kind,
		IsCleared: true,
	}
}

func idsOf(txs []core.Transaction) []string {
	out := make([]string, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.ID)
	}
	sort.Strings(out)
	return out
}

// expectedIDs lists stored records whose day lies in [from, to].
func expectedIDs(t *testing.T, env *testEnv, from, to core.DateKey) []string {
	t.Helper()
	var out []string
	w := Window{From: from, To: to}
	_ = env.records.ForEach(context.Background(), func(tx core.Transaction) error {
		if w.Contains(core.KeyOf(tx.Date, time.UTC)) {
			out = append(out, tx.ID)
		}
		return nil
	})
	sort.Strings(out)
	return out
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func boxContents[V any](t *testing.T, b *memory.Box[V]) map[string]V {
	t.Helper()
	out := make(map[string]V)
	_ = b.ForEach(context.Background(), func(k string, v V) error {
		out[k] = v
		return nil
	})
	return out
}

func summariesEqual(a, b Summary) bool {
	return a.Total == b.Total && a.Income == b.Income && a.Expense == b.Expense &&
		a.Transfer == b.Transfer && a.NeedsReview == b.NeedsReview && a.Uncleared == b.Uncleared &&
		a.IncomeAmount.Equal(b.IncomeAmount) && a.ExpenseAmount.Equal(b.ExpenseAmount)
}

func mustVerify(t *testing.T, e *Engine) {
	t.Helper()
	r, err := e.verify(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !r.ok() {
		t.Fatalf("index inconsistent: %+v", r)
	}
}
