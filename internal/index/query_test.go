package index

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"ledgerindex/internal/core"
)

func TestTransactionsForDateTracksMutations(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	for i := 0; i < 20; i++ {
		env.seed(t, newTx(fmt.Sprintf("seed-%02d", i), i*4, core.KindExpense, int64(i+1), "USD"))
	}
	e := readyEngine(t, env)

	rng := rand.New(rand.NewSource(42))
	kinds := []core.Kind{core.KindIncome, core.KindExpense, core.KindTransfer, core.KindBalanceAdjustment}
	currencies := []string{"USD", "eur", ""}

	check := func(step int) {
		t.Helper()
		for ago := 0; ago <= 90; ago++ {
			got, err := e.TransactionsForDate(ctx, daysAgo(ago).Add(-3*60*60))
			if err != nil {
				t.Fatalf("step %d day %d: %v", step, ago, err)
			}
			day := core.KeyOf(daysAgo(ago).Add(-3*60*60), e.Location())
			if want := expectedIDs(t, env, day, day); !sameIDs(idsOf(got), want) {
				t.Fatalf("step %d day %s: got %v want %v", step, day, idsOf(got), want)
			}
		}
	}

	for step := 0; step < 400; step++ {
		id := fmt.Sprintf("tx-%02d", rng.Intn(40))
		switch op := rng.Intn(10); {
		case op < 6:
			tx := newTx(id, rng.Intn(90), kinds[rng.Intn(len(kinds))], int64(rng.Intn(1000)), currencies[rng.Intn(len(currencies))])
			tx.NeedsReview = rng.Intn(4) == 0
			tx.IsCleared = rng.Intn(3) > 0
			if err := e.Save(ctx, tx); err != nil {
				t.Fatalf("step %d save: %v", step, err)
			}
		case op < 9:
			if err := e.Remove(ctx, id); err != nil {
				t.Fatalf("step %d remove: %v", step, err)
			}
		default:
			if _, err := e.BackfillNextChunk(ctx, 1+rng.Intn(20)); err != nil {
				t.Fatalf("step %d backfill: %v", step, err)
			}
		}
		if step%50 == 0 {
			check(step)
			mustVerify(t, e)
		}
	}
	check(400)
	mustVerify(t, e)

	for key, s := range boxContents(t, env.sums) {
		if s.Empty() || s.IncomeAmount.IsNegative() || s.ExpenseAmount.IsNegative() {
			t.Fatalf("summary %s out of bounds: %+v", key, s)
		}
	}

	// The same answers come back when the index is distrusted.
	e.mu.Lock()
	e.enabled = false
	e.mu.Unlock()
	check(401)
}

func TestTransactionsInRangeSplitsAtIndexedFrom(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	for ago := 0; ago <= 60; ago += 3 {
		env.seed(t,
			newTx(fmt.Sprintf("a-%02d", ago), ago, core.KindIncome, 10, "USD"),
			newTx(fmt.Sprintf("b-%02d", ago), ago, core.KindExpense, 5, "EUR"),
		)
	}
	e := readyEngine(t, env)
	boundary := e.snapshot().meta.IndexedFrom
	if boundary != dayKey(30) {
		t.Fatalf("indexed-from = %s", boundary)
	}

	got, err := e.TransactionsInRange(ctx, daysAgo(45), daysAgo(10))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	want := expectedIDs(t, env, dayKey(45), dayKey(10))
	if !sameIDs(idsOf(got), want) {
		t.Fatalf("range = %v, want %v", idsOf(got), want)
	}
	if len(got) != len(want) {
		t.Fatalf("duplicates in %v", idsOf(got))
	}

	// Within-day grouping: days never go backwards.
	for i := 1; i < len(got); i++ {
		if core.KeyOf(got[i].Date, e.Location()) < core.KeyOf(got[i-1].Date, e.Location()) {
			t.Fatalf("results not grouped by day: %v", idsOf(got))
		}
	}

	if got, _ := e.TransactionsInRange(ctx, daysAgo(1), daysAgo(5)); got != nil {
		t.Fatalf("reversed range = %v", idsOf(got))
	}
}

func TestTransactionsUpTo(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.seed(t,
		newTx("old", 120, core.KindIncome, 10, "USD"),
		newTx("mid", 20, core.KindIncome, 10, "USD"),
		newTx("new", 1, core.KindIncome, 10, "USD"),
	)
	e := readyEngine(t, env)

	for complete := false; ; complete = true {
		got, err := e.TransactionsUpTo(ctx, daysAgo(5))
		if err != nil || !sameIDs(idsOf(got), []string{"mid", "old"}) {
			t.Fatalf("complete=%v up to = %v, %v", complete, idsOf(got), err)
		}
		if complete {
			break
		}
		for {
			did, err := e.BackfillNextChunk(ctx, 0)
			if err != nil {
				t.Fatalf("backfill: %v", err)
			}
			if !did {
				break
			}
		}
		if !e.snapshot().meta.BackfillComplete {
			t.Fatal("backfill did not complete")
		}
	}
}

func TestIndexReadsSkipDanglingIDs(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.seed(t, newTx("a", 1, core.KindIncome, 10, "USD"), newTx("b", 2, core.KindIncome, 10, "USD"))
	e := readyEngine(t, env)

	// "ghost" has no record, "b" lives on another day.
	_ = env.dates.Put(ctx, string(dayKey(1)), []string{"a", "ghost", "b", "a"})

	got, err := e.TransactionsForDate(ctx, daysAgo(1))
	if err != nil || !sameIDs(idsOf(got), []string{"a"}) {
		t.Fatalf("for date = %v, %v", idsOf(got), err)
	}
}

func TestStatisticsIncomeExample(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	e := readyEngine(t, env)

	if err := e.Save(ctx, newTx("pay", 0, core.KindIncome, 100, "USD")); err != nil {
		t.Fatalf("save: %v", err)
	}
	stats, err := e.Statistics(ctx, "USD")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Total != 1 || stats.Income != 1 || !stats.IncomeByCurrency["USD"].Equal(decimal.NewFromInt(100)) {
		t.Fatalf("statistics = %+v", stats)
	}

	if err := e.Remove(ctx, "pay"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	stats, err = e.Statistics(ctx, "USD")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("total = %d", stats.Total)
	}
	if _, ok := stats.IncomeByCurrency["USD"]; ok {
		t.Fatalf("USD key should be absent: %+v", stats.IncomeByCurrency)
	}
	if env.sums.Len() != 0 {
		t.Fatal("summary should be deleted at zero")
	}
}

func TestStatisticsIndexedMatchesScan(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.seed(t,
		newTx("a", 0, core.KindIncome, 100, "USD"),
		newTx("b", 1, core.KindIncome, 50, ""),
		newTx("c", 2, core.KindExpense, -30, "usd"),
		newTx("d", 3, core.KindTransfer, 12, "EUR"),
		newTx("e", 4, core.KindExpense, 9, "EUR"),
	)
	adj := newTx("f", 5, core.KindExpense, 999, "EUR")
	adj.IsBalanceAdjustment = true
	adj.NeedsReview = true
	adj.IsCleared = false
	env.seed(t, adj)

	e := readyEngine(t, env)
	indexed, err := e.Statistics(ctx, "usd")
	if err != nil {
		t.Fatalf("indexed statistics: %v", err)
	}
	scanned, err := e.scanStatistics(ctx, "USD")
	if err != nil {
		t.Fatalf("scan statistics: %v", err)
	}

	if indexed.Total != 6 || indexed.Income != 2 || indexed.Expense != 3 || indexed.Transfer != 1 ||
		indexed.NeedsReview != 1 || indexed.Uncleared != 1 {
		t.Fatalf("indexed = %+v", indexed)
	}
	if !indexed.IncomeByCurrency["USD"].Equal(decimal.NewFromInt(150)) {
		t.Fatalf("income by currency = %v", indexed.IncomeByCurrency)
	}
	if !indexed.ExpenseByCurrency["USD"].Equal(decimal.NewFromInt(30)) || !indexed.ExpenseByCurrency["EUR"].Equal(decimal.NewFromInt(9)) {
		t.Fatalf("expense by currency = %v", indexed.ExpenseByCurrency)
	}

	if indexed.Total != scanned.Total || len(indexed.IncomeByCurrency) != len(scanned.IncomeByCurrency) ||
		len(indexed.ExpenseByCurrency) != len(scanned.ExpenseByCurrency) {
		t.Fatalf("indexed %+v != scanned %+v", indexed, scanned)
	}
	for cur, v := range indexed.ExpenseByCurrency {
		if !scanned.ExpenseByCurrency[cur].Equal(v) {
			t.Fatalf("expense %s: indexed %v scanned %v", cur, v, scanned.ExpenseByCurrency[cur])
		}
	}

	// Cached results are copies.
	indexed.IncomeByCurrency["USD"] = decimal.Zero
	again, _ := e.Statistics(ctx, "USD")
	if !again.IncomeByCurrency["USD"].Equal(decimal.NewFromInt(150)) {
		t.Fatal("cached statistics were mutated through a returned map")
	}
}
