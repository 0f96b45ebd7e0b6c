package index

import (
	"context"
	"math"
	"testing"

	"ledgerindex/internal/core"
)

func TestHistoryOptimizationStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	seedSpan(t, env, 90, 10)
	e := newTestEngine(t, env)

	if st := e.HistoryOptimizationStatus(ctx); st.Ready || st.Module != ModuleName {
		t.Fatalf("status before init = %+v", st)
	}
	if err := e.EnsureReady(ctx); err != nil {
		t.Fatalf("ensure ready: %v", err)
	}

	st := e.HistoryOptimizationStatus(ctx)
	if !st.Ready || st.UsingScanFallback || st.BackfillComplete || st.Paused {
		t.Fatalf("status = %+v", st)
	}
	if st.IndexedFrom != dayKey(30).String() || st.OldestData != dayKey(90).String() || st.LastIndexed != st.IndexedFrom {
		t.Fatalf("dates = %+v", st)
	}
	if st.BootstrapWindowDays != 30 || st.RemainingDays != 60 {
		t.Fatalf("window/remaining = %+v", st)
	}
	if math.Abs(st.PercentComplete-100.0/3) > 0.001 {
		t.Fatalf("percent = %v", st.PercentComplete)
	}
}

func TestPercentComplete(t *testing.T) {
	today := core.DateKey("20250115")
	tests := []struct {
		name string
		m    Meta
		want float64
	}{
		{"complete", Meta{IndexedFrom: "20250101", OldestData: "20250101", BackfillComplete: true}, 100},
		{"no data", Meta{}, 100},
		{"half way", Meta{IndexedFrom: "20250108", OldestData: "20250101"}, 50},
		{"oldest today", Meta{IndexedFrom: "20250115", OldestData: "20250115"}, 100},
		{"indexed-from in the future", Meta{IndexedFrom: "20250120", OldestData: "20250101"}, 0},
	}
	for _, tc := range tests {
		if got := percentComplete(tc.m, today); got != tc.want {
			t.Fatalf("%s: percent = %v, want %v", tc.name, got, tc.want)
		}
	}
	if got := remainingDays(Meta{IndexedFrom: "20250110", OldestData: "20250101"}); got != 9 {
		t.Fatalf("remaining = %d", got)
	}
	if got := remainingDays(Meta{IndexedFrom: "20250101", OldestData: "20250110"}); got != 0 {
		t.Fatalf("remaining = %d", got)
	}
}
