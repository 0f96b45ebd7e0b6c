package index

import (
	"context"

	"ledgerindex/internal/core"
)

// ModuleName identifies the index in status snapshots.
const ModuleName = "transactions.history_index"

// HistoryStatus is a read-only snapshot of indexing progress.
type HistoryStatus struct {
	Module              string  `json:"module"`
	Ready               bool    `json:"ready"`
	UsingScanFallback   bool    `json:"using_scan_fallback"`
	BackfillComplete    bool    `json:"backfill_complete"`
	Paused              bool    `json:"paused"`
	IndexedFrom         string  `json:"indexed_from,omitempty"`
	OldestData          string  `json:"oldest_data,omitempty"`
	LastIndexed         string  `json:"last_indexed,omitempty"`
	BootstrapWindowDays int     `json:"bootstrap_window_days"`
	RemainingDays       int     `json:"remaining_days"`
	PercentComplete     float64 `json:"percent_complete"`
}

// HistoryOptimizationStatus reports the current state without initializing
// the engine.
func (e *Engine) HistoryOptimizationStatus(_ context.Context) HistoryStatus {
	e.mu.Lock()
	m := e.meta
	enabled := e.enabled
	fallback := e.fallback
	e.mu.Unlock()

	today := e.today()
	return HistoryStatus{
		Module:              ModuleName,
		Ready:               e.ready.Load() && enabled,
		UsingScanFallback:   fallback || !enabled,
		BackfillComplete:    m.BackfillComplete,
		Paused:              m.Paused,
		IndexedFrom:         m.IndexedFrom.String(),
		OldestData:          m.OldestData.String(),
		LastIndexed:         m.LastIndexed.String(),
		BootstrapWindowDays: e.opts.BootstrapWindowDays,
		RemainingDays:       remainingDays(m),
		PercentComplete:     percentComplete(m, today),
	}
}

func remainingDays(m Meta) int {
	if m.IndexedFrom.IsZero() || m.OldestData.IsZero() || m.IndexedFrom <= m.OldestData {
		return 0
	}
	return m.OldestData.DaysUntil(m.IndexedFrom)
}

func percentComplete(m Meta, today core.DateKey) float64 {
	if m.BackfillComplete || m.IndexedFrom.IsZero() || m.OldestData.IsZero() {
		return 100
	}
	total := m.OldestData.DaysUntil(today)
	if total <= 0 {
		return 100
	}
	pct := float64(m.IndexedFrom.DaysUntil(today)) / float64(total) * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}
