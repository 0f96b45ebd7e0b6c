package index

import (
	"context"
	"fmt"

	"ledgerindex/internal/core"
)

// integrityReport compares the index against a scan of the record store.
type integrityReport struct {
	Expected   int
	Bucketed   int
	Summarized int64
}

func (r integrityReport) ok() bool {
	return r.Expected == r.Bucketed && int64(r.Expected) == r.Summarized
}

func (r integrityReport) attrs() []any {
	return []any{"expected", r.Expected, "bucketed", r.Bucketed, "summarized", r.Summarized}
}

// verify counts records at or after indexed-from and checks both index
// namespaces agree with that count.
func (e *Engine) verify(ctx context.Context) (integrityReport, error) {
	from := e.snapshot().meta.IndexedFrom

	var r integrityReport
	y := yielder{every: e.opts.YieldEvery}
	err := e.stores.Records.ForEach(ctx, func(tx core.Transaction) error {
		if e.keyOf(tx.Date) >= from {
			r.Expected++
		}
		return y.tick(ctx)
	})
	if err != nil {
		return r, fmt.Errorf("count records: %w", err)
	}

	err = e.stores.DateIndex.ForEach(ctx, func(_ string, ids []string) error {
		r.Bucketed += len(ids)
		return nil
	})
	if err != nil {
		return r, fmt.Errorf("count date index: %w", err)
	}

	err = e.stores.Summaries.ForEach(ctx, func(_ string, s Summary) error {
		r.Summarized += s.Total
		return nil
	})
	if err != nil {
		return r, fmt.Errorf("count daily summaries: %w", err)
	}

	e.metrics.IntegrityCheck(r.ok())
	return r, nil
}
