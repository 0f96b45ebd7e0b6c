package index

import (
	"context"
	"fmt"
	"time"

	"ledgerindex/internal/core"
	"ledgerindex/internal/log"
)

// bootstrap rebuilds the index for the trailing window and records the oldest
// data date. The caller holds bulkMu.
func (e *Engine) bootstrap(ctx context.Context) error {
	start := time.Now()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	// Persist the intent first so a crash mid-rebuild is retried on restart.
	e.flagRebuild(ctx)

	today := e.today()
	windowStart := today.AddDays(-e.opts.BootstrapWindowDays)

	acc := newAccumulator(e.opts.Location, Window{From: windowStart}, true)
	if err := acc.consume(ctx, e.stores.Records.ForEach, e.opts.YieldEvery); err != nil {
		return fmt.Errorf("scan records: %w", err)
	}

	if err := e.clearIndex(ctx); err != nil {
		return err
	}
	if err := e.stores.DateIndex.PutAll(ctx, acc.dateIndexEntries()); err != nil {
		return fmt.Errorf("write date index: %w", err)
	}
	if err := e.stores.Summaries.PutAll(ctx, acc.summaries); err != nil {
		return fmt.Errorf("write daily summaries: %w", err)
	}

	m := bootstrapMeta(acc.oldest, today, windowStart)
	e.mu.Lock()
	m.Paused = false
	e.meta = m
	e.dirty = nil
	e.mu.Unlock()
	if err := saveMeta(ctx, e.stores.Meta, m); err != nil {
		return err
	}

	e.stats.Purge()
	e.metrics.Rebuild(time.Since(start))
	e.logger.InfoContext(ctx, "History index bootstrapped",
		log.FieldOperation, log.OpBootstrap,
		log.FieldScanned, acc.scanned,
		"days", len(acc.dates),
		log.FieldIndexedFrom, m.IndexedFrom,
		log.FieldOldestData, m.OldestData,
		"backfill_complete", m.BackfillComplete)
	return nil
}

// bootstrapMeta derives metadata after a scan that found oldest as the
// earliest day (empty when the store is empty).
func bootstrapMeta(oldest, today, windowStart core.DateKey) Meta {
	if oldest.IsZero() {
		oldest = today
	}
	indexedFrom := oldest
	if oldest < windowStart {
		indexedFrom = windowStart
	}
	return Meta{
		Version:          IndexVersion,
		IndexedFrom:      indexedFrom,
		OldestData:       oldest,
		LastIndexed:      indexedFrom,
		BackfillComplete: indexedFrom <= oldest,
	}
}
