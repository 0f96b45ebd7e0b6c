package index

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"ledgerindex/internal/core"
	"ledgerindex/internal/log"
	"ledgerindex/internal/metrics"
)

// BackfillNextChunk extends coverage backward by at most chunkDays days. It
// reports whether a chunk was merged. A non-positive chunkDays uses the
// configured default. Failed or empty jobs leave metadata untouched.
func (e *Engine) BackfillNextChunk(ctx context.Context, chunkDays int) (bool, error) {
	e.prepare(ctx)
	if chunkDays <= 0 {
		chunkDays = e.opts.BackfillChunkDays
	}

	if !e.bulkMu.TryLock() {
		e.metrics.Chunk(metrics.ChunkSkipped)
		return false, nil
	}
	defer e.bulkMu.Unlock()

	v := e.snapshot()
	m := v.meta
	if !v.enabled || m.Paused || m.BackfillComplete {
		return false, nil
	}
	if m.IndexedFrom.IsZero() || m.OldestData.IsZero() {
		e.logger.WarnContext(ctx, "Index metadata incomplete, scheduling rebuild", log.FieldOperation, log.OpBackfill)
		e.flagRebuild(ctx)
		return false, nil
	}
	if m.IndexedFrom <= m.OldestData {
		err := e.updateMeta(ctx, func(m *Meta) bool {
			if m.BackfillComplete {
				return false
			}
			m.BackfillComplete = true
			return true
		})
		return false, err
	}

	w := chunkWindow(m.IndexedFrom, m.OldestData, chunkDays)
	job := ChunkJob{
		ID:        uuid.NewString(),
		From:      w.From,
		To:        w.To,
		StorePath: e.opts.StorePath,
		Timezone:  e.opts.Location.String(),
	}

	e.beginChunk(w)
	started := time.Now()
	res, err := e.runner.RunChunk(ctx, job)
	if err != nil || res == nil || res.JobID != job.ID {
		e.endChunk()
		e.metrics.Chunk(metrics.ChunkFailed)
		fields := log.NewFields().WithError(err).WithOperation(log.OpBackfill).WithWindow(w.From.String(), w.To.String())
		e.logger.WarnContext(ctx, "Backfill chunk produced no result", append(fields.ToSlice(), log.FieldJobID, job.ID)...)
		return false, nil
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.merge(ctx, w, res); err != nil {
		e.endChunk()
		e.flagRebuild(ctx)
		e.metrics.Chunk(metrics.ChunkFailed)
		return false, fmt.Errorf("merge backfill chunk: %w", err)
	}

	var after Meta
	err = e.updateMeta(ctx, func(m *Meta) bool {
		m.IndexedFrom = w.From
		m.LastIndexed = w.From
		m.BackfillComplete = m.IndexedFrom <= m.OldestData
		after = *m
		return true
	})
	if err != nil {
		e.endChunk()
		return false, err
	}

	if dirty := e.endChunk(); len(dirty) > 0 {
		if err := e.reconcile(ctx, dirty); err != nil {
			e.flagRebuild(ctx)
			return true, fmt.Errorf("reconcile backfill chunk: %w", err)
		}
	}

	e.stats.Purge()
	e.metrics.Chunk(metrics.ChunkMerged)
	e.metrics.SetRemainingDays(remainingDays(after))
	e.logger.InfoContext(ctx, "Backfill chunk merged",
		log.FieldJobID, job.ID,
		log.FieldWindowFrom, w.From,
		log.FieldWindowTo, w.To,
		log.FieldScanned, res.Scanned,
		log.FieldDuration, time.Since(started).Milliseconds(),
		"backfill_complete", after.BackfillComplete)
	return true, nil
}

// chunkWindow ends the day before indexedFrom and spans up to days days,
// never reaching earlier than oldest.
func chunkWindow(indexedFrom, oldest core.DateKey, days int) Window {
	end := indexedFrom.AddDays(-1)
	start := end.AddDays(-(days - 1))
	if start < oldest {
		start = oldest
	}
	return Window{From: start, To: end}
}

func (e *Engine) beginChunk(w Window) {
	e.mu.Lock()
	e.inflight = &w
	e.dirty = nil
	e.mu.Unlock()
}

// endChunk clears the in-flight window and returns the days written into it
// while the job ran, in ascending order.
func (e *Engine) endChunk() []core.DateKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	days := make([]core.DateKey, 0, len(e.dirty))
	for d := range e.dirty {
		days = append(days, d)
	}
	e.inflight = nil
	e.dirty = nil
	slices.Sort(days)
	return days
}

// merge adds the chunk's buckets and summaries to the index. Entries outside
// w are ignored. The caller holds writeMu.
func (e *Engine) merge(ctx context.Context, w Window, res *ChunkResult) error {
	buckets := make(map[string][]string, len(res.DateIndex))
	for day, ids := range res.DateIndex {
		if !w.Contains(day) || len(ids) == 0 {
			continue
		}
		existing, _, err := e.stores.DateIndex.Get(ctx, string(day))
		if err != nil {
			return fmt.Errorf("get date bucket: %w", err)
		}
		merged := slices.Clone(existing)
		for _, id := range ids {
			if !slices.Contains(merged, id) {
				merged = append(merged, id)
			}
		}
		buckets[string(day)] = merged
	}

	sums := make(map[string]Summary, len(res.Summaries))
	for key, delta := range res.Summaries {
		day, _, err := ParseSummaryKey(key)
		if err != nil || !w.Contains(day) {
			continue
		}
		s, _, err := e.stores.Summaries.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("get daily summary: %w", err)
		}
		delta.clamp()
		s.add(delta)
		if !s.Empty() {
			sums[key] = s
		}
	}

	if err := e.stores.DateIndex.PutAll(ctx, buckets); err != nil {
		return fmt.Errorf("write date index: %w", err)
	}
	if err := e.stores.Summaries.PutAll(ctx, sums); err != nil {
		return fmt.Errorf("write daily summaries: %w", err)
	}
	return nil
}

// reconcile rebuilds the bucket and summaries of each day from the record
// store. The caller holds writeMu.
func (e *Engine) reconcile(ctx context.Context, days []core.DateKey) error {
	for _, day := range days {
		w := Window{From: day, To: day}
		res, err := AggregateChunk(ctx, w, e.opts.Location, SourceFor(e.stores.Records, w), e.opts.YieldEvery)
		if err != nil {
			return err
		}

		var stale []string
		from, to := summaryPrefixRange(day)
		err = e.stores.Summaries.Range(ctx, from, to, func(key string, _ Summary) error {
			stale = append(stale, key)
			return nil
		})
		if err != nil {
			return fmt.Errorf("list daily summaries: %w", err)
		}
		for _, key := range stale {
			if err := e.stores.Summaries.Delete(ctx, key); err != nil {
				return fmt.Errorf("delete daily summary: %w", err)
			}
		}
		if err := e.stores.DateIndex.Delete(ctx, string(day)); err != nil {
			return fmt.Errorf("delete date bucket: %w", err)
		}

		if ids := res.DateIndex[day]; len(ids) > 0 {
			if err := e.stores.DateIndex.Put(ctx, string(day), ids); err != nil {
				return fmt.Errorf("write date bucket: %w", err)
			}
		}
		if err := e.stores.Summaries.PutAll(ctx, res.Summaries); err != nil {
			return fmt.Errorf("write daily summaries: %w", err)
		}
		e.logger.DebugContext(ctx, "Reconciled day written during backfill", log.FieldOperation, log.OpReconcile, "day", day)
	}
	return nil
}
