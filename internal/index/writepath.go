package index

import (
	"context"
	"fmt"
	"slices"

	"ledgerindex/internal/core"
	"ledgerindex/internal/log"
)

// OnCreate indexes a transaction that was just added to the record store.
func (e *Engine) OnCreate(ctx context.Context, tx core.Transaction) error {
	e.prepare(ctx)
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.maintain(ctx, tx, 1)
}

// OnDelete unindexes a transaction that was just removed.
func (e *Engine) OnDelete(ctx context.Context, tx core.Transaction) error {
	e.prepare(ctx)
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.maintain(ctx, tx, -1)
}

// OnUpdate moves a transaction from its old state to its new one.
func (e *Engine) OnUpdate(ctx context.Context, old, updated core.Transaction) error {
	e.prepare(ctx)
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.maintain(ctx, old, -1); err != nil {
		return err
	}
	return e.maintain(ctx, updated, 1)
}

// Save writes tx to the record store and maintains the index.
func (e *Engine) Save(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	e.prepare(ctx)
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	old, existed, err := e.stores.Records.Get(ctx, tx.ID)
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	if err := e.stores.Records.Put(ctx, tx); err != nil {
		return fmt.Errorf("put transaction: %w", err)
	}
	if existed {
		if err := e.maintain(ctx, old, -1); err != nil {
			return err
		}
	}
	return e.maintain(ctx, tx, 1)
}

// Remove deletes the transaction with id and unindexes it. Removing a missing
// id is a no-op.
func (e *Engine) Remove(ctx context.Context, id string) error {
	e.prepare(ctx)
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	old, existed, err := e.stores.Records.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	if !existed {
		return nil
	}
	if err := e.stores.Records.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return e.maintain(ctx, old, -1)
}

// maintain applies one signed record delta. The caller holds writeMu.
func (e *Engine) maintain(ctx context.Context, tx core.Transaction, sign int64) error {
	defer e.stats.Purge()

	day := e.keyOf(tx.Date)
	m := e.snapshot().meta
	if m.IndexedFrom.IsZero() || day < m.IndexedFrom {
		return e.outsideCoverage(ctx, day, sign)
	}

	if err := e.maintainIndex(ctx, tx, day, sign); err != nil {
		e.logger.LogError(ctx, "Index maintenance failed", err, log.OpWrite, "id", tx.ID, "day", day)
		e.flagRebuild(ctx)
		return err
	}
	return nil
}

// outsideCoverage records that a write landed before indexed-from: creations
// extend oldest-data and reopen backfill; any write into an in-flight chunk
// window marks that day for reconciliation after the merge.
func (e *Engine) outsideCoverage(ctx context.Context, day core.DateKey, sign int64) error {
	e.mu.Lock()
	if e.inflight != nil && e.inflight.Contains(day) {
		if e.dirty == nil {
			e.dirty = make(map[core.DateKey]struct{})
		}
		e.dirty[day] = struct{}{}
	}
	e.mu.Unlock()

	if sign < 0 {
		return nil
	}
	return e.updateMeta(ctx, func(m *Meta) bool {
		if m.IndexedFrom.IsZero() {
			return false
		}
		changed := false
		if m.OldestData.IsZero() || day < m.OldestData {
			m.OldestData = day
			changed = true
		}
		if day < m.IndexedFrom && m.BackfillComplete {
			m.BackfillComplete = false
			changed = true
		}
		return changed
	})
}

// maintainIndex updates the day bucket and the day's currency summary. An id
// already in (or absent from) the bucket makes the call a no-op, so retries
// never count a record twice.
func (e *Engine) maintainIndex(ctx context.Context, tx core.Transaction, day core.DateKey, sign int64) error {
	ids, _, err := e.stores.DateIndex.Get(ctx, string(day))
	if err != nil {
		return fmt.Errorf("get date bucket: %w", err)
	}
	pos := slices.Index(ids, tx.ID)
	switch {
	case sign > 0 && pos >= 0, sign < 0 && pos < 0:
		return nil
	case sign > 0:
		ids = append(slices.Clone(ids), tx.ID)
	default:
		ids = slices.Delete(slices.Clone(ids), pos, pos+1)
	}

	if len(ids) == 0 {
		err = e.stores.DateIndex.Delete(ctx, string(day))
	} else {
		err = e.stores.DateIndex.Put(ctx, string(day), ids)
	}
	if err != nil {
		return fmt.Errorf("write date bucket: %w", err)
	}

	key := SummaryKey(day, tx.Currency)
	s, _, err := e.stores.Summaries.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get daily summary: %w", err)
	}
	s.apply(tx, sign)
	if s.Empty() {
		err = e.stores.Summaries.Delete(ctx, key)
	} else {
		err = e.stores.Summaries.Put(ctx, key, s)
	}
	if err != nil {
		return fmt.Errorf("write daily summary: %w", err)
	}
	return nil
}
