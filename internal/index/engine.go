// Package index maintains a date-keyed secondary index and per-day currency
// summaries over a transaction record store, with lazy bootstrap, resumable
// backfill and integrity verification that falls back to full scans.
package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"ledgerindex/internal/cache"
	"ledgerindex/internal/core"
	"ledgerindex/internal/kv"
	"ledgerindex/internal/log"
	"ledgerindex/internal/metrics"
)

// Stores are the ports the engine reads and writes.
type Stores struct {
	Records   kv.RecordStore
	DateIndex kv.Box[[]string]
	Summaries kv.Box[Summary]
	Meta      kv.Box[string]
}

// Options tune the engine. Zero values fall back to DefaultOptions.
type Options struct {
	Location            *time.Location
	BootstrapWindowDays int
	BackfillChunkDays   int
	YieldEvery          int
	// StorePath is forwarded to chunk jobs so out-of-process workers can
	// open their own handle on the record store.
	StorePath     string
	Runner        ChunkRunner
	Metrics       *metrics.Index
	Logger        *log.Logger
	StatsCacheTTL time.Duration
	Now           func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Location:            time.Local,
		BootstrapWindowDays: 30,
		BackfillChunkDays:   90,
		YieldEvery:          500,
		StatsCacheTTL:       30 * time.Second,
		Now:                 time.Now,
	}
}

// Engine owns the index. Bootstrap and backfill are serialized by bulkMu;
// every index mutation happens under writeMu; mu guards the cached metadata
// and flags. Lock order is bulkMu, writeMu, mu.
type Engine struct {
	stores  Stores
	opts    Options
	runner  ChunkRunner
	logger  *log.Logger
	metrics *metrics.Index
	stats   *cache.LRUCache[Statistics]

	init  singleflight.Group
	ready atomic.Bool

	bulkMu  sync.Mutex
	writeMu sync.Mutex

	mu       sync.Mutex
	meta     Meta
	enabled  bool
	fallback bool
	inflight *Window
	dirty    map[core.DateKey]struct{}
}

func NewEngine(stores Stores, opts Options) (*Engine, error) {
	if stores.Records == nil || stores.DateIndex == nil || stores.Summaries == nil || stores.Meta == nil {
		return nil, errors.New("index engine requires all stores")
	}
	def := DefaultOptions()
	if opts.Location == nil {
		opts.Location = def.Location
	}
	if opts.BootstrapWindowDays <= 0 {
		opts.BootstrapWindowDays = def.BootstrapWindowDays
	}
	if opts.BackfillChunkDays <= 0 {
		opts.BackfillChunkDays = def.BackfillChunkDays
	}
	if opts.YieldEvery <= 0 {
		opts.YieldEvery = def.YieldEvery
	}
	if opts.StatsCacheTTL <= 0 {
		opts.StatsCacheTTL = def.StatsCacheTTL
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Default(log.ComponentIndex)
	}

	runner := opts.Runner
	if runner == nil {
		runner = InlineRunner{Store: stores.Records, Location: opts.Location, YieldEvery: opts.YieldEvery}
	}

	return &Engine{
		stores:  stores,
		opts:    opts,
		runner:  runner,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		stats:   cache.NewLRUCache[Statistics](32, opts.StatsCacheTTL),
	}, nil
}

// StatsCache exposes the statistics cache for periodic expiry.
func (e *Engine) StatsCache() cache.Cleaner {
	return e.stats
}

// Location is the timezone used to derive date keys.
func (e *Engine) Location() *time.Location {
	return e.opts.Location
}

func (e *Engine) today() core.DateKey {
	return core.KeyOf(e.opts.Now(), e.opts.Location)
}

func (e *Engine) keyOf(t time.Time) core.DateKey {
	return core.KeyOf(t, e.opts.Location)
}

// EnsureReady bootstraps and verifies the index once per engine. Concurrent
// callers wait for the same run; a failed run is retried by the next caller.
// The shared run ignores the first caller's cancellation.
func (e *Engine) EnsureReady(ctx context.Context) error {
	if e.ready.Load() {
		return nil
	}
	runCtx := context.WithoutCancel(ctx)
	_, err, _ := e.init.Do("ready", func() (any, error) {
		if e.ready.Load() {
			return nil, nil
		}
		if err := e.initialize(runCtx); err != nil {
			return nil, err
		}
		e.ready.Store(true)
		return nil, nil
	})
	return err
}

// prepare runs EnsureReady for public entry points. Failures leave the engine
// in scan mode, so callers still get correct answers.
func (e *Engine) prepare(ctx context.Context) {
	if err := e.EnsureReady(ctx); err != nil {
		e.logger.LogError(ctx, "Index initialization failed, scanning instead", err, log.OpStartup)
	}
}

func (e *Engine) initialize(ctx context.Context) error {
	e.bulkMu.Lock()
	defer e.bulkMu.Unlock()

	m, err := loadMeta(ctx, e.stores.Meta)
	if err != nil {
		return err
	}
	e.setMeta(m)

	rebuilt := false
	if m.needsBootstrap() {
		e.logger.InfoContext(ctx, "Rebuilding history index",
			"version", m.Version, "rebuild_needed", m.RebuildNeeded,
			log.FieldIndexedFrom, m.IndexedFrom, log.FieldOldestData, m.OldestData)
		if err := e.bootstrap(ctx); err != nil {
			return err
		}
		rebuilt = true
	}

	report, err := e.verify(ctx)
	if err != nil {
		return err
	}
	if !report.ok() && !rebuilt {
		e.logger.WarnContext(ctx, "History index failed verification, rebuilding", report.attrs()...)
		if err := e.bootstrap(ctx); err != nil {
			return err
		}
		if report, err = e.verify(ctx); err != nil {
			return err
		}
	}

	if !report.ok() {
		e.logger.ErrorContext(ctx, "History index still inconsistent after rebuild, using scan fallback", report.attrs()...)
		e.mu.Lock()
		e.enabled = false
		e.fallback = true
		e.meta.RebuildNeeded = true
		m := e.meta
		e.mu.Unlock()
		e.metrics.SetScanFallback(true)
		return saveMeta(ctx, e.stores.Meta, m)
	}

	e.mu.Lock()
	e.enabled = true
	e.fallback = false
	m = e.meta
	e.mu.Unlock()
	e.metrics.SetScanFallback(false)
	e.metrics.SetRemainingDays(remainingDays(m))

	e.logger.InfoContext(ctx, "History index ready",
		log.FieldIndexedFrom, m.IndexedFrom, log.FieldOldestData, m.OldestData,
		"backfill_complete", m.BackfillComplete)
	return nil
}

// view is a consistent snapshot of the routing state.
type view struct {
	meta    Meta
	enabled bool
}

func (e *Engine) snapshot() view {
	e.mu.Lock()
	defer e.mu.Unlock()
	return view{meta: e.meta, enabled: e.enabled}
}

func (e *Engine) setMeta(m Meta) {
	e.mu.Lock()
	e.meta = m
	e.mu.Unlock()
}

// updateMeta applies fn to the cached metadata and persists the result when
// fn reports a change.
func (e *Engine) updateMeta(ctx context.Context, fn func(*Meta) bool) error {
	e.mu.Lock()
	m := e.meta
	if !fn(&m) {
		e.mu.Unlock()
		return nil
	}
	e.meta = m
	e.mu.Unlock()
	return saveMeta(ctx, e.stores.Meta, m)
}

// flagRebuild persists rebuild-needed so the next start bootstraps.
func (e *Engine) flagRebuild(ctx context.Context) {
	err := e.updateMeta(ctx, func(m *Meta) bool {
		if m.RebuildNeeded {
			return false
		}
		m.RebuildNeeded = true
		return true
	})
	if err != nil {
		e.logger.LogError(ctx, "Failed to flag index for rebuild", err, log.OpWrite)
	}
}

// SetPaused pauses or resumes backfill.
func (e *Engine) SetPaused(ctx context.Context, paused bool) error {
	e.prepare(ctx)
	return e.updateMeta(ctx, func(m *Meta) bool {
		if m.Paused == paused {
			return false
		}
		m.Paused = paused
		return true
	})
}

// ClearAll wipes the record store and every index namespace, leaving an empty
// index that fully covers today.
func (e *Engine) ClearAll(ctx context.Context) error {
	e.prepare(ctx)

	e.bulkMu.Lock()
	defer e.bulkMu.Unlock()
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.stores.Records.Clear(ctx); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	if err := e.clearIndex(ctx); err != nil {
		return err
	}
	m := freshMeta(e.today())
	if err := saveMeta(ctx, e.stores.Meta, m); err != nil {
		return err
	}

	e.mu.Lock()
	e.meta = m
	e.enabled = true
	e.fallback = false
	e.dirty = nil
	e.mu.Unlock()
	e.ready.Store(true)
	e.stats.Purge()
	e.metrics.SetScanFallback(false)
	e.metrics.SetRemainingDays(0)

	e.logger.InfoContext(ctx, "Cleared all transactions and history index", log.FieldOperation, log.OpClear)
	return nil
}

func (e *Engine) clearIndex(ctx context.Context) error {
	if err := e.stores.DateIndex.Clear(ctx); err != nil {
		return fmt.Errorf("clear date index: %w", err)
	}
	if err := e.stores.Summaries.Clear(ctx); err != nil {
		return fmt.Errorf("clear daily summaries: %w", err)
	}
	return nil
}
