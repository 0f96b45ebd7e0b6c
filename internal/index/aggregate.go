package index

import (
	"context"
	"errors"
	"runtime"
	"time"

	"ledgerindex/internal/core"
	"ledgerindex/internal/kv"
)

// ErrJobFailed is returned by runners when a worker reports a failed chunk.
var ErrJobFailed = errors.New("chunk job failed")

type (
	// Window is an inclusive range of days. An empty bound is open.
	Window struct {
		From core.DateKey `json:"from"`
		To   core.DateKey `json:"to"`
	}

	// ChunkJob describes one unit of backfill aggregation. It carries
	// everything a worker needs to open its own handle on the record store.
	ChunkJob struct {
		ID        string       `json:"id"`
		From      core.DateKey `json:"from"`
		To        core.DateKey `json:"to"`
		StorePath string       `json:"store_path,omitempty"`
		Timezone  string       `json:"timezone,omitempty"`
	}

	// ChunkResult holds the derived maps for exactly the job's window.
	ChunkResult struct {
		JobID     string                    `json:"job_id"`
		DateIndex map[core.DateKey][]string `json:"date_index"`
		Summaries map[string]Summary        `json:"summaries"`
		Scanned   int                       `json:"scanned"`
	}

	// ChunkRunner executes a chunk job inline, on another goroutine or in
	// another process. A nil result means nothing was done.
	ChunkRunner interface {
		RunChunk(ctx context.Context, job ChunkJob) (*ChunkResult, error)
	}

	// Source feeds records to an aggregation.
	Source func(ctx context.Context, fn func(core.Transaction) error) error
)

func (w Window) Contains(day core.DateKey) bool {
	return (w.From.IsZero() || day >= w.From) && (w.To.IsZero() || day <= w.To)
}

func (j ChunkJob) Window() Window {
	return Window{From: j.From, To: j.To}
}

// Location resolves the job's timezone, falling back to fallback.
func (j ChunkJob) Location(fallback *time.Location) (*time.Location, error) {
	if j.Timezone == "" {
		return fallback, nil
	}
	return time.LoadLocation(j.Timezone)
}

// SourceFor scans store, pre-filtered to w when the store supports it.
func SourceFor(store kv.RecordStore, w Window) Source {
	if rs, ok := store.(kv.RangeScanner); ok {
		return func(ctx context.Context, fn func(core.Transaction) error) error {
			return rs.ForEachInRange(ctx, w.From, w.To, fn)
		}
	}
	return store.ForEach
}

// AggregateChunk builds the date index and summaries for records in w. It has
// no side effects beyond reading src.
func AggregateChunk(ctx context.Context, w Window, loc *time.Location, src Source, yieldEvery int) (*ChunkResult, error) {
	acc := newAccumulator(loc, w, true)
	if err := acc.consume(ctx, src, yieldEvery); err != nil {
		return nil, err
	}
	return acc.result(), nil
}

// accumulator is the single aggregation routine behind bootstrap, chunk jobs
// and scan-based statistics.
type accumulator struct {
	loc       *time.Location
	window    Window
	withIDs   bool
	dates     map[core.DateKey][]string
	summaries map[string]Summary
	oldest    core.DateKey
	scanned   int
}

func newAccumulator(loc *time.Location, w Window, withIDs bool) *accumulator {
	return &accumulator{
		loc:       loc,
		window:    w,
		withIDs:   withIDs,
		dates:     make(map[core.DateKey][]string),
		summaries: make(map[string]Summary),
	}
}

func (a *accumulator) consume(ctx context.Context, src Source, yieldEvery int) error {
	y := yielder{every: yieldEvery}
	return src(ctx, func(tx core.Transaction) error {
		a.add(tx)
		return y.tick(ctx)
	})
}

func (a *accumulator) add(tx core.Transaction) {
	a.scanned++
	day := core.KeyOf(tx.Date, a.loc)
	if a.oldest.IsZero() || day < a.oldest {
		a.oldest = day
	}
	if !a.window.Contains(day) {
		return
	}
	if a.withIDs {
		a.dates[day] = append(a.dates[day], tx.ID)
	}
	key := SummaryKey(day, tx.Currency)
	s := a.summaries[key]
	s.apply(tx, 1)
	a.summaries[key] = s
}

func (a *accumulator) result() *ChunkResult {
	return &ChunkResult{DateIndex: a.dates, Summaries: a.summaries, Scanned: a.scanned}
}

// dateIndexEntries converts the day buckets to box entries.
func (a *accumulator) dateIndexEntries() map[string][]string {
	out := make(map[string][]string, len(a.dates))
	for day, ids := range a.dates {
		out[string(day)] = ids
	}
	return out
}

// InlineRunner aggregates on the caller's goroutine against the owner's store.
type InlineRunner struct {
	Store      kv.RecordStore
	Location   *time.Location
	YieldEvery int
}

func (r InlineRunner) RunChunk(ctx context.Context, job ChunkJob) (*ChunkResult, error) {
	loc, err := job.Location(r.Location)
	if err != nil {
		return nil, err
	}
	res, err := AggregateChunk(ctx, job.Window(), loc, SourceFor(r.Store, job.Window()), r.YieldEvery)
	if err != nil {
		return nil, err
	}
	res.JobID = job.ID
	return res, nil
}

// yielder hands the processor back to the scheduler every few records during
// long scans and stops early once ctx is done.
type yielder struct {
	every int
	n     int
}

func (y *yielder) tick(ctx context.Context) error {
	y.n++
	if y.every > 0 && y.n%y.every == 0 {
		runtime.Gosched()
		return ctx.Err()
	}
	return nil
}
