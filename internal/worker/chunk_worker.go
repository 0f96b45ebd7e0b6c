package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"ledgerindex/internal/amqp"
	"ledgerindex/internal/index"
	"ledgerindex/internal/kv"
	"ledgerindex/internal/log"
	"ledgerindex/internal/storage"
)

// OpenFunc opens a private read handle on the record store at path.
type OpenFunc func(path string, loc *time.Location) (kv.RecordStore, io.Closer, error)

// OpenSQLite opens the SQLite record store read-only.
func OpenSQLite(path string, loc *time.Location) (kv.RecordStore, io.Closer, error) {
	db, err := storage.OpenReadOnly(path)
	if err != nil {
		return nil, nil, err
	}
	return db.Records(loc), db, nil
}

// runJob aggregates job against its own store handle. It is shared by the
// in-process runner and the AMQP worker.
func runJob(ctx context.Context, open OpenFunc, job index.ChunkJob, fallback *time.Location, yieldEvery int) (*index.ChunkResult, error) {
	if job.StorePath == "" {
		return nil, errors.New("chunk job has no store path")
	}
	if fallback == nil {
		fallback = time.Local
	}
	loc, err := job.Location(fallback)
	if err != nil {
		return nil, fmt.Errorf("load job timezone: %w", err)
	}

	store, closer, err := open(job.StorePath, loc)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	defer closer.Close()

	w := job.Window()
	res, err := index.AggregateChunk(ctx, w, loc, index.SourceFor(store, w), yieldEvery)
	if err != nil {
		return nil, fmt.Errorf("aggregate chunk: %w", err)
	}
	res.JobID = job.ID
	return res, nil
}

// ChunkWorker serves chunk jobs received over AMQP.
type ChunkWorker struct {
	open       OpenFunc
	yieldEvery int
	timeout    time.Duration
	logger     *log.Logger
}

func NewChunkWorker(open OpenFunc, yieldEvery int, timeout time.Duration) *ChunkWorker {
	if open == nil {
		open = OpenSQLite
	}
	return &ChunkWorker{
		open:       open,
		yieldEvery: yieldEvery,
		timeout:    timeout,
		logger:     log.Default(log.ComponentWorker),
	}
}

// HandleChunkJob aggregates one job from the queue.
func (w *ChunkWorker) HandleChunkJob(ctx context.Context, msg *amqp.ChunkJobMessage) (*index.ChunkResult, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	start := time.Now()
	job := msg.Job
	w.logger.InfoContext(ctx, "Processing chunk job",
		log.FieldJobID, job.ID, log.FieldWindowFrom, job.From, log.FieldWindowTo, job.To)

	res, err := runJob(ctx, w.open, job, nil, w.yieldEvery)
	if err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "Chunk job aggregated",
		log.FieldJobID, job.ID,
		log.FieldScanned, res.Scanned,
		"days", len(res.DateIndex),
		log.FieldDuration, time.Since(start).Milliseconds())
	return res, nil
}
