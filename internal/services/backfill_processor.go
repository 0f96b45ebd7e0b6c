package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ledgerindex/internal/log"
)

// Backfiller advances history coverage one chunk at a time.
type Backfiller interface {
	BackfillNextChunk(ctx context.Context, chunkDays int) (bool, error)
}

// BackfillProcessorConfig holds configuration for the backfill processor
type BackfillProcessorConfig struct {
	// Interval is how often to resume backfilling (default: 1m)
	Interval time.Duration

	// ChunkDays is the number of days covered per chunk (default: 90)
	ChunkDays int

	// MaxChunksPerTick bounds the work done per wake-up. Zero runs until
	// nothing is left or a chunk fails.
	MaxChunksPerTick int
}

// DefaultBackfillProcessorConfig returns sensible defaults
func DefaultBackfillProcessorConfig() BackfillProcessorConfig {
	return BackfillProcessorConfig{
		Interval:  time.Minute,
		ChunkDays: 90,
	}
}

// BackfillProcessor drives background backfill of older history.
type BackfillProcessor struct {
	engine Backfiller
	config BackfillProcessorConfig
	logger *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	kick    chan struct{}
}

func NewBackfillProcessor(engine Backfiller, config BackfillProcessorConfig) *BackfillProcessor {
	if config.Interval <= 0 {
		config.Interval = DefaultBackfillProcessorConfig().Interval
	}
	return &BackfillProcessor{
		engine: engine,
		config: config,
		logger: log.Default(log.ComponentWorker).WithComponent("backfill"),
		kick:   make(chan struct{}, 1),
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *BackfillProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("backfill processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Backfill processor started",
		"interval", p.config.Interval,
		"chunk_days", p.config.ChunkDays)
	return nil
}

// Stop gracefully stops the processor and waits for the current chunk.
func (p *BackfillProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		p.logger.InfoContext(ctx, "Backfill processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Backfill processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *BackfillProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Trigger asks the loop to run a pass now instead of waiting for the ticker.
func (p *BackfillProcessor) Trigger() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *BackfillProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.runPass(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runPass(ctx)
		case <-p.kick:
			p.runPass(ctx)
		}
	}
}

// runPass backfills chunks until there is nothing left, a chunk does no
// work, or the per-tick bound is reached.
func (p *BackfillProcessor) runPass(ctx context.Context) int {
	chunks := 0
	for p.config.MaxChunksPerTick <= 0 || chunks < p.config.MaxChunksPerTick {
		select {
		case <-p.stopCh:
			return chunks
		default:
		}
		if ctx.Err() != nil {
			return chunks
		}

		more, err := p.engine.BackfillNextChunk(ctx, p.config.ChunkDays)
		if err != nil {
			p.logger.LogError(ctx, "Backfill chunk failed", err, log.OpBackfill)
			return chunks
		}
		if !more {
			break
		}
		chunks++
	}
	if chunks > 0 {
		p.logger.DebugContext(ctx, "Backfill pass finished", "chunks", chunks)
	}
	return chunks
}
