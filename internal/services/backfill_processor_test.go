package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubBackfiller struct {
	mu        sync.Mutex
	remaining int
	calls     int
	days      []int
	err       error
}

func (s *stubBackfiller) BackfillNextChunk(_ context.Context, chunkDays int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.days = append(s.days, chunkDays)
	if s.err != nil {
		return false, s.err
	}
	if s.remaining == 0 {
		return false, nil
	}
	s.remaining--
	return true, nil
}

func (s *stubBackfiller) snapshot() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining, s.calls
}

func TestDefaultBackfillProcessorConfig(t *testing.T) {
	cfg := DefaultBackfillProcessorConfig()
	if cfg.Interval != time.Minute || cfg.ChunkDays != 90 || cfg.MaxChunksPerTick != 0 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestRunPass(t *testing.T) {
	tests := []struct {
		name       string
		remaining  int
		max        int
		err        error
		wantChunks int
		wantCalls  int
	}{
		{"drains until done", 3, 0, nil, 3, 4},
		{"bounded per tick", 5, 2, nil, 2, 2},
		{"nothing to do", 0, 0, nil, 0, 1},
		{"stops on error", 3, 0, errors.New("boom"), 0, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubBackfiller{remaining: tc.remaining, err: tc.err}
			p := NewBackfillProcessor(stub, BackfillProcessorConfig{ChunkDays: 7, MaxChunksPerTick: tc.max})
			p.stopCh = make(chan struct{})

			if got := p.runPass(context.Background()); got != tc.wantChunks {
				t.Fatalf("chunks = %d, want %d", got, tc.wantChunks)
			}
			if _, calls := stub.snapshot(); calls != tc.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tc.wantCalls)
			}
			for _, d := range stub.days {
				if d != 7 {
					t.Fatalf("chunk days = %d, want 7", d)
				}
			}
		})
	}
}

func TestBackfillProcessorLifecycle(t *testing.T) {
	stub := &stubBackfiller{remaining: 2}
	p := NewBackfillProcessor(stub, BackfillProcessorConfig{Interval: time.Hour, ChunkDays: 30})
	ctx := context.Background()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Fatal("second start should fail")
	}
	if !p.IsRunning() {
		t.Fatal("processor should be running")
	}

	// The first pass runs immediately on start.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if remaining, _ := stub.snapshot(); remaining == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initial pass did not drain the backlog")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, before := stub.snapshot()
	p.Trigger()
	deadline = time.Now().Add(2 * time.Second)
	for {
		if _, calls := stub.snapshot(); calls > before {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("trigger did not run a pass")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if p.IsRunning() {
		t.Fatal("processor should be stopped")
	}
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
