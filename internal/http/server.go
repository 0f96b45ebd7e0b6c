// Package http serves the index daemon's status, control and query API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ledgerindex/internal/core"
	"ledgerindex/internal/index"
	"ledgerindex/internal/log"
	"ledgerindex/internal/middleware/ratelimit"
)

// Index is the engine surface the handlers use.
type Index interface {
	EnsureReady(ctx context.Context) error
	HistoryOptimizationStatus(ctx context.Context) index.HistoryStatus
	BackfillNextChunk(ctx context.Context, chunkDays int) (bool, error)
	SetPaused(ctx context.Context, paused bool) error
	ClearAll(ctx context.Context) error
	TransactionsForDate(ctx context.Context, t time.Time) ([]core.Transaction, error)
	TransactionsInRange(ctx context.Context, start, end time.Time) ([]core.Transaction, error)
	TransactionsUpTo(ctx context.Context, t time.Time) ([]core.Transaction, error)
	Statistics(ctx context.Context, defaultCurrency string) (index.Statistics, error)
	Save(ctx context.Context, tx core.Transaction) error
	Remove(ctx context.Context, id string) error
	Location() *time.Location
}

// Kicker wakes the background backfill loop.
type Kicker interface {
	Trigger()
}

type Options struct {
	Gatherer  prometheus.Gatherer
	Backfill  Kicker
	ChunkDays int
	Logger    *log.Logger
	// Limiter throttles the query, mutation and control routes. Nil
	// disables limiting.
	Limiter *ratelimit.Limiter
}

type Server struct {
	http.Server
	engine    Index
	backfill  Kicker
	chunkDays int
	logger    *log.Logger

	shutdownOnce sync.Once
}

func NewServer(addr string, engine Index, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default(log.ComponentHTTP)
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           log.Middleware(logger)(withHeaders(mux)),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		engine:    engine,
		backfill:  opts.Backfill,
		chunkDays: opts.ChunkDays,
		logger:    logger,
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	limited := func(h http.HandlerFunc) http.Handler { return h }
	if opts.Limiter != nil {
		throttle := opts.Limiter.Middleware(ratelimit.ClientIP, func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
		})
		limited = func(h http.HandlerFunc) http.Handler { return throttle(h) }
	}

	mux.Handle("POST /backfill", limited(s.handleBackfill))
	mux.Handle("POST /backfill/pause", limited(s.handlePause(true)))
	mux.Handle("POST /backfill/resume", limited(s.handlePause(false)))
	mux.Handle("POST /index/clear", limited(s.handleClear))

	mux.Handle("GET /transactions", limited(s.handleListTransactions))
	mux.Handle("POST /transactions", limited(s.handleSaveTransaction))
	mux.Handle("PUT /transactions/{id}", limited(s.handleSaveTransaction))
	mux.Handle("DELETE /transactions/{id}", limited(s.handleDeleteTransaction))
	mux.Handle("GET /statistics", limited(s.handleStatistics))

	return s
}

// Shutdown gracefully shuts down the server once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
