package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"ledgerindex/internal/amqp"
	"ledgerindex/internal/cache"
	"ledgerindex/internal/cli"
	"ledgerindex/internal/config"
	apphttp "ledgerindex/internal/http"
	"ledgerindex/internal/index"
	"ledgerindex/internal/log"
	"ledgerindex/internal/middleware/ratelimit"
	"ledgerindex/internal/services"
	"ledgerindex/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg)

	logger.Info("Starting ledgerindexd", "runner", cfg.Runner, "db", cfg.SQLiteDBPath)

	db := cli.OpenStorage(logger, cfg.SQLiteDBPath)
	defer db.Close()

	runner, closeRunner, err := buildRunner(cfg)
	if err != nil {
		logger.Error("Failed to initialize chunk runner", log.FieldError, err)
		os.Exit(1)
	}
	defer closeRunner()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := cli.BuildEngine(cfg, db, runner, reg)
	if err != nil {
		logger.Error("Failed to build index engine", log.FieldError, err)
		os.Exit(1)
	}

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	if err := engine.EnsureReady(ctx); err != nil {
		logger.LogError(ctx, "History index unavailable, serving from scans", err, log.OpStartup)
	}

	caches := cache.NewManager()
	caches.Register(engine.StatsCache())

	processor := services.NewBackfillProcessor(engine, services.BackfillProcessorConfig{
		Interval:  cfg.BackfillInterval,
		ChunkDays: cfg.BackfillChunkDays,
	})

	var limiter *ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute})
	}

	srv := apphttp.NewServer(":"+cfg.StatusPort, engine, apphttp.Options{
		Gatherer:  reg,
		Backfill:  processor,
		ChunkDays: cfg.BackfillChunkDays,
		Logger:    log.Default(log.ComponentHTTP),
		Limiter:   limiter,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Status server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := processor.Start(gctx); err != nil {
			return err
		}
		caches.StartCleanup(time.Minute)
		<-gctx.Done()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()

		caches.Stop()
		if limiter != nil {
			limiter.Stop()
		}
		if err := processor.Stop(shutdownCtx); err != nil {
			logger.Warn("Backfill processor did not stop cleanly", log.FieldError, err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.LogError(context.Background(), "ledgerindexd stopped with error", err, log.OpShutdown)
		os.Exit(1)
	}
	logger.Info("ledgerindexd stopped")
}

// buildRunner picks where chunk aggregation runs. A nil runner makes the
// engine aggregate inline.
func buildRunner(cfg *config.Config) (index.ChunkRunner, func(), error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Runner {
	case config.RunnerLocal:
		return worker.LocalRunner{Open: worker.OpenSQLite, Location: loc, YieldEvery: cfg.YieldEvery}, func() {}, nil
	case config.RunnerAMQP:
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return nil, nil, err
		}
		return worker.AMQPRunner{Client: client, Timeout: cfg.JobTimeout}, func() { _ = client.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}
