// Package cli provides the initialization steps shared by cmd/ledgerindexd
// and cmd/chunk-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"ledgerindex/internal/config"
	"ledgerindex/internal/index"
	"ledgerindex/internal/kv"
	"ledgerindex/internal/log"
	"ledgerindex/internal/metrics"
	"ledgerindex/internal/storage"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from cfg and installs it as the
// slog default.
func SetupLogger(cfg *config.Config) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: log.ComponentApp,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration and validates it.
// Exits the process on validation failure.
func LoadAndValidateConfig() *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Default(log.ComponentApp).Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// OpenStorage opens the SQLite database, running migrations.
// Exits the process on failure.
func OpenStorage(logger *log.Logger, dbPath string) *storage.DB {
	db, err := storage.Open(dbPath)
	if err != nil {
		logger.Error("Failed to open SQLite database", log.FieldError, err, "path", dbPath)
		os.Exit(1)
	}
	return db
}

// Stores binds the engine's ports to the SQLite namespaces of db.
func Stores(db *storage.DB, loc *time.Location) index.Stores {
	return index.Stores{
		Records:   db.Records(loc),
		DateIndex: storage.NewBox[[]string](db, storage.NamespaceDateIndex, kv.JSONCodec[[]string]{}),
		Summaries: storage.NewBox[index.Summary](db, storage.NamespaceDailySummary, index.SummaryCodec{}),
		Meta:      storage.NewBox[string](db, storage.NamespaceIndexMeta, kv.StringCodec{}),
	}
}

// BuildEngine wires an index engine over db with metrics registered on reg.
func BuildEngine(cfg *config.Config, db *storage.DB, runner index.ChunkRunner, reg prometheus.Registerer) (*index.Engine, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return index.NewEngine(Stores(db, loc), index.Options{
		Location:            loc,
		BootstrapWindowDays: cfg.BootstrapWindowDays,
		BackfillChunkDays:   cfg.BackfillChunkDays,
		YieldEvery:          cfg.YieldEvery,
		StorePath:           db.Path(),
		Runner:              runner,
		Metrics:             metrics.NewIndex(reg),
		Logger:              log.Default(log.ComponentIndex),
		StatsCacheTTL:       cfg.StatsCacheTTL,
	})
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String(), log.FieldOperation, log.OpShutdown)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
