package main

import (
	"context"
	"errors"
	"os"

	"ledgerindex/internal/amqp"
	"ledgerindex/internal/cli"
	"ledgerindex/internal/log"
	"ledgerindex/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for chunk-worker")
		os.Exit(1)
	}

	logger.Info("Starting chunk-worker", "queue", cfg.AMQPQueue)

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	w := worker.NewChunkWorker(worker.OpenSQLite, cfg.YieldEvery, cfg.JobTimeout)
	if err := client.ConsumeChunkJobs(ctx, w.HandleChunkJob); err != nil && !errors.Is(err, context.Canceled) {
		logger.LogError(ctx, "Chunk consumption failed", err, log.OpBackfill)
		os.Exit(1)
	}
	logger.Info("chunk-worker stopped")
}
