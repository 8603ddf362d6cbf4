package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/HashDrop/internal/app"
	"github.com/dharsanguruparan/HashDrop/internal/config"
	"github.com/dharsanguruparan/HashDrop/internal/worker"
)

// errSharedStateRequired is returned when the worker could not see what the
// API writes: both must share the catalog and the queue.
var errSharedStateRequired = errors.New("worker needs HASHDROP_REDIS_ADDR and HASHDROP_DATABASE_URL")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := config.SetupLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("export worker failed", "err", err)
		os.Exit(1)
	}
}

// run processes export tasks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.RedisAddr == "" || cfg.DatabaseURL == "" {
		return errSharedStateRequired
	}

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init components: %w", err)
	}
	defer a.Close()

	srv := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.ExportWorkers,
	})
	processor := worker.NewProcessor(a.Packager, a.Exports, logger)

	if err := srv.Start(processor.Handler()); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	logger.Info("export worker running", "concurrency", cfg.ExportWorkers)
	<-ctx.Done()
	srv.Shutdown()
	logger.Info("export worker stopped")
	return nil
}
