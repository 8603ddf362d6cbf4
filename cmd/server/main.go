// Package main is the entry point for the HashDrop API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/HashDrop/internal/api"
	"github.com/dharsanguruparan/HashDrop/internal/app"
	"github.com/dharsanguruparan/HashDrop/internal/auth"
	"github.com/dharsanguruparan/HashDrop/internal/config"
	"github.com/dharsanguruparan/HashDrop/internal/processing"
	"github.com/dharsanguruparan/HashDrop/internal/queue"
	"github.com/dharsanguruparan/HashDrop/internal/server"
	"github.com/dharsanguruparan/HashDrop/internal/worker"
)

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
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// run serves the API until ctx is cancelled. Every resource it opens is
// released before it returns.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init components: %w", err)
	}
	defer a.Close()

	// Exports go to Redis when it is configured; otherwise they run here.
	var (
		enqueuer   queue.Enqueuer
		background server.Background
	)
	if cfg.RedisAddr != "" {
		client := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		enqueuer = queue.NewAsynqEnqueuer(client)
		logger.Info("export queue", "backend", "asynq", "redis", cfg.RedisAddr)
	} else {
		proc := worker.NewProcessor(a.Packager, a.Exports, logger)
		pool := processing.New(proc.Run, cfg.ExportWorkers, logger)
		enqueuer = pool
		background = pool
		logger.Info("export queue", "backend", "in-process", "workers", cfg.ExportWorkers)
	}

	handler := api.New(api.Deps{
		Files:    a.Files,
		Packager: a.Packager,
		Exports:  a.Exports,
		Enqueuer: enqueuer,
		Resolver: auth.NewResolver(cfg.JWTSecret),
		URLTTL:   cfg.SignedURLTTL,
		Logger:   logger,
	}).Handler()

	return server.New(cfg.Address, handler, background, logger).Serve(ctx)
}
