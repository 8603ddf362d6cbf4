// Package app assembles the storage, catalog, settings and export
// components from a Config. The server, the worker and the CLI share it so
// they always agree on where bytes and records live.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/HashDrop/internal/blobstore"
	"github.com/dharsanguruparan/HashDrop/internal/catalog"
	"github.com/dharsanguruparan/HashDrop/internal/config"
	"github.com/dharsanguruparan/HashDrop/internal/database"
	"github.com/dharsanguruparan/HashDrop/internal/export"
	"github.com/dharsanguruparan/HashDrop/internal/files"
	"github.com/dharsanguruparan/HashDrop/internal/s3storage"
	"github.com/dharsanguruparan/HashDrop/internal/settings"
	"github.com/dharsanguruparan/HashDrop/internal/signing"
)

// App holds the wired components. DB is nil in memory mode.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	DB       *pgxpool.Pool
	Settings settings.Store
	Catalog  catalog.Catalog
	Blobs    *blobstore.Store
	Files    *files.Service
	Packager *export.Packager
	Exports  export.Sink
	Signer   *signing.Signer
}

// Open connects to the configured backends. With a database URL it applies
// migrations before returning. Callers must Close the App.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for key, value := range cfg.SettingOverrides {
		if err := settings.Validate(key, value); err != nil {
			return nil, fmt.Errorf("setting override %s: %w", key, err)
		}
	}
	a := &App{
		Config: cfg,
		Logger: logger,
		Signer: signing.NewSigner(cfg.SigningSecret),
	}

	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.DB = pool
		if err := database.Migrate(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		a.Settings = settings.NewPostgresStore(pool, cfg.SettingOverrides)
		a.Catalog = catalog.NewPostgresCatalog(pool)
	} else {
		logger.Warn("no database configured, records live in memory only")
		a.Settings = settings.NewMemoryStore(cfg.SettingOverrides)
		a.Catalog = catalog.NewMemoryCatalog()
	}

	backend, sink, err := a.openStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	blobs, err := blobstore.New(backend, blobstore.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init content store: %w", err)
	}
	a.Blobs = blobs
	a.Exports = sink
	a.Files = files.NewService(a.Settings, a.Catalog, blobs, logger)
	a.Packager = export.NewPackager(a.Catalog, blobs, a.Settings, logger)

	logger.Info("components ready",
		"blob_backend", cfg.BlobBackend,
		"catalog", catalogKind(a.DB),
	)
	return a, nil
}

func (a *App) openStorage(ctx context.Context) (blobstore.Backend, export.Sink, error) {
	cfg := a.Config
	switch cfg.BlobBackend {
	case config.BlobS3:
		store, err := s3storage.New(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureBuckets(ctx); err != nil {
			return nil, nil, err
		}
		return store, store.Exports(), nil
	case config.BlobMemory:
		sink, err := export.NewDirSink(cfg.ExportDir(), cfg.BaseURL, a.Signer)
		if err != nil {
			return nil, nil, err
		}
		return blobstore.NewMemoryBackend(), sink, nil
	default:
		backend, err := blobstore.NewDiskBackend(cfg.BlobDir())
		if err != nil {
			return nil, nil, err
		}
		sink, err := export.NewDirSink(cfg.ExportDir(), cfg.BaseURL, a.Signer)
		if err != nil {
			return nil, nil, err
		}
		return backend, sink, nil
	}
}

// Close releases the database pool.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
}

func catalogKind(db *pgxpool.Pool) string {
	if db == nil {
		return "memory"
	}
	return "postgres"
}
