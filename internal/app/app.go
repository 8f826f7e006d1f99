// Package app wires a moisturizer instance together from its configuration:
// logger, backend, catalog, migration coordinator, descriptor registry,
// object service and snapshot manager.
package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/moisturizer/moisturizer/internal/backend"
	"github.com/moisturizer/moisturizer/internal/catalog"
	"github.com/moisturizer/moisturizer/internal/config"
	"github.com/moisturizer/moisturizer/internal/descriptor"
	"github.com/moisturizer/moisturizer/internal/logging"
	"github.com/moisturizer/moisturizer/internal/migrate"
	"github.com/moisturizer/moisturizer/internal/objects"
	"github.com/moisturizer/moisturizer/internal/schema"
	"github.com/moisturizer/moisturizer/internal/snapshot"
	"github.com/moisturizer/moisturizer/internal/storage"
)

// App holds the components of one instance.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	backend     backend.Backend
	catalog     *catalog.BackendCatalog
	coordinator *migrate.Coordinator
	registry    *descriptor.Registry
	objects     *objects.Service

	snapshotOnce sync.Once
	snapshots    *snapshot.Manager
	snapshotErr  error

	closeOnce sync.Once
}

// Option configures New.
type Option func(*App)

// WithLogger replaces the logger built from the configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// New resolves and validates cfg, opens the backend and wires every
// component. When the configuration asks for it, all tables are reconciled
// with the catalog before New returns.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}
		a.logger = logger
	}

	b, err := backend.Open(backend.Options{
		Type:   cfg.Backend.Type,
		Driver: cfg.Backend.Driver,
		Path:   cfg.Backend.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open backend: %w", err)
	}
	a.backend = b
	a.logger.Info("backend opened",
		zap.String("type", cfg.Backend.Type),
		zap.String("driver", cfg.Backend.Driver),
		zap.String("path", cfg.Backend.Path))

	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	policy, err := schema.ParseConflictPolicy(a.cfg.Schema.ConflictPolicy)
	if err != nil {
		return err
	}

	a.catalog, err = catalog.New(ctx, a.backend)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}

	a.coordinator = migrate.NewCoordinator(a.backend, a.logger)
	a.coordinator.SetParallelism(a.cfg.Schema.ReconcileParallelism)

	a.registry = descriptor.NewRegistry(a.catalog, a.coordinator,
		descriptor.WithLogger(a.logger),
		descriptor.WithLockStripes(a.cfg.Schema.LockStripes))

	a.objects = objects.NewService(a.registry, a.backend, a.logger, objects.Options{
		ConflictPolicy:  policy,
		AutoCreateTypes: a.cfg.Schema.AutoCreateTypes,
	})

	if a.cfg.Schema.ReconcileOnStart {
		if _, err := a.registry.Reconcile(ctx); err != nil {
			return fmt.Errorf("startup reconciliation failed: %w", err)
		}
	}
	return nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Registry returns the descriptor registry.
func (a *App) Registry() *descriptor.Registry { return a.registry }

// Objects returns the object service.
func (a *App) Objects() *objects.Service { return a.objects }

// Snapshots returns the snapshot manager. Object storage is opened on first
// use, so commands that never touch snapshots need no S3 credentials.
func (a *App) Snapshots(ctx context.Context) (*snapshot.Manager, error) {
	a.snapshotOnce.Do(func() {
		s3cfg := storage.DefaultS3Config()
		if a.cfg.Snapshot.S3.Region != "" {
			s3cfg.Region = a.cfg.Snapshot.S3.Region
		}
		s3cfg.Endpoint = a.cfg.Snapshot.S3.Endpoint
		s3cfg.UsePathStyle = a.cfg.Snapshot.S3.UsePathStyle

		store, err := storage.Open(ctx, storage.Options{
			Type:   a.cfg.Snapshot.Type,
			Path:   a.cfg.Snapshot.Path,
			Bucket: a.cfg.Snapshot.S3.Bucket,
			S3:     s3cfg,
		})
		if err != nil {
			a.snapshotErr = fmt.Errorf("failed to open snapshot storage: %w", err)
			return
		}
		a.snapshots = snapshot.NewManager(a.registry, store, snapshot.Options{
			Prefix:     a.cfg.Snapshot.Prefix,
			StagingDir: a.cfg.StagingDir(),
			Logger:     a.logger,
		})
	})
	return a.snapshots, a.snapshotErr
}

// Close releases the backend and flushes the logger.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.backend != nil {
			err = a.backend.Close()
		}
		_ = a.logger.Sync()
	})
	return err
}
