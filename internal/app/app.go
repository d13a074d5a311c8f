// Package app provides application initialization and wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jobrunner/owsgate/internal/adapters/gridstore"
	httpAdapter "github.com/jobrunner/owsgate/internal/adapters/http"
	"github.com/jobrunner/owsgate/internal/adapters/memstore"
	"github.com/jobrunner/owsgate/internal/adapters/metrics"
	"github.com/jobrunner/owsgate/internal/adapters/sqlstore"
	"github.com/jobrunner/owsgate/internal/adapters/storage"
	tlsAdapter "github.com/jobrunner/owsgate/internal/adapters/tls"
	"github.com/jobrunner/owsgate/internal/adapters/watcher"
	"github.com/jobrunner/owsgate/internal/application"
	"github.com/jobrunner/owsgate/internal/config"
	"github.com/jobrunner/owsgate/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config          *config.Config
	Logger          *slog.Logger
	Storage         output.ObjectStorage
	SQLStore        *sqlstore.Store
	Seeds           *application.SeedRegistry
	CatalogService  *application.CatalogService
	CoverageService *application.CoverageService
	HealthService   *application.HealthService
	SyncService     *application.SyncService
	HTTPServer      *httpAdapter.Server
	TLSServer       *tlsAdapter.Server
	Watcher         *watcher.Watcher
	Metrics         *metrics.Collector
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize metrics
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector(cfg.Metrics.Namespace, prometheus.NewRegistry())
	}

	var metricsCollector output.MetricsCollector
	if app.Metrics != nil {
		metricsCollector = app.Metrics
	} else {
		metricsCollector = &output.NoOpMetrics{}
	}

	// Initialize storage adapter
	objects, err := initStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = objects

	// Initialize catalog stores
	var stores []output.CatalogStore
	if cfg.Catalog.SQLitePath != "" {
		if err := app.fetchDatabase(ctx); err != nil {
			return nil, err
		}
		sqlStore, err := sqlstore.Open(ctx, cfg.Catalog.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		app.SQLStore = sqlStore
		stores = append(stores, sqlStore)
	}
	stores = append(stores, memstore.New(logger))

	store, err := application.SelectStore(stores, cfg.Catalog.Store, logger)
	if err != nil {
		app.closeStores()
		return nil, err
	}

	// Seed records before the record types are resolved
	if loader, ok := store.(output.SeedLoader); ok {
		app.Seeds = application.NewSeedRegistry(loader, objects, metricsCollector, logger, cfg.Catalog.SeedPrefix)
		if _, err := app.Seeds.Sync(ctx); err != nil {
			logger.Warn("initial seed sync failed", "error", err)
		}
	}

	// Initialize download service
	var downloads *application.DownloadService
	decorators := []output.CapabilitiesDecorator{
		application.EncodingDecorator{Encodings: []string{"KVP", "JSON"}},
	}
	if cfg.Download.Enabled {
		downloads = application.NewDownloadService(objects, metricsCollector, logger, application.DownloadConfig{
			CacheSize: cfg.Download.CacheSize,
			CacheTTL:  cfg.Download.CacheTTL,
		})
		decorators = append(decorators, application.DownloadDecorator{})
	}

	// Initialize catalog service
	app.CatalogService, err = application.NewCatalogService(ctx, store, downloads, metricsCollector, logger,
		application.CatalogServiceConfig{
			Service:    cfg.ServiceInfo(),
			Decorators: decorators,
		},
	)
	if err != nil {
		app.closeStores()
		return nil, fmt.Errorf("initializing catalog service: %w", err)
	}

	// Initialize coverage service
	if cfg.Coverage.Enabled() {
		grids, err := app.loadCoverages(ctx)
		if err != nil {
			app.closeStores()
			return nil, err
		}
		app.CoverageService = application.NewCoverageService(grids, metricsCollector, logger,
			application.CoverageServiceConfig{Service: cfg.ServiceInfo()},
		)
	}

	// Initialize health service
	app.HealthService = application.NewHealthService(app.CatalogService, app.CoverageService, app.Seeds)

	// Initialize HTTP server
	svc := httpAdapter.Services{
		Catalog:     app.CatalogService,
		Health:      app.HealthService,
		Metrics:     app.Metrics,
		MetricsPath: cfg.Metrics.Path,
	}
	if app.CoverageService != nil {
		svc.Coverage = app.CoverageService
	}
	if app.Seeds != nil {
		app.SyncService = application.NewSyncService(app.Seeds, cfg.Catalog.SyncInterval, logger)
		svc.Sync = app.SyncService
		svc.Seeds = app.Seeds
	}
	app.HTTPServer = httpAdapter.NewServer(cfg.Server, svc, logger)

	// Initialize TLS server; it serves plain HTTP when TLS is disabled
	app.TLSServer, err = tlsAdapter.NewServer(
		tlsAdapter.Config{
			Enabled:  cfg.TLS.Enabled,
			Domains:  cfg.TLS.Domains,
			Email:    cfg.TLS.Email,
			CacheDir: cfg.TLS.CacheDir,
			Staging:  cfg.TLS.Staging,
			DNS: tlsAdapter.DNSConfig{
				SubscriptionID:    cfg.TLS.DNS.SubscriptionID,
				ResourceGroupName: cfg.TLS.DNS.ResourceGroupName,
				ClientID:          cfg.TLS.DNS.ClientID,
			},
		},
		cfg.Server.Address(),
		app.HTTPServer.Handler(),
		tlsAdapter.Timeouts{
			Read:  cfg.Server.ReadTimeout,
			Write: cfg.Server.WriteTimeout,
			Idle:  cfg.Server.IdleTimeout,
		},
		logger,
	)
	if err != nil {
		app.closeStores()
		return nil, fmt.Errorf("initializing TLS: %w", err)
	}

	// Initialize file watcher for hot-reload of seeds
	if cfg.Catalog.Watch && app.SyncService != nil {
		dir := cfg.Catalog.SeedDir
		if dir == "" {
			dir = filepath.Join(cfg.Storage.LocalPath, cfg.Catalog.SeedPrefix)
		}
		w, err := watcher.New(
			watcher.Config{
				Paths: []string{dir},
				Match: application.IsSeedFile,
			},
			app.handleSeedEvents,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Start starts all application components. It blocks until the server stops.
func (a *App) Start(ctx context.Context) error {
	// Start file watcher
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	// Start periodic seed sync
	if a.SyncService != nil {
		a.SyncService.Start(ctx)
	}

	if a.Config.TLS.Enabled {
		go func() {
			if err := a.TLSServer.ManageCertificates(ctx); err != nil {
				a.Logger.Error("certificate management failed", "error", err)
			}
		}()
	}

	return a.TLSServer.ListenAndServe()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	// Stop watcher
	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	// Stop sync scheduler
	if a.SyncService != nil {
		a.SyncService.Stop()
	}

	// Shutdown server
	if err := a.TLSServer.Shutdown(ctx); err != nil {
		a.Logger.Error("server shutdown error", "error", err)
	}

	a.closeStores()
	return nil
}

// handleSeedEvents resynchronises the seeds after local seed files changed.
func (a *App) handleSeedEvents(ctx context.Context, events []watcher.Event) error {
	for _, e := range events {
		a.Logger.Info("seed file event", "path", e.Path, "operation", e.Operation.String())
	}
	a.SyncService.Refresh(ctx)
	return nil
}

// fetchDatabase downloads a prebuilt catalog database from object storage
// unless it already exists locally.
func (a *App) fetchDatabase(ctx context.Context) error {
	key := a.Config.Catalog.SQLiteObjectKey
	dest := a.Config.Catalog.SQLitePath
	if key == "" {
		return nil
	}
	if _, err := os.Stat(dest); err == nil {
		a.Logger.Info("catalog database present, skipping download", "path", dest)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	a.Logger.Info("downloading catalog database", "key", key, "path", dest)
	if err := a.Storage.Download(ctx, key, dest); err != nil {
		return fmt.Errorf("downloading catalog database %s: %w", key, err)
	}
	return nil
}

// loadCoverages reads the coverage definitions file from object storage.
func (a *App) loadCoverages(ctx context.Context) (*gridstore.Store, error) {
	key := a.Config.Coverage.Definitions
	rc, err := a.Storage.GetReader(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("opening coverage definitions %s: %w", key, err)
	}
	defer rc.Close()

	grids := gridstore.New()
	n, err := grids.Load(rc)
	if err != nil {
		return nil, fmt.Errorf("loading coverage definitions %s: %w", key, err)
	}
	a.Logger.Info("coverages loaded", "key", key, "coverages", n)
	return grids, nil
}

func (a *App) closeStores() {
	if a.SQLStore == nil {
		return
	}
	if err := a.SQLStore.Close(); err != nil {
		a.Logger.Error("failed to close sqlite store", "error", err)
	}
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.LocalPath), nil

	case "s3":
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case "azure":
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	case "http":
		return storage.NewHTTPStorage(storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		}), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
