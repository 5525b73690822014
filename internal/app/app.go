// Package app wires configuration into a running dashboard backend.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radiusdt/adperf/internal/cache"
	"github.com/radiusdt/adperf/internal/config"
	"github.com/radiusdt/adperf/internal/database"
	"github.com/radiusdt/adperf/internal/httpserver"
	"github.com/radiusdt/adperf/internal/kpi"
	"github.com/radiusdt/adperf/internal/loader"
	"github.com/radiusdt/adperf/internal/metrics"
	"github.com/radiusdt/adperf/internal/settings"
	"github.com/radiusdt/adperf/internal/views"
	"github.com/radiusdt/adperf/internal/warehouse"
)

// Version is set at build time.
var Version = "dev"

// App owns every long-lived dependency.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Source    warehouse.Source
	Versions  cache.Versioner
	Settings  *settings.Service
	Loader    *loader.Loader
	Assembler *views.Assembler

	db      *database.PostgresDB
	redis   *database.RedisDB
	closers []func() error
}

// New connects the configured backends. Postgres and Redis are optional;
// without them settings and caches live in process.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.NewMetrics(cfg.Metrics.Namespace, reg)
	}

	src, err := a.openSource(ctx)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, src.Close)
	a.Source = warehouse.NewRetrying(src, cfg.Warehouse.RetryAttempts, cfg.Warehouse.RetryBackoff, logger)

	var tables cache.TableCache
	if cfg.Redis.Enabled() {
		a.redis, err = database.NewRedisDB(ctx, cfg.Redis, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, a.redis.Close)
		a.Versions = cache.NewRedisVersioner(a.redis.Client, cfg.Redis.Prefix)
		tables = cache.NewRedisTableCache(a.redis.Client, cfg.Redis.Prefix, cfg.Cache.TableTTL)
	} else {
		logger.Info("redis not configured, caching in process")
		a.Versions = cache.NewMemoryVersioner()
		tables = cache.NewMemoryTableCache(cfg.Cache.MemEntries)
	}

	repo, err := a.openSettings(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Settings = settings.NewService(repo, a.Versions, a.Metrics, logger)

	rateUnit, err := kpi.ParseRateUnit(cfg.Dashboard.RateUnit)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Loader = loader.New(a.Source, repo, tables, a.Metrics, logger)
	a.Assembler = views.NewAssembler(a.Loader, views.Config{
		ObjectiveContains: cfg.Dashboard.ObjectiveContains,
		AchievementRule:   cfg.Dashboard.AchievementRule,
		RateUnit:          rateUnit,
		PriorYearOverlay:  cfg.Dashboard.PriorYearOverlay,
		MaxBannerGallery:  cfg.Dashboard.MaxBannerGallery,
		MonthFormat:       cfg.Dashboard.MonthFormat,
	}, a.Metrics, logger)

	if v, err := a.Versions.Current(ctx); err == nil {
		a.Metrics.SetSnapshotVersion(v)
	}
	return a, nil
}

func (a *App) openSource(ctx context.Context) (warehouse.Source, error) {
	wc := a.Config.Warehouse
	switch wc.Backend {
	case config.BackendBigQuery:
		return warehouse.NewBigQuerySource(ctx, warehouse.BigQueryConfig{
			Project:         wc.Project,
			Dataset:         wc.Dataset,
			CredentialsFile: wc.CredentialsFile,
			Location:        wc.Location,
		})
	case config.BackendClickHouse:
		return warehouse.NewClickHouseSource(ctx, warehouse.ClickHouseConfig{
			Addr:        wc.ClickHouseAddr,
			Database:    wc.Dataset,
			Username:    wc.ClickHouseUser,
			Password:    wc.ClickHousePass,
			DialTimeout: 10 * time.Second,
		}, Version)
	case config.BackendMemory:
		if wc.SeedFile == "" {
			a.Logger.Warn("memory warehouse without seed file, every view will fail to load")
			return warehouse.NewMemorySource(), nil
		}
		return warehouse.LoadMemorySource(wc.SeedFile)
	}
	return nil, fmt.Errorf("unknown warehouse backend %q", wc.Backend)
}

// openSettings returns the Postgres store when configured. Otherwise the
// in-memory store is seeded from the warehouse settings tables.
func (a *App) openSettings(ctx context.Context) (settings.Repository, error) {
	if a.Config.Database.Enabled() {
		db, err := database.NewPostgresDB(ctx, a.Config.Database, a.Logger)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, func() error { db.Close(); return nil })
		repo := settings.NewPostgresRepo(db.Pool)
		if err := repo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate settings: %w", err)
		}
		return repo, nil
	}

	repo := settings.NewMemoryRepo()
	if err := settings.Seed(ctx, a.Source, repo, a.Logger); err != nil {
		return nil, fmt.Errorf("seed settings: %w", err)
	}
	return repo, nil
}

// Handler builds the HTTP router.
func (a *App) Handler() http.Handler {
	checks := map[string]httpserver.Pinger{}
	if a.db != nil {
		checks["postgres"] = a.db
	}
	if a.redis != nil {
		checks["redis"] = a.redis
	}
	return httpserver.NewServer(&httpserver.Dependencies{
		Assembler: a.Assembler,
		Settings:  a.Settings,
		Versions:  a.Versions,
		Config:    a.Config,
		Logger:    a.Logger,
		Metrics:   a.Metrics,
		Checks:    checks,
	})
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if a.db != nil {
		go a.db.ReportStats(ctx, a.Metrics, 15*time.Second)
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}
	a.Logger.Info("server stopped")
	return nil
}

// Close releases backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
