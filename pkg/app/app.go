// Package app wires the statistics engine from its configuration. The HTTP
// server and statsctl share it so both run against the same stack.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/cache"
	"github.com/openeduhub/metaqs/pkg/config"
	"github.com/openeduhub/metaqs/pkg/database"
	"github.com/openeduhub/metaqs/pkg/handlers"
	"github.com/openeduhub/metaqs/pkg/logging"
	"github.com/openeduhub/metaqs/pkg/repositories"
	"github.com/openeduhub/metaqs/pkg/retry"
	"github.com/openeduhub/metaqs/pkg/search"
	"github.com/openeduhub/metaqs/pkg/services"
)

// App holds the connected dependencies and services.
type App struct {
	Config *config.Config

	DB     *database.DB
	Search *search.Client
	Redis  *redis.Client

	Scopes      database.ScopeProvider
	Collections services.CollectionService
	Stats       services.StatsService
	Seed        services.SeedService
	Dispatcher  *services.Dispatcher

	logger *zap.Logger
}

// Options selects optional startup steps.
type Options struct {
	// Migrate applies pending migrations before the services are built.
	Migrate bool
	// Retry overrides the startup retry policy; nil uses retry.StartupConfig.
	Retry *retry.Config
}

// New connects to Postgres, Elasticsearch and (when configured) Redis and
// builds the services. Connections are retried while the dependencies come
// up. The caller must Close the App.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*App, error) {
	rc := opts.Retry
	if rc == nil {
		rc = retry.StartupConfig()
	}

	a := &App{Config: cfg, logger: logger}

	db, err := retry.DoWithResult(ctx, rc, func() (*database.DB, error) {
		db, err := database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.URL(),
			MaxConnections: cfg.Database.MaxConnections,
			MinConnections: cfg.Database.MinConnections,
		})
		if err != nil {
			logger.Warn("Database not reachable yet",
				zap.String("host", cfg.Database.Host),
				zap.String("error", logging.SanitizeError(err)))
		}
		return db, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db

	if opts.Migrate {
		if err := Migrate(cfg, logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	searchClient, err := search.NewClient(search.Config{
		URL:      cfg.Elasticsearch.URL,
		Index:    cfg.Elasticsearch.Index,
		Username: cfg.Elasticsearch.Username,
		Password: cfg.Elasticsearch.Password,
		Timeout:  cfg.Elasticsearch.Timeout,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create search client: %w", err)
	}
	if err := retry.DoIfRetryable(ctx, rc, func() error { return searchClient.Ping(ctx) }); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to reach search index at %s: %w",
			logging.SanitizeURL(cfg.Elasticsearch.URL), err)
	}
	a.Search = searchClient

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		// The score cache is optional; run without it.
		logger.Warn("Redis unavailable, score cache disabled", zap.String("error", logging.SanitizeError(err)))
	}
	a.Redis = redisClient

	catalog := search.Catalog{
		MaxSize:            cfg.Elasticsearch.MaxSize,
		PageSize:           cfg.Elasticsearch.PageSize,
		LicensePlaceholder: cfg.Stats.LicensePlaceholder,
	}

	a.Scopes = database.NewScopeProvider(db)
	a.Collections = services.NewCollectionService(searchClient, catalog, logger)
	a.Stats = services.NewStatsService(
		searchClient,
		catalog,
		a.Collections,
		repositories.NewStatsRepository(),
		a.Scopes,
		cache.NewScoreCache(redisClient, cfg.Stats.ScoreCacheTTL, logger),
		services.StatsOptions{
			TransactionalWrites: cfg.Stats.TransactionalWrites,
			Modulator:           cfg.Stats.ScoreModulator,
		},
		logger,
	)
	a.Seed = services.NewSeedService(repositories.NewStatsRepository(), a.Scopes, logger)
	a.Dispatcher = services.NewDispatcher(a.Collections, services.DispatcherOptions{
		PortalRootID:  cfg.Stats.PortalRootID,
		MaxConcurrent: cfg.Stats.MaxConcurrentRuns,
		RunTimeout:    cfg.Stats.RunTimeout,
	}, logger)

	return a, nil
}

// Migrate applies all pending migrations.
func Migrate(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := database.OpenSQL(cfg.Database.URL())
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, cfg.MigrationsPath, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Rollback reverts the last steps migrations.
func Rollback(cfg *config.Config, steps int, logger *zap.Logger) error {
	sqlDB, err := database.OpenSQL(cfg.Database.URL())
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return database.RollbackMigrations(sqlDB, cfg.MigrationsPath, steps, logger)
}

// HealthChecks returns the dependency pingers for the health endpoint.
func (a *App) HealthChecks() map[string]handlers.Pinger {
	checks := map[string]handlers.Pinger{
		"database": a.DB,
		"search":   a.Search,
	}
	if a.Redis != nil {
		checks["cache"] = database.RedisPinger{Client: a.Redis}
	}
	return checks
}

// Close releases every connection.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
