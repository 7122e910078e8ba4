package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/app"
	"github.com/openeduhub/metaqs/pkg/auth"
	"github.com/openeduhub/metaqs/pkg/config"
	"github.com/openeduhub/metaqs/pkg/database"
	"github.com/openeduhub/metaqs/pkg/handlers"
	"github.com/openeduhub/metaqs/pkg/logging"
	"github.com/openeduhub/metaqs/pkg/mcp"
	mcpauth "github.com/openeduhub/metaqs/pkg/mcp/auth"
	"github.com/openeduhub/metaqs/pkg/mcp/tools"
	"github.com/openeduhub/metaqs/pkg/middleware"
	"github.com/openeduhub/metaqs/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", zap.String("error", logging.SanitizeError(err)))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
		zap.String("elasticsearch", logging.SanitizeURL(cfg.Elasticsearch.URL)),
		zap.String("index", cfg.Elasticsearch.Index),
		zap.String("portal_root", cfg.Stats.PortalRootID.String()))

	a, err := app.New(ctx, cfg, app.Options{Migrate: true}, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	jwks, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
		Audience:           cfg.Auth.Audience,
	})
	if err != nil {
		return fmt.Errorf("failed to create JWKS client: %w", err)
	}
	defer jwks.Close()
	authService := auth.NewAuthService(jwks, logger)

	guard := handlers.Middleware(auth.NewMiddleware(authService, logger).Guard(cfg.Auth.RequiredRole))
	scoped := handlers.Middleware(database.WithScopeContext(a.Scopes, logger))

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(cfg, a.HealthChecks(), logger)
	healthHandler.RegisterRoutes(mux)

	statsHandler := handlers.NewStatsHandler(a.Stats, a.Seed, a.Dispatcher, cfg.Stats.SeedDays, logger)
	statsHandler.RegisterRoutes(mux, guard, scoped)

	collectionsHandler := handlers.NewCollectionsHandler(a.Collections, logger)
	collectionsHandler.RegisterRoutes(mux)

	mcpServer := mcp.NewServer("metaqs", cfg.Version, logger)
	mcpServer.RegisterTools(mcp.ToolSet{
		Health: func(ctx context.Context) (map[string]string, bool) {
			resp, healthy := healthHandler.Check(ctx)
			return resp.Checks, healthy
		},
		Stats: &tools.StatsToolDeps{
			Stats:        a.Stats,
			Collections:  a.Collections,
			PortalRootID: cfg.Stats.PortalRootID,
			Logger:       logger,
		},
	})
	// The tools are read-only; any authenticated caller may use them.
	handlers.NewMCPHandler(mcpServer, mcpauth.NewMiddleware(authService, logger), logger).RegisterRoutes(mux, "")

	a.Dispatcher.RunScheduler(ctx, "run-stats", cfg.Stats.ScheduleInterval, services.RunStatsJob(a.Stats))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting metaqs",
			zap.String("addr", srv.Addr),
			zap.Bool("tls", cfg.TLSCertPath != ""))
		if cfg.TLSCertPath != "" {
			serveErr <- srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := a.Dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Background jobs did not finish", zap.Error(err))
	}
	return nil
}
