/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reputation & rewards engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment, then apply flag overrides
  2. Configure structured logging
  3. Load the reward catalog
  4. Initialize SQLite store
  5. Create API handler, rate limiter, balance auditor and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port      HTTP server port (REP_PORT, default: 8080)
  -db        SQLite database path (REP_DB_PATH, default: ./data/reputation.db)
             Use ":memory:" for in-memory database
  -catalog   Reward catalog YAML (REP_CATALOG_PATH, default: built-in)

ENVIRONMENT:
  REP_STORE_TIMEOUT, REP_LOG_LEVEL, REP_ENV, REP_CLICK_RATE,
  REP_CLICK_BURST, REP_ALLOWED_ORIGINS (see config/config.go)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the balance auditor
  4. Close database connection

EXAMPLES:
  ./server -db="./data/reputation.db" -catalog=./catalog.yaml
  REP_LOG_LEVEL=debug ./server -db=":memory:" -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment variables
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/warp/reputation-engine/api"
	"github.com/warp/reputation-engine/catalog"
	"github.com/warp/reputation-engine/config"
	"github.com/warp/reputation-engine/observability"
	"github.com/warp/reputation-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags override the environment.
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "Reward catalog YAML path")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := observability.SetupLogging("reputation-engine", cfg.Env, cfg.LogLevel)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	if !strings.HasPrefix(cfg.DBPath, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	metrics := observability.NewMetrics()
	handler := api.NewHandler(store, api.Options{
		Catalog:      cat,
		Metrics:      metrics,
		Logger:       logger,
		StoreTimeout: cfg.StoreTimeout,
		EventMaxSkew: cfg.EventMaxSkew,
	})
	limiter := api.NewRateLimiter(cfg.ClickRate, cfg.ClickBurst, logger)
	auditor := api.NewBalanceAuditor(handler, limiter)

	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		ClickLimiter:   limiter,
		Auditor:        auditor,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	auditor.Start()
	defer auditor.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", server.Addr),
			slog.String("db", cfg.DBPath),
			slog.Int("quests", len(cat.Quests)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
