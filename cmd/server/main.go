/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the finance engine API server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Open the store (SQLite or PostgreSQL) and migrate it
  3. Build the ledger, the grant table and the dossier service
  4. Install the typology file and its ceilings, if configured
  5. Configure HTTP router, auth and rate limiting
  6. Start the export scheduler, if an export directory is set
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -env     Path to a .env file (default: ./.env when present)
  -port    HTTP server port (FINANCE_HTTP_PORT, default 8080)
  -db      Database DSN (FINANCE_DB_DSN, default finance.db)
           Use ":memory:" for an in-memory SQLite database

ENVIRONMENT:
  FINANCE_DB_DRIVER, FINANCE_DB_DSN, FINANCE_HTTP_PORT, FINANCE_JWT_SECRET,
  FINANCE_RATE_LIMIT, FINANCE_RATE_BURST, FINANCE_TYPOLOGY_FILE,
  FINANCE_DOCUMENT_BASE_URL, FINANCE_EXPORT_DIR, FINANCE_EXPORT_INTERVAL,
  FINANCE_FISCAL_YEAR_START, LOG_LEVEL. See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the export scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
  - factory/typology.go: Typology file format
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/finance-engine/api"
	"github.com/warp/finance-engine/config"
	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/factory"
	"github.com/warp/finance-engine/generic"
	memstore "github.com/warp/finance-engine/generic/store"
	"github.com/warp/finance-engine/gestion"
	"github.com/warp/finance-engine/obs"
	"github.com/warp/finance-engine/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	envPath := flag.String("env", "", "Path to a .env file")
	port := flag.Int("port", 0, "HTTP server port (overrides FINANCE_HTTP_PORT)")
	dsn := flag.String("db", "", "Database DSN (overrides FINANCE_DB_DSN)")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}
	if *dsn != "" {
		cfg.DB.DSN = *dsn
	}
	if err := cfg.Validate("db.dsn", "auth.jwtSecret"); err != nil {
		return err
	}

	logger := obs.NewLogger(os.Stdout, cfg.LogLevel, true)
	slog.SetDefault(logger)
	obs.Init()

	ctx := context.Background()

	// Initialize store
	db, err := store.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close()

	// Services. The scheduler acts as the system principal and needs to
	// export every account.
	grants := memstore.NewGrants(generic.Grant{
		PrincipalID: generic.SystemPrincipal.ID,
		Capability:  generic.CapControlExpense,
		Scope:       generic.GlobalScope,
	})
	ledger := donations.NewLedger(db, logger)
	svc := gestion.NewService(db, grants, ledger, logger)
	svc.DocumentBaseURL = cfg.DocumentBaseURL

	if err := factory.NewTypologyFactory().Configure(ctx, cfg.TypologyFile, svc, ledger); err != nil {
		return fmt.Errorf("load typology: %w", err)
	}

	// Router
	handler := api.NewHandler(ledger, svc, logger)
	handler.FiscalYearStart = cfg.Export.FiscalYearStart
	auth := &api.Authenticator{Secret: []byte(cfg.Auth.JWTSecret)}
	var limiter *api.RateLimiter
	if cfg.HTTP.RateLimit > 0 {
		limiter = api.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst)
	}
	router := api.NewRouter(handler, auth, limiter)

	// Export scheduler
	if cfg.Export.Dir != "" {
		scheduler := api.NewExportScheduler(ledger, svc, cfg.Export.Dir, logger)
		scheduler.CheckInterval = cfg.Export.Interval
		scheduler.Start()
		defer scheduler.Stop()
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.HTTP.Port, "driver", cfg.DB.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
