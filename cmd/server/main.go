/*
main.go - Application entry point

PURPOSE:
  Starts a local dev ledger and one AirBlock client session behind an HTTP
  API. Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file, env, flags)
  2. Open the ledger backend (memory or SQLite)
  3. Start the dev ledger
  4. Create the controller, action service and API handler
  5. Start the refresh scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -config  YAML config file (default: ./airblock.yaml if present)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, implies ledger.backend=sqlite
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, end the session, stop the ledger
  4. Close the database

EXAMPLES:
  # Run with an in-memory ledger
  ./server

  # Persist the ledger, 2s blocks
  AIRBLOCK_LEDGER_BLOCK_TIME=2s ./server -db="./data/airblock.db"

SEE ALSO:
  - config/config.go: Keys and environment variables
  - api/server.go: Router configuration
  - devchain/chain.go: Dev ledger
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
	"syscall"
	"time"

	"github.com/warp/airblock/api"
	"github.com/warp/airblock/booking"
	"github.com/warp/airblock/config"
	"github.com/warp/airblock/devchain"
	"github.com/warp/airblock/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (selects the sqlite backend)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Ledger.Backend = config.BackendSQLite
		cfg.Ledger.DBPath = *dbPath
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	// Ledger backend
	var backend devchain.Backend
	switch cfg.Ledger.Backend {
	case config.BackendSQLite:
		store, err := sqlite.New(cfg.Ledger.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer store.Close()
		backend = store
	default:
		backend = devchain.NewMemory()
	}

	chain := devchain.New(backend, devchain.WithBlockTime(cfg.Ledger.BlockTime), devchain.WithLogger(logger))
	if err := chain.Start(); err != nil {
		return err
	}
	defer chain.Stop()

	// Client session
	ctrl := booking.NewController(booking.NewCache(), logger)
	defer ctrl.Deactivate()
	svc := booking.NewService(ctrl, booking.NewTracker(), logger)

	handler := api.NewHandler(chain, svc, &booking.Wallet{}, logger)
	if r, ok := backend.(api.Resetter); ok {
		handler.Backend = r
	}
	defer handler.Events.Close()

	scheduler := api.NewRefreshScheduler(ctrl, cfg.Sync.RefreshInterval, logger)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler, cfg.Server.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "backend", cfg.Ledger.Backend, "block_time", cfg.Ledger.BlockTime)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
