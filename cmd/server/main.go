/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tip pool engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (flags, environment, .env)
  2. Configure logging
  3. Initialize SQLite store
  4. Create engine with metrics, start the auto-close scheduler
  5. Configure HTTP router
  6. Start server with graceful shutdown

CONFIGURATION:
  See config/config.go. Flags override environment variables:
  -port / PORT, -db / DB_PATH, -log-level / LOG_LEVEL,
  -sweep / AUTO_CLOSE_SWEEP, -rate-limit / RATE_LIMIT, -rate-burst / RATE_BURST

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Cancel pending auto-close timers
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/tips.db"

  # Run with in-memory database and debug logs
  ./server -db=":memory:" -log-level=debug

SEE ALSO:
  - api/server.go: Router configuration
  - engine/scheduler.go: Auto-close timers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tiptop/tip-engine/api"
	"github.com/tiptop/tip-engine/config"
	"github.com/tiptop/tip-engine/engine"
	"github.com/tiptop/tip-engine/logging"
	"github.com/tiptop/tip-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	logger := logging.SetupWithLevel(logging.ParseLevel(cfg.LogLevel))

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng := engine.New(store, engine.Options{
		Logger:  logger,
		Metrics: engine.NewMetrics(reg),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.StartScheduler(ctx, cfg.SweepInterval); err != nil {
		return err
	}
	defer eng.StopScheduler()

	routerOpts := api.RouterOptions{Metrics: reg}
	if cfg.RateLimit > 0 {
		routerOpts.RateLimiter = api.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	router := api.NewRouter(api.NewHandler(eng, store, logger), routerOpts)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr(), "db", cfg.DBPath, "sweep", cfg.SweepInterval)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	// Wait for interrupt signal
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}
