/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the pharmacy ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and environment, then parse command-line flags
  2. Initialize logging
  3. Initialize SQLite store
  4. Wire engine, metrics and event publisher
  5. Load the seed catalog (optional)
  6. Start the low-stock scanner
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: HTTP_PORT or 8080)
  -db      SQLite database path (default: DATABASE_PATH or pharmacy.db)
           Use ":memory:" for in-memory database
  -seed    Catalog file to load on startup (JSON or CSV)

ENVIRONMENT:
  HTTP_PORT, DATABASE_PATH, LOG_LEVEL, ENVIRONMENT, LOW_STOCK_THRESHOLD,
  RECENT_LIMIT, SCAN_INTERVAL, RABBITMQ_URL, RABBITMQ_QUEUE, CORS_ORIGINS,
  SEED_CATALOG. See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scanner
  4. Close the broker and database connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/pharmacy.db"

  # Run with in-memory database and a starting catalog
  ./server -db=":memory:" -seed=catalog.csv

SEE ALSO:
  - api/server.go: Router configuration
  - ledger/engine.go: Transaction engine
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/warp/pharmacy-ledger/api"
	"github.com/warp/pharmacy-ledger/catalog"
	"github.com/warp/pharmacy-ledger/config"
	"github.com/warp/pharmacy-ledger/ledger"
	"github.com/warp/pharmacy-ledger/logger"
	"github.com/warp/pharmacy-ledger/metrics"
	"github.com/warp/pharmacy-ledger/notify"
	"github.com/warp/pharmacy-ledger/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()

	logger.Init("pharmacy-ledger", cfg.IsDevelopment())
	logger.SetLevel(cfg.LogLevel)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	// Events
	var events ledger.EventPublisher = notify.Log{Logger: logger.Component("events")}
	if cfg.RabbitURL != "" {
		rabbit, err := notify.NewRabbit(cfg.RabbitURL, cfg.RabbitQueue, logger.Component("rabbitmq"))
		if err != nil {
			return err
		}
		defer rabbit.Close()
		events = rabbit
	}

	// Engine and queries
	m := metrics.New()
	engine := ledger.NewEngine(store)
	engine.Logger = logger.Component("ledger")
	engine.Recorder = m
	engine.Events = events
	engine.LowStockThreshold = cfg.LowStockThreshold

	query := ledger.NewQuery(store)
	query.LowStockThreshold = cfg.LowStockThreshold
	query.RecentLimit = cfg.RecentLimit

	if cfg.SeedCatalog != "" {
		entries, err := catalog.ParseFile(cfg.SeedCatalog)
		if err != nil {
			return err
		}
		n, err := catalog.Load(ctx, engine, entries)
		if err != nil {
			return err
		}
		log.Info().Str("file", cfg.SeedCatalog).Int("entries", n).Msg("catalog loaded")
	}

	// Background scanner
	scanner := api.NewLowStockScanner(query)
	scanner.Events = events
	scanner.Gauge = m
	scanner.Logger = logger.Component("scanner")
	scanner.CheckInterval = cfg.ScanInterval
	scanner.Start()
	defer scanner.Stop()

	// HTTP
	handler := api.NewHandler(engine, query)
	handler.Logger = logger.Component("api")
	handler.Ping = store.Ping
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSOrigins,
		Metrics:        m,
		MetricsHandler: m.Handler(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("database", cfg.DatabasePath).
			Int64("low_stock_threshold", cfg.LowStockThreshold).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Info().Msg("server stopped")
	return nil
}
