/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the invoice engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build the logger
  3. Open the store (memory, SQLite or PostgreSQL)
  4. Wire the customer cache, event publisher and engine
  5. Start the event consumer and the monthly scheduler
  6. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: ./config.yaml if present)
  -port    HTTP server port (overrides server.port)
  -db      SQLite database path (overrides database.*)
           Use ":memory:" for an in-memory database

ENVIRONMENT:
  Every config key can be set as INVOICE_<SECTION>_<KEY>, e.g.
  INVOICE_DATABASE_DRIVER=postgres INVOICE_DATABASE_DSN=postgres://...

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and event consumer
  4. Close the database connection

SEE ALSO:
  - config/config.go: Keys and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/warp/invoice-engine/api"
	"github.com/warp/invoice-engine/config"
	"github.com/warp/invoice-engine/customers"
	"github.com/warp/invoice-engine/events"
	"github.com/warp/invoice-engine/invoice"
	"github.com/warp/invoice-engine/invoice/store"
	applog "github.com/warp/invoice-engine/logger"
	"github.com/warp/invoice-engine/store/sqlstore"
)

// backend is everything the server needs from a store.
type backend interface {
	invoice.Store
	invoice.LessonBillingSource
	api.Records
	Customers() invoice.CustomerDirectory
}

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Driver, cfg.Database.DSN = "sqlite3", *dbPath
	}

	logger, err := applog.New(cfg.Log.Logger())
	if err != nil {
		fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	engineCfg, err := cfg.Billing.Engine()
	if err != nil {
		return err
	}

	// Initialize store
	db, closeStore, err := openBackend(cfg.Database, logger.Named("store"))
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Events: published in-process, logged until a delivery worker subscribes
	pubsub := events.NewInMemory()
	defer pubsub.Close()
	eventLogger := logger.Named("events")
	go func() {
		if err := events.Consume(ctx, pubsub, cfg.Events.Topic, events.LogHandler(eventLogger), eventLogger); err != nil {
			eventLogger.Error("event consumer stopped", zap.Error(err))
		}
	}()
	publisher := events.NewPublisher(pubsub, cfg.Events.Topic, eventLogger)

	// Engine
	cache := customers.NewCachedDirectory(db.Customers(), cfg.Cache.CustomerTTL)
	svc := invoice.NewService(db, db, cache, publisher, engineCfg, logger.Named("engine"))

	scheduler := api.NewGenerationScheduler(svc, db, logger)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.RunDay = cfg.Scheduler.RunDay
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(svc, db, cache, logger.Named("api"))
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler, cfg.Server.CORSOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("database", cfg.Database.Driver),
			zap.String("timezone", cfg.Billing.Timezone))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return errors.Wrap(err, "listen")
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server forced to shutdown")
	}
	logger.Info("server stopped")
	return nil
}

func openBackend(cfg config.DatabaseConfig, logger *zap.Logger) (backend, func(), error) {
	if cfg.Driver == "memory" {
		return store.NewMemory(), func() {}, nil
	}
	s, err := sqlstore.Open(cfg.Driver, cfg.DSN, logger)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s store", cfg.Driver)
	}
	return s, func() {
		if err := s.Close(); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	}, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "invoice-engine: %+v\n", err)
	os.Exit(1)
}
