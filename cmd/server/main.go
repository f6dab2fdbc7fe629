/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the spare-parts bonus server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (flags, config file, .env, BONUS_* env)
  2. Build the logger
  3. Initialize SQLite store
  4. Wire payment locks (Redis when configured, in-process otherwise)
  5. Create bonus service, parts catalog and API handler
  6. Start the status sync scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Optional YAML config file
  -port    HTTP server port (overrides server.port)
  -db      SQLite database path (overrides database.path)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running sync)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and database connections
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/bonus.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Share payment locks across replicas
  BONUS_REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/warp/bonus-engine/api"
	"github.com/warp/bonus-engine/bonus"
	"github.com/warp/bonus-engine/config"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/lock"
	"github.com/warp/bonus-engine/logging"
	"github.com/warp/bonus-engine/metrics"
	"github.com/warp/bonus-engine/parts"
	"github.com/warp/bonus-engine/store/sqlite"
	"go.uber.org/zap"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(serve(os.Args[1:]))
}

// serve returns instead of exiting so deferred cleanup, including the
// final logger flush, always runs.
func serve(args []string) int {
	// Flags
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	configPath := fs.String("config", "", "Optional YAML config file")
	port := fs.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := fs.String("db", "", "SQLite database path (overrides config)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitFailure
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := logging.New(logging.Config{
		Service:     "bonus-engine",
		Environment: cfg.Server.Environment,
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return exitFailure
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		return exitFailure
	}
	return exitOK
}

func run(cfg *config.Config, logger *zap.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	locker, closeLocker, err := newLocker(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	clock := generic.SystemClock{}
	svc := bonus.NewService(store, bonus.Options{
		Classifier: bonus.NewClassifier(loc),
		Locker:     locker,
		LockTTL:    cfg.Bonus.LockTTL,
		CacheTTL:   cfg.Cache.TTL,
		Metrics:    m,
		Clock:      clock,
		Logger:     logger,
	})
	catalog := parts.NewCatalog(store, svc, svc, m, clock, logger)
	handler := api.NewHandler(store, svc, catalog, clock, logger)

	scheduler := api.NewStatusSyncScheduler(svc, cfg.Sync.Cron, logger)
	scheduler.Enabled = cfg.Sync.Enabled
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(handler, api.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Gatherer:       registry,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("db", cfg.Database.Path),
			zap.String("timezone", loc.String()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
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

// newLocker returns a Redis-backed locker when redis.addr is set.
func newLocker(cfg *config.Config, logger *zap.Logger) (lock.Locker, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Info("using in-process payment locks")
		return lock.NewMemory(generic.SystemClock{}), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	logger.Info("using redis payment locks", zap.String("addr", cfg.Redis.Addr))
	return lock.NewRedis(client), func() { client.Close() }, nil
}
