/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the cylinder ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load CYL_* environment, apply command-line overrides
  2. Build logger
  3. Initialize SQLite store
  4. Choose the customer locker (Redis when CYL_REDIS_ADDR is set)
  5. Create API handler, router and reconciliation scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -addr    HTTP listen address (overrides CYL_ADDR)
  -db      SQLite database path (overrides CYL_DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reconciliation scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database and Redis connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/cylinders.db"

  # Distributed locks across replicas
  CYL_REDIS_ADDR=localhost:6379 ./server
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/warp/cylinder-ledger/api"
	"github.com/warp/cylinder-ledger/config"
	"github.com/warp/cylinder-ledger/ledger"
	"github.com/warp/cylinder-ledger/receipt"
	"github.com/warp/cylinder-ledger/store/redislock"
	"github.com/warp/cylinder-ledger/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	// Flags
	addr := flag.String("addr", cfg.Addr, "HTTP listen address")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.Addr, cfg.DBPath = *addr, *dbPath

	logger := config.NewLogger(cfg)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	var locker ledger.Locker = ledger.NewKeyedMutex()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatalf("Failed to reach redis at %s: %v", cfg.RedisAddr, err)
		}
		locker = redislock.New(rdb, cfg.LockTTL, logger)
		logger.WithField("redis", cfg.RedisAddr).Info("using redis customer locks")
	}

	handler := api.NewHandler(store, api.Options{
		Location:      cfg.Location(),
		TxPrefix:      cfg.TxPrefix,
		CredentialTag: cfg.CredentialTag,
		Shop: receipt.Shop{
			Name:            cfg.Shop.Name,
			Address:         cfg.Shop.Address,
			Phone:           cfg.Shop.Phone,
			GST:             cfg.Shop.GST,
			DistributorCode: cfg.Shop.DistributorCode,
		},
		Locker: locker,
		Logger: logger,
	})

	router := api.NewRouter(handler, api.RouterOptions{RateLimit: cfg.RateLimit})

	scheduler := api.NewReconciliationScheduler(handler.Reconciler, logger)
	scheduler.CheckInterval = cfg.ReconcileInterval
	scheduler.Repair = cfg.ReconcileRepair
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.WithFields(logrus.Fields{
			"addr": cfg.Addr,
			"db":   cfg.DBPath,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("server stopped")
}
