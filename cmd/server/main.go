/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the cashflow API server: configuration, the
  SQLite store, the Redis lock manager, the outbox publisher loop, the
  books service and the HTTP router, with graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Open and migrate the SQLite store
  3. Connect Redis for distributed locks (optional)
  4. Start the outbox drain loop
  5. Serve HTTP until SIGINT/SIGTERM

GRACEFUL SHUTDOWN:
  On signal: stop accepting connections, wait up to 30s for in-flight
  requests, stop the publisher, close the database.

ENVIRONMENT:
  PORT, DB_PATH, REDIS_ADDR, JWT_SECRET, LOG_LEVEL. See config.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cashflowhq/cashflow-api/api"
	"github.com/cashflowhq/cashflow-api/books"
	"github.com/cashflowhq/cashflow-api/config"
	"github.com/cashflowhq/cashflow-api/idempotency"
	"github.com/cashflowhq/cashflow-api/locks"
	"github.com/cashflowhq/cashflow-api/outbox"
	"github.com/cashflowhq/cashflow-api/store/sqlite"
)

func main() {
	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable, locks degrade to row locks")
		}
		cancel()
	}

	publisher := outbox.NewPublisher(store, &outbox.LogTransport{Log: log}, log)
	svc := books.NewService(
		store,
		locks.NewManager(redisClient, log),
		idempotency.NewRunner(store),
		publisher,
		log,
	)

	drainCtx, stopDrain := context.WithCancel(context.Background())
	go publisher.Run(drainCtx)

	handler := api.NewHandler(svc, cfg.JWTSecret, log)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("forced shutdown")
	}
	stopDrain()

	log.Info("server stopped")
}
