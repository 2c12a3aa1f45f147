// Package main is the entry point for the praxis outbox relay worker: it
// drains canonical events from the transactional outbox and delivers them
// to the configured destination.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"praxis/internal/infrastructure/relay"
	"praxis/internal/infrastructure/storage/postgres"
	"praxis/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting praxis outbox worker")

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(mustEnv("DATABASE_URL")))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	handler, cleanup, err := buildHandler(log)
	if err != nil {
		log.Fatalw("failed to build outbox handler", "error", err)
	}
	defer cleanup()

	batchSize := getEnvInt("OUTBOX_BATCH_SIZE", 100)
	interval := time.Duration(getEnvInt("OUTBOX_POLL_SECONDS", 5)) * time.Second

	worker := NewRelayWorker(postgres.NewOutboxRelay(pool, batchSize, handler, log), interval, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// buildHandler picks the delivery destination: RabbitMQ when AMQP_URL is
// set, otherwise the log.
func buildHandler(log *logger.Logger) (postgres.OutboxHandler, func(), error) {
	if url := os.Getenv("AMQP_URL"); url != "" {
		h, err := relay.NewAMQPHandler(url, getEnv("AMQP_EXCHANGE", "praxis.events"))
		if err != nil {
			return nil, nil, err
		}
		return h, func() { h.Close() }, nil
	}
	return relay.NewLogHandler(log), func() {}, nil
}

// RelayWorker polls the outbox on a fixed interval.
type RelayWorker struct {
	relay    *postgres.OutboxRelay
	interval time.Duration
	log      *logger.Logger
}

func NewRelayWorker(r *postgres.OutboxRelay, interval time.Duration, log *logger.Logger) *RelayWorker {
	return &RelayWorker{
		relay:    r,
		interval: interval,
		log:      log.WithComponent("worker"),
	}
}

// Run processes batches until the context is cancelled.
func (w *RelayWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.relay.ProcessBatch(ctx)
			if err != nil {
				w.log.Errorw("outbox batch failed", "error", err)
				continue
			}
			if n > 0 {
				w.log.Infow("outbox batch delivered", "count", n)
			}
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Printf("required environment variable %s is not set\n", key)
		os.Exit(1)
	}
	return v
}
