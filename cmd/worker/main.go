package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"gymattendance/internal/attendance"
	"gymattendance/internal/clock"
	"gymattendance/internal/config"
	"gymattendance/internal/logging"
	"gymattendance/internal/metrics"
	"gymattendance/internal/queue"
	"gymattendance/internal/store"
	"gymattendance/internal/sweep"
)

// Worker closes orphaned sessions on a timer and on demand from the job queue.
func main() {
	cfg := config.Load()
	log, err := logging.New(cfg.Log, "worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	for _, w := range cfg.Warnings {
		log.Warn("config", zap.String("warning", w))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("worker failed", zap.Error(err))
	}
	log.Info("worker stopped")
}

func run(ctx context.Context, cfg config.App, log *zap.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	clk := clock.NewSystem(loc)

	db, err := store.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL, store.Options{MaxOpenConns: 2})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
		defer redisClient.Close()
		if !redisClient.Healthy(ctx) {
			log.Warn("redis not reachable yet, consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
		}
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	} else {
		// only the timer fires; on-demand jobs go to the api's in-process queue
		log.Warn("QUEUE_BACKEND is not redis, worker will only sweep on its timer")
		q = queue.NewInMemory(1)
	}

	ledger := attendance.NewRepository(db.Client, clk, cfg.StorageTimeout)
	sweeper := sweep.New(ledger, clk, cfg.OrphanMaxAge, log.Named("sweep"), metrics.New(prometheus.NewRegistry()))

	log.Info("worker started",
		zap.Duration("interval", cfg.SweepInterval),
		zap.Duration("orphan_max_age", cfg.OrphanMaxAge))
	return sweeper.Serve(ctx, q, cfg.SweepInterval)
}
