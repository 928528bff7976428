package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gymattendance/internal/attendance"
	"gymattendance/internal/auth"
	"gymattendance/internal/clock"
	"gymattendance/internal/config"
	"gymattendance/internal/handler"
	"gymattendance/internal/httpmiddleware"
	"gymattendance/internal/logging"
	"gymattendance/internal/memberlock"
	"gymattendance/internal/membership"
	"gymattendance/internal/metrics"
	"gymattendance/internal/queue"
	"gymattendance/internal/reporting"
	"gymattendance/internal/store"
	"gymattendance/internal/sweep"
)

func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.Log, "api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	for _, w := range cfg.Warnings {
		log.Warn("config", zap.String("warning", w))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func run(cfg config.App, log *zap.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	clk := clock.NewSystem(loc)

	db, err := store.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL, store.Options{MaxOpenConns: cfg.DBMaxOpenConns})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	log.Info("database ready", zap.String("driver", db.Driver))

	var redisClient *store.Redis
	if cfg.LockBackend == "redis" || cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
		defer redisClient.Close()
	}

	var dir membership.Directory = membership.NewSQLDirectory(db.Client)
	if cfg.MembershipSrc == "http" {
		client := membership.NewClient(cfg.MembershipURL)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := client.Health(ctx); err != nil {
			log.Warn("membership service not reachable yet", zap.String("url", cfg.MembershipURL), zap.Error(err))
		}
		cancel()
		dir = client
	}

	var locker memberlock.Locker = memberlock.NewLocal()
	if cfg.LockBackend == "redis" {
		locker = memberlock.NewRedis(redisClient.Client, "gym:attendance:lock:", cfg.LockTTL)
	}

	var jobs queue.Queue = queue.NewInMemory(16)
	if cfg.QueueBackend == "redis" {
		jobs = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	rec := metrics.New(prometheus.DefaultRegisterer)
	resolver := membership.NewResolver(dir, clk)
	ledger := attendance.NewRepository(db.Client, clk, cfg.StorageTimeout)
	engine := attendance.NewEngine(resolver, ledger, clk, attendance.Options{
		Locker:           locker,
		Logger:           log.Named("engine"),
		Metrics:          rec,
		ExpiringSoonDays: cfg.ExpiringSoon,
	})
	reports := reporting.NewService(resolver, ledger, clk, cfg.ExpiringSoon, log.Named("reporting"), rec)

	r := gin.New()
	r.Use(logging.AccessLog(log.Named("http"), "/healthz", "/metrics"))
	r.Use(logging.Recovery(log))
	r.Use(httpmiddleware.RequestID())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		dbHealthy := db.Healthy(ctx)
		redisHealthy := redisClient == nil || redisClient.Healthy(ctx)
		status := http.StatusOK
		if !dbHealthy || !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"db": dbHealthy, "redis": redisHealthy})
	})

	handler.New(engine, reports, jobs, clk, log.Named("handler")).
		Register(r, auth.Middleware(cfg.JWTSigningKey, cfg.JWTIssuer))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend != "redis" {
		// no separate worker reads an in-process queue
		sweeper := sweep.New(ledger, clk, cfg.OrphanMaxAge, log.Named("sweep"), rec)
		go func() {
			if err := sweeper.Serve(ctx, jobs, cfg.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("in-process sweeper stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", httpmiddleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", httpmiddleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
