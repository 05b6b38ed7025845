// Package main is the entry point for the ranking API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/streamrank/internal/api"
	"github.com/onnwee/streamrank/internal/auth"
	"github.com/onnwee/streamrank/internal/config"
	"github.com/onnwee/streamrank/internal/health"
	"github.com/onnwee/streamrank/internal/middleware"
	"github.com/onnwee/streamrank/internal/post"
	"github.com/onnwee/streamrank/internal/ranking"
	"github.com/onnwee/streamrank/internal/signals"
	"github.com/onnwee/streamrank/internal/tracing"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	serviceName     = "streamrank"
	connectTimeout  = 5 * time.Second
	shutdownTimeout = 10 * time.Second
	limiterSweep    = time.Minute
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Streamrank API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summary := cfg.LogSummary()
	attrs := make([]any, 0, 2*len(summary))
	for k, v := range summary {
		attrs = append(attrs, k, v)
	}
	logger.Info("configuration loaded", attrs...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// run wires the service from cfg and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.OTelExporterType,
		OTLPEndpoint:   cfg.OTelExporterEndpoint,
		SamplingRate:   cfg.TracingSampleRate,
		InsecureMode:   cfg.TracingInsecure,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracing shutdown failed", "error", err)
		}
	}()

	// A bad calibration file is logged and the defaults are served.
	weights, err := ranking.LoadCalibration(cfg.RankCalibrationPath)
	if err != nil {
		logger.Error("calibration rejected, serving default weights", "path", cfg.RankCalibrationPath, "error", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rankMetrics := ranking.NewMetrics()
	if err := rankMetrics.Register(reg); err != nil {
		return fmt.Errorf("register ranking metrics: %w", err)
	}
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(reg); err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}

	st, err := openStores(ctx, cfg, httpMetrics, logger)
	if err != nil {
		return err
	}
	defer st.close(logger)

	if mem, ok := st.limiter.(*middleware.InMemoryRateLimitStore); ok {
		go sweepLimiter(ctx, mem)
	}

	handler := newHandler(serverDeps{
		cfg:    cfg,
		logger: logger,
		ranker: ranking.NewRanker(weights, ranking.RankerConfig{
			Workers:           cfg.RankWorkers,
			ParallelThreshold: cfg.RankParallelThreshold,
			Metrics:           rankMetrics,
			Logger:            logger,
		}),
		posts:     st.posts,
		signals:   st.signals,
		limiter:   st.limiter,
		validator: auth.NewJWTService(cfg.JWTSecret, cfg.JWTPreviousSecret),
		metrics:   httpMetrics,
		registry:  reg,
		health:    api.HealthHandlersConfig{DBChecker: st.dbChecker, RedisChecker: st.redisChecker},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port, "version", version)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// stores holds the backing stores chosen from config and their health checks.
type stores struct {
	posts        post.Repository
	signals      signals.Store
	limiter      middleware.RateLimitStore
	dbChecker    health.Checker
	redisChecker health.Checker
	closers      []func() error
}

// openStores connects to PostgreSQL and Redis when configured and falls back
// to in-memory stores otherwise.
func openStores(ctx context.Context, cfg *config.Config, metrics *middleware.Metrics, logger *slog.Logger) (*stores, error) {
	st := &stores{}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		st.posts = post.NewPostgresRepository(db)
		st.dbChecker = health.NewDBChecker(db)
		st.closers = append(st.closers, db.Close)
		logger.Info("using postgres candidate store")
	} else {
		st.posts = post.NewInMemoryRepository()
		logger.Warn("DATABASE_URL not set, using in-memory candidate store")
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			st.close(logger)
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			st.close(logger)
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		ttl := time.Duration(cfg.SignalsCacheTTLSeconds) * time.Second
		st.signals = signals.NewBreakerStore(signals.NewRedisStore(client, ttl), signals.DefaultBreakerConfig())
		st.limiter = middleware.NewRedisRateLimitStore(client, metrics)
		st.redisChecker = health.NewRedisChecker(client)
		st.closers = append(st.closers, client.Close)
		logger.Info("using redis signal store and rate limiter")
	} else {
		st.signals = signals.NewInMemoryStore()
		st.limiter = middleware.NewInMemoryRateLimitStore()
		logger.Warn("REDIS_URL not set, using in-memory signal store and rate limiter")
	}

	return st, nil
}

func (s *stores) close(logger *slog.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}
	s.closers = nil
}

// sweepLimiter drops expired rate limit windows until ctx is cancelled.
func sweepLimiter(ctx context.Context, store *middleware.InMemoryRateLimitStore) {
	ticker := time.NewTicker(limiterSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Cleanup()
		}
	}
}
