// Package main is the entry point for the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/antevus/labtrail/internal/api"
	"github.com/antevus/labtrail/internal/archive"
	"github.com/antevus/labtrail/internal/audit"
	"github.com/antevus/labtrail/internal/auth"
	"github.com/antevus/labtrail/internal/config"
	"github.com/antevus/labtrail/internal/db"
	"github.com/antevus/labtrail/internal/health"
	"github.com/antevus/labtrail/internal/jobs"
	"github.com/antevus/labtrail/internal/middleware"
	"github.com/antevus/labtrail/internal/ratelimit"
	"github.com/antevus/labtrail/internal/tracing"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	if *help {
		fmt.Println("LabTrail API Server")
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

	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "labtrail-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: !cfg.IsProduction(),
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	limiterMetrics := ratelimit.NewMetrics()
	auditMetrics := audit.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for _, register := range []func(prometheus.Registerer) error{
		httpMetrics.Register,
		limiterMetrics.Register,
		auditMetrics.Register,
		jobMetrics.Register,
	} {
		if err := register(registry); err != nil {
			logger.Error("failed to register metrics", "error", err)
			os.Exit(1)
		}
	}

	// Storage backends. Postgres backs the audit chain; the rate limiter
	// prefers Redis when configured, then Postgres, then process memory.
	var auditRepo audit.Repository = audit.NewInMemoryRepository()
	var limiterStore ratelimit.Store = ratelimit.NewMemoryStore()
	var cleaner ratelimit.Cleaner

	healthCfg := api.HealthHandlersConfig{}

	if cfg.DatabaseURL != "" {
		conn, err := db.Connect(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer conn.Close()

		auditRepo = audit.NewPostgresRepository(conn)
		pgStore := ratelimit.NewPostgresStore(conn)
		pgStore.SetRetention(2 * cfg.RateLimitWindow())
		limiterStore = pgStore
		cleaner = pgStore
		healthCfg.DBChecker = health.NewDBChecker(conn)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory storage")
		memStore := limiterStore.(*ratelimit.MemoryStore)
		cleaner = memStore
	}

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()

		limiterStore = ratelimit.NewRedisStore(redisClient)
		cleaner = nil // Redis expires windows via PExpire
		healthCfg.RedisChecker = health.NewRedisChecker(redisClient)
	}

	signingKey, err := cfg.SigningKey()
	if err != nil {
		logger.Error("invalid audit signing key", "error", err)
		os.Exit(1)
	}

	feed := audit.NewFeed()
	auditLogger, err := audit.NewLogger(audit.LoggerConfig{
		Repository: auditRepo,
		SigningKey: signingKey,
		Logger:     logger,
		Metrics:    auditMetrics,
		Feed:       feed,
	})
	if err != nil {
		logger.Error("failed to create audit logger", "error", err)
		os.Exit(1)
	}

	adaptive := ratelimit.NewAdaptiveController(ratelimit.AdaptiveControllerConfig{
		Logger: logger,
	})
	behavior := ratelimit.NewBehaviorTracker()

	limiter, err := ratelimit.New(ratelimit.Config{
		Store:    limiterStore,
		FailOpen: cfg.FailOpen(),
		Adaptive: adaptive,
		Behavior: behavior,
		Logger:   logger,
		Metrics:  limiterMetrics,
	})
	if err != nil {
		logger.Error("failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := adaptive.Start(ctx); err != nil {
		logger.Error("failed to start adaptive controller", "error", err)
		os.Exit(1)
	}
	defer adaptive.Stop()

	integrityJob := audit.NewIntegrityJob(audit.IntegrityJobConfig{
		Interval:   cfg.AuditIntegrityInterval,
		Logger:     logger,
		JobMetrics: jobMetrics,
	}, auditLogger)
	if err := integrityJob.Start(ctx); err != nil {
		logger.Error("failed to start integrity job", "error", err)
		os.Exit(1)
	}
	defer integrityJob.Stop()

	cleanupStop := make(chan struct{})
	if cleaner != nil {
		go ratelimit.RunPeriodicCleanup(ctx, cleaner, ratelimit.DefaultCleanupInterval, cleanupStop)
	}
	defer close(cleanupStop)

	if cfg.ArchiveBucketName != "" {
		archiveService, err := archive.NewService(archive.ServiceConfig{
			BucketName:      cfg.ArchiveBucketName,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
			Endpoint:        cfg.ArchiveEndpoint,
		})
		if err != nil {
			logger.Error("failed to create archive service", "error", err)
			os.Exit(1)
		}
		archiveJob := archive.NewJob(archive.JobConfig{
			Logger:     logger,
			JobMetrics: jobMetrics,
		}, archiveService, auditLogger)
		if err := archiveJob.Start(ctx); err != nil {
			logger.Error("failed to start archive job", "error", err)
			os.Exit(1)
		}
		defer archiveJob.Stop()
	}

	auditHandlers := api.NewAuditHandlers(auditLogger, auditRepo)
	feedHandlers := api.NewFeedHandlers(feed)
	healthHandlers := api.NewHealthHandlers(healthCfg)

	v1 := http.NewServeMux()
	v1.HandleFunc("/v1/audit/events", auditHandlers.ListEvents)
	v1.HandleFunc("/v1/audit/verify", auditHandlers.VerifyChain)
	v1.HandleFunc("/v1/audit/export", auditHandlers.Export)
	v1.HandleFunc("/v1/audit/feed", feedHandlers.Subscribe)

	rateLimited := middleware.RateLimit(limiter, middleware.RateLimitConfig{
		APIKeyLimit: cfg.APIKeyRequestLimit,
		UserLimit:   cfg.UserRequestLimit,
		IPLimit:     cfg.IPRequestLimit,
		Window:      cfg.RateLimitWindow(),
	}, auditLogger)(v1)

	mux := http.NewServeMux()
	mux.Handle("/v1/", rateLimited)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", api.MetricsHandler(registry))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			errCtx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, errCtx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"labtrail-api","version":"0.0.1"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	jwtService := auth.NewJWTService(cfg.JWTSecret)

	// Middleware chain, outermost first: RequestID -> Tracing -> HTTPMetrics -> Logging -> Auth
	handler := middleware.RequestID(
		middleware.Tracing("labtrail-api")(
			middleware.HTTPMetrics(httpMetrics)(
				middleware.Logging(logger)(
					middleware.Auth(jwtService)(mux)))))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
