// Package main is the entry point for the HRIS API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/daryls-hrplus/intellihrm-sub048/internal/api"
	"github.com/daryls-hrplus/intellihrm-sub048/internal/audit"
	"github.com/daryls-hrplus/intellihrm-sub048/internal/auth"
	"github.com/daryls-hrplus/intellihrm-sub048/internal/config"
	"github.com/daryls-hrplus/intellihrm-sub048/internal/db"
	"github.com/daryls-hrplus/intellihrm-sub048/internal/health"
	"github.com/daryls-hrplus/intellihrm-sub048/internal/jobs"
	"github.com/daryls-hrplus/intellihrm-sub048/internal/middleware"
	"github.com/daryls-hrplus/intellihrm-sub048/internal/payroll"
	"github.com/daryls-hrplus/intellihrm-sub048/internal/tracing"
)

const serviceName = "hrisd"

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("HRIS API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if cfg == nil {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	// In development the database is optional: in-memory repositories let
	// the server run standalone. Everywhere else a missing DATABASE_URL is
	// fatal, as is any other validation error.
	fatal := false
	for _, err := range errs {
		if cfg.Env == config.DefaultEnv && errors.Is(err, config.ErrMissingDatabaseURL) {
			logger.Warn("DATABASE_URL not set, using in-memory repositories")
			continue
		}
		logger.Error("invalid configuration", "error", err)
		fatal = true
	}
	if fatal {
		os.Exit(1)
	}

	logger.Info("configuration loaded", "config", cfg.LogSummary())

	// Tracing
	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: "otlp-grpc",
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: 1.0,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(ctx); err != nil {
			logger.Error("failed to shut down tracer provider", "error", err)
		}
	}()

	// Repositories: Postgres when configured, in-memory otherwise.
	var (
		auditRepo audit.Repository
		prefRepo  payroll.PreferenceRepository
		rateRepo  payroll.RateRepository
		dbChecker api.HealthChecker
	)
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := conn.Close(); err != nil {
				logger.Error("failed to close database", "error", err)
			}
		}()
		auditRepo = audit.NewPostgresRepository(conn)
		prefRepo = payroll.NewPostgresPreferenceRepository(conn)
		rateRepo = payroll.NewPostgresRateRepository(conn)
		dbChecker = health.NewDBChecker(conn)
	} else {
		auditRepo = audit.NewInMemoryRepository()
		prefRepo = payroll.NewInMemoryPreferenceRepository()
		rateRepo = payroll.NewInMemoryRateRepository()
	}

	// Metrics
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register HTTP metrics", "error", err)
		os.Exit(1)
	}
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	// Rate limiting: Redis-backed when configured, in-memory otherwise.
	var (
		rateStore    middleware.RateLimitStore
		redisChecker api.HealthChecker
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		rateStore = middleware.NewRedisRateLimitStore(client).WithMetrics(httpMetrics)
		redisChecker = health.NewRedisChecker(client)
		defer func() {
			if err := client.Close(); err != nil {
				logger.Error("failed to close redis client", "error", err)
			}
		}()
	} else {
		store := middleware.NewInMemoryRateLimitStore()
		rateStore = store
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				store.Cleanup()
			}
		}()
	}

	// Export archiver (optional)
	var archiver audit.Archiver
	if cfg.ArchiveEnabled() {
		a, err := audit.NewS3Archiver(audit.S3ArchiverConfig{
			BucketName:      cfg.ArchiveBucketName,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
			Endpoint:        cfg.ArchiveEndpoint,
		})
		if err != nil {
			logger.Error("failed to initialize export archiver", "error", err)
			os.Exit(1)
		}
		archiver = a
	}

	jwtService := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTSecretPrevious)

	auditHandlers := api.NewAuditHandlers(auditRepo, archiver, cfg.AuditPageLimit).
		WithJobMetrics(jobMetrics)
	payrollHandlers := api.NewPayrollHandlers(prefRepo, rateRepo, auditRepo,
		payroll.MissingRatePolicy(cfg.MissingRatePolicy)).
		WithJobMetrics(jobMetrics)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:      dbChecker,
		RedisChecker:   redisChecker,
		MetricsEnabled: true,
	})

	authn := middleware.Auth(jwtService)
	globalLimit := middleware.RateLimiter(rateStore, middleware.DefaultGlobalLimit(),
		middleware.ActorKeyFunc(), httpMetrics)
	exportLimit := middleware.RateLimiter(rateStore, middleware.DefaultExportLimit(),
		middleware.ActorKeyFunc(), httpMetrics)

	// Tenant-scoped API routes, behind auth and rate limiting.
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/audit/logs", auditHandlers.QueryLogs)
	apiMux.HandleFunc("/audit/logs/verify", auditHandlers.VerifyChain)
	apiMux.Handle("/audit/logs/export", exportLimit(http.HandlerFunc(auditHandlers.Export)))
	apiMux.HandleFunc("/payroll/preferences/", payrollHandlers.Preferences)
	apiMux.HandleFunc("/payroll/runs/", payrollHandlers.LockRates)
	apiMux.HandleFunc("/payroll/split/preview", payrollHandlers.SplitPreview)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", authn(globalLimit(apiMux)))

	cors := middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	handler := middleware.RequestID(
		middleware.Tracing(serviceName)(
			middleware.Logging(logger)(
				middleware.HTTPMetrics(httpMetrics)(
					cors(mux)))))

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
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

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
