package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/hiregate/pkg/async"
	"github.com/platinummonkey/hiregate/pkg/audit"
	"github.com/platinummonkey/hiregate/pkg/auth"
	"github.com/platinummonkey/hiregate/pkg/config"
	"github.com/platinummonkey/hiregate/pkg/httputil"
	"github.com/platinummonkey/hiregate/pkg/middleware"
	"github.com/platinummonkey/hiregate/pkg/observability"
	"github.com/platinummonkey/hiregate/pkg/rbac"
	"github.com/platinummonkey/hiregate/pkg/storage"
)

var version = "dev"

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "Apply database migrations and exit")
	seedOnly := flag.Bool("seed-only", false, "Seed the default permission catalog and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	log := newLogrus(cfg.Observability.LogLevel)

	if err := run(cfg, logger, log, *migrateOnly, *seedOnly); err != nil {
		logger.WithError(err).Error("hiregate exited with error")
		os.Exit(1)
	}
}

func newLogrus(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return log
}

func run(cfg *config.Config, logger *observability.Logger, log *logrus.Logger, migrateOnly, seedOnly bool) error {
	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	cm, err := storage.NewConnectionManager(cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(ctx, cm, log); err != nil {
		cm.Close()
		return err
	}
	if migrateOnly {
		logger.Info("Migrations applied")
		return cm.Close()
	}

	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient, err = storage.NewRedisClient(cfg.Storage)
		if err != nil {
			cm.Close()
			return err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	auditLogger := newAuditLogger(ctx, cfg, cm, log)
	identities := auth.NewSQLProvider(cm.Primary())

	rbacConfig := rbac.Config{
		BootstrapGranterID: cfg.Authz.BootstrapGranterID,
		SeedOnStartup:      cfg.Authz.SeedOnStartup || seedOnly,
		StatsSchedule:      cfg.Authz.StatsSchedule,
		CacheEnabled:       cfg.Cache.Enabled,
		Cache: rbac.CacheConfig{
			L1Size:   cfg.Cache.L1Size,
			L1TTL:    cfg.Cache.L1TTL,
			RedisTTL: cfg.Cache.RedisTTL,
		},
	}
	manager := rbac.NewManager(cm, identities, redisClient, auditLogger, log, metrics, rbacConfig)
	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize authorization: %w", err)
	}
	if seedOnly {
		logger.Info("Permission catalog seeded")
		return cm.Close()
	}

	// API server
	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
		observability.HTTPMetricsMiddleware(metrics),
	)

	guarded := []mux.MiddlewareFunc{middleware.NewAuthMiddleware(identities).Handler}
	limiterCtx, stopLimiter := context.WithCancel(ctx)
	if cfg.RateLimit.Enabled {
		guarded = append(guarded, newRateLimiter(limiterCtx, cfg, redisClient, log).Handler)
	}
	manager.RegisterRoutes(router, guarded...)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "hiregate"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics server
	healthRouter := mux.NewRouter()
	health := observability.NewHealthChecker(cm.Primary(), redisClient, version)
	health.AddCheck("replica", func(ctx context.Context) error {
		return cm.Replica().PingContext(ctx)
	})
	observability.RegisterHealthRoutes(healthRouter, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}
	healthServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	if err := manager.RefreshStats(ctx); err != nil {
		log.WithError(err).Warn("Initial grant stats refresh failed")
	}
	if err := manager.StartStatsRefresher(ctx); err != nil {
		stopLimiter()
		return err
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.Register("stats-refresher", func(context.Context) error {
		manager.Stop()
		return nil
	})
	shutdown.Register("rate-limiter", func(context.Context) error {
		stopLimiter()
		return nil
	})
	shutdown.Register("audit", func(context.Context) error {
		return auditLogger.Close()
	})
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.Register("database", func(context.Context) error {
		return cm.Close()
	})
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErrs := make(chan error, 2)
	for _, server := range []*http.Server{apiServer, healthServer} {
		go func(server *http.Server) {
			defer observability.RecoverPanicWithCallback(logger, "http server "+server.Addr, cancel)
			logger.Infof("Listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrs <- fmt.Errorf("server %s: %w", server.Addr, err)
			}
		}(server)
	}

	go func() {
		if err := <-serverErrs; err != nil {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	logger.WithFields(map[string]interface{}{
		"version": version,
		"cache":   cfg.Cache.Enabled,
		"redis":   redisClient != nil,
	}).Info("hiregate started")

	return shutdown.WaitForSignal(waitCtx)
}

func migrate(ctx context.Context, cm *storage.ConnectionManager, log *logrus.Logger) error {
	db := cm.Primary()
	if err := auth.RunMigrations(ctx, db, log); err != nil {
		return fmt.Errorf("failed to run identity migrations: %w", err)
	}
	if err := audit.RunMigrations(ctx, db, log); err != nil {
		return fmt.Errorf("failed to run audit migrations: %w", err)
	}
	if err := rbac.RunMigrations(ctx, db, log); err != nil {
		return fmt.Errorf("failed to run authorization migrations: %w", err)
	}
	return nil
}

func newAuditLogger(ctx context.Context, cfg *config.Config, cm *storage.ConnectionManager, log *logrus.Logger) audit.Logger {
	if !cfg.Authz.AuditEnabled {
		return audit.NoOp()
	}
	loggers := []audit.Logger{audit.NewLogrusLogger(log)}
	dbLogger, err := audit.NewDBLogger(cm.Primary())
	if err != nil {
		log.WithError(err).Warn("Database audit trail unavailable, logging audit events only")
	} else {
		pool := async.NewPool(ctx, "audit", cfg.Authz.AuditWorkers, cfg.Authz.AuditQueueSize, 5*time.Second, log)
		loggers = append(loggers, audit.NewAsyncLogger(dbLogger, pool))
	}
	return audit.NewMultiLogger(loggers...)
}

func newRateLimiter(ctx context.Context, cfg *config.Config, redisClient *redis.Client, log *logrus.Logger) *middleware.RateLimitMiddleware {
	limits := middleware.DefaultRateLimitConfig()
	limits.RequestsPerWindow = cfg.RateLimit.RequestsPerMinute
	limits.WindowDuration = time.Minute
	limits.BurstSize = cfg.RateLimit.Burst

	if cfg.RateLimit.Distributed && redisClient != nil {
		return middleware.NewRateLimitMiddleware(middleware.NewDistributedRateLimiter(redisClient, limits, "hiregate:ratelimit"), log)
	}

	limiter := middleware.NewRateLimiter(limits)
	limiter.StartCleanup(ctx)
	return middleware.NewRateLimitMiddleware(limiter, log)
}
