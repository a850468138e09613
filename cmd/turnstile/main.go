package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/turnstile/pkg/api"
	"github.com/platinummonkey/turnstile/pkg/audit"
	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/config"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/sso"
	"github.com/platinummonkey/turnstile/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing and runtime metrics export
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize OpenTelemetry, continuing without it")
	}
	defer otelProviders.Shutdown(context.Background())

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	// Identity storage
	pgConfig := postgres.DefaultConnectionConfig(cfg.Postgres.URL)
	pgConfig.MaxConns = cfg.Postgres.MaxConns
	pgConfig.MinConns = cfg.Postgres.MinConns
	pgConfig.Timeout = cfg.Postgres.Timeout
	db, err := postgres.Connect(pgConfig)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()
	identities := postgres.NewIdentityStore(db)

	// Token and lockout storage
	redisClient := redis.NewClient(&redis.Options{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		MaxRetries: cfg.Redis.MaxRetries,
		PoolSize:   cfg.Redis.PoolSize,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	// Audit sinks
	auditLogger := buildAuditLogger(cfg, db, logger)
	defer auditLogger.Close()

	// Authentication core
	store := auth.NewTokenStore(redisClient, logger, metrics)
	lockout := auth.NewLockoutTracker(redisClient, cfg.Auth.Lockout, logger, metrics)
	service := auth.NewService(cfg.Auth, identities, store, lockout, auditLogger, logger, metrics)

	loginLimiter := middleware.NewDistributedRateLimiter(
		redisClient, middleware.DefaultLoginRateLimitConfig(), "ratelimit:login", logger)

	server := api.NewServer(api.ServerConfig{
		Addr:            cfg.Server.Addr(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, service, identities, loginLimiter, metrics, logger)

	// External identity providers
	if len(cfg.SSO) > 0 {
		ssoHandlers := sso.NewHandlers(sso.NewProvisioner(identities, logger), service, logger)
		for _, pc := range cfg.SSO {
			provider, err := sso.NewOIDCProvider(ctx, sso.ProviderConfig{
				Name:         pc.Name,
				IssuerURL:    pc.IssuerURL,
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				RedirectURL:  pc.RedirectURL,
			})
			if err != nil {
				log.Fatalf("Failed to configure SSO provider %q: %v", pc.Name, err)
			}
			ssoHandlers.Register(provider)
		}
		ssoHandlers.RegisterRoutes(server.Router())
	}

	janitor := auth.NewJanitor(service, cfg.JanitorSchedule, logger)
	if err := janitor.Start(); err != nil {
		log.Fatalf("Failed to start index janitor: %v", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(server.Start)
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		janitor.Stop()
		return server.Shutdown(context.Background())
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	logger.Info("shutdown complete")
}

// buildAuditLogger assembles the configured audit sinks; with none enabled,
// events are discarded
func buildAuditLogger(cfg *config.Config, db *sql.DB, logger *observability.Logger) audit.Logger {
	var sinks []audit.Logger

	if cfg.Audit.Database {
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			logger.WithError(err).Error("failed to initialize database audit sink")
		} else {
			sinks = append(sinks, dbLogger)
		}
	}
	if cfg.Audit.FilePath != "" {
		fileLogger, err := audit.NewFileLogger(cfg.Audit.FilePath)
		if err != nil {
			logger.WithError(err).Error("failed to initialize file audit sink")
		} else {
			sinks = append(sinks, fileLogger)
		}
	}

	switch len(sinks) {
	case 0:
		return audit.NewNoOpLogger()
	case 1:
		return sinks[0]
	default:
		return audit.NewMultiLogger(sinks...)
	}
}
