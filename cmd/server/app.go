package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatboard/internal/alerts/unification"
	"github.com/lvonguyen/threatboard/internal/config"
	"github.com/lvonguyen/threatboard/internal/dashboard"
	"github.com/lvonguyen/threatboard/internal/observability"
	"github.com/lvonguyen/threatboard/internal/repository"
)

// app holds the wired dependencies shared by serve and query.
type app struct {
	cfg       *config.Config
	telemetry *observability.Telemetry
	logger    *zap.Logger
	store     *repository.Store
	redis     *redis.Client
	service   *dashboard.Service
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	telemetry, err := observability.New(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Observability.Environment,
		LogLevel:       cfg.Logging.Level,
		LogFormat:      cfg.Logging.Format,
		TracingEnabled: cfg.Observability.TracingEnabled,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		SamplingRate:   cfg.Observability.SamplingRate,
		MetricsEnabled: cfg.Observability.MetricsEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	logger := telemetry.Logger()

	a := &app{cfg: cfg, telemetry: telemetry, logger: logger}

	loc, err := cfg.Location()
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	registry, err := cfg.Registry()
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.store, err = repository.Open(ctx, repository.Config{
		Driver:           cfg.Storage.Driver,
		DSN:              cfg.StorageDSN(),
		MaxOpenConns:     cfg.Storage.MaxOpenConns,
		MaxIdleConns:     cfg.Storage.MaxIdleConns,
		ConnMaxLifetime:  cfg.Storage.ConnMaxLifetime,
		QueryTimeout:     cfg.Storage.QueryTimeout,
		Location:         loc,
		AttackTypesTable: cfg.Storage.AttackTypesTable,
	}, logger)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("storage: %w", err)
	}

	unifier := unification.New(registry, a.store,
		unification.WithLocation(loc),
		unification.WithObserver(telemetry.Metrics()),
	)
	a.service = dashboard.New(unifier, dashboard.Config{
		RetryBackoff: cfg.Dashboard.RetryBackoff,
		TopN:         cfg.Dashboard.TopN,
	},
		dashboard.WithLogger(logger),
		dashboard.WithMetrics(telemetry.Metrics()),
		dashboard.WithAttackTypes(a.store),
	)

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: os.Getenv(cfg.Redis.PasswordEnv),
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			// Rate limiting falls back to the local limiter.
			logger.Warn("Redis unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
	}

	logger.Info("Dependencies initialized",
		zap.String("driver", cfg.Storage.Driver),
		zap.String("location", loc.String()),
		zap.Int("categories", len(registry.Categories())),
		zap.Bool("redis", a.redis != nil),
	)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Redis close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Storage close failed", zap.Error(err))
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("Telemetry shutdown failed", zap.Error(err))
	}
}
