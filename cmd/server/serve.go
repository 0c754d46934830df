package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatboard/internal/api"
	"github.com/lvonguyen/threatboard/internal/api/gateway"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			return a.serve(ctx)
		},
	}
}

func (a *app) router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.Instrument(a.logger, a.telemetry.Metrics()))
	r.Use(middleware.Recoverer)
	r.Use(gateway.CORS(a.cfg.CORS.AllowedOrigins))
	if a.cfg.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(a.cfg.Server.RequestTimeout))
	}

	if a.cfg.Observability.MetricsEnabled {
		r.Handle("/metrics", a.telemetry.MetricsHandler())
	}

	checks := map[string]api.Check{"storage": a.store.Ping}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	handler := api.NewHandler(a.service, a.logger, Version, checks)

	r.Group(func(r chi.Router) {
		if a.cfg.RateLimit.Enabled {
			limiter := gateway.NewRateLimiter(a.redis, gateway.RateLimitConfig{
				RequestsPerSecond: a.cfg.RateLimit.RequestsPerSecond,
				RequestsPerMinute: a.cfg.RateLimit.RequestsPerMinute,
				BurstSize:         a.cfg.RateLimit.Burst,
				IncludeHeaders:    a.cfg.RateLimit.IncludeHeaders,
			}, a.logger, a.telemetry.Metrics())
			r.Use(limiter.Middleware(nil))
		}
		handler.Routes(r)
	})

	return r
}

func (a *app) serve(ctx context.Context) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      a.router(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server listening", zap.String("addr", server.Addr), zap.String("version", Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown signal received")
	case serveErr = <-errCh:
		a.logger.Error("Server error", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("Shutdown error", zap.Error(err))
	}
	a.close(shutdownCtx)

	a.logger.Info("Server stopped")
	_ = a.logger.Sync()
	return serveErr
}
