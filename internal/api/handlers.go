// Package api exposes the dashboard views over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatboard/internal/alerts"
	"github.com/lvonguyen/threatboard/internal/alerts/kpi"
	"github.com/lvonguyen/threatboard/internal/dashboard"
)

// Dashboard is the view set served over HTTP. *dashboard.Service satisfies it.
type Dashboard interface {
	CategoryBreakdown(ctx context.Context) ([]dashboard.NameValue, error)
	HourlyBreakdown(ctx context.Context) ([]dashboard.HourCount, error)
	DailyBreakdown(ctx context.Context) ([]dashboard.DateCount, error)
	GeographicBreakdown(ctx context.Context) ([]dashboard.CountryCount, error)
	Last7DaysTrend(ctx context.Context) ([]dashboard.DateTotal, error)
	TopSourceIPs(ctx context.Context) ([]dashboard.IPCount, error)
	KPIs(ctx context.Context) (kpi.Bundle, error)
	Last24hHourly(ctx context.Context) ([]dashboard.HourLabelTotal, error)
	AttackTypeBreakdown(ctx context.Context) ([]dashboard.NameValue, error)
}

// Check reports whether a dependency is ready.
type Check func(ctx context.Context) error

// Handler serves the dashboard routes.
type Handler struct {
	views   Dashboard
	logger  *zap.Logger
	checks  map[string]Check
	version string
}

// NewHandler creates a Handler. checks are run by /ready.
func NewHandler(views Dashboard, logger *zap.Logger, version string, checks map[string]Check) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{views: views, logger: logger, checks: checks, version: version}
}

// Routes registers every view at the root and under /api/v1.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	h.mountViews(r)
	r.Route("/api/v1", h.mountViews)
}

func (h *Handler) mountViews(r chi.Router) {
	r.Get("/ataques-por-tipo", serve(h, h.views.CategoryBreakdown))
	r.Get("/ataques-por-hora", serve(h, h.views.HourlyBreakdown))
	r.Get("/ataques-por-dia", serve(h, h.views.DailyBreakdown))
	r.Get("/ataques-por-pais", serve(h, h.views.GeographicBreakdown))
	r.Get("/ataques-ultimos-7-dias", serve(h, h.views.Last7DaysTrend))
	r.Get("/top-ips", serve(h, h.views.TopSourceIPs))
	r.Get("/kpis", serve(h, h.views.KPIs))
	r.Get("/ataques-ultimas-24h", serve(h, h.views.Last24hHourly))
	r.Get("/ataques-por-subtipo", serve(h, h.views.AttackTypeBreakdown))
}

// serve adapts a view to a handler. Each request gets a query id, echoed in
// X-Query-ID and in error bodies.
func serve[T any](h *Handler, view func(context.Context) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queryID := uuid.NewString()
		w.Header().Set("X-Query-ID", queryID)

		result, err := view(dashboard.WithQueryID(r.Context(), queryID))
		if err != nil {
			h.writeError(w, err, queryID)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// ErrorResponse is the body of every failed view.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	QueryID   string `json:"query_id,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind alerts.Kind) int {
	switch kind {
	case alerts.KindInvalidArgument:
		return http.StatusBadRequest
	case alerts.KindPartialData:
		return http.StatusBadGateway
	case alerts.KindStorageUnavailable, alerts.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error, queryID string) {
	kind := alerts.KindOf(err)
	status := StatusFor(kind)

	message := err.Error()
	if kind == alerts.KindInternal || kind == alerts.KindConfiguration {
		// Configuration and internal details stay in the logs.
		message = http.StatusText(status)
		h.logger.Error("Request failed", zap.Error(err), zap.String("query_id", queryID))
	}

	if kind == alerts.KindStorageUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, ErrorResponse{
		Error:     string(kind),
		Message:   message,
		Retryable: alerts.IsRetryable(err),
		QueryID:   queryID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Health and readiness handlers

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": h.version})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": results})
}
