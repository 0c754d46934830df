// Package dashboard is the query façade behind the security dashboard. Each
// view is a named composition of one unification call and the aggregation
// reducers; the service holds no mutable state between calls.
package dashboard

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatboard/internal/alerts"
	"github.com/lvonguyen/threatboard/internal/alerts/unification"
	"github.com/lvonguyen/threatboard/internal/observability"
)

// DefaultTopN is the size of the top source IP ranking.
const DefaultTopN = 10

// Config configures the façade.
type Config struct {
	// RetryBackoff is the pause before the single retry of a view that
	// failed with a retryable storage error.
	RetryBackoff time.Duration

	// TopN bounds TopSourceIPs. Zero means DefaultTopN.
	TopN int

	// Categories restricts every view to these categories. Empty means every
	// registered category.
	Categories []alerts.Category
}

// AttackTypeSource resolves attack-type ids to labels.
type AttackTypeSource interface {
	AttackTypes(ctx context.Context) (map[int64]string, error)
}

// Service answers dashboard views.
type Service struct {
	unifier *unification.Unifier
	types   AttackTypeSource
	cfg     Config
	clock   func() time.Time
	logger  *zap.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects the time source. Defaults to time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics records view metrics on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAttackTypes sets the attack-type label source. Without one, attack
// types are labelled by id.
func WithAttackTypes(src AttackTypeSource) Option {
	return func(s *Service) { s.types = src }
}

// New creates a Service.
func New(unifier *unification.Unifier, cfg Config, opts ...Option) *Service {
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	s := &Service{
		unifier: unifier,
		cfg:     cfg,
		clock:   time.Now,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("threatboard/dashboard"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) categories() []alerts.Category {
	if len(s.cfg.Categories) > 0 {
		return s.cfg.Categories
	}
	return s.unifier.Registry().Categories()
}

func (s *Service) unify(ctx context.Context, window *alerts.TimeWindow) (*unification.Stream, error) {
	return s.unifier.Unify(ctx, s.categories(), window)
}

type queryIDKey struct{}

// WithQueryID attaches a query id to ctx. Views reuse it for logs and spans.
func WithQueryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, queryIDKey{}, id)
}

// QueryIDFrom returns the query id attached to ctx, if any.
func QueryIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(queryIDKey{}).(string)
	return id
}

// viewFunc computes one view at the captured instant and returns the number
// of raw records it read.
type viewFunc func(ctx context.Context, now time.Time) (int, error)

// run executes fn with the per-call concerns: one captured now, a query id,
// a span, metrics, and one retry of retryable failures.
func (s *Service) run(ctx context.Context, view string, fn viewFunc) error {
	queryID := QueryIDFrom(ctx)
	if queryID == "" {
		queryID = uuid.NewString()
		ctx = WithQueryID(ctx, queryID)
	}
	now := s.clock()
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "dashboard."+view)
	defer span.End()
	span.SetAttributes(
		attribute.String("dashboard.view", view),
		attribute.String("dashboard.query_id", queryID),
	)

	logger := s.logger.With(zap.String("view", view), zap.String("query_id", queryID))

	var records int
	op := func() error {
		n, err := fn(ctx, now)
		if err != nil {
			if alerts.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		records = n
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.metrics.ObserveRetry(view)
		logger.Warn("Retrying view after storage failure", zap.Error(err), zap.Duration("backoff", wait))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.RetryBackoff), 1), ctx)
	err := backoff.RetryNotify(op, policy, notify)
	elapsed := time.Since(start)

	if err != nil {
		kind := alerts.KindOf(err)
		s.metrics.ObserveView(view, string(kind), elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))

		fields := []zap.Field{zap.Error(err), zap.String("kind", string(kind)), zap.Duration("duration", elapsed)}
		if kind == alerts.KindStorageUnavailable || kind == alerts.KindCanceled {
			logger.Warn("View failed", fields...)
		} else {
			logger.Error("View failed", fields...)
		}
		return err
	}

	s.metrics.ObserveView(view, "ok", elapsed)
	span.SetAttributes(attribute.Int("dashboard.records", records))
	logger.Debug("View computed", zap.Duration("duration", elapsed), zap.Int("events", records))
	return nil
}
