// Package unification turns the heterogeneous category tables into one
// stream of alerts.UnifiedEvent. Every category requested by a call is read
// through a single read-only view of the store; records are concatenated per
// category, never joined, so each raw record yields exactly one event.
package unification

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lvonguyen/threatboard/internal/alerts"
	"github.com/lvonguyen/threatboard/internal/alerts/schema"
)

// Reader fetches the raw records of one category. window is a pushdown hint;
// implementations may ignore it.
type Reader interface {
	Fetch(ctx context.Context, desc schema.SourceDescriptor, window *alerts.TimeWindow) ([]alerts.RawRecord, error)
}

// Store opens a read-only view. The view and its connection are released
// before View returns, whatever fn returns.
type Store interface {
	View(ctx context.Context, fn func(Reader) error) error
}

// FetchObserver receives per-category fetch results. Optional.
type FetchObserver interface {
	ObserveFetch(category alerts.Category, elapsed time.Duration, records int, err error)
}

// Unifier reads categories through a Store and projects them with a Registry.
type Unifier struct {
	registry *schema.Registry
	store    Store
	location *time.Location
	observer FetchObserver
}

// Option configures a Unifier.
type Option func(*Unifier)

// WithLocation sets the zone naive DATE and TIME values are interpreted in.
// Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(u *Unifier) {
		if loc != nil {
			u.location = loc
		}
	}
}

// WithObserver reports each category fetch to o.
func WithObserver(o FetchObserver) Option {
	return func(u *Unifier) { u.observer = o }
}

// New creates a Unifier.
func New(registry *schema.Registry, store Store, opts ...Option) *Unifier {
	u := &Unifier{
		registry: registry,
		store:    store,
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Registry returns the descriptor registry the unifier resolves against.
func (u *Unifier) Registry() *schema.Registry {
	return u.registry
}

// Unify fetches every category and returns a stream over the union. When
// window is non-nil the stream only yields events inside it. A failure of any
// category fails the whole call.
func (u *Unifier) Unify(ctx context.Context, categories []alerts.Category, window *alerts.TimeWindow) (*Stream, error) {
	if len(categories) == 0 {
		return nil, alerts.InvalidArgumentf("unify: no categories requested")
	}

	descs := make([]schema.SourceDescriptor, 0, len(categories))
	seen := make(map[alerts.Category]bool, len(categories))
	for _, cat := range categories {
		if seen[cat] {
			continue
		}
		seen[cat] = true
		d, err := u.registry.Describe(cat)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}

	batches := make([]batch, 0, len(descs))
	err := u.store.View(ctx, func(r Reader) error {
		for _, d := range descs {
			records, err := u.fetch(ctx, r, d, window)
			if err != nil {
				return err
			}
			batches = append(batches, batch{desc: d, records: records})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return newStream(batches, window, u.location), nil
}

func (u *Unifier) fetch(ctx context.Context, r Reader, d schema.SourceDescriptor, window *alerts.TimeWindow) ([]alerts.RawRecord, error) {
	ctx, span := otel.Tracer("threatboard/unification").Start(ctx, "unification.fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("alert.category", string(d.Category)),
		attribute.String("db.sql.table", d.Table),
	)

	start := time.Now()
	records, err := r.Fetch(ctx, d, window)
	if u.observer != nil {
		u.observer.ObserveFetch(d.Category, time.Since(start), len(records), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.Wrapf(err, "fetch %s", d.Category)
	}
	span.SetAttributes(attribute.Int("alert.records", len(records)))
	return records, nil
}
