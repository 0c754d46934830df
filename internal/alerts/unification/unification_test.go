package unification

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvonguyen/threatboard/internal/alerts"
	"github.com/lvonguyen/threatboard/internal/alerts/schema"
)

// fakeStore serves canned records per category and counts views.
type fakeStore struct {
	records map[alerts.Category][]alerts.RawRecord
	fail    map[alerts.Category]error

	views   int
	closed  int
	fetched []alerts.Category
	windows []*alerts.TimeWindow
}

func (s *fakeStore) View(ctx context.Context, fn func(Reader) error) error {
	s.views++
	defer func() { s.closed++ }()
	return fn(s)
}

func (s *fakeStore) Fetch(ctx context.Context, desc schema.SourceDescriptor, window *alerts.TimeWindow) ([]alerts.RawRecord, error) {
	s.fetched = append(s.fetched, desc.Category)
	s.windows = append(s.windows, window)
	if err := s.fail[desc.Category]; err != nil {
		return nil, err
	}
	return s.records[desc.Category], nil
}

func row(fecha, hora, riesgo string, extra map[string]any) alerts.RawRecord {
	r := alerts.RawRecord{
		"fecha":      fecha,
		"hora":       nil,
		"riesgo":     riesgo,
		"id_cliente": int64(1),
		"id_tipo":    int64(1),
	}
	if hora != "" {
		r["hora"] = hora
	}
	for k, v := range extra {
		r[k] = v
	}
	return r
}

func allCategories() []alerts.Category {
	return schema.DefaultRegistry().Categories()
}

// =============================================================================
// Unify Tests
// =============================================================================

// TestUnify_CountPreservation verifies one event per raw record across
// categories.
func TestUnify_CountPreservation(t *testing.T) {
	store := &fakeStore{records: map[alerts.Category][]alerts.RawRecord{
		alerts.CategoryPhishing: {
			row("2024-01-01", "10:00:00", "alto", nil),
			row("2024-01-01", "11:00:00", "bajo", nil),
		},
		alerts.CategoryBruteForce: {
			row("2024-01-02", "12:30:00", "medio", map[string]any{"codigo_pais": "es", "ip": "10.0.0.1"}),
		},
		alerts.CategoryDDoS: {
			row("2024-01-03", "", "critico", map[string]any{"codigo_pais": "US", "ip": "10.0.0.2"}),
		},
	}}

	u := New(schema.DefaultRegistry(), store)
	stream, err := u.Unify(context.Background(), allCategories(), nil)
	require.NoError(t, err)

	events, err := Collect(stream)
	require.NoError(t, err)
	assert.Len(t, events, 4)
	assert.Equal(t, 4, stream.Len())

	assert.Equal(t, 1, store.views, "all categories share one view")
	assert.Equal(t, 1, store.closed)
	assert.Len(t, store.fetched, 5)

	perCategory := map[alerts.Category]int{}
	for _, ev := range events {
		perCategory[ev.Category]++
	}
	assert.Equal(t, 2, perCategory[alerts.CategoryPhishing])
	assert.Equal(t, 1, perCategory[alerts.CategoryBruteForce])
	assert.Equal(t, 1, perCategory[alerts.CategoryDDoS])
}

func TestUnify_EmptyCategories(t *testing.T) {
	store := &fakeStore{}
	u := New(schema.DefaultRegistry(), store)

	_, err := u.Unify(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, alerts.KindInvalidArgument, alerts.KindOf(err))
	assert.Zero(t, store.views)
}

func TestUnify_UnknownCategory(t *testing.T) {
	u := New(schema.DefaultRegistry(), &fakeStore{})

	_, err := u.Unify(context.Background(), []alerts.Category{"ransomware"}, nil)
	assert.Equal(t, alerts.KindConfiguration, alerts.KindOf(err))
}

func TestUnify_DuplicatesFetchedOnce(t *testing.T) {
	store := &fakeStore{records: map[alerts.Category][]alerts.RawRecord{
		alerts.CategoryDoS: {row("2024-01-01", "01:00", "bajo", map[string]any{"codigo_pais": nil, "ip": nil})},
	}}
	u := New(schema.DefaultRegistry(), store)

	stream, err := u.Unify(context.Background(), []alerts.Category{alerts.CategoryDoS, alerts.CategoryDoS}, nil)
	require.NoError(t, err)
	assert.Equal(t, []alerts.Category{alerts.CategoryDoS}, store.fetched)
	assert.Equal(t, 1, stream.Len())
}

// TestUnify_OneFailureFailsAll verifies no partial stream is returned and the
// view is still released.
func TestUnify_OneFailureFailsAll(t *testing.T) {
	store := &fakeStore{
		records: map[alerts.Category][]alerts.RawRecord{
			alerts.CategoryPhishing: {row("2024-01-01", "10:00", "alto", nil)},
		},
		fail: map[alerts.Category]error{
			alerts.CategoryDoS: alerts.StorageUnavailable(errors.New("connection reset"), "query alertas_dos"),
		},
	}
	u := New(schema.DefaultRegistry(), store)

	stream, err := u.Unify(context.Background(), allCategories(), nil)
	require.Error(t, err)
	assert.Nil(t, stream)
	assert.True(t, alerts.IsRetryable(err))
	assert.Equal(t, 1, store.closed)
}

// TestUnify_WindowFiltersInMemory verifies the stream filters even when the
// store ignores the pushdown hint.
func TestUnify_WindowFiltersInMemory(t *testing.T) {
	store := &fakeStore{records: map[alerts.Category][]alerts.RawRecord{
		alerts.CategoryPhishing: {
			row("2024-01-10", "11:59:59", "alto", nil),
			row("2024-01-10", "12:00:00", "alto", nil),
			row("2024-01-09", "12:00:00", "alto", nil),
			row("2024-01-09", "11:59:59", "alto", nil),
		},
	}}
	u := New(schema.DefaultRegistry(), store)

	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	window := alerts.Recent(now, 24*time.Hour)
	stream, err := u.Unify(context.Background(), []alerts.Category{alerts.CategoryPhishing}, &window)
	require.NoError(t, err)

	events, err := Collect(stream)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 4, stream.Len())
	require.Len(t, store.windows, 1)
	assert.Equal(t, &window, store.windows[0])
}

func TestUnify_ProjectionFailureSurfaces(t *testing.T) {
	store := &fakeStore{records: map[alerts.Category][]alerts.RawRecord{
		alerts.CategoryPhishing: {row("not-a-date", "10:00", "alto", nil)},
	}}
	u := New(schema.DefaultRegistry(), store)

	stream, err := u.Unify(context.Background(), []alerts.Category{alerts.CategoryPhishing}, nil)
	require.NoError(t, err)

	_, err = Collect(stream)
	assert.Equal(t, alerts.KindPartialData, alerts.KindOf(err))
}

type recordingObserver struct {
	categories []alerts.Category
	records    int
}

func (o *recordingObserver) ObserveFetch(cat alerts.Category, _ time.Duration, n int, _ error) {
	o.categories = append(o.categories, cat)
	o.records += n
}

func TestUnify_Observer(t *testing.T) {
	store := &fakeStore{records: map[alerts.Category][]alerts.RawRecord{
		alerts.CategoryPhishing: {row("2024-01-01", "10:00", "alto", nil)},
	}}
	obs := &recordingObserver{}
	u := New(schema.DefaultRegistry(), store, WithObserver(obs))

	_, err := u.Unify(context.Background(), allCategories(), nil)
	require.NoError(t, err)
	assert.Len(t, obs.categories, 5)
	assert.Equal(t, 1, obs.records)
}

// =============================================================================
// Projection Tests
// =============================================================================

func TestProject_MidnightDefault(t *testing.T) {
	desc, _ := schema.DefaultRegistry().Describe(alerts.CategoryPhishing)

	ev, err := Project(desc, row("2024-03-05", "", "medio", nil), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), ev.OccurredAt)
	assert.False(t, ev.HasTimeOfDay)
	assert.Equal(t, alerts.SeverityMedium, ev.Severity)
}

func TestProject_DateAndTimeValues(t *testing.T) {
	desc, _ := schema.DefaultRegistry().Describe(alerts.CategoryBruteForce)
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	rec := alerts.RawRecord{
		"fecha":       time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		"hora":        []byte("14:25:10"),
		"riesgo":      "CRÍTICA",
		"codigo_pais": "es",
		"ip":          " 192.0.2.7 ",
		"id_cliente":  int32(42),
		"id_tipo":     "3",
	}

	ev, err := Project(desc, rec, madrid)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 14, 25, 10, 0, madrid), ev.OccurredAt)
	assert.True(t, ev.HasTimeOfDay)
	assert.Equal(t, alerts.SeverityCritical, ev.Severity)
	assert.Equal(t, "ES", ev.CountryCode)
	assert.Equal(t, "192.0.2.7", ev.SourceIP)
	assert.Equal(t, "42", ev.ClientID)
	assert.True(t, ev.HasAttackTypeID)
	assert.Equal(t, int64(3), ev.AttackTypeID)
}

// TestProject_DSTTransitionDays verifies a stored time of day keeps its
// wall-clock hour on the days the zone changes offset.
func TestProject_DSTTransitionDays(t *testing.T) {
	desc, _ := schema.DefaultRegistry().Describe(alerts.CategoryPhishing)
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	tests := []struct {
		name string
		date string
	}{
		{"winter", "2024-01-01"},
		{"spring forward", "2024-03-31"},
		{"fall back", "2024-10-27"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Project(desc, row(tt.date, "10:00:00", "alto", nil), madrid)
			require.NoError(t, err)
			local := ev.OccurredAt.In(madrid)
			assert.Equal(t, 10, local.Hour())
			assert.Equal(t, 0, local.Minute())
			assert.Equal(t, tt.date, local.Format("2006-01-02"))
		})
	}
}

// TestProject_AbsentFields verifies a category without country or IP yields
// empty values rather than an error.
func TestProject_AbsentFields(t *testing.T) {
	desc, _ := schema.DefaultRegistry().Describe(alerts.CategoryPhishing)

	rec := row("2024-01-01", "08:00", "", nil)
	rec["id_cliente"] = nil
	rec["id_tipo"] = nil

	ev, err := Project(desc, rec, time.UTC)
	require.NoError(t, err)
	assert.Empty(t, ev.CountryCode)
	assert.Empty(t, ev.SourceIP)
	assert.Empty(t, ev.ClientID)
	assert.False(t, ev.HasAttackTypeID)
	assert.Equal(t, alerts.SeverityUnknown, ev.Severity)
}

func TestProject_TimestampColumn(t *testing.T) {
	desc := schema.SourceDescriptor{
		Category: "malware",
		Table:    "alertas_malware",
		Fields:   schema.Fields{Timestamp: "detectado_en", Severity: "nivel"},
	}

	ev, err := Project(desc, alerts.RawRecord{"detectado_en": "2024-02-01 09:15:00", "nivel": int64(2)}, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 9, 15, 0, 0, time.UTC), ev.OccurredAt)
	assert.Equal(t, alerts.SeverityMedium, ev.Severity)
}

// TestProject_TimestampLocation verifies naive timestamp columns are read in
// the storage location while zoned columns keep their instant.
func TestProject_TimestampLocation(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	stored := time.Date(2024, 2, 1, 9, 15, 0, 0, time.UTC)

	naive := schema.SourceDescriptor{
		Category: "malware",
		Table:    "alertas_malware",
		Fields:   schema.Fields{Timestamp: "detectado_en"},
	}
	ev, err := Project(naive, alerts.RawRecord{"detectado_en": stored}, madrid)
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 2, 1, 9, 15, 0, 0, madrid).Equal(ev.OccurredAt))

	ev, err = Project(naive, alerts.RawRecord{"detectado_en": "2024-02-01 09:15:00"}, madrid)
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 2, 1, 9, 15, 0, 0, madrid).Equal(ev.OccurredAt))

	zoned := naive
	zoned.Fields.TimestampZoned = true
	ev, err = Project(zoned, alerts.RawRecord{"detectado_en": stored}, madrid)
	require.NoError(t, err)
	assert.True(t, stored.Equal(ev.OccurredAt))
}

func TestProject_PartialData(t *testing.T) {
	desc, _ := schema.DefaultRegistry().Describe(alerts.CategoryDoS)
	base := func() alerts.RawRecord {
		return row("2024-01-01", "10:00", "alto", map[string]any{"codigo_pais": "FR", "ip": "10.0.0.1"})
	}

	tests := []struct {
		name   string
		mutate func(alerts.RawRecord)
	}{
		{"missing column", func(r alerts.RawRecord) { delete(r, "codigo_pais") }},
		{"null date", func(r alerts.RawRecord) { r["fecha"] = nil }},
		{"bad date", func(r alerts.RawRecord) { r["fecha"] = "yesterday" }},
		{"bad time", func(r alerts.RawRecord) { r["hora"] = "noon" }},
		{"bad attack type", func(r alerts.RawRecord) { r["id_tipo"] = "ddos" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := base()
			tt.mutate(rec)
			_, err := Project(desc, rec, time.UTC)
			require.Error(t, err)
			assert.Equal(t, alerts.KindPartialData, alerts.KindOf(err))
		})
	}
}
