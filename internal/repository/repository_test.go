package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvonguyen/threatboard/internal/alerts"
	"github.com/lvonguyen/threatboard/internal/alerts/schema"
	"github.com/lvonguyen/threatboard/internal/alerts/unification"
)

const phishingSelect = `SELECT "fecha", "hora", "riesgo", "id_cliente", "id_tipo" FROM "public"."alertas_phishing"`

func newMockStore(t *testing.T, cfg Config) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, cfg, nil), mock
}

func describe(t *testing.T, cat alerts.Category) schema.SourceDescriptor {
	t.Helper()
	d, err := schema.DefaultRegistry().Describe(cat)
	require.NoError(t, err)
	return d
}

// =============================================================================
// Query Building Tests
// =============================================================================

func TestBuildSelect(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	window := alerts.Recent(now, 24*time.Hour)

	t.Run("no window", func(t *testing.T) {
		q, args, err := buildSelect(describe(t, alerts.CategoryPhishing), nil, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, phishingSelect, q)
		assert.Empty(t, args)
	})

	t.Run("date and time window", func(t *testing.T) {
		q, args, err := buildSelect(describe(t, alerts.CategorySuspiciousLogin), &window, madrid)
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT "fecha", "hora", "riesgo", "pais", "ip", "id_cliente", "id_tipo" FROM "public"."alertas_login_sospechoso"`+
				` WHERE (CAST("fecha" AS timestamp) + COALESCE("hora", TIME '00:00')) >= $1::timestamp`+
				` AND (CAST("fecha" AS timestamp) + COALESCE("hora", TIME '00:00')) < $2::timestamp`,
			q)
		assert.Equal(t, []any{"2024-01-09 13:00:00", "2024-01-10 13:00:00"}, args)
	})

	t.Run("naive timestamp window", func(t *testing.T) {
		desc := schema.SourceDescriptor{Category: "malware", Table: "alertas_malware", Fields: schema.Fields{Timestamp: "detectado_en"}}
		q, args, err := buildSelect(desc, &window, madrid)
		require.NoError(t, err)
		assert.Equal(t, `SELECT "detectado_en" FROM "alertas_malware" WHERE "detectado_en" >= $1::timestamp AND "detectado_en" < $2::timestamp`, q)
		assert.Equal(t, []any{"2024-01-09 13:00:00", "2024-01-10 13:00:00"}, args)
	})

	t.Run("zoned timestamp window", func(t *testing.T) {
		desc := schema.SourceDescriptor{Category: "malware", Table: "alertas_malware", Fields: schema.Fields{Timestamp: "detectado_en", TimestampZoned: true}}
		q, args, err := buildSelect(desc, &window, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, `SELECT "detectado_en" FROM "alertas_malware" WHERE "detectado_en" >= $1 AND "detectado_en" < $2`, q)
		assert.Equal(t, []any{window.Start, window.End}, args)
	})

	t.Run("invalid descriptor", func(t *testing.T) {
		desc := schema.SourceDescriptor{Category: "x", Table: `t"; drop table x; --`, Fields: schema.Fields{Date: "d"}}
		_, _, err := buildSelect(desc, nil, time.UTC)
		assert.Equal(t, alerts.KindConfiguration, alerts.KindOf(err))
	})
}

// =============================================================================
// View / Fetch Tests
// =============================================================================

// TestView_FetchAndRollback verifies rows are scanned into records and the
// read-only transaction is rolled back, never committed.
func TestView_FetchAndRollback(t *testing.T) {
	store, mock := newMockStore(t, Config{})

	mock.ExpectBegin()
	mock.ExpectQuery(phishingSelect).WillReturnRows(
		sqlmock.NewRows([]string{"fecha", "hora", "riesgo", "id_cliente", "id_tipo"}).
			AddRow("2024-01-01", []byte("10:00:00"), "alto", int64(7), int64(1)).
			AddRow("2024-01-02", nil, "bajo", nil, nil),
	)
	mock.ExpectRollback()

	var records []alerts.RawRecord
	err := store.View(context.Background(), func(r unification.Reader) error {
		var err error
		records, err = r.Fetch(context.Background(), describe(t, alerts.CategoryPhishing), nil)
		return err
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "10:00:00", records[0]["hora"], "[]byte normalized to string")
	assert.Nil(t, records[1]["hora"])
	assert.Equal(t, "alto", records[0]["riesgo"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestView_EmptyTable(t *testing.T) {
	store, mock := newMockStore(t, Config{})

	mock.ExpectBegin()
	mock.ExpectQuery(phishingSelect).WillReturnRows(
		sqlmock.NewRows([]string{"fecha", "hora", "riesgo", "id_cliente", "id_tipo"}),
	)
	mock.ExpectRollback()

	err := store.View(context.Background(), func(r unification.Reader) error {
		records, err := r.Fetch(context.Background(), describe(t, alerts.CategoryPhishing), nil)
		assert.NotNil(t, records)
		assert.Empty(t, records)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestView_RollbackOnFailure verifies the connection is released when a
// fetch fails.
func TestView_RollbackOnFailure(t *testing.T) {
	store, mock := newMockStore(t, Config{})

	mock.ExpectBegin()
	mock.ExpectQuery(phishingSelect).WillReturnError(&pgconn.PgError{Code: "42P01", Message: "relation does not exist"})
	mock.ExpectRollback()

	err := store.View(context.Background(), func(r unification.Reader) error {
		_, err := r.Fetch(context.Background(), describe(t, alerts.CategoryPhishing), nil)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, alerts.KindPartialData, alerts.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestView_BeginFailure(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	mock.ExpectBegin().WillReturnError(&pq.Error{Code: "08006"})

	called := false
	err := store.View(context.Background(), func(unification.Reader) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, alerts.IsRetryable(err))
}

func TestFetch_WindowArgs(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	window := alerts.Recent(now, 24*time.Hour)

	q, _, err := buildSelect(describe(t, alerts.CategoryPhishing), &window, time.UTC)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(q).
		WithArgs("2024-01-09 12:00:00", "2024-01-10 12:00:00").
		WillReturnRows(sqlmock.NewRows([]string{"fecha", "hora", "riesgo", "id_cliente", "id_tipo"}))
	mock.ExpectRollback()

	err = store.View(context.Background(), func(r unification.Reader) error {
		_, err := r.Fetch(context.Background(), describe(t, alerts.CategoryPhishing), &window)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// Attack Types Tests
// =============================================================================

func TestAttackTypes(t *testing.T) {
	store, mock := newMockStore(t, Config{})

	mock.ExpectQuery(`SELECT "id_tipo", "descripcion" FROM "public"."tipos_ataques"`).WillReturnRows(
		sqlmock.NewRows([]string{"id_tipo", "descripcion"}).
			AddRow(int64(1), "Spear phishing").
			AddRow(int64(2), nil),
	)

	labels, err := store.AttackTypes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{1: "Spear phishing"}, labels)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttackTypes_InvalidTable(t *testing.T) {
	store, _ := newMockStore(t, Config{AttackTypesTable: "a.b.c"})

	_, err := store.AttackTypes(context.Background())
	assert.Equal(t, alerts.KindConfiguration, alerts.KindOf(err))
}

// =============================================================================
// Classification Tests
// =============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      alerts.Kind
		retryable bool
	}{
		{"undefined column", &pgconn.PgError{Code: "42703"}, alerts.KindPartialData, false},
		{"undefined table pq", &pq.Error{Code: "42P01"}, alerts.KindPartialData, false},
		{"permission denied", &pgconn.PgError{Code: "42501"}, alerts.KindPartialData, false},
		{"syntax error", &pq.Error{Code: "42601"}, alerts.KindPartialData, false},
		{"undefined function", &pgconn.PgError{Code: "42883"}, alerts.KindPartialData, false},
		{"invalid datetime", &pgconn.PgError{Code: "22007"}, alerts.KindPartialData, false},
		{"server internal error", &pgconn.PgError{Code: "XX000"}, alerts.KindInternal, false},
		{"connection failure", &pgconn.PgError{Code: "08006"}, alerts.KindStorageUnavailable, true},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, alerts.KindStorageUnavailable, true},
		{"too many connections", &pq.Error{Code: "53300"}, alerts.KindStorageUnavailable, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, alerts.KindStorageUnavailable, true},
		{"statement timeout", &pq.Error{Code: "57014"}, alerts.KindStorageUnavailable, true},
		{"deadline", context.DeadlineExceeded, alerts.KindStorageUnavailable, true},
		{"canceled", context.Canceled, alerts.KindCanceled, false},
		{"bad connection", errors.New("driver: bad connection"), alerts.KindStorageUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err, "fetch")
			assert.Equal(t, tt.want, alerts.KindOf(err))
			assert.Equal(t, tt.retryable, alerts.IsRetryable(err))
		})
	}
	assert.NoError(t, classify(nil, "noop"))
}

func TestOpen_RejectsBadConfig(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql", DSN: "x"}, nil)
	assert.Equal(t, alerts.KindConfiguration, alerts.KindOf(err))

	_, err = Open(context.Background(), Config{Driver: DriverPGX}, nil)
	assert.Equal(t, alerts.KindConfiguration, alerts.KindOf(err))
}
