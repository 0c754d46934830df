// Package repository provides read-only access to the alert tables in
// PostgreSQL. Every dashboard call reads through one read-only,
// repeatable-read transaction that is always rolled back, so the pooled
// connection is returned on every exit path.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatboard/internal/alerts"
	"github.com/lvonguyen/threatboard/internal/alerts/schema"
	"github.com/lvonguyen/threatboard/internal/alerts/unification"
)

// Supported database/sql driver names.
const (
	DriverPGX      = "pgx"
	DriverPostgres = "postgres"
)

// Default attack-type dimension table and columns.
const (
	DefaultAttackTypesTable = "public.tipos_ataques"
	attackTypeIDColumn      = "id_tipo"
	attackTypeLabelColumn   = "descripcion"
)

// Config holds store settings.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// QueryTimeout bounds each category fetch. Zero disables the bound.
	QueryTimeout time.Duration

	// Location is the zone naive DATE/TIME columns are written in.
	Location *time.Location

	AttackTypesTable string
}

// Store is a read-only alert store backed by *sql.DB.
type Store struct {
	db     *sql.DB
	cfg    Config
	logger *zap.Logger
}

// Open opens the pool and verifies connectivity with Ping.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverPGX
	}
	if cfg.Driver != DriverPGX && cfg.Driver != DriverPostgres {
		return nil, alerts.Configurationf("storage: unsupported driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, alerts.Configurationf("storage: dsn is required")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, alerts.Configurationf("storage: open %s: %v", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := New(db, cfg, logger)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.Info("Storage connected",
		zap.String("driver", cfg.Driver),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Duration("query_timeout", cfg.QueryTimeout),
	)
	return s, nil
}

// New wraps an existing pool.
func New(db *sql.DB, cfg Config, logger *zap.Logger) *Store {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.AttackTypesTable == "" {
		cfg.AttackTypesTable = DefaultAttackTypesTable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, cfg: cfg, logger: logger}
}

// View runs fn inside a read-only repeatable-read transaction. The
// transaction is rolled back when View returns; nothing is ever committed.
func (s *Store) View(ctx context.Context, fn func(unification.Reader) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return classify(err, "begin read-only transaction")
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Debug("Rollback failed", zap.Error(rbErr))
		}
	}()

	return fn(&txReader{tx: tx, store: s})
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify(err, "ping")
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// AttackTypes loads the attack-type dimension: id to description.
func (s *Store) AttackTypes(ctx context.Context) (map[int64]string, error) {
	if !schema.ValidTable(s.cfg.AttackTypesTable) {
		return nil, alerts.Configurationf("storage: invalid attack types table %q", s.cfg.AttackTypesTable)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := "SELECT " + quoteIdent(attackTypeIDColumn) + ", " + quoteIdent(attackTypeLabelColumn) +
		" FROM " + quoteTable(s.cfg.AttackTypesTable)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(err, "query %s", s.cfg.AttackTypesTable)
	}
	defer rows.Close()

	labels := make(map[int64]string)
	for rows.Next() {
		var (
			id    int64
			label sql.NullString
		)
		if err := rows.Scan(&id, &label); err != nil {
			return nil, alerts.PartialData(err, "scan %s", s.cfg.AttackTypesTable)
		}
		if label.Valid {
			labels[id] = label.String
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "read %s", s.cfg.AttackTypesTable)
	}
	return labels, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.QueryTimeout)
}

type txReader struct {
	tx    *sql.Tx
	store *Store
}

// Fetch reads every row of desc's table, restricted to window when given.
func (r *txReader) Fetch(ctx context.Context, desc schema.SourceDescriptor, window *alerts.TimeWindow) ([]alerts.RawRecord, error) {
	query, args, err := buildSelect(desc, window, r.store.cfg.Location)
	if err != nil {
		return nil, err
	}

	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "query %s", desc.Table)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, classify(err, "read %s", desc.Table)
	}

	r.store.logger.Debug("Fetched category",
		zap.String("category", string(desc.Category)),
		zap.String("table", desc.Table),
		zap.Int("records", len(records)),
		zap.Bool("windowed", window != nil),
		zap.Duration("elapsed", time.Since(start)),
	)
	return records, nil
}
