package repository

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq" // registers "postgres"

	"github.com/lvonguyen/threatboard/internal/alerts"
)

// classify maps driver errors onto the alert error taxonomy.
func classify(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	if code := sqlState(err); code != "" {
		switch {
		case code == "42703" || code == "42P01":
			// undefined_column, undefined_table: descriptor drift
			return alerts.PartialData(err, format, args...)
		case strings.HasPrefix(code, "08"),
			strings.HasPrefix(code, "40"),
			strings.HasPrefix(code, "53"),
			strings.HasPrefix(code, "57P0"),
			code == "57014":
			// connection, transaction rollback, resources, shutdown, cancel
			return alerts.StorageUnavailable(err, format, args...)
		case strings.HasPrefix(code, "22"), strings.HasPrefix(code, "42"):
			// data exceptions, syntax and access rule violations
			return alerts.PartialData(err, format, args...)
		default:
			// The server answered; retrying the same statement cannot help.
			return errors.Wrapf(err, format, args...)
		}
	}

	if errors.Is(err, context.Canceled) {
		return errors.Wrapf(err, format, args...)
	}
	// Without a SQLSTATE: deadlines, driver.ErrBadConn and network failures.
	return alerts.StorageUnavailable(err, format, args...)
}

// sqlState extracts the SQLSTATE from either driver's error type.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
