package repository

import (
	"database/sql"
	"strings"
	"time"

	"github.com/lvonguyen/threatboard/internal/alerts"
	"github.com/lvonguyen/threatboard/internal/alerts/schema"
)

// naiveLayout renders window bounds as wall-clock timestamps for comparison
// against DATE + TIME columns.
const naiveLayout = "2006-01-02 15:04:05.999999"

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteTable(s string) string {
	parts := strings.Split(s, ".")
	for i, p := range parts {
		parts[i] = quoteIdent(p)
	}
	return strings.Join(parts, ".")
}

// occurredExpr returns the SQL expression of the occurrence timestamp and
// whether it is naive (compared against wall-clock strings).
func occurredExpr(f schema.Fields) (string, bool) {
	if f.Timestamp != "" {
		return quoteIdent(f.Timestamp), !f.TimestampZoned
	}
	if f.Time == "" {
		return "CAST(" + quoteIdent(f.Date) + " AS timestamp)", true
	}
	return "(CAST(" + quoteIdent(f.Date) + " AS timestamp) + COALESCE(" + quoteIdent(f.Time) + ", TIME '00:00'))", true
}

// buildSelect renders the category query. Identifiers are validated by the
// descriptor registry and quoted here; window bounds are bind parameters.
func buildSelect(desc schema.SourceDescriptor, window *alerts.TimeWindow, loc *time.Location) (string, []any, error) {
	if err := desc.Validate(); err != nil {
		return "", nil, err
	}
	cols := desc.Columns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString(" FROM ")
	b.WriteString(quoteTable(desc.Table))

	if window == nil {
		return b.String(), nil, nil
	}

	expr, naive := occurredExpr(desc.Fields)
	var args []any
	if naive {
		b.WriteString(" WHERE " + expr + " >= $1::timestamp AND " + expr + " < $2::timestamp")
		args = []any{
			window.Start.In(loc).Format(naiveLayout),
			window.End.In(loc).Format(naiveLayout),
		}
	} else {
		b.WriteString(" WHERE " + expr + " >= $1 AND " + expr + " < $2")
		args = []any{window.Start, window.End}
	}
	return b.String(), args, nil
}

// scanRecords reads rows into column-keyed maps. []byte values become
// strings so downstream projection sees one representation per driver.
func scanRecords(rows *sql.Rows) ([]alerts.RawRecord, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	records := make([]alerts.RawRecord, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		for i := range values {
			var v any
			values[i] = &v
		}
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}
		rec := make(alerts.RawRecord, len(cols))
		for i, col := range cols {
			rec[col] = normalizeValue(*(values[i].(*any)))
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	default:
		return t
	}
}
