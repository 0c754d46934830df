// Package schema holds the declarative per-category source descriptors. A
// descriptor maps the logical fields of an alert onto the raw columns of one
// category table; an empty column name means the category does not carry
// that field. Adding a category is adding a descriptor.
package schema

import (
	"regexp"
	"strings"

	"github.com/lvonguyen/threatboard/internal/alerts"
)

// Fields maps logical alert fields to raw column names.
type Fields struct {
	// Timestamp is a single timestamp column. When empty, OccurredAt is
	// derived from Date and the optional Time.
	Timestamp string `yaml:"timestamp" json:"timestamp,omitempty"`
	// TimestampZoned marks Timestamp as timestamptz. Otherwise it is naive
	// wall-clock time in the storage location, like Date and Time.
	TimestampZoned bool `yaml:"timestamp_zoned" json:"timestamp_zoned,omitempty"`

	Date      string `yaml:"date" json:"date,omitempty"`
	Time      string `yaml:"time" json:"time,omitempty"`

	Severity     string `yaml:"severity" json:"severity,omitempty"`
	CountryCode  string `yaml:"country_code" json:"country_code,omitempty"`
	SourceIP     string `yaml:"source_ip" json:"source_ip,omitempty"`
	ClientID     string `yaml:"client_id" json:"client_id,omitempty"`
	AttackTypeID string `yaml:"attack_type_id" json:"attack_type_id,omitempty"`
}

// SourceDescriptor describes one category table.
type SourceDescriptor struct {
	Category alerts.Category `yaml:"category" json:"category"`
	// Table may be schema-qualified ("public.alertas_dos").
	Table  string `yaml:"table" json:"table"`
	Fields Fields `yaml:"fields" json:"fields"`
}

// Columns returns the distinct raw columns the descriptor reads, in a fixed
// order, skipping absent fields.
func (d SourceDescriptor) Columns() []string {
	f := d.Fields
	candidates := []string{f.Timestamp, f.Date, f.Time, f.Severity, f.CountryCode, f.SourceIP, f.ClientID, f.AttackTypeID}

	cols := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		cols = append(cols, c)
	}
	return cols
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// ValidIdentifier reports whether s is a plain SQL identifier.
func ValidIdentifier(s string) bool {
	return identPattern.MatchString(s)
}

// ValidTable accepts "table" or "schema.table".
func ValidTable(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if !ValidIdentifier(p) {
			return false
		}
	}
	return true
}

// Validate checks the descriptor in isolation.
func (d SourceDescriptor) Validate() error {
	if strings.TrimSpace(string(d.Category)) == "" {
		return alerts.Configurationf("descriptor: category is required")
	}
	if !ValidTable(d.Table) {
		return alerts.Configurationf("descriptor %s: invalid table %q", d.Category, d.Table)
	}

	f := d.Fields
	if f.Timestamp == "" && f.Date == "" {
		return alerts.Configurationf("descriptor %s: occurred_at needs a timestamp or date column", d.Category)
	}
	if f.Time != "" && f.Date == "" {
		return alerts.Configurationf("descriptor %s: time column %q requires a date column", d.Category, f.Time)
	}
	if f.Timestamp != "" && f.Date != "" {
		return alerts.Configurationf("descriptor %s: timestamp and date columns are mutually exclusive", d.Category)
	}
	if f.TimestampZoned && f.Timestamp == "" {
		return alerts.Configurationf("descriptor %s: timestamp_zoned requires a timestamp column", d.Category)
	}

	named := map[string]string{
		"timestamp":      f.Timestamp,
		"date":           f.Date,
		"time":           f.Time,
		"severity":       f.Severity,
		"country_code":   f.CountryCode,
		"source_ip":      f.SourceIP,
		"client_id":      f.ClientID,
		"attack_type_id": f.AttackTypeID,
	}
	for field, col := range named {
		if col != "" && !ValidIdentifier(col) {
			return alerts.Configurationf("descriptor %s: invalid %s column %q", d.Category, field, col)
		}
	}
	return nil
}

// Registry is an immutable set of descriptors keyed by category.
type Registry struct {
	order []alerts.Category
	descs map[alerts.Category]SourceDescriptor
}

// NewRegistry validates descs and builds a registry. Categories must be
// unique.
func NewRegistry(descs ...SourceDescriptor) (*Registry, error) {
	r := &Registry{
		order: make([]alerts.Category, 0, len(descs)),
		descs: make(map[alerts.Category]SourceDescriptor, len(descs)),
	}
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.descs[d.Category]; dup {
			return nil, alerts.Configurationf("descriptor %s: duplicate category", d.Category)
		}
		r.order = append(r.order, d.Category)
		r.descs[d.Category] = d
	}
	return r, nil
}

// Describe returns the descriptor for category. Unknown categories are a
// configuration error.
func (r *Registry) Describe(category alerts.Category) (SourceDescriptor, error) {
	d, ok := r.descs[category]
	if !ok {
		return SourceDescriptor{}, alerts.Configurationf("unknown category %q", category)
	}
	return d, nil
}

// Categories returns every registered category in registration order.
func (r *Registry) Categories() []alerts.Category {
	out := make([]alerts.Category, len(r.order))
	copy(out, r.order)
	return out
}

// Merge returns the built-in descriptors with overrides applied: an override
// for an existing category replaces it in place, new categories are appended.
func Merge(base []SourceDescriptor, overrides []SourceDescriptor) []SourceDescriptor {
	out := make([]SourceDescriptor, len(base))
	copy(out, base)

	index := make(map[alerts.Category]int, len(out))
	for i, d := range out {
		index[d.Category] = i
	}
	for _, o := range overrides {
		if i, ok := index[o.Category]; ok {
			out[i] = o
			continue
		}
		index[o.Category] = len(out)
		out = append(out, o)
	}
	return out
}
