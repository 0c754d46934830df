// Package alerts defines the shared vocabulary of the alert aggregation
// engine: alert categories, raw and unified records, severity ordinals,
// recency windows and the error taxonomy.
//
// Subpackages build on it leaves-first: schema (per-category descriptors),
// unification (raw rows to UnifiedEvent), aggregation (reducers) and kpi
// (dashboard summary metrics).
package alerts

import (
	"time"
)

// Category names one alert source (one detection mechanism, one table).
type Category string

// Built-in alert categories.
const (
	CategoryPhishing        Category = "phishing"
	CategoryBruteForce      Category = "fuerza_bruta"
	CategoryDoS             Category = "dos"
	CategoryDDoS            Category = "ddos"
	CategorySuspiciousLogin Category = "login_sospechoso"
)

// RawRecord is one row of a category table keyed by raw column name.
// Values are whatever the SQL driver produced ([]byte already converted to
// string). The engine never writes these back.
type RawRecord map[string]any

// UnifiedEvent is the normalized, category-tagged form of one RawRecord.
// String fields are empty when the category does not carry the field or the
// row holds NULL.
type UnifiedEvent struct {
	Category   Category  `json:"category"`
	OccurredAt time.Time `json:"occurred_at"`

	// HasTimeOfDay is false when OccurredAt was derived from a date alone
	// and therefore sits at midnight.
	HasTimeOfDay bool `json:"has_time_of_day"`

	Severity    Severity `json:"severity"`
	CountryCode string   `json:"country_code,omitempty"`
	SourceIP    string   `json:"source_ip,omitempty"`
	ClientID    string   `json:"client_id,omitempty"`

	AttackTypeID    int64 `json:"attack_type_id,omitempty"`
	HasAttackTypeID bool  `json:"-"`
}

// TimeWindow is the half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Recent returns the rolling window [now-d, now). Callers capture now once
// per request so every reducer in that request sees the same bounds.
func Recent(now time.Time, d time.Duration) TimeWindow {
	return TimeWindow{Start: now.Add(-d), End: now}
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}
