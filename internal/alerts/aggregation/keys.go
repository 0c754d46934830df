package aggregation

import (
	"fmt"

	"github.com/lvonguyen/threatboard/internal/alerts"
)

// Key functions. Each reports false when the event does not carry the field.

// ByCategory keys by alert category.
func ByCategory(ev alerts.UnifiedEvent) (alerts.Category, bool) {
	return ev.Category, ev.Category != ""
}

// ByCountry keys by ISO country code. Categories without a country field
// are absent.
func ByCountry(ev alerts.UnifiedEvent) (string, bool) {
	return ev.CountryCode, ev.CountryCode != ""
}

// BySourceIP keys by normalized source address.
func BySourceIP(ev alerts.UnifiedEvent) (string, bool) {
	return ev.SourceIP, ev.SourceIP != ""
}

// ByClient keys by client id; NULL ids are absent.
func ByClient(ev alerts.UnifiedEvent) (string, bool) {
	return ev.ClientID, ev.ClientID != ""
}

// ByAttackType keys by attack-type id.
func ByAttackType(ev alerts.UnifiedEvent) (int64, bool) {
	return ev.AttackTypeID, ev.HasAttackTypeID
}

// Bucket functions. Buckets use the wall clock of OccurredAt's location.

// HourOfDay buckets by hour 0-23. Events recorded with a date only sit at
// midnight and land in hour 0.
func HourOfDay(ev alerts.UnifiedEvent) int {
	return ev.OccurredAt.Hour()
}

// Day buckets by calendar date, "2006-01-02". Keys sort chronologically.
func Day(ev alerts.UnifiedEvent) string {
	return ev.OccurredAt.Format("2006-01-02")
}

// HourLabel buckets by "HH:00".
func HourLabel(ev alerts.UnifiedEvent) string {
	return fmt.Sprintf("%02d:00", ev.OccurredAt.Hour())
}
