// Package kpi composes the dashboard summary metrics from one event stream.
package kpi

import (
	"time"

	"github.com/lvonguyen/threatboard/internal/alerts"
	"github.com/lvonguyen/threatboard/internal/alerts/aggregation"
)

// RiskLevel is the qualitative risk derived from the composite severity.
type RiskLevel string

const (
	RiskUnknown  RiskLevel = "unknown"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Classification thresholds on the mean severity ordinal.
const (
	lowBelow    = 1.5
	mediumBelow = 2.5
	highBelow   = 3.5
)

// RecentWindow is the span of the Last24h KPI.
const RecentWindow = 24 * time.Hour

// Bundle is the KPI summary. JSON names are the ones dashboard clients
// already consume.
type Bundle struct {
	TotalAlerts     int       `json:"total_alertas"`
	Last24h         int       `json:"ultimas_24h"`
	RiskLevel       RiskLevel `json:"nivel_riesgo"`
	AffectedClients int       `json:"clientes_afectados"`

	// AverageSeverity is nil when no event had a known severity.
	AverageSeverity *float64 `json:"severidad_promedio,omitempty"`
}

// Classify maps a composite score to a risk level. ok=false means the score
// is undefined.
func Classify(score float64, ok bool) RiskLevel {
	switch {
	case !ok:
		return RiskUnknown
	case score < lowBelow:
		return RiskLow
	case score < mediumBelow:
		return RiskMedium
	case score < highBelow:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// Compose reads src once and derives every KPI from that single pass, so
// TotalAlerts always matches the category breakdown of the same stream.
func Compose(src aggregation.Source, now time.Time) (Bundle, error) {
	total := &aggregation.Counter{}
	recent := &aggregation.Counter{}
	score := &aggregation.CompositeScore{}
	clients := aggregation.NewDistinctCount(aggregation.ByClient)

	err := aggregation.Drain(src,
		total,
		aggregation.RecencyFilter(alerts.Recent(now, RecentWindow), recent),
		score,
		clients,
	)
	if err != nil {
		return Bundle{}, err
	}

	avg, ok := score.Result()
	b := Bundle{
		TotalAlerts:     total.Result(),
		Last24h:         recent.Result(),
		RiskLevel:       Classify(avg, ok),
		AffectedClients: clients.Result(),
	}
	if ok {
		b.AverageSeverity = &avg
	}
	return b, nil
}
