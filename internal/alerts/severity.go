package alerts

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Severity is the ordinal severity of an alert: 1 (low) to 4 (critical).
// SeverityUnknown marks labels that could not be mapped; it never takes part
// in averages.
type Severity int

const (
	SeverityUnknown  Severity = 0
	SeverityLow      Severity = 1
	SeverityMedium   Severity = 2
	SeverityHigh     Severity = 3
	SeverityCritical Severity = 4
)

// severityLabels is keyed by folded label (lower case, no diacritics).
var severityLabels = map[string]Severity{
	"low":      SeverityLow,
	"bajo":     SeverityLow,
	"baja":     SeverityLow,
	"medium":   SeverityMedium,
	"medio":    SeverityMedium,
	"media":    SeverityMedium,
	"high":     SeverityHigh,
	"alto":     SeverityHigh,
	"alta":     SeverityHigh,
	"critical": SeverityCritical,
	"critico":  SeverityCritical,
	"critica":  SeverityCritical,
}

// ParseSeverity maps a stored severity label to its ordinal. Matching is
// case- and accent-insensitive, so "CRÍTICA", "Critica" and "critico" all
// yield SeverityCritical. Numeric labels "1" to "4" map directly.
func ParseSeverity(label string) Severity {
	folded := foldLabel(label)
	if folded == "" {
		return SeverityUnknown
	}
	if s, ok := severityLabels[folded]; ok {
		return s
	}
	if n, err := strconv.Atoi(folded); err == nil {
		if s := Severity(n); s >= SeverityLow && s <= SeverityCritical {
			return s
		}
	}
	return SeverityUnknown
}

// Known reports whether s is one of the four ordinals.
func (s Severity) Known() bool {
	return s >= SeverityLow && s <= SeverityCritical
}

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// foldLabel strips combining marks and case-folds. Transformers and casers
// carry state, so they are built per call.
func foldLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, label)
	if err != nil {
		stripped = label
	}
	return cases.Fold().String(stripped)
}
