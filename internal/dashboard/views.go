package dashboard

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/lvonguyen/threatboard/internal/alerts"
	"github.com/lvonguyen/threatboard/internal/alerts/aggregation"
	"github.com/lvonguyen/threatboard/internal/alerts/kpi"
)

// View names, used for metrics, spans and logs.
const (
	ViewCategoryBreakdown   = "category_breakdown"
	ViewHourlyBreakdown     = "hourly_breakdown"
	ViewDailyBreakdown      = "daily_breakdown"
	ViewGeographicBreakdown = "geographic_breakdown"
	ViewLast7DaysTrend      = "last_7_days_trend"
	ViewTopSourceIPs        = "top_source_ips"
	ViewKPIs                = "kpis"
	ViewLast24hHourly       = "last_24h_hourly"
	ViewAttackTypeBreakdown = "attack_type_breakdown"
)

const (
	trendWindow  = 7 * 24 * time.Hour
	recentWindow = kpi.RecentWindow
)

// NameValue is one slice of a breakdown chart.
type NameValue struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// HourCount is one hour-of-day bucket.
type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// DateCount is one calendar-day bucket.
type DateCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// CountryCount is one country bucket.
type CountryCount struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

// DateTotal is one day of the trend chart.
type DateTotal struct {
	Fecha string `json:"fecha"`
	Total int    `json:"total"`
}

// IPCount is one source IP ranking entry.
type IPCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// HourLabelTotal is one "HH:00" bucket of the last-24h chart.
type HourLabelTotal struct {
	Hora  string `json:"hora"`
	Total int    `json:"total"`
}

// CategoryBreakdown counts alerts per category.
func (s *Service) CategoryBreakdown(ctx context.Context) ([]NameValue, error) {
	var out []NameValue
	err := s.run(ctx, ViewCategoryBreakdown, func(ctx context.Context, _ time.Time) (int, error) {
		stream, err := s.unify(ctx, nil)
		if err != nil {
			return 0, err
		}
		counts, err := aggregation.CountBy(stream, aggregation.ByCategory)
		if err != nil {
			return 0, err
		}
		out = make([]NameValue, 0, len(counts))
		for _, kc := range counts {
			out = append(out, NameValue{Name: string(kc.Key), Value: kc.Count})
		}
		return stream.Len(), nil
	})
	return out, err
}

// HourlyBreakdown counts alerts per hour of day. Alerts stored without a
// time of day count toward hour 0.
func (s *Service) HourlyBreakdown(ctx context.Context) ([]HourCount, error) {
	var out []HourCount
	err := s.run(ctx, ViewHourlyBreakdown, func(ctx context.Context, _ time.Time) (int, error) {
		stream, err := s.unify(ctx, nil)
		if err != nil {
			return 0, err
		}
		buckets, err := aggregation.Histogram(stream, aggregation.HourOfDay, true)
		if err != nil {
			return 0, err
		}
		out = make([]HourCount, 0, len(buckets))
		for _, b := range buckets {
			out = append(out, HourCount{Hour: b.Key, Count: b.Count})
		}
		return stream.Len(), nil
	})
	return out, err
}

// DailyBreakdown counts alerts per calendar day.
func (s *Service) DailyBreakdown(ctx context.Context) ([]DateCount, error) {
	var out []DateCount
	err := s.run(ctx, ViewDailyBreakdown, func(ctx context.Context, _ time.Time) (int, error) {
		stream, err := s.unify(ctx, nil)
		if err != nil {
			return 0, err
		}
		buckets, err := aggregation.Histogram(stream, aggregation.Day, true)
		if err != nil {
			return 0, err
		}
		out = make([]DateCount, 0, len(buckets))
		for _, b := range buckets {
			out = append(out, DateCount{Date: b.Key, Count: b.Count})
		}
		return stream.Len(), nil
	})
	return out, err
}

// GeographicBreakdown counts alerts per country. Categories without a
// country field contribute nothing.
func (s *Service) GeographicBreakdown(ctx context.Context) ([]CountryCount, error) {
	var out []CountryCount
	err := s.run(ctx, ViewGeographicBreakdown, func(ctx context.Context, _ time.Time) (int, error) {
		stream, err := s.unify(ctx, nil)
		if err != nil {
			return 0, err
		}
		counts, err := aggregation.CountBy(stream, aggregation.ByCountry)
		if err != nil {
			return 0, err
		}
		out = make([]CountryCount, 0, len(counts))
		for _, kc := range counts {
			out = append(out, CountryCount{Country: kc.Key, Count: kc.Count})
		}
		return stream.Len(), nil
	})
	return out, err
}

// Last7DaysTrend counts alerts per day over the rolling window
// [now-7d, now).
func (s *Service) Last7DaysTrend(ctx context.Context) ([]DateTotal, error) {
	var out []DateTotal
	err := s.run(ctx, ViewLast7DaysTrend, func(ctx context.Context, now time.Time) (int, error) {
		window := alerts.Recent(now, trendWindow)
		stream, err := s.unify(ctx, &window)
		if err != nil {
			return 0, err
		}
		buckets, err := aggregation.Histogram(stream, aggregation.Day, true)
		if err != nil {
			return 0, err
		}
		out = make([]DateTotal, 0, len(buckets))
		for _, b := range buckets {
			out = append(out, DateTotal{Fecha: b.Key, Total: b.Count})
		}
		return stream.Len(), nil
	})
	return out, err
}

// TopSourceIPs ranks source IPs by alert count. Alerts without an IP are
// excluded.
func (s *Service) TopSourceIPs(ctx context.Context) ([]IPCount, error) {
	var out []IPCount
	err := s.run(ctx, ViewTopSourceIPs, func(ctx context.Context, _ time.Time) (int, error) {
		stream, err := s.unify(ctx, nil)
		if err != nil {
			return 0, err
		}
		top, err := aggregation.Top(stream, aggregation.BySourceIP, s.cfg.TopN, true)
		if err != nil {
			return 0, err
		}
		out = make([]IPCount, 0, len(top))
		for _, kc := range top {
			out = append(out, IPCount{IP: kc.Key, Count: kc.Count})
		}
		return stream.Len(), nil
	})
	return out, err
}

// KPIs computes the summary bundle from a single pass over every category.
func (s *Service) KPIs(ctx context.Context) (kpi.Bundle, error) {
	var out kpi.Bundle
	err := s.run(ctx, ViewKPIs, func(ctx context.Context, now time.Time) (int, error) {
		stream, err := s.unify(ctx, nil)
		if err != nil {
			return 0, err
		}
		b, err := kpi.Compose(stream, now)
		if err != nil {
			return 0, err
		}
		out = b
		return stream.Len(), nil
	})
	return out, err
}

// Last24hHourly counts alerts of the rolling last 24 hours per "HH:00".
func (s *Service) Last24hHourly(ctx context.Context) ([]HourLabelTotal, error) {
	var out []HourLabelTotal
	err := s.run(ctx, ViewLast24hHourly, func(ctx context.Context, now time.Time) (int, error) {
		window := alerts.Recent(now, recentWindow)
		stream, err := s.unify(ctx, &window)
		if err != nil {
			return 0, err
		}
		buckets, err := aggregation.Histogram(stream, aggregation.HourLabel, true)
		if err != nil {
			return 0, err
		}
		out = make([]HourLabelTotal, 0, len(buckets))
		for _, b := range buckets {
			out = append(out, HourLabelTotal{Hora: b.Key, Total: b.Count})
		}
		return stream.Len(), nil
	})
	return out, err
}

// AttackTypeBreakdown counts alerts per attack type, labelled from the
// attack-type dimension. Ids missing from the dimension are labelled
// "tipo_<id>".
func (s *Service) AttackTypeBreakdown(ctx context.Context) ([]NameValue, error) {
	var out []NameValue
	err := s.run(ctx, ViewAttackTypeBreakdown, func(ctx context.Context, _ time.Time) (int, error) {
		stream, err := s.unify(ctx, nil)
		if err != nil {
			return 0, err
		}
		counts, err := aggregation.CountBy(stream, aggregation.ByAttackType)
		if err != nil {
			return 0, err
		}

		labels := map[int64]string{}
		if s.types != nil && len(counts) > 0 {
			if labels, err = s.types.AttackTypes(ctx); err != nil {
				return 0, err
			}
		}

		// Ids sharing a description are one slice of the chart.
		out = make([]NameValue, 0, len(counts))
		index := make(map[string]int, len(counts))
		for _, kc := range counts {
			name, ok := labels[kc.Key]
			if !ok {
				name = "tipo_" + strconv.FormatInt(kc.Key, 10)
			}
			if i, seen := index[name]; seen {
				out[i].Value += kc.Count
				continue
			}
			index[name] = len(out)
			out = append(out, NameValue{Name: name, Value: kc.Count})
		}
		slices.SortFunc(out, func(a, b NameValue) int {
			if c := cmp.Compare(b.Value, a.Value); c != 0 {
				return c
			}
			return cmp.Compare(a.Name, b.Name)
		})
		return stream.Len(), nil
	})
	return out, err
}
