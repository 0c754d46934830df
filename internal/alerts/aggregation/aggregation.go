// Package aggregation provides the reducers the dashboard views are composed
// of. Reducers are accumulators: Drain feeds every event of a stream to all
// of them in a single pass, so several views over one stream stay consistent.
package aggregation

import (
	"cmp"
	"slices"

	"github.com/lvonguyen/threatboard/internal/alerts"
)

// Source is a single-pass event sequence. *unification.Stream satisfies it.
type Source interface {
	Next() bool
	Event() alerts.UnifiedEvent
	Err() error
}

// Reducer accumulates events.
type Reducer interface {
	Add(ev alerts.UnifiedEvent)
}

// Drain feeds every event of src to each reducer and returns the stream
// error, if any. Reducer results are meaningless when Drain fails.
func Drain(src Source, reducers ...Reducer) error {
	for src.Next() {
		ev := src.Event()
		for _, r := range reducers {
			r.Add(ev)
		}
	}
	return src.Err()
}

// KeyCount pairs a key with the number of events carrying it.
type KeyCount[K cmp.Ordered] struct {
	Key   K
	Count int
}

// Bucket is one non-empty histogram bucket.
type Bucket[K cmp.Ordered] struct {
	Key   K
	Count int
}

// =============================================================================
// Count
// =============================================================================

// Counter counts events.
type Counter struct {
	n int
}

func (c *Counter) Add(alerts.UnifiedEvent) { c.n++ }

// Result returns the number of events added.
func (c *Counter) Result() int { return c.n }

// =============================================================================
// CountByKey
// =============================================================================

// CountByKey groups events by key. Events for which keyFn reports false are
// excluded.
type CountByKey[K cmp.Ordered] struct {
	keyFn  func(alerts.UnifiedEvent) (K, bool)
	counts map[K]int
}

// NewCountByKey creates a CountByKey reducer.
func NewCountByKey[K cmp.Ordered](keyFn func(alerts.UnifiedEvent) (K, bool)) *CountByKey[K] {
	return &CountByKey[K]{keyFn: keyFn, counts: make(map[K]int)}
}

func (c *CountByKey[K]) Add(ev alerts.UnifiedEvent) {
	if k, ok := c.keyFn(ev); ok {
		c.counts[k]++
	}
}

// Result is sorted by count descending, then key ascending.
func (c *CountByKey[K]) Result() []KeyCount[K] {
	out := make([]KeyCount[K], 0, len(c.counts))
	for k, n := range c.counts {
		out = append(out, KeyCount[K]{Key: k, Count: n})
	}
	slices.SortFunc(out, func(a, b KeyCount[K]) int {
		if a.Count != b.Count {
			return cmp.Compare(b.Count, a.Count)
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

// =============================================================================
// TimeHistogram
// =============================================================================

// TimeHistogram buckets events by a time-derived key. Only non-empty buckets
// are reported.
type TimeHistogram[K cmp.Ordered] struct {
	bucketFn  func(alerts.UnifiedEvent) K
	ascending bool
	counts    map[K]int
}

// NewTimeHistogram creates a TimeHistogram reducer.
func NewTimeHistogram[K cmp.Ordered](bucketFn func(alerts.UnifiedEvent) K, ascending bool) *TimeHistogram[K] {
	return &TimeHistogram[K]{bucketFn: bucketFn, ascending: ascending, counts: make(map[K]int)}
}

func (h *TimeHistogram[K]) Add(ev alerts.UnifiedEvent) {
	h.counts[h.bucketFn(ev)]++
}

// Result is sorted by bucket key.
func (h *TimeHistogram[K]) Result() []Bucket[K] {
	out := make([]Bucket[K], 0, len(h.counts))
	for k, n := range h.counts {
		out = append(out, Bucket[K]{Key: k, Count: n})
	}
	slices.SortFunc(out, func(a, b Bucket[K]) int {
		if h.ascending {
			return cmp.Compare(a.Key, b.Key)
		}
		return cmp.Compare(b.Key, a.Key)
	})
	return out
}

// =============================================================================
// TopN
// =============================================================================

// TopN ranks keys by count and keeps the first n. Ties keep the order in
// which keys were first seen.
type TopN[K cmp.Ordered] struct {
	keyFn       func(alerts.UnifiedEvent) (K, bool)
	n           int
	excludeNull bool

	counts map[K]int
	order  []K
}

// NewTopN creates a TopN reducer. With excludeNull false, events without a
// key are counted under the zero key.
func NewTopN[K cmp.Ordered](keyFn func(alerts.UnifiedEvent) (K, bool), n int, excludeNull bool) *TopN[K] {
	return &TopN[K]{keyFn: keyFn, n: n, excludeNull: excludeNull, counts: make(map[K]int)}
}

func (t *TopN[K]) Add(ev alerts.UnifiedEvent) {
	k, ok := t.keyFn(ev)
	if !ok {
		if t.excludeNull {
			return
		}
		var zero K
		k = zero
	}
	if _, seen := t.counts[k]; !seen {
		t.order = append(t.order, k)
	}
	t.counts[k]++
}

// Result returns at most n entries, count descending.
func (t *TopN[K]) Result() []KeyCount[K] {
	out := make([]KeyCount[K], 0, len(t.order))
	for _, k := range t.order {
		out = append(out, KeyCount[K]{Key: k, Count: t.counts[k]})
	}
	slices.SortStableFunc(out, func(a, b KeyCount[K]) int {
		return cmp.Compare(b.Count, a.Count)
	})
	if t.n >= 0 && len(out) > t.n {
		out = out[:t.n]
	}
	return out
}

// =============================================================================
// Filters
// =============================================================================

// Predicate selects events.
type Predicate func(alerts.UnifiedEvent) bool

type where struct {
	pred Predicate
	next Reducer
}

func (w where) Add(ev alerts.UnifiedEvent) {
	if w.pred(ev) {
		w.next.Add(ev)
	}
}

// Where forwards only events matching pred to r.
func Where(pred Predicate, r Reducer) Reducer {
	return where{pred: pred, next: r}
}

// InWindow matches events whose OccurredAt falls in w.
func InWindow(w alerts.TimeWindow) Predicate {
	return func(ev alerts.UnifiedEvent) bool {
		return w.Contains(ev.OccurredAt)
	}
}

// RecencyFilter wraps r so it only sees events in w.
func RecencyFilter(w alerts.TimeWindow, r Reducer) Reducer {
	return Where(InWindow(w), r)
}

// =============================================================================
// CompositeScore
// =============================================================================

// CompositeScore averages the known severity ordinals. Unknown severities are
// skipped, not counted as zero.
type CompositeScore struct {
	sum, n int
}

func (c *CompositeScore) Add(ev alerts.UnifiedEvent) {
	if ev.Severity.Known() {
		c.sum += int(ev.Severity)
		c.n++
	}
}

// Result returns the mean, or ok=false when no event had a known severity.
func (c *CompositeScore) Result() (float64, bool) {
	if c.n == 0 {
		return 0, false
	}
	return float64(c.sum) / float64(c.n), true
}

// =============================================================================
// DistinctCount
// =============================================================================

// DistinctCount counts distinct present keys.
type DistinctCount[K comparable] struct {
	keyFn func(alerts.UnifiedEvent) (K, bool)
	seen  map[K]struct{}
}

// NewDistinctCount creates a DistinctCount reducer.
func NewDistinctCount[K comparable](keyFn func(alerts.UnifiedEvent) (K, bool)) *DistinctCount[K] {
	return &DistinctCount[K]{keyFn: keyFn, seen: make(map[K]struct{})}
}

func (d *DistinctCount[K]) Add(ev alerts.UnifiedEvent) {
	if k, ok := d.keyFn(ev); ok {
		d.seen[k] = struct{}{}
	}
}

// Result returns the number of distinct keys.
func (d *DistinctCount[K]) Result() int { return len(d.seen) }
