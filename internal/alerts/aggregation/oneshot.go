package aggregation

import (
	"cmp"

	"github.com/lvonguyen/threatboard/internal/alerts"
)

// One-shot helpers drain src into a single reducer.

// CountBy counts events per key, count desc then key asc.
func CountBy[K cmp.Ordered](src Source, keyFn func(alerts.UnifiedEvent) (K, bool)) ([]KeyCount[K], error) {
	r := NewCountByKey(keyFn)
	if err := Drain(src, r); err != nil {
		return nil, err
	}
	return r.Result(), nil
}

// Histogram counts events per bucket, sorted by bucket key.
func Histogram[K cmp.Ordered](src Source, bucketFn func(alerts.UnifiedEvent) K, ascending bool) ([]Bucket[K], error) {
	r := NewTimeHistogram(bucketFn, ascending)
	if err := Drain(src, r); err != nil {
		return nil, err
	}
	return r.Result(), nil
}

// Top returns the n most frequent keys.
func Top[K cmp.Ordered](src Source, keyFn func(alerts.UnifiedEvent) (K, bool), n int, excludeNull bool) ([]KeyCount[K], error) {
	r := NewTopN(keyFn, n, excludeNull)
	if err := Drain(src, r); err != nil {
		return nil, err
	}
	return r.Result(), nil
}

// Score returns the mean known severity ordinal; ok is false when no event
// had a known severity.
func Score(src Source) (float64, bool, error) {
	r := &CompositeScore{}
	if err := Drain(src, r); err != nil {
		return 0, false, err
	}
	score, ok := r.Result()
	return score, ok, nil
}

// Distinct counts distinct non-absent keys.
func Distinct[K comparable](src Source, keyFn func(alerts.UnifiedEvent) (K, bool)) (int, error) {
	r := NewDistinctCount(keyFn)
	if err := Drain(src, r); err != nil {
		return 0, err
	}
	return r.Result(), nil
}

// SliceSource iterates over a fixed slice of events.
type SliceSource struct {
	events []alerts.UnifiedEvent
	i      int
	err    error
}

// FromSlice returns a Source over events. err, if non-nil, is reported once
// the events are exhausted.
func FromSlice(events []alerts.UnifiedEvent, err error) *SliceSource {
	return &SliceSource{events: events, i: -1, err: err}
}

func (s *SliceSource) Next() bool {
	if s.i+1 >= len(s.events) {
		s.i = len(s.events)
		return false
	}
	s.i++
	return true
}

func (s *SliceSource) Event() alerts.UnifiedEvent { return s.events[s.i] }

func (s *SliceSource) Err() error {
	if s.i >= len(s.events) {
		return s.err
	}
	return nil
}
