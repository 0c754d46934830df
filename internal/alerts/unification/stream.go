package unification

import (
	"time"

	"github.com/lvonguyen/threatboard/internal/alerts"
	"github.com/lvonguyen/threatboard/internal/alerts/schema"
)

type batch struct {
	desc    schema.SourceDescriptor
	records []alerts.RawRecord
}

// Stream is a finite, single-pass sequence of unified events. Records are
// projected lazily; the first projection failure ends the stream and is
// reported by Err.
//
//	for s.Next() {
//		ev := s.Event()
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	batches  []batch
	window   *alerts.TimeWindow
	location *time.Location

	bi, ri  int
	current alerts.UnifiedEvent
	err     error
	total   int
}

func newStream(batches []batch, window *alerts.TimeWindow, loc *time.Location) *Stream {
	total := 0
	for _, b := range batches {
		total += len(b.records)
	}
	return &Stream{batches: batches, window: window, location: loc, total: total}
}

// Next advances to the next event inside the window. It returns false when
// the stream is exhausted or a record failed to project.
func (s *Stream) Next() bool {
	if s.err != nil {
		return false
	}
	for s.bi < len(s.batches) {
		b := s.batches[s.bi]
		if s.ri >= len(b.records) {
			s.bi++
			s.ri = 0
			continue
		}
		rec := b.records[s.ri]
		s.ri++

		ev, err := Project(b.desc, rec, s.location)
		if err != nil {
			s.err = err
			return false
		}
		if s.window != nil && !s.window.Contains(ev.OccurredAt) {
			continue
		}
		s.current = ev
		return true
	}
	return false
}

// Event returns the event Next advanced to.
func (s *Stream) Event() alerts.UnifiedEvent {
	return s.current
}

// Err returns the projection error that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Len is the number of raw records fetched, before window filtering.
func (s *Stream) Len() int {
	return s.total
}

// Collect drains s into a slice.
func Collect(s *Stream) ([]alerts.UnifiedEvent, error) {
	out := make([]alerts.UnifiedEvent, 0, s.Len())
	for s.Next() {
		out = append(out, s.Event())
	}
	return out, s.Err()
}
