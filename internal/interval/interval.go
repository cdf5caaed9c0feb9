package interval

import (
	"sort"
	"time"
)

// Span is a closed time interval [Start, End]. Start never exceeds End.
type Span struct {
	Start time.Time
	End   time.Time
}

// New returns a Span with its endpoints ordered.
func New(start, end time.Time) Span {
	if end.Before(start) {
		start, end = end, start
	}
	return Span{Start: start, End: end}
}

func (s Span) IsZero() bool {
	return s.Start.IsZero() && s.End.IsZero()
}

func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Less orders spans by start time, tie-broken by end time.
func (s Span) Less(other Span) bool {
	if s.Start.Equal(other.Start) {
		return s.End.Before(other.End)
	}
	return s.Start.Before(other.Start)
}

// ContainsInstant reports whether t falls within the closed span.
func (s Span) ContainsInstant(t time.Time) bool {
	return !t.Before(s.Start) && !t.After(s.End)
}

// Collides reports whether the closed spans share at least one instant:
// an endpoint of one falls inside the other, or one contains the other.
// Spans that merely touch at an endpoint collide.
func (s Span) Collides(other Span) bool {
	return !s.Start.After(other.End) && !other.Start.After(s.End)
}

// Contains reports whether inner lies fully inside s, endpoints included.
// This is the re-validation predicate used before committing a booking.
func (s Span) Contains(inner Span) bool {
	return !inner.Start.Before(s.Start) && !inner.End.After(s.End)
}

// Merge returns a minimal sorted set of spans covering the same instants as
// the input. The input slice is not modified.
func Merge(spans []Span) []Span {
	if len(spans) <= 1 {
		return append([]Span(nil), spans...)
	}

	sorted := append([]Span(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Less(sorted[j])
	})

	merged := make([]Span, 0, len(sorted))
	merged = append(merged, sorted[0])
	for _, next := range sorted[1:] {
		last := &merged[len(merged)-1]
		if last.Collides(next) {
			if next.End.After(last.End) {
				last.End = next.End
			}
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

// CollidesAny reports whether s collides with any span in the set.
func CollidesAny(s Span, set []Span) bool {
	for _, b := range set {
		if s.Collides(b) {
			return true
		}
	}
	return false
}
