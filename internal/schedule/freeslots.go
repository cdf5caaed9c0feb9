package schedule

import (
	"sort"
	"time"

	"github.com/slotserve/slotserve/internal/interval"
)

// FreeSlots carves the availability window into duration-length bookable
// slots that do not overlap any busy span. After each busy span the cursor
// resumes at span end plus the buffer. Slots may touch a busy span's
// endpoints (a meeting ending at 10:00 does not block the 09:30-10:00 slot)
// and never extend past the window end.
func FreeSlots(window interval.Span, busy []interval.Span, duration, buffer time.Duration) []interval.Span {
	if duration <= 0 || window.Duration() < duration {
		return nil
	}

	// Defensive re-sort; callers normally pass merged input.
	sorted := append([]interval.Span(nil), busy...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Less(sorted[j])
	})

	var slots []interval.Span
	cursor := window.Start
	for _, b := range sorted {
		if !b.Collides(window) {
			continue
		}
		for !cursor.Add(duration).After(b.Start) {
			candidate := interval.Span{Start: cursor, End: cursor.Add(duration)}
			if !overlapsAny(candidate, sorted) {
				slots = append(slots, candidate)
			}
			cursor = cursor.Add(duration)
		}
		if resume := b.End.Add(buffer); resume.After(cursor) {
			cursor = resume
		}
	}

	for !cursor.Add(duration).After(window.End) {
		candidate := interval.Span{Start: cursor, End: cursor.Add(duration)}
		if !overlapsAny(candidate, sorted) {
			slots = append(slots, candidate)
		}
		cursor = cursor.Add(duration)
	}
	return slots
}

// FreeIntervals subtracts the busy spans from the window, returning the
// continuous free stretches in order. Booking re-validation checks the
// requested slot is fully contained in one of these; quantization does not
// apply here.
func FreeIntervals(window interval.Span, busy []interval.Span) []interval.Span {
	sorted := append([]interval.Span(nil), busy...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Less(sorted[j])
	})

	var free []interval.Span
	cursor := window.Start
	for _, b := range sorted {
		if !b.Start.Before(window.End) || !b.End.After(window.Start) {
			continue
		}
		if b.Start.After(cursor) {
			free = append(free, interval.Span{Start: cursor, End: b.Start})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(window.End) {
		free = append(free, interval.Span{Start: cursor, End: window.End})
	}
	return free
}

// overlapsAny uses half-open semantics: [a,b) overlaps [c,d) iff a < d && c < b.
// Unlike Span.Collides, spans that only touch do not count.
func overlapsAny(s interval.Span, busy []interval.Span) bool {
	for _, b := range busy {
		if s.Start.Before(b.End) && b.Start.Before(s.End) {
			return true
		}
	}
	return false
}
