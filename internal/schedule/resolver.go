package schedule

import (
	"fmt"
	"time"

	"github.com/slotserve/slotserve/internal/interval"
)

// ResolveDay computes one viewer-local date's availability windows and the
// merged busy spans relevant to it. day must be midnight in the viewer's
// location. A weekday with no template entry yields no windows.
func ResolveDay(day time.Time, def Definition, busy BusyIndex) ([]interval.Span, []interval.Span, error) {
	ownerLoc, err := time.LoadLocation(def.OwnerZone)
	if err != nil {
		return nil, nil, fmt.Errorf("owner timezone: %w", err)
	}

	var windows []interval.Span
	if sameZone(day.Location(), ownerLoc, day) {
		windows = resolveSameZone(day, def, ownerLoc)
	} else {
		windows = resolveCrossZone(day, def, ownerLoc)
	}

	dayEnd := day.AddDate(0, 0, 1)
	spans := append([]interval.Span(nil), busy[DateKey(day)]...)
	for _, w := range windows {
		// A window reaching the day boundary pulls in the next day's busy
		// entries so slots touching midnight are still checked.
		if !w.End.Before(dayEnd) {
			spans = append(spans, busy[DateKey(dayEnd)]...)
			break
		}
	}

	return windows, interval.Merge(spans), nil
}

// sameZone reports whether the two zones keep the same wall clock for the
// whole day starting at ref, so e.g. "UTC" and "Etc/UTC" resolve identically.
// Offsets are compared at both ends of the day: a pair that only agrees at
// midnight (London vs UTC on a DST-transition day) must take the cross-zone
// path or every window after the shift lands an hour off.
func sameZone(a, b *time.Location, ref time.Time) bool {
	if a.String() == b.String() {
		return true
	}
	for _, t := range []time.Time{ref, ref.Add(24 * time.Hour)} {
		_, offA := t.In(a).Zone()
		_, offB := t.In(b).Zone()
		if offA != offB {
			return false
		}
	}
	return true
}

func resolveSameZone(day time.Time, def Definition, ownerLoc *time.Location) []interval.Span {
	ranges := def.Weekly[WeekdayName(day)]
	if len(ranges) == 0 {
		return nil
	}

	windows := make([]interval.Span, 0, len(ranges))
	for _, r := range ranges {
		w := interval.Span{Start: r.From.OnDay(day), End: r.To.OnDay(day)}
		windows = append(windows, truncateAtNextDayStart(w, day.AddDate(0, 0, 1), def, ownerLoc))
	}
	return windows
}

func resolveCrossZone(day time.Time, def Definition, ownerLoc *time.Location) []interval.Span {
	dayEnd := day.AddDate(0, 0, 1)

	// The viewer-local date maps onto one or two owner-zone dates.
	ownerStart := day.In(ownerLoc)
	ownerDays := []time.Time{midnightOf(ownerStart)}
	if lastOwner := midnightOf(dayEnd.Add(-time.Second).In(ownerLoc)); !lastOwner.Equal(ownerDays[0]) {
		ownerDays = append(ownerDays, lastOwner)
	}

	var windows []interval.Span
	for _, ownerDay := range ownerDays {
		for _, r := range def.Weekly[WeekdayName(ownerDay)] {
			w := interval.Span{
				Start: r.From.OnDay(ownerDay).In(day.Location()),
				End:   r.To.OnDay(ownerDay).In(day.Location()),
			}
			w = truncateAtNextDayStart(w, ownerDay.AddDate(0, 0, 1), def, ownerLoc)

			// Clip to the requested viewer-local date; drop windows with no overlap.
			if !w.End.After(day) || !w.Start.Before(dayEnd) {
				continue
			}
			if w.Start.Before(day) {
				w.Start = day
			}
			if w.End.After(dayEnd) {
				w.End = dayEnd
			}
			if w.End.After(w.Start) {
				windows = append(windows, w)
			}
		}
	}
	return windows
}

// truncateAtNextDayStart applies the boundary policy: when the next day's
// first window starts at exactly this window's end, the window is cut down to
// one minute short of a full slot so no zero-length or doubled boundary slot
// is ever offered.
func truncateAtNextDayStart(w interval.Span, nextDay time.Time, def Definition, ownerLoc *time.Location) interval.Span {
	next := nextDay.In(ownerLoc)
	nextMidnight := midnightOf(next)
	ranges := def.Weekly[WeekdayName(nextMidnight)]
	if len(ranges) == 0 {
		return w
	}
	nextStart := ranges[0].From.OnDay(nextMidnight)
	if nextStart.Equal(w.End) {
		if cut := w.Start.Add(def.Duration - time.Minute); cut.Before(w.End) {
			w.End = cut
		}
	}
	return w
}

func midnightOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
