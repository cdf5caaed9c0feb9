package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/slotserve/slotserve/internal/interval"
)

// DaySlots resolves one viewer-local date and carves every availability
// window into bookable slots. It also returns the merged busy spans for
// calendar-view rendering.
func DaySlots(day time.Time, def Definition, busy BusyIndex) ([]interval.Span, []interval.Span, error) {
	windows, merged, err := ResolveDay(day, def, busy)
	if err != nil {
		return nil, nil, err
	}
	var slots []interval.Span
	for _, w := range windows {
		slots = append(slots, FreeSlots(w, merged, def.Duration, def.Buffer)...)
	}
	// Template windows are not required to arrive sorted; the slot list is.
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].Less(slots[j])
	})
	return slots, merged, nil
}

// Scanner walks the definition's date range day by day collecting quick-pick
// slots. The walk stops as soon as MinSlots candidates accumulate, so wide
// date ranges stay cheap when only the first few slots are shown.
type Scanner struct {
	MinSlots int // default 3
}

// Scan returns the first bookable slots at or after now, in chronological
// order. The busy index is cloned before the synthetic past-today block is
// injected, so shared caches are never mutated. Scanning checks ctx between
// days and stops early on cancellation.
func (s Scanner) Scan(ctx context.Context, def Definition, busy BusyIndex, now time.Time) ([]interval.Span, error) {
	min := s.MinSlots
	if min <= 0 {
		min = 3
	}

	loc := now.Location()
	rangeStart, err := time.ParseInLocation(DateKeyLayout, def.DateRangeStart, loc)
	if err != nil {
		return nil, fmt.Errorf("date range start: %w", err)
	}
	rangeEnd, err := time.ParseInLocation(DateKeyLayout, def.DateRangeEnd, loc)
	if err != nil {
		return nil, fmt.Errorf("date range end: %w", err)
	}

	today := midnightOf(now)
	if today.After(rangeEnd) {
		return nil, nil
	}
	start := rangeStart
	if today.After(start) {
		start = today
	}

	// Everything earlier today is already gone; block it out so past slots
	// are never offered.
	scoped := busy.Clone()
	if now.After(today) {
		scoped.Add(interval.Span{Start: today, End: now})
	}

	var out []interval.Span
	for day := start; !day.After(rangeEnd); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if len(def.Weekly[WeekdayName(day)]) == 0 && !crossesOwnerZone(day, def) {
			continue
		}
		slots, _, err := DaySlots(day, def, scoped)
		if err != nil {
			return nil, err
		}
		out = append(out, slots...)
		if len(out) >= min {
			break
		}
	}
	return out, nil
}

// crossesOwnerZone reports whether the owner zone differs from the viewer
// zone on the given day, in which case a neighboring owner weekday may still
// contribute windows even when the viewer weekday has no template entry.
func crossesOwnerZone(day time.Time, def Definition) bool {
	ownerLoc, err := time.LoadLocation(def.OwnerZone)
	if err != nil {
		return false
	}
	return !sameZone(day.Location(), ownerLoc, day)
}
