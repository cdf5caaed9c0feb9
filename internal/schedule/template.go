package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slotserve/slotserve/internal/interval"
)

const DateKeyLayout = "2006-01-02"

var ErrBadClock = errors.New("clock value must be 4 digits (HHmm)")

// Clock is a wall-clock time of day in minutes from midnight. 1440 ("2400")
// is allowed as an end-of-day marker.
type Clock int

// ParseClock parses a 4-digit HHmm string. Malformed values are rejected
// outright rather than silently treated as midnight.
func ParseClock(s string) (Clock, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
		}
	}
	hh := int(s[0]-'0')*10 + int(s[1]-'0')
	mm := int(s[2]-'0')*10 + int(s[3]-'0')
	if mm > 59 || hh > 24 || (hh == 24 && mm != 0) {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
	}
	return Clock(hh*60 + mm), nil
}

// OnDay materializes the clock on the given day. day must be midnight in the
// target location; time.Date handles DST transitions and the 2400 marker.
func (c Clock) OnDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), int(c)/60, int(c)%60, 0, 0, day.Location())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d%02d", int(c)/60, int(c)%60)
}

// Clocks travel as 4-digit HHmm strings in both the API and stored
// availability JSON.
func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrBadClock, data)
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ClockRange is one availability window within a day, in the owner's zone.
type ClockRange struct {
	From Clock `json:"from"`
	To   Clock `json:"to"`
}

// Weekly maps lowercase weekday names to that day's availability windows.
type Weekly map[string][]ClockRange

func WeekdayName(t time.Time) string {
	return strings.ToLower(t.Weekday().String())
}

var weekdayNames = map[string]struct{}{
	"sunday": {}, "monday": {}, "tuesday": {}, "wednesday": {},
	"thursday": {}, "friday": {}, "saturday": {},
}

// Definition is one scheduler's booking configuration: the weekly template in
// the owner's zone, the bookable date range, slot sizing, and an optional
// external calendar feed.
type Definition struct {
	DateRangeStart string // 2006-01-02
	DateRangeEnd   string
	OwnerZone      string // IANA id, e.g. "Europe/Berlin"
	Duration       time.Duration
	Buffer         time.Duration
	Weekly         Weekly
	ICSFileURL     string
}

func (d Definition) Validate() error {
	if d.Duration <= 0 {
		return errors.New("duration must be positive")
	}
	if d.Buffer < 0 {
		return errors.New("buffer must not be negative")
	}
	if _, err := time.LoadLocation(d.OwnerZone); err != nil {
		return fmt.Errorf("invalid owner timezone %q: %w", d.OwnerZone, err)
	}
	start, err := time.Parse(DateKeyLayout, d.DateRangeStart)
	if err != nil {
		return fmt.Errorf("invalid date range start: %w", err)
	}
	end, err := time.Parse(DateKeyLayout, d.DateRangeEnd)
	if err != nil {
		return fmt.Errorf("invalid date range end: %w", err)
	}
	if end.Before(start) {
		return errors.New("date range end precedes start")
	}
	if len(d.Weekly) == 0 {
		return errors.New("weekly availability is empty")
	}
	for name, ranges := range d.Weekly {
		if _, ok := weekdayNames[name]; !ok {
			return fmt.Errorf("unknown weekday %q", name)
		}
		for _, r := range ranges {
			if r.To <= r.From {
				return fmt.Errorf("%s: window %s-%s is empty or inverted", name, r.From, r.To)
			}
		}
	}
	return nil
}

// BusyIndex holds occupied spans keyed by viewer-local calendar date.
type BusyIndex map[string][]interval.Span

func DateKey(t time.Time) string {
	return t.Format(DateKeyLayout)
}

// Clone returns a deep copy. Scans mutate a clone, never a shared index.
func (b BusyIndex) Clone() BusyIndex {
	out := make(BusyIndex, len(b))
	for k, spans := range b {
		out[k] = append([]interval.Span(nil), spans...)
	}
	return out
}

// Add files a span under each viewer-local date it touches, splitting at
// midnight boundaries. The split pieces concatenate back to the original
// span with no gap or overlap.
func (b BusyIndex) Add(s interval.Span) {
	loc := s.Start.Location()
	for {
		day := time.Date(s.Start.Year(), s.Start.Month(), s.Start.Day(), 0, 0, 0, 0, loc)
		nextMidnight := day.AddDate(0, 0, 1)
		if !s.End.After(nextMidnight) {
			b[DateKey(s.Start)] = append(b[DateKey(s.Start)], s)
			return
		}
		b[DateKey(s.Start)] = append(b[DateKey(s.Start)], interval.Span{Start: s.Start, End: nextMidnight})
		s = interval.Span{Start: nextMidnight, End: s.End}
	}
}
