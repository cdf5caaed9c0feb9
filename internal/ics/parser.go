// Package ics reads just enough of the iCalendar format to build a busy
// index: VEVENT blocks' DTSTART/DTEND plus the calendar-level X-WR-TIMEZONE.
// Everything else in the feed is ignored.
package ics

import (
	"bufio"
	"log/slog"
	"strings"
	"time"

	"github.com/slotserve/slotserve/internal/interval"
	"github.com/slotserve/slotserve/internal/schedule"
)

const (
	stampLayout  = "20060102T150405"
	stampLayoutZ = "20060102T150405Z"
)

// Options tunes feed interpretation.
type Options struct {
	// LegacyZSuffix reproduces a historical client quirk: a trailing Z on
	// DTSTART/DTEND is treated as a literal character and the timestamp is
	// read in the feed's declared zone instead of UTC. Off by default; the
	// default reads Z as the UTC designator RFC 5545 says it is.
	LegacyZSuffix bool
}

// Parse builds a date-keyed busy index from calendar text. Timestamps are
// read in the feed's declared zone (X-WR-TIMEZONE, default UTC), converted
// to the viewer zone, and events crossing local midnight are split per day.
//
// Parsing fails soft: a malformed event is logged and skipped, and whatever
// accumulated so far is returned. Callers always get a usable (possibly
// empty) index.
func Parse(text string, viewer *time.Location, opts Options, logger *slog.Logger) schedule.BusyIndex {
	if logger == nil {
		logger = slog.Default()
	}
	if viewer == nil {
		viewer = time.Local
	}

	lines := unfold(text)
	feedZone := declaredZone(lines, logger)

	idx := schedule.BusyIndex{}
	var inEvent bool
	var start, end string
	for _, line := range lines {
		name, value := splitProperty(line)
		switch name {
		case "BEGIN":
			if strings.EqualFold(value, "VEVENT") {
				inEvent = true
				start, end = "", ""
			}
		case "END":
			if !strings.EqualFold(value, "VEVENT") || !inEvent {
				continue
			}
			inEvent = false
			span, ok := eventSpan(start, end, feedZone, viewer, opts, logger)
			if ok {
				idx.Add(span)
			}
		case "DTSTART":
			if inEvent {
				start = value
			}
		case "DTEND":
			if inEvent {
				end = value
			}
		}
	}
	return idx
}

func eventSpan(start, end string, feedZone, viewer *time.Location, opts Options, logger *slog.Logger) (interval.Span, bool) {
	if start == "" || end == "" {
		logger.Warn("skipping calendar event with missing timestamps",
			"dtstart", start, "dtend", end)
		return interval.Span{}, false
	}
	from, err := parseStamp(start, feedZone, opts)
	if err != nil {
		logger.Warn("skipping calendar event", "dtstart", start, "err", err)
		return interval.Span{}, false
	}
	to, err := parseStamp(end, feedZone, opts)
	if err != nil {
		logger.Warn("skipping calendar event", "dtend", end, "err", err)
		return interval.Span{}, false
	}
	return interval.New(from.In(viewer), to.In(viewer)), true
}

func parseStamp(value string, feedZone *time.Location, opts Options) (time.Time, error) {
	if strings.HasSuffix(value, "Z") && !opts.LegacyZSuffix {
		return time.Parse(stampLayoutZ, value)
	}
	return time.ParseInLocation(stampLayout, strings.TrimSuffix(value, "Z"), feedZone)
}

// declaredZone resolves the calendar's X-WR-TIMEZONE line, defaulting to UTC
// when the line is absent or names an unknown zone.
func declaredZone(lines []string, logger *slog.Logger) *time.Location {
	for _, line := range lines {
		name, value := splitProperty(line)
		if name != "X-WR-TIMEZONE" {
			continue
		}
		loc, err := time.LoadLocation(value)
		if err != nil {
			logger.Warn("unknown calendar timezone, falling back to UTC", "zone", value)
			return time.UTC
		}
		return loc
	}
	return time.UTC
}

// unfold joins folded continuation lines (RFC 5545 §3.1: a line starting
// with a space or tab continues the previous one) and drops blank lines.
func unfold(text string) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		raw := strings.TrimRight(sc.Text(), "\r")
		if raw == "" {
			continue
		}
		if (raw[0] == ' ' || raw[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] += raw[1:]
			continue
		}
		lines = append(lines, raw)
	}
	return lines
}

// splitProperty separates a content line into its property name and value,
// dropping any property parameters (DTSTART;TZID=... → DTSTART).
func splitProperty(line string) (string, string) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return strings.ToUpper(strings.TrimSpace(line)), ""
	}
	name := line[:colon]
	if semi := strings.IndexByte(name, ';'); semi >= 0 {
		name = name[:semi]
	}
	return strings.ToUpper(strings.TrimSpace(name)), strings.TrimSpace(line[colon+1:])
}
