package schedule

import (
	"testing"
	"time"

	"github.com/slotserve/slotserve/internal/interval"
)

// Monday 2026-03-02.
var testDay = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return testDay.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func TestFreeSlotsAroundSingleMeeting(t *testing.T) {
	window := interval.Span{Start: at(9, 0), End: at(17, 0)}
	busy := []interval.Span{{Start: at(10, 0), End: at(10, 30)}}

	slots := FreeSlots(window, busy, 30*time.Minute, 0)
	if len(slots) != 15 {
		t.Fatalf("expected 15 slots, got %d", len(slots))
	}

	expectedStarts := []time.Time{at(9, 0), at(9, 30), at(10, 30), at(11, 0)}
	for i, want := range expectedStarts {
		if !slots[i].Start.Equal(want) {
			t.Fatalf("slot %d: expected start %v, got %v", i, want, slots[i].Start)
		}
	}
	if !slots[len(slots)-1].Start.Equal(at(16, 30)) {
		t.Fatalf("expected last slot at 16:30, got %v", slots[len(slots)-1].Start)
	}

	for _, s := range slots {
		if s.Start.Before(at(10, 30)) && s.End.After(at(10, 0)) {
			t.Fatalf("slot %v..%v overlaps the 10:00-10:30 meeting", s.Start, s.End)
		}
	}
}

func TestFreeSlotsQuantizationAndContainment(t *testing.T) {
	window := interval.Span{Start: at(9, 0), End: at(17, 0)}
	busy := []interval.Span{
		{Start: at(9, 45), End: at(10, 10)},
		{Start: at(13, 0), End: at(14, 30)},
	}

	slots := FreeSlots(window, busy, 45*time.Minute, 10*time.Minute)
	if len(slots) == 0 {
		t.Fatalf("expected slots")
	}
	for _, s := range slots {
		if s.Duration() != 45*time.Minute {
			t.Fatalf("slot %v has duration %v, want 45m", s.Start, s.Duration())
		}
		if s.Start.Before(window.Start) || s.End.After(window.End) {
			t.Fatalf("slot %v..%v escapes window", s.Start, s.End)
		}
		for _, b := range busy {
			if s.Start.Before(b.End) && b.Start.Before(s.End) {
				t.Fatalf("slot %v..%v overlaps busy %v..%v", s.Start, s.End, b.Start, b.End)
			}
		}
	}
}

func TestFreeSlotsBufferDelaysResume(t *testing.T) {
	window := interval.Span{Start: at(9, 0), End: at(17, 0)}
	busy := []interval.Span{{Start: at(10, 0), End: at(10, 30)}}

	slots := FreeSlots(window, busy, 30*time.Minute, 15*time.Minute)

	resume := at(10, 45)
	for _, s := range slots {
		if s.Start.After(at(10, 0)) || s.Start.Equal(at(10, 0)) {
			if s.Start.Before(resume) {
				t.Fatalf("slot at %v starts inside the post-meeting buffer", s.Start)
			}
			break
		}
	}
	if !slots[2].Start.Equal(resume) {
		t.Fatalf("expected first post-meeting slot at 10:45, got %v", slots[2].Start)
	}
}

func TestFreeSlotsNoPartialSlotAtWindowEnd(t *testing.T) {
	window := interval.Span{Start: at(9, 0), End: at(10, 15)}

	slots := FreeSlots(window, nil, 30*time.Minute, 0)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[1].End.Equal(at(10, 0)) {
		t.Fatalf("expected final slot to end at 10:00, got %v", slots[1].End)
	}
}

func TestFreeSlotsWindowSmallerThanDuration(t *testing.T) {
	window := interval.Span{Start: at(9, 0), End: at(9, 20)}
	if slots := FreeSlots(window, nil, 30*time.Minute, 0); len(slots) != 0 {
		t.Fatalf("expected no slots, got %d", len(slots))
	}
}

func TestFreeIntervalsSubtractsBusy(t *testing.T) {
	window := interval.Span{Start: at(9, 0), End: at(17, 0)}
	busy := []interval.Span{
		{Start: at(10, 0), End: at(10, 30)},
		{Start: at(8, 0), End: at(9, 30)},
	}

	free := FreeIntervals(window, busy)
	if len(free) != 2 {
		t.Fatalf("expected 2 free stretches, got %d", len(free))
	}
	if !free[0].Start.Equal(at(9, 30)) || !free[0].End.Equal(at(10, 0)) {
		t.Fatalf("first stretch = %v..%v", free[0].Start, free[0].End)
	}
	if !free[1].Start.Equal(at(10, 30)) || !free[1].End.Equal(at(17, 0)) {
		t.Fatalf("second stretch = %v..%v", free[1].Start, free[1].End)
	}

	// A requested slot equal to a booked interval is not inside any free
	// stretch, so re-validation rejects it.
	requested := interval.Span{Start: at(10, 0), End: at(10, 30)}
	for _, f := range free {
		if f.Contains(requested) {
			t.Fatalf("booked slot %v..%v reported free", requested.Start, requested.End)
		}
	}
}

func TestFreeIntervalsNoBusy(t *testing.T) {
	window := interval.Span{Start: at(9, 0), End: at(17, 0)}
	free := FreeIntervals(window, nil)
	if len(free) != 1 || !free[0].Start.Equal(window.Start) || !free[0].End.Equal(window.End) {
		t.Fatalf("expected the whole window back, got %v", free)
	}
}

func TestFreeSlotsMeetingTouchingWindowEdges(t *testing.T) {
	window := interval.Span{Start: at(9, 0), End: at(11, 0)}
	busy := []interval.Span{
		{Start: at(8, 0), End: at(9, 0)},
		{Start: at(10, 30), End: at(12, 0)},
	}

	slots := FreeSlots(window, busy, 30*time.Minute, 0)
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(at(9, 0)) {
		t.Fatalf("a meeting ending at window start must not block the first slot, got %v", slots[0].Start)
	}
	if !slots[2].End.Equal(at(10, 30)) {
		t.Fatalf("expected last slot to end where the busy span begins, got %v", slots[2].End)
	}
}
