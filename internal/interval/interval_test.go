package interval

import (
	"testing"
	"time"
)

func span(t *testing.T, startHour, startMin, endHour, endMin int) Span {
	t.Helper()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	return Span{
		Start: day.Add(time.Duration(startHour)*time.Hour + time.Duration(startMin)*time.Minute),
		End:   day.Add(time.Duration(endHour)*time.Hour + time.Duration(endMin)*time.Minute),
	}
}

func TestNewOrdersEndpoints(t *testing.T) {
	a := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	b := a.Add(time.Hour)
	s := New(b, a)
	if !s.Start.Equal(a) || !s.End.Equal(b) {
		t.Fatalf("expected endpoints reordered, got %v..%v", s.Start, s.End)
	}
}

func TestCollides(t *testing.T) {
	base := span(t, 10, 0, 11, 0)

	overlapping := span(t, 10, 30, 11, 30)
	if !base.Collides(overlapping) {
		t.Fatalf("expected overlap to collide")
	}

	contained := span(t, 10, 15, 10, 45)
	if !base.Collides(contained) || !contained.Collides(base) {
		t.Fatalf("expected containment to collide both ways")
	}

	touching := span(t, 11, 0, 12, 0)
	if !base.Collides(touching) {
		t.Fatalf("closed spans touching at an endpoint must collide")
	}

	disjoint := span(t, 12, 0, 13, 0)
	if base.Collides(disjoint) {
		t.Fatalf("disjoint spans must not collide")
	}
}

func TestContains(t *testing.T) {
	outer := span(t, 9, 0, 17, 0)
	if !outer.Contains(span(t, 9, 0, 17, 0)) {
		t.Fatalf("span must contain itself")
	}
	if !outer.Contains(span(t, 10, 0, 10, 30)) {
		t.Fatalf("expected inner span contained")
	}
	if outer.Contains(span(t, 16, 30, 17, 30)) {
		t.Fatalf("span leaking past the end must not be contained")
	}
}

func TestMergeCollidingPair(t *testing.T) {
	a := span(t, 10, 0, 11, 0)
	b := span(t, 10, 30, 12, 0)

	merged := Merge([]Span{b, a})
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged span, got %d", len(merged))
	}
	if !merged[0].Start.Equal(a.Start) || !merged[0].End.Equal(b.End) {
		t.Fatalf("expected %v..%v, got %v..%v", a.Start, b.End, merged[0].Start, merged[0].End)
	}
}

func TestMergeKeepsDisjointSorted(t *testing.T) {
	a := span(t, 14, 0, 15, 0)
	b := span(t, 9, 0, 10, 0)

	merged := Merge([]Span{a, b})
	if len(merged) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(merged))
	}
	if !merged[0].Start.Equal(b.Start) || !merged[1].Start.Equal(a.Start) {
		t.Fatalf("expected spans sorted by start")
	}
}

func TestMergeIdempotent(t *testing.T) {
	input := []Span{
		span(t, 9, 0, 10, 0),
		span(t, 9, 30, 11, 0),
		span(t, 13, 0, 14, 0),
	}
	once := Merge(input)
	twice := Merge(once)
	if len(once) != len(twice) {
		t.Fatalf("merge not idempotent: %d vs %d spans", len(once), len(twice))
	}
	for i := range once {
		if !once[i].Start.Equal(twice[i].Start) || !once[i].End.Equal(twice[i].End) {
			t.Fatalf("merge not idempotent at index %d", i)
		}
	}
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	a := span(t, 10, 0, 11, 0)
	b := span(t, 10, 30, 12, 0)
	input := []Span{a, b}

	_ = Merge(input)
	if !input[0].End.Equal(a.End) {
		t.Fatalf("merge mutated its input")
	}
}

func TestMergeEmptyAndSingle(t *testing.T) {
	if got := Merge(nil); len(got) != 0 {
		t.Fatalf("expected empty result for nil input")
	}
	one := []Span{span(t, 9, 0, 10, 0)}
	if got := Merge(one); len(got) != 1 {
		t.Fatalf("expected single span unchanged, got %d", len(got))
	}
}
