package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/slotserve/slotserve/internal/ics"
	"github.com/slotserve/slotserve/internal/model"
	"github.com/slotserve/slotserve/internal/schedule"
)

type fakeSchedulerStore struct {
	schedulers map[string]model.Scheduler
	created    *model.Scheduler
}

func (f *fakeSchedulerStore) Create(ctx context.Context, s *model.Scheduler) (string, error) {
	f.created = s
	return "sched-1", nil
}

func (f *fakeSchedulerStore) Get(ctx context.Context, id string) (model.Scheduler, error) {
	s, ok := f.schedulers[id]
	if !ok {
		return model.Scheduler{}, pgx.ErrNoRows
	}
	return s, nil
}

// fakeBookingStore covers the read paths; the embedded nil interface panics
// if a test unexpectedly reaches a transactional method.
type fakeBookingStore struct {
	BookingStore
	booked   []model.Booking
	beginErr error
}

func (f *fakeBookingStore) ListBookedIntervals(ctx context.Context, schedulerID string, start, end time.Time) ([]model.Booking, error) {
	return f.booked, nil
}

func (f *fakeBookingStore) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	panic("unexpected Begin")
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func mondayScheduler(icsURL string) model.Scheduler {
	return model.Scheduler{
		ID:             "sched-1",
		Title:          "Intro call",
		OwnerZone:      "UTC",
		DateRangeStart: "2026-03-01",
		DateRangeEnd:   "2026-03-31",
		Duration:       30 * time.Minute,
		Weekly:         schedule.Weekly{"monday": {{From: 9 * 60, To: 17 * 60}}},
		ICSFileURL:     icsURL,
		CreatedAt:      time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func icsServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const busyTenToTenThirty = "BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nDTSTART:20260302T100000Z\r\nDTEND:20260302T103000Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

func TestCreateSchedulerRejectsMalformedClock(t *testing.T) {
	h := NewSchedulerHandler(&fakeSchedulerStore{}, &fakeBookingStore{}, fetcherForTests(), testLogger(), ics.Options{})

	body := `{"title":"Intro call","owner_timezone":"UTC","date_range_start":"2026-03-01","date_range_end":"2026-03-31","duration_minutes":30,"availability":{"monday":[{"from":"9am","to":"1700"}]}}`
	w := httptest.NewRecorder()
	h.Create(w, httptest.NewRequest(http.MethodPost, "/api/v1/schedulers", strings.NewReader(body)))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "HHmm") {
		t.Fatalf("expected a clock validation message, got %q", w.Body.String())
	}
}

func TestCreateScheduler(t *testing.T) {
	store := &fakeSchedulerStore{}
	h := NewSchedulerHandler(store, &fakeBookingStore{}, fetcherForTests(), testLogger(), ics.Options{})

	body := `{"title":"Intro call","owner_timezone":"UTC","date_range_start":"2026-03-01","date_range_end":"2026-03-31","duration_minutes":30,"buffer_minutes":15,"availability":{"monday":[{"from":"0900","to":"1700"}]}}`
	w := httptest.NewRecorder()
	h.Create(w, httptest.NewRequest(http.MethodPost, "/api/v1/schedulers", strings.NewReader(body)))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if store.created == nil || store.created.Buffer != 15*time.Minute {
		t.Fatalf("scheduler not stored as expected: %+v", store.created)
	}
	if !strings.Contains(w.Body.String(), "sched-1") {
		t.Fatalf("expected scheduler id in response, got %q", w.Body.String())
	}
}

func TestGetSchedulerNotFound(t *testing.T) {
	h := NewSchedulerHandler(&fakeSchedulerStore{schedulers: map[string]model.Scheduler{}}, &fakeBookingStore{}, fetcherForTests(), testLogger(), ics.Options{})

	r := httptest.NewRequest(http.MethodGet, "/api/v1/schedulers/nope", nil)
	r.SetPathValue("id", "nope")
	w := httptest.NewRecorder()
	h.Get(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestDayEndpoint(t *testing.T) {
	srv := icsServer(t, busyTenToTenThirty)
	sched := mondayScheduler(srv.URL)
	h := NewSchedulerHandler(
		&fakeSchedulerStore{schedulers: map[string]model.Scheduler{"sched-1": sched}},
		&fakeBookingStore{},
		fetcherForTests(), testLogger(), ics.Options{},
	)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/schedulers/sched-1/days/2026-03-02", nil)
	r.SetPathValue("id", "sched-1")
	r.SetPathValue("date", "2026-03-02")
	w := httptest.NewRecorder()
	h.Day(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if got := strings.Count(body, `"start_time"`); got != 16 {
		// 15 slots plus 1 busy span.
		t.Fatalf("expected 15 slots and 1 busy span, got %d entries: %s", got, body)
	}
	if !strings.Contains(body, "2026-03-02T09:00:00Z") {
		t.Fatalf("expected a 09:00 slot, got %s", body)
	}
	slotsPart := body[:strings.Index(body, `"busy"`)]
	if strings.Contains(slotsPart, `"start_time":"2026-03-02T10:00:00Z"`) {
		t.Fatalf("10:00 must not be offered while the feed marks it busy: %s", body)
	}
}

func TestDayEndpointIncludesLocalBookings(t *testing.T) {
	sched := mondayScheduler("")
	booked := []model.Booking{{
		SchedulerID: "sched-1",
		StartTime:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		Status:      model.BookingStatusBooked,
	}}
	h := NewSchedulerHandler(
		&fakeSchedulerStore{schedulers: map[string]model.Scheduler{"sched-1": sched}},
		&fakeBookingStore{booked: booked},
		fetcherForTests(), testLogger(), ics.Options{},
	)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/schedulers/sched-1/days/2026-03-02", nil)
	r.SetPathValue("id", "sched-1")
	r.SetPathValue("date", "2026-03-02")
	w := httptest.NewRecorder()
	h.Day(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), `"slots":[{"start_time":"2026-03-02T09:00:00Z"`) {
		t.Fatalf("a locally booked 09:00 slot must not be offered: %s", w.Body.String())
	}
}

func TestSlotsEndpointQuickPick(t *testing.T) {
	sched := mondayScheduler("")
	h := NewSchedulerHandler(
		&fakeSchedulerStore{schedulers: map[string]model.Scheduler{"sched-1": sched}},
		&fakeBookingStore{},
		fetcherForTests(), testLogger(), ics.Options{},
	)
	h.now = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }

	r := httptest.NewRequest(http.MethodGet, "/api/v1/schedulers/sched-1/slots?count=2", nil)
	r.SetPathValue("id", "sched-1")
	w := httptest.NewRecorder()
	h.Slots(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if got := strings.Count(body, `"start_time"`); got != 2 {
		t.Fatalf("expected exactly 2 slots, got %d: %s", got, body)
	}
	if !strings.Contains(body, "2026-03-02T09:00:00Z") {
		t.Fatalf("expected the first slot at 09:00, got %s", body)
	}
}

func TestBookingRejectsStaleSlot(t *testing.T) {
	srv := icsServer(t, busyTenToTenThirty)
	sched := mondayScheduler(srv.URL)
	h := NewBookingHandler(
		&fakeBookingStore{},
		nil,
		&fakeSchedulerStore{schedulers: map[string]model.Scheduler{"sched-1": sched}},
		fetcherForTests(), testLogger(), ics.Options{},
	)
	h.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }

	body := `{"attendee_name":"Sam","start_time":"2026-03-02T10:00:00Z","end_time":"2026-03-02T10:30:00Z"}`
	r := httptest.NewRequest(http.MethodPost, "/api/v1/schedulers/sched-1/bookings", strings.NewReader(body))
	r.SetPathValue("id", "sched-1")
	w := httptest.NewRecorder()
	h.Create(w, r)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a slot equal to a busy interval, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBookingAcceptsFreeSlotUpToStorage(t *testing.T) {
	srv := icsServer(t, busyTenToTenThirty)
	sched := mondayScheduler(srv.URL)
	h := NewBookingHandler(
		&fakeBookingStore{beginErr: errors.New("db down")},
		nil,
		&fakeSchedulerStore{schedulers: map[string]model.Scheduler{"sched-1": sched}},
		fetcherForTests(), testLogger(), ics.Options{},
	)
	h.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }

	// 09:00 is free, so re-validation passes and the request proceeds to
	// storage, where the injected Begin failure stops it.
	body := `{"attendee_name":"Sam","start_time":"2026-03-02T09:00:00Z","end_time":"2026-03-02T09:30:00Z"}`
	r := httptest.NewRequest(http.MethodPost, "/api/v1/schedulers/sched-1/bookings", strings.NewReader(body))
	r.SetPathValue("id", "sched-1")
	w := httptest.NewRecorder()
	h.Create(w, r)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected the free slot to reach storage (500 from injected db error), got %d: %s", w.Code, w.Body.String())
	}
}

func TestBookingRejectsWrongDuration(t *testing.T) {
	sched := mondayScheduler("")
	h := NewBookingHandler(
		&fakeBookingStore{},
		nil,
		&fakeSchedulerStore{schedulers: map[string]model.Scheduler{"sched-1": sched}},
		fetcherForTests(), testLogger(), ics.Options{},
	)

	body := `{"attendee_name":"Sam","start_time":"2026-03-02T09:00:00Z","end_time":"2026-03-02T10:00:00Z"}`
	r := httptest.NewRequest(http.MethodPost, "/api/v1/schedulers/sched-1/bookings", strings.NewReader(body))
	r.SetPathValue("id", "sched-1")
	w := httptest.NewRecorder()
	h.Create(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a 60-minute request against a 30-minute scheduler, got %d", w.Code)
	}
}

func TestBookingRejectsPastSlot(t *testing.T) {
	sched := mondayScheduler("")
	h := NewBookingHandler(
		&fakeBookingStore{},
		nil,
		&fakeSchedulerStore{schedulers: map[string]model.Scheduler{"sched-1": sched}},
		fetcherForTests(), testLogger(), ics.Options{},
	)
	h.now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }

	body := `{"attendee_name":"Sam","start_time":"2026-03-02T09:00:00Z","end_time":"2026-03-02T09:30:00Z"}`
	r := httptest.NewRequest(http.MethodPost, "/api/v1/schedulers/sched-1/bookings", strings.NewReader(body))
	r.SetPathValue("id", "sched-1")
	w := httptest.NewRecorder()
	h.Create(w, r)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a slot in the past, got %d", w.Code)
	}
}

func TestCancelRequiresIDs(t *testing.T) {
	h := NewBookingHandler(&fakeBookingStore{}, nil, &fakeSchedulerStore{}, fetcherForTests(), testLogger(), ics.Options{})

	w := httptest.NewRecorder()
	h.Cancel(w, httptest.NewRequest(http.MethodPost, "/api/v1/bookings/cancel", strings.NewReader(`{"reason":"x"}`)))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func fetcherForTests() *ics.Fetcher {
	return ics.NewFetcher(ics.FetcherConfig{}, nil, testLogger())
}
