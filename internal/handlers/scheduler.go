package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slotserve/slotserve/internal/ics"
	"github.com/slotserve/slotserve/internal/interval"
	"github.com/slotserve/slotserve/internal/model"
	"github.com/slotserve/slotserve/internal/schedule"
	"github.com/slotserve/slotserve/internal/storage"
)

// SchedulerStore is the slice of the scheduler repository the handlers need.
type SchedulerStore interface {
	Create(ctx context.Context, s *model.Scheduler) (string, error)
	Get(ctx context.Context, id string) (model.Scheduler, error)
}

// BookedIntervalSource supplies this service's own confirmed bookings, which
// join the external feed in the busy index.
type BookedIntervalSource interface {
	ListBookedIntervals(ctx context.Context, schedulerID string, start, end time.Time) ([]model.Booking, error)
}

type SchedulerHandler struct {
	store   SchedulerStore
	booked  BookedIntervalSource
	fetcher *ics.Fetcher
	logger  *slog.Logger
	icsOpts ics.Options
	now     func() time.Time
}

func NewSchedulerHandler(store SchedulerStore, booked BookedIntervalSource, fetcher *ics.Fetcher, logger *slog.Logger, icsOpts ics.Options) *SchedulerHandler {
	return &SchedulerHandler{
		store:   store,
		booked:  booked,
		fetcher: fetcher,
		logger:  logger,
		icsOpts: icsOpts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type createSchedulerRequest struct {
	Title           string          `json:"title"`
	OwnerTimezone   string          `json:"owner_timezone"`
	DateRangeStart  string          `json:"date_range_start"`
	DateRangeEnd    string          `json:"date_range_end"`
	DurationMinutes int             `json:"duration_minutes"`
	BufferMinutes   int             `json:"buffer_minutes"`
	Availability    schedule.Weekly `json:"availability"`
	ICSFileURL      string          `json:"ics_file_url"`
}

type createSchedulerResponse struct {
	SchedulerID string `json:"scheduler_id"`
}

type schedulerResponse struct {
	SchedulerID     string          `json:"scheduler_id"`
	Title           string          `json:"title"`
	OwnerTimezone   string          `json:"owner_timezone"`
	DateRangeStart  string          `json:"date_range_start"`
	DateRangeEnd    string          `json:"date_range_end"`
	DurationMinutes int             `json:"duration_minutes"`
	BufferMinutes   int             `json:"buffer_minutes"`
	Availability    schedule.Weekly `json:"availability"`
	ICSFileURL      string          `json:"ics_file_url,omitempty"`
	CreatedAt       string          `json:"created_at"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type dayResponse struct {
	Date  string     `json:"date"`
	Slots []slotItem `json:"slots"`
	Busy  []slotItem `json:"busy"`
}

func (h *SchedulerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSchedulerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, schedule.ErrBadClock) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		http.Error(w, "title required", http.StatusBadRequest)
		return
	}

	s := &model.Scheduler{
		Title:          req.Title,
		OwnerZone:      strings.TrimSpace(req.OwnerTimezone),
		DateRangeStart: strings.TrimSpace(req.DateRangeStart),
		DateRangeEnd:   strings.TrimSpace(req.DateRangeEnd),
		Duration:       time.Duration(req.DurationMinutes) * time.Minute,
		Buffer:         time.Duration(req.BufferMinutes) * time.Minute,
		Weekly:         req.Availability,
		ICSFileURL:     strings.TrimSpace(req.ICSFileURL),
	}
	if err := s.Definition().Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.store.Create(r.Context(), s)
	if err != nil {
		h.logger.Error("scheduler create failed", "err", err)
		http.Error(w, "failed to create scheduler", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, createSchedulerResponse{SchedulerID: id})
}

func (h *SchedulerHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadScheduler(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, schedulerResponse{
		SchedulerID:     s.ID,
		Title:           s.Title,
		OwnerTimezone:   s.OwnerZone,
		DateRangeStart:  s.DateRangeStart,
		DateRangeEnd:    s.DateRangeEnd,
		DurationMinutes: int(s.Duration / time.Minute),
		BufferMinutes:   int(s.Buffer / time.Minute),
		Availability:    s.Weekly,
		ICSFileURL:      s.ICSFileURL,
		CreatedAt:       s.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// Slots is the quick-pick view: the first N bookable slots from now on.
func (h *SchedulerHandler) Slots(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadScheduler(w, r)
	if !ok {
		return
	}
	viewer, err := viewerLocation(r, s.OwnerZone)
	if err != nil {
		http.Error(w, "unknown tz", http.StatusBadRequest)
		return
	}

	count := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("count")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 50 {
			http.Error(w, "count must be between 1 and 50", http.StatusBadRequest)
			return
		}
		count = n
	}

	def := s.Definition()
	now := h.now().In(viewer)
	busy, err := h.busyIndex(r.Context(), s, viewer, now, def.DateRangeEnd)
	if err != nil {
		http.Error(w, "failed to load booked slots", http.StatusInternalServerError)
		return
	}

	slots, err := (schedule.Scanner{MinSlots: count}).Scan(r.Context(), def, busy, now)
	if err != nil {
		h.logger.Error("slot scan failed", "scheduler_id", s.ID, "err", err)
		http.Error(w, "failed to compute slots", http.StatusInternalServerError)
		return
	}
	if count > 0 && len(slots) > count {
		slots = slots[:count]
	}
	writeJSON(w, http.StatusOK, toSlotItems(slots))
}

// Day returns one date's bookable slots plus its merged busy spans for
// calendar rendering.
func (h *SchedulerHandler) Day(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadScheduler(w, r)
	if !ok {
		return
	}
	viewer, err := viewerLocation(r, s.OwnerZone)
	if err != nil {
		http.Error(w, "unknown tz", http.StatusBadRequest)
		return
	}
	day, err := time.ParseInLocation(schedule.DateKeyLayout, r.PathValue("date"), viewer)
	if err != nil {
		http.Error(w, "invalid date (expected yyyy-mm-dd)", http.StatusBadRequest)
		return
	}

	busy, err := h.busyIndexAround(r.Context(), s, viewer, day)
	if err != nil {
		http.Error(w, "failed to load booked slots", http.StatusInternalServerError)
		return
	}

	slots, merged, err := schedule.DaySlots(day, s.Definition(), busy)
	if err != nil {
		h.logger.Error("day resolution failed", "scheduler_id", s.ID, "err", err)
		http.Error(w, "failed to compute slots", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dayResponse{
		Date:  day.Format(schedule.DateKeyLayout),
		Slots: toSlotItems(slots),
		Busy:  toSlotItems(merged),
	})
}

func (h *SchedulerHandler) loadScheduler(w http.ResponseWriter, r *http.Request) (model.Scheduler, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		http.Error(w, "scheduler id required", http.StatusBadRequest)
		return model.Scheduler{}, false
	}
	s, err := h.store.Get(r.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "scheduler not found", http.StatusNotFound)
			return model.Scheduler{}, false
		}
		h.logger.Error("scheduler load failed", "scheduler_id", id, "err", err)
		http.Error(w, "failed to load scheduler", http.StatusInternalServerError)
		return model.Scheduler{}, false
	}
	return s, true
}

// busyIndex builds the busy index for a scan from now through the end of the
// bookable range: the external feed (cache allowed, degrades to empty) plus
// this service's own confirmed bookings.
func (h *SchedulerHandler) busyIndex(ctx context.Context, s model.Scheduler, viewer *time.Location, now time.Time, rangeEnd string) (schedule.BusyIndex, error) {
	idx := h.fetcher.BusyIndex(ctx, s.ICSFileURL, viewer, h.icsOpts)

	end, err := time.ParseInLocation(schedule.DateKeyLayout, rangeEnd, viewer)
	if err != nil {
		// Definition validation catches this on write; fall back to the feed alone.
		return idx, nil
	}
	return h.addBookedIntervals(ctx, idx, s.ID, viewer, now.AddDate(0, 0, -1), end.AddDate(0, 0, 2))
}

// busyIndexAround covers one date plus a day on each side, enough for
// windows and events that cross the viewer's midnight.
func (h *SchedulerHandler) busyIndexAround(ctx context.Context, s model.Scheduler, viewer *time.Location, day time.Time) (schedule.BusyIndex, error) {
	idx := h.fetcher.BusyIndex(ctx, s.ICSFileURL, viewer, h.icsOpts)
	return h.addBookedIntervals(ctx, idx, s.ID, viewer, day.AddDate(0, 0, -1), day.AddDate(0, 0, 2))
}

func (h *SchedulerHandler) addBookedIntervals(ctx context.Context, idx schedule.BusyIndex, schedulerID string, viewer *time.Location, start, end time.Time) (schedule.BusyIndex, error) {
	booked, err := h.booked.ListBookedIntervals(ctx, schedulerID, start, end)
	if err != nil {
		return nil, err
	}
	for _, b := range booked {
		idx.Add(interval.New(b.StartTime.In(viewer), b.EndTime.In(viewer)))
	}
	return idx, nil
}

// viewerLocation resolves the optional tz query parameter, defaulting to the
// scheduler owner's zone.
func viewerLocation(r *http.Request, ownerZone string) (*time.Location, error) {
	tz := strings.TrimSpace(r.URL.Query().Get("tz"))
	if tz == "" {
		tz = ownerZone
	}
	return time.LoadLocation(tz)
}

func toSlotItems(spans []interval.Span) []slotItem {
	items := make([]slotItem, 0, len(spans))
	for _, s := range spans {
		items = append(items, slotItem{
			StartTime: s.Start.Format(time.RFC3339),
			EndTime:   s.End.Format(time.RFC3339),
		})
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
