package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/slotserve/slotserve/internal/ics"
	"github.com/slotserve/slotserve/internal/interval"
	"github.com/slotserve/slotserve/internal/model"
	"github.com/slotserve/slotserve/internal/outbox"
	"github.com/slotserve/slotserve/internal/schedule"
	"github.com/slotserve/slotserve/internal/storage"
)

// BookingStore is the slice of the booking repository the handlers need.
type BookingStore interface {
	BookedIntervalSource
	Begin(ctx context.Context) (pgx.Tx, error)
	LockIdempotencyKey(ctx context.Context, tx pgx.Tx, schedulerID, key string) (storage.IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, tx pgx.Tx, schedulerID, key, bookingID string, statusCode int, response []byte) error
	Create(ctx context.Context, tx pgx.Tx, b *model.Booking) (string, error)
	GetBookingForUpdate(ctx context.Context, tx pgx.Tx, schedulerID, bookingID string) (model.Booking, error)
	Cancel(ctx context.Context, tx pgx.Tx, schedulerID, bookingID, reason string) (time.Time, error)
	ListByScheduler(ctx context.Context, schedulerID string, limit int) ([]model.Booking, error)
}

type OutboxStore interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type BookingHandler struct {
	repo       BookingStore
	outboxRepo OutboxStore
	schedulers SchedulerStore
	fetcher    *ics.Fetcher
	logger     *slog.Logger
	icsOpts    ics.Options
	now        func() time.Time
}

func NewBookingHandler(repo BookingStore, outboxRepo OutboxStore, schedulers SchedulerStore, fetcher *ics.Fetcher, logger *slog.Logger, icsOpts ics.Options) *BookingHandler {
	return &BookingHandler{
		repo:       repo,
		outboxRepo: outboxRepo,
		schedulers: schedulers,
		fetcher:    fetcher,
		logger:     logger,
		icsOpts:    icsOpts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type createBookingRequest struct {
	AttendeeName  string `json:"attendee_name"`
	AttendeeEmail string `json:"attendee_email"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

type createBookingResponse struct {
	BookingID string `json:"booking_id"`
}

type cancelBookingRequest struct {
	SchedulerID string `json:"scheduler_id"`
	BookingID   string `json:"booking_id"`
	Reason      string `json:"reason"`
}

type cancelBookingResponse struct {
	BookingID   string `json:"booking_id"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at"`
}

type listBookingItem struct {
	BookingID    string `json:"booking_id"`
	AttendeeName string `json:"attendee_name"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Status       string `json:"status"`
	CancelledAt  string `json:"cancelled_at,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	schedulerID := strings.TrimSpace(r.PathValue("id"))
	if schedulerID == "" {
		http.Error(w, "scheduler id required", http.StatusBadRequest)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AttendeeName = strings.TrimSpace(req.AttendeeName)
	if req.AttendeeName == "" {
		http.Error(w, "attendee_name required", http.StatusBadRequest)
		return
	}
	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}
	if !endTime.After(startTime) {
		http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	sched, err := h.schedulers.Get(ctx, schedulerID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "scheduler not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load scheduler", http.StatusInternalServerError)
		return
	}
	if endTime.Sub(startTime) != sched.Duration {
		http.Error(w, "slot length must equal the scheduler duration", http.StatusBadRequest)
		return
	}
	if startTime.Before(h.now()) {
		http.Error(w, "slot is in the past", http.StatusConflict)
		return
	}

	// Re-validate against fresh data before committing anything: the feed is
	// refetched (no cache) and the requested slot must still sit inside a
	// currently-free stretch.
	free, err := h.freshFreeIntervals(ctx, sched, startTime)
	if err != nil {
		// Dependency failure, not a taken slot: let the client retry with the
		// same idempotency key.
		http.Error(w, "calendar feed unavailable", http.StatusServiceUnavailable)
		return
	}
	requested := interval.Span{Start: startTime, End: endTime}
	if !containedInAny(requested, free) {
		http.Error(w, "slot is no longer available", http.StatusConflict)
		return
	}

	booking := &model.Booking{
		SchedulerID:   schedulerID,
		AttendeeName:  req.AttendeeName,
		AttendeeEmail: strings.TrimSpace(req.AttendeeEmail),
		StartTime:     startTime,
		EndTime:       endTime,
		Status:        model.BookingStatusBooked,
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, schedulerID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.BookingID != "" && rec.StatusCode > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			if len(rec.ResponsePayload) > 0 {
				_, _ = w.Write(rec.ResponsePayload)
				return
			}
			_ = json.NewEncoder(w).Encode(createBookingResponse{BookingID: rec.BookingID})
			return
		}
	}

	id, err := h.repo.Create(ctx, tx, booking)
	if err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "slot is no longer available", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create booking", http.StatusInternalServerError)
		return
	}
	booking.ID = id

	if err := h.outboxRepo.Insert(ctx, tx, outbox.BookingBooked(*booking)); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	respBody, err := json.Marshal(createBookingResponse{BookingID: id})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, schedulerID, idempotencyKey, id, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SchedulerID = strings.TrimSpace(req.SchedulerID)
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.SchedulerID == "" || req.BookingID == "" {
		http.Error(w, "scheduler_id and booking_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	booking, err := h.repo.GetBookingForUpdate(ctx, tx, req.SchedulerID, req.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load booking", http.StatusInternalServerError)
		return
	}

	if booking.Status == model.BookingStatusCancelled && booking.CancelledAt != nil {
		h.writeCancelResponse(w, booking.ID, booking.CancelledAt.UTC())
		return
	}
	if booking.Status != model.BookingStatusBooked {
		http.Error(w, "booking cannot be cancelled", http.StatusConflict)
		return
	}

	cancelledAt, err := h.repo.Cancel(ctx, tx, req.SchedulerID, booking.ID, req.Reason)
	if err != nil {
		http.Error(w, "failed to cancel booking", http.StatusInternalServerError)
		return
	}
	booking.Status = model.BookingStatusCancelled
	booking.CancelledAt = &cancelledAt
	booking.CancelReason = req.Reason

	if err := h.outboxRepo.Insert(ctx, tx, outbox.BookingCancelled(booking)); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.writeCancelResponse(w, booking.ID, cancelledAt.UTC())
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	schedulerID := strings.TrimSpace(r.URL.Query().Get("scheduler_id"))
	if schedulerID == "" {
		http.Error(w, "scheduler_id required", http.StatusBadRequest)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	bookings, err := h.repo.ListByScheduler(r.Context(), schedulerID, limit)
	if err != nil {
		http.Error(w, "failed to list bookings", http.StatusInternalServerError)
		return
	}

	items := make([]listBookingItem, 0, len(bookings))
	for _, b := range bookings {
		item := listBookingItem{
			BookingID:    b.ID,
			AttendeeName: b.AttendeeName,
			StartTime:    b.StartTime.UTC().Format(time.RFC3339),
			EndTime:      b.EndTime.UTC().Format(time.RFC3339),
			Status:       b.Status,
			CreatedAt:    b.CreatedAt.UTC().Format(time.RFC3339),
		}
		if b.CancelledAt != nil {
			item.CancelledAt = b.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

// freshFreeIntervals recomputes the requested day's free stretches from a
// cache-bypassing feed fetch plus current confirmed bookings.
func (h *BookingHandler) freshFreeIntervals(ctx context.Context, sched model.Scheduler, startTime time.Time) ([]interval.Span, error) {
	ownerLoc, err := time.LoadLocation(sched.OwnerZone)
	if err != nil {
		return nil, err
	}
	localStart := startTime.In(ownerLoc)
	day := time.Date(localStart.Year(), localStart.Month(), localStart.Day(), 0, 0, 0, 0, ownerLoc)

	idx, err := h.fetcher.FreshBusyIndex(ctx, sched.ICSFileURL, ownerLoc, h.icsOpts)
	if err != nil {
		return nil, err
	}
	booked, err := h.repo.ListBookedIntervals(ctx, sched.ID, day.AddDate(0, 0, -1), day.AddDate(0, 0, 2))
	if err != nil {
		return nil, err
	}
	for _, b := range booked {
		idx.Add(interval.New(b.StartTime.In(ownerLoc), b.EndTime.In(ownerLoc)))
	}

	windows, merged, err := schedule.ResolveDay(day, sched.Definition(), idx)
	if err != nil {
		return nil, err
	}
	var free []interval.Span
	for _, w := range windows {
		free = append(free, schedule.FreeIntervals(w, merged)...)
	}
	return free, nil
}

func containedInAny(requested interval.Span, free []interval.Span) bool {
	for _, f := range free {
		if f.Contains(requested) {
			return true
		}
	}
	return false
}

func (h *BookingHandler) writeCancelResponse(w http.ResponseWriter, bookingID string, cancelledAt time.Time) {
	writeJSON(w, http.StatusOK, cancelBookingResponse{
		BookingID:   bookingID,
		Status:      model.BookingStatusCancelled,
		CancelledAt: cancelledAt.Format(time.RFC3339),
	})
}
