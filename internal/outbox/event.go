package outbox

import (
	"encoding/json"
	"time"

	"github.com/slotserve/slotserve/internal/model"
)

// Topic names double as event types; one event per topic.
const (
	EventBookingBooked    = "scheduler.booking.booked.v1"
	EventBookingCancelled = "scheduler.booking.cancelled.v1"
)

// Event is the domain event envelope written to the outbox table inside the
// same transaction as the state change it announces.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type bookingPayload struct {
	BookingID     string     `json:"booking_id"`
	SchedulerID   string     `json:"scheduler_id"`
	AttendeeEmail string     `json:"attendee_email"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	CancelReason  string     `json:"cancel_reason,omitempty"`
}

func BookingBooked(b model.Booking) Event {
	payload, _ := json.Marshal(bookingPayload{
		BookingID:     b.ID,
		SchedulerID:   b.SchedulerID,
		AttendeeEmail: b.AttendeeEmail,
		StartTime:     b.StartTime,
		EndTime:       b.EndTime,
	})
	return Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     EventBookingBooked,
		Payload:       payload,
	}
}

func BookingCancelled(b model.Booking) Event {
	payload, _ := json.Marshal(bookingPayload{
		BookingID:    b.ID,
		SchedulerID:  b.SchedulerID,
		StartTime:    b.StartTime,
		EndTime:      b.EndTime,
		CancelledAt:  b.CancelledAt,
		CancelReason: b.CancelReason,
	})
	return Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     EventBookingCancelled,
		Payload:       payload,
	}
}
