package model

import (
	"time"

	"github.com/slotserve/slotserve/internal/schedule"
)

type Scheduler struct {
	ID             string
	Title          string
	OwnerZone      string
	DateRangeStart string
	DateRangeEnd   string
	Duration       time.Duration
	Buffer         time.Duration
	Weekly         schedule.Weekly
	ICSFileURL     string
	CreatedAt      time.Time
}

// Definition projects the scheduler row into the engine's input shape.
func (s Scheduler) Definition() schedule.Definition {
	return schedule.Definition{
		DateRangeStart: s.DateRangeStart,
		DateRangeEnd:   s.DateRangeEnd,
		OwnerZone:      s.OwnerZone,
		Duration:       s.Duration,
		Buffer:         s.Buffer,
		Weekly:         s.Weekly,
		ICSFileURL:     s.ICSFileURL,
	}
}
