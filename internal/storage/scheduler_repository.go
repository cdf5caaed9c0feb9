package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/slotserve/slotserve/internal/model"
	"github.com/slotserve/slotserve/internal/schedule"
	"github.com/slotserve/slotserve/libs/db"
)

type SchedulerRepository struct {
	pool *db.Pool
}

func NewSchedulerRepository(pool *db.Pool) *SchedulerRepository {
	return &SchedulerRepository{pool: pool}
}

func (r *SchedulerRepository) Create(ctx context.Context, s *model.Scheduler) (string, error) {
	weekly, err := json.Marshal(s.Weekly)
	if err != nil {
		return "", fmt.Errorf("encode availability: %w", err)
	}
	id := uuid.NewString()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO schedulers
			(id, title, owner_zone, date_range_start, date_range_end, duration_minutes, buffer_minutes, availability, ics_file_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, s.Title, s.OwnerZone, s.DateRangeStart, s.DateRangeEnd,
		int(s.Duration/time.Minute), int(s.Buffer/time.Minute), weekly, s.ICSFileURL)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *SchedulerRepository) Get(ctx context.Context, id string) (model.Scheduler, error) {
	var s model.Scheduler
	var durationMinutes, bufferMinutes int
	var weekly []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, title, owner_zone, date_range_start, date_range_end,
			duration_minutes, buffer_minutes, availability, COALESCE(ics_file_url, ''), created_at
		FROM schedulers
		WHERE id = $1
	`, id).Scan(
		&s.ID,
		&s.Title,
		&s.OwnerZone,
		&s.DateRangeStart,
		&s.DateRangeEnd,
		&durationMinutes,
		&bufferMinutes,
		&weekly,
		&s.ICSFileURL,
		&s.CreatedAt,
	)
	if err != nil {
		return model.Scheduler{}, err
	}
	s.Duration = time.Duration(durationMinutes) * time.Minute
	s.Buffer = time.Duration(bufferMinutes) * time.Minute
	if err := json.Unmarshal(weekly, &s.Weekly); err != nil {
		return model.Scheduler{}, fmt.Errorf("decode availability: %w", err)
	}
	if s.Weekly == nil {
		s.Weekly = schedule.Weekly{}
	}
	return s, nil
}
