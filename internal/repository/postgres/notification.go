package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/dunning-engine/internal/model"
	"github.com/recoverly/dunning-engine/internal/repository"
)

type notificationEventRepository struct {
	BaseRepository
}

func NewNotificationEventRepository(base BaseRepository) repository.NotificationEventRepository {
	return &notificationEventRepository{base}
}

func (r *notificationEventRepository) Create(ctx context.Context, event *model.NotificationEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.CreatedAt = time.Now()

	query := `
		INSERT INTO notification_events (
			id, failure_id, stage_name, channel, status, error, sent_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.FailureID, event.StageName, event.Channel,
		event.Status, event.Error, event.SentAt, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification event: %w", err)
	}
	return nil
}

func (r *notificationEventRepository) ListByFailure(ctx context.Context, failureID uuid.UUID) ([]*model.NotificationEvent, error) {
	query := `
		SELECT id, failure_id, stage_name, channel, status, error, sent_at, created_at
		FROM notification_events
		WHERE failure_id = $1
		ORDER BY created_at ASC
	`
	var events []*model.NotificationEvent
	if err := r.db.SelectContext(ctx, &events, query, failureID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list notification events: %w", err)
	}
	return events, nil
}
