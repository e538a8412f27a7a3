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

type scheduleRepository struct {
	BaseRepository
}

func NewScheduleRepository(base BaseRepository) repository.ScheduleRepository {
	return &scheduleRepository{base}
}

func (r *scheduleRepository) Create(ctx context.Context, entry *model.ScheduledEmail) error {
	if entry == nil {
		return fmt.Errorf("entry cannot be nil")
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()
	entry.UpdatedAt = time.Now()
	if entry.Status == "" {
		entry.Status = model.ScheduleStatusPending
	}

	// The unique (failure_id, stage_name) constraint makes re-scheduling
	// idempotent: an existing row keeps its sent state.
	query := `
		INSERT INTO scheduled_emails (
			id, failure_id, stage_name, trigger_at, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		ON CONFLICT (failure_id, stage_name) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.FailureID, entry.StageName, entry.TriggerAt,
		entry.Status, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduled email: %w", err)
	}
	return nil
}

func (r *scheduleRepository) ListByFailure(ctx context.Context, failureID uuid.UUID) ([]*model.ScheduledEmail, error) {
	query := `
		SELECT id, failure_id, stage_name, trigger_at, status, sent_at, created_at, updated_at
		FROM scheduled_emails
		WHERE failure_id = $1
		ORDER BY trigger_at ASC
	`
	var entries []*model.ScheduledEmail
	if err := r.db.SelectContext(ctx, &entries, query, failureID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list scheduled emails: %w", err)
	}
	return entries, nil
}

func (r *scheduleRepository) UpdateTrigger(ctx context.Context, id uuid.UUID, triggerAt time.Time) error {
	query := `
		UPDATE scheduled_emails
		SET trigger_at = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending'
	`
	_, err := r.db.ExecContext(ctx, query, triggerAt, id)
	if err != nil {
		return fmt.Errorf("failed to update trigger time: %w", err)
	}
	return nil
}

func (r *scheduleRepository) MarkSent(ctx context.Context, failureID uuid.UUID, stageName string, sentAt time.Time) error {
	query := `
		UPDATE scheduled_emails
		SET status = 'sent', sent_at = $1, updated_at = NOW()
		WHERE failure_id = $2 AND stage_name = $3 AND status = 'pending'
	`
	res, err := r.db.ExecContext(ctx, query, sentAt, failureID, stageName)
	if err != nil {
		return fmt.Errorf("failed to mark scheduled email sent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("no pending scheduled email for failure %s stage %s", failureID, stageName)
	}
	return nil
}

func (r *scheduleRepository) CancelPending(ctx context.Context, failureID uuid.UUID) (int64, error) {
	query := `
		UPDATE scheduled_emails
		SET status = 'cancelled', updated_at = NOW()
		WHERE failure_id = $1 AND status = 'pending'
	`
	res, err := r.db.ExecContext(ctx, query, failureID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending scheduled emails: %w", err)
	}
	return res.RowsAffected()
}
