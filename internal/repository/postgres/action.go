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

type actionRepository struct {
	BaseRepository
}

func NewActionRepository(base BaseRepository) repository.ActionRepository {
	return &actionRepository{base}
}

func (r *actionRepository) Create(ctx context.Context, action *model.RecoveryAction) error {
	if action == nil {
		return fmt.Errorf("action cannot be nil")
	}

	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	action.CreatedAt = time.Now()
	if action.Attempts == 0 {
		action.Attempts = 1
	}
	if action.LastAttemptAt.IsZero() {
		action.LastAttemptAt = action.CreatedAt
	}

	query := `
		INSERT INTO recovery_actions (
			id, failure_id, stage_name, action_type, status, detail, amount_cents,
			attempts, last_attempt_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (failure_id, stage_name, action_type) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		action.ID, action.FailureID, action.StageName, action.Type,
		action.Status, action.Detail, action.AmountCents,
		action.Attempts, action.LastAttemptAt, action.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create recovery action: %w", err)
	}
	return nil
}

func (r *actionRepository) Update(ctx context.Context, action *model.RecoveryAction) error {
	if action == nil {
		return fmt.Errorf("action cannot be nil")
	}

	query := `
		UPDATE recovery_actions
		SET status = $1, detail = $2, amount_cents = $3, attempts = $4, last_attempt_at = $5
		WHERE id = $6
	`
	_, err := r.db.ExecContext(ctx, query,
		action.Status, action.Detail, action.AmountCents,
		action.Attempts, action.LastAttemptAt, action.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update recovery action: %w", err)
	}
	return nil
}

func (r *actionRepository) Find(ctx context.Context, failureID uuid.UUID, stageName string, actionType model.ActionType) (*model.RecoveryAction, error) {
	query := `
		SELECT id, failure_id, stage_name, action_type, status, detail, amount_cents,
			attempts, last_attempt_at, created_at
		FROM recovery_actions
		WHERE failure_id = $1 AND stage_name = $2 AND action_type = $3
	`
	var action model.RecoveryAction
	if err := r.db.GetContext(ctx, &action, query, failureID, stageName, actionType); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find recovery action: %w", err)
	}
	return &action, nil
}
