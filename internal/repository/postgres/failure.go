package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/dunning-engine/internal/model"
	"github.com/recoverly/dunning-engine/internal/repository"
	apperrors "github.com/recoverly/dunning-engine/pkg/errors"
)

type failureRepository struct {
	BaseRepository
}

func NewFailureRepository(base BaseRepository) repository.FailureRepository {
	return &failureRepository{base}
}

type failureRow struct {
	model.PaymentFailureRecord
	MetadataJSON []byte `db:"metadata"`
}

func (r *failureRepository) Create(ctx context.Context, failure *model.PaymentFailureRecord) error {
	if failure == nil {
		return fmt.Errorf("failure cannot be nil")
	}

	if failure.ID == uuid.Nil {
		failure.ID = uuid.New()
	}
	failure.CreatedAt = time.Now()
	failure.UpdatedAt = time.Now()
	if failure.Status == "" {
		failure.Status = model.FailureStatusPending
	}

	metadata, err := json.Marshal(failure.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO payment_failures (
			id, customer_id, subscription_id, invoice_id, payment_intent_id,
			failure_reason, failure_code, amount_cents, currency, failed_at,
			status, retry_count, manual_intervention, metadata, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
	`
	_, err = r.db.ExecContext(ctx, query,
		failure.ID, failure.CustomerID, failure.SubscriptionID, failure.InvoiceID,
		failure.PaymentIntentID, failure.FailureReason, failure.FailureCode,
		failure.AmountCents, failure.Currency, failure.FailedAt,
		failure.Status, failure.RetryCount, failure.ManualIntervention,
		metadata, failure.CreatedAt, failure.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment failure: %w", err)
	}
	return nil
}

func (r *failureRepository) Get(ctx context.Context, id uuid.UUID) (*model.PaymentFailureRecord, error) {
	query := `
		SELECT id, customer_id, subscription_id, invoice_id, payment_intent_id,
			failure_reason, failure_code, amount_cents, currency, failed_at,
			status, retry_count, manual_intervention, metadata, created_at, updated_at
		FROM payment_failures
		WHERE id = $1
	`
	var row failureRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("payment failure", err)
		}
		return nil, fmt.Errorf("failed to get payment failure: %w", err)
	}

	failure := row.PaymentFailureRecord
	if len(row.MetadataJSON) > 0 {
		if err := json.Unmarshal(row.MetadataJSON, &failure.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &failure, nil
}

func (r *failureRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.FailureStatus) error {
	query := `
		UPDATE payment_failures
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update failure status: %w", err)
	}
	return nil
}

func (r *failureRepository) IncrementRetryCount(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE payment_failures
		SET retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment retry count: %w", err)
	}
	return nil
}

func (r *failureRepository) SetManualIntervention(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE payment_failures
		SET manual_intervention = TRUE, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to set manual intervention: %w", err)
	}
	return nil
}

// ClaimDue claims a batch in a single statement: the inner SELECT takes row
// locks with SKIP LOCKED, and the UPDATE writes a lease before any lock is
// released, so the claim survives past statement end until the lease expires
// or Release clears it.
func (r *failureRepository) ClaimDue(ctx context.Context, asOf time.Time, limit int, lease time.Duration) ([]*model.PaymentFailureRecord, error) {
	query := `
		UPDATE payment_failures
		SET claimed_until = $3, updated_at = NOW()
		WHERE id IN (
			SELECT f.id
			FROM payment_failures f
			WHERE f.status IN ('pending', 'in_progress')
			AND f.manual_intervention = FALSE
			AND (f.claimed_until IS NULL OR f.claimed_until <= $1)
			AND EXISTS (
				SELECT 1 FROM scheduled_emails s
				WHERE s.failure_id = f.id
				AND s.status = 'pending'
				AND s.trigger_at <= $1
			)
			ORDER BY f.failed_at ASC
			FOR UPDATE OF f SKIP LOCKED
			LIMIT $2
		)
		RETURNING id, customer_id, subscription_id, invoice_id, payment_intent_id,
			failure_reason, failure_code, amount_cents, currency, failed_at,
			status, retry_count, manual_intervention, claimed_until, metadata,
			created_at, updated_at
	`
	var rows []failureRow
	if err := r.db.SelectContext(ctx, &rows, query, asOf, limit, asOf.Add(lease)); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim due failures: %w", err)
	}

	failures := make([]*model.PaymentFailureRecord, 0, len(rows))
	for i := range rows {
		failure := rows[i].PaymentFailureRecord
		if len(rows[i].MetadataJSON) > 0 {
			if err := json.Unmarshal(rows[i].MetadataJSON, &failure.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		failures = append(failures, &failure)
	}
	// RETURNING does not preserve the inner SELECT's order.
	sort.Slice(failures, func(i, j int) bool { return failures[i].FailedAt.Before(failures[j].FailedAt) })
	return failures, nil
}

func (r *failureRepository) Release(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE payment_failures
		SET claimed_until = NULL, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}
