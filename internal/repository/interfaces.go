package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/dunning-engine/internal/model"
)

// All repository interfaces in one file
type (
	// FailureRepository handles PaymentFailureRecord persistence. The
	// engine writes only status, retry_count and manual_intervention.
	FailureRepository interface {
		Create(ctx context.Context, failure *model.PaymentFailureRecord) error
		Get(ctx context.Context, id uuid.UUID) (*model.PaymentFailureRecord, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.FailureStatus) error
		IncrementRetryCount(ctx context.Context, id uuid.UUID) error
		SetManualIntervention(ctx context.Context, id uuid.UUID) error
		// ClaimDue claims up to limit open failures with at least one pending
		// scheduled stage whose trigger time is at or before asOf. Each claim
		// holds until asOf+lease, so concurrent workers never pick up the same
		// failure mid-processing; Release drops the claim early once
		// processing finishes.
		ClaimDue(ctx context.Context, asOf time.Time, limit int, lease time.Duration) ([]*model.PaymentFailureRecord, error)
		Release(ctx context.Context, id uuid.UUID) error
	}

	ScheduleRepository interface {
		Create(ctx context.Context, entry *model.ScheduledEmail) error
		ListByFailure(ctx context.Context, failureID uuid.UUID) ([]*model.ScheduledEmail, error)
		UpdateTrigger(ctx context.Context, id uuid.UUID, triggerAt time.Time) error
		MarkSent(ctx context.Context, failureID uuid.UUID, stageName string, sentAt time.Time) error
		CancelPending(ctx context.Context, failureID uuid.UUID) (int64, error)
	}

	NotificationEventRepository interface {
		Create(ctx context.Context, event *model.NotificationEvent) error
		ListByFailure(ctx context.Context, failureID uuid.UUID) ([]*model.NotificationEvent, error)
	}

	CustomerRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Customer, error)
	}

	// ActionRepository records executed stage side effects; Find backs the
	// executor's idempotency check and Update its retry attempt bookkeeping.
	ActionRepository interface {
		Create(ctx context.Context, action *model.RecoveryAction) error
		Find(ctx context.Context, failureID uuid.UUID, stageName string, actionType model.ActionType) (*model.RecoveryAction, error)
		Update(ctx context.Context, action *model.RecoveryAction) error
	}
)
