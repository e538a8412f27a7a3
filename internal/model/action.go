package model

import (
	"time"

	"github.com/google/uuid"
)

type ActionType string

const (
	ActionPaymentRetry        ActionType = "payment_retry"
	ActionPaymentMethodPrompt ActionType = "payment_method_prompt"
	ActionGracePeriod         ActionType = "grace_period"
	ActionPartialPayment      ActionType = "partial_payment"
	ActionManualIntervention  ActionType = "manual_intervention"
)

type ActionStatus string

const (
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusFailed    ActionStatus = "failed"
)

// RecoveryAction is the executor's record of one side effect for one
// (failure, stage, action) triple. It is the idempotency anchor: a completed
// effect is never repeated. Payment retries keep an attempt count on the row
// so failed charges can be re-attempted up to the configured per-stage
// budget.
type RecoveryAction struct {
	ID            uuid.UUID    `db:"id" json:"id"`
	FailureID     uuid.UUID    `db:"failure_id" json:"failure_id"`
	StageName     string       `db:"stage_name" json:"stage_name"`
	Type          ActionType   `db:"action_type" json:"action_type"`
	Status        ActionStatus `db:"status" json:"status"`
	Detail        string       `db:"detail" json:"detail,omitempty"`
	AmountCents   int64        `db:"amount_cents" json:"amount_cents,omitempty"`
	Attempts      int          `db:"attempts" json:"attempts"`
	LastAttemptAt time.Time    `db:"last_attempt_at" json:"last_attempt_at"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
}
