package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type FailureStatus string

const (
	FailureStatusPending    FailureStatus = "pending"
	FailureStatusInProgress FailureStatus = "in_progress"
	FailureStatusRecovered  FailureStatus = "recovered"
	FailureStatusSuspended  FailureStatus = "suspended"
)

// PaymentFailureRecord is one failed payment event under remediation. The
// billing subsystem owns the record; the engine writes only status,
// retry_count, manual_intervention and metadata.
type PaymentFailureRecord struct {
	ID                 uuid.UUID         `db:"id" json:"id"`
	CustomerID         uuid.UUID         `db:"customer_id" json:"customer_id"`
	SubscriptionID     uuid.UUID         `db:"subscription_id" json:"subscription_id"`
	InvoiceID          string            `db:"invoice_id" json:"invoice_id"`
	PaymentIntentID    string            `db:"payment_intent_id" json:"payment_intent_id"`
	FailureReason      string            `db:"failure_reason" json:"failure_reason"`
	FailureCode        string            `db:"failure_code" json:"failure_code"`
	AmountCents        int64             `db:"amount_cents" json:"amount_cents"`
	Currency           string            `db:"currency" json:"currency"`
	FailedAt           time.Time         `db:"failed_at" json:"failed_at"`
	Status             FailureStatus     `db:"status" json:"status"`
	RetryCount         int               `db:"retry_count" json:"retry_count"`
	ManualIntervention bool              `db:"manual_intervention" json:"manual_intervention"`
	// ClaimedUntil is the driver's processing lease; a claimed failure is
	// invisible to ClaimDue until the lease expires or is released.
	ClaimedUntil *time.Time        `db:"claimed_until" json:"-"`
	Metadata     map[string]string `db:"-" json:"metadata,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updated_at"`
}

// statusRank orders statuses along the allowed one-directional lifecycle.
// Transitions never move to a lower rank, and the two terminal statuses
// accept nothing further.
func statusRank(s FailureStatus) int {
	switch s {
	case FailureStatusPending:
		return 0
	case FailureStatusInProgress:
		return 1
	case FailureStatusRecovered, FailureStatusSuspended:
		return 2
	default:
		return -1
	}
}

func (f *PaymentFailureRecord) CanTransitionTo(next FailureStatus) bool {
	if f.IsClosed() {
		return false
	}
	return statusRank(next) > statusRank(f.Status)
}

func (f *PaymentFailureRecord) TransitionTo(next FailureStatus) error {
	if !f.CanTransitionTo(next) {
		return fmt.Errorf("invalid status transition %s -> %s", f.Status, next)
	}
	f.Status = next
	f.UpdatedAt = time.Now()
	return nil
}

// IsClosed reports whether the failure reached a terminal status.
func (f *PaymentFailureRecord) IsClosed() bool {
	return f.Status == FailureStatusRecovered || f.Status == FailureStatusSuspended
}

func (f *PaymentFailureRecord) IncrementRetry() {
	f.RetryCount++
	f.UpdatedAt = time.Now()
}
