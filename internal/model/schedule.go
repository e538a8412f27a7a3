package model

import (
	"time"

	"github.com/google/uuid"
)

type ScheduleStatus string

const (
	ScheduleStatusPending   ScheduleStatus = "pending"
	ScheduleStatusSent      ScheduleStatus = "sent"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
)

// ScheduledEmail is one (failure, stage) pair with a computed trigger time.
// At most one row exists per pair; trigger_at = failed_at + stage delay.
type ScheduledEmail struct {
	ID        uuid.UUID      `db:"id" json:"id"`
	FailureID uuid.UUID      `db:"failure_id" json:"failure_id"`
	StageName string         `db:"stage_name" json:"stage_name"`
	TriggerAt time.Time      `db:"trigger_at" json:"trigger_at"`
	Status    ScheduleStatus `db:"status" json:"status"`
	SentAt    *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}
