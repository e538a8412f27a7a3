package model

import (
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
	ChannelPush  Channel = "push"
)

type NotificationStatus string

const (
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
	NotificationStatusSkipped NotificationStatus = "skipped"
)

// NotificationEvent records one dispatch attempt on one channel for one
// stage. Skipped events carry the precondition that was not met (no phone
// number, stage not SMS-eligible) rather than a delivery error.
type NotificationEvent struct {
	ID        uuid.UUID          `db:"id" json:"id"`
	FailureID uuid.UUID          `db:"failure_id" json:"failure_id"`
	StageName string             `db:"stage_name" json:"stage_name"`
	Channel   Channel            `db:"channel" json:"channel"`
	Status    NotificationStatus `db:"status" json:"status"`
	Error     *string            `db:"error" json:"error,omitempty"`
	SentAt    time.Time          `db:"sent_at" json:"sent_at"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`
}
