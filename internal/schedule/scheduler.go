// Package schedule computes and tracks the per-failure dunning timetable.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/dunning-engine/internal/model"
	"github.com/recoverly/dunning-engine/internal/repository"
	"github.com/recoverly/dunning-engine/internal/stageconfig"
	"github.com/recoverly/dunning-engine/pkg/logger"
)

// ScheduleSummary describes the computed timetable for one failure.
type ScheduleSummary struct {
	ScheduledCount  int                  `json:"scheduled_count"`
	StageDates      map[string]time.Time `json:"stage_dates"`
	FirstEmailDate  time.Time            `json:"first_email_date"`
	FinalNoticeDate time.Time            `json:"final_notice_date"`
}

type Scheduler struct {
	registry  *stageconfig.Registry
	schedules repository.ScheduleRepository
	logger    *logger.Logger
	nowFn     func() time.Time
}

func NewScheduler(registry *stageconfig.Registry, schedules repository.ScheduleRepository, log *logger.Logger) *Scheduler {
	return &Scheduler{
		registry:  registry,
		schedules: schedules,
		logger:    log,
		nowFn:     time.Now,
	}
}

// Schedule computes the stage timetable for a failure and persists one
// pending entry per stage. Deterministic in failed_at and the stage table;
// re-running never duplicates entries and preserves sent state.
func (s *Scheduler) Schedule(ctx context.Context, failure *model.PaymentFailureRecord) (*ScheduleSummary, error) {
	if failure == nil {
		return nil, fmt.Errorf("failure cannot be nil")
	}

	stages := s.registry.OrderedStages()
	summary := &ScheduleSummary{
		StageDates: make(map[string]time.Time, len(stages)),
	}

	for i, stage := range stages {
		triggerAt := failure.FailedAt.Add(time.Duration(stage.DelayDays) * 24 * time.Hour)
		summary.StageDates[stage.Name] = triggerAt
		if i == 0 {
			summary.FirstEmailDate = triggerAt
		}
		if i == len(stages)-1 {
			summary.FinalNoticeDate = triggerAt
		}

		entry := &model.ScheduledEmail{
			FailureID: failure.ID,
			StageName: stage.Name,
			TriggerAt: triggerAt,
			Status:    model.ScheduleStatusPending,
		}
		if err := s.schedules.Create(ctx, entry); err != nil {
			return nil, fmt.Errorf("failed to schedule stage %s: %w", stage.Name, err)
		}
		summary.ScheduledCount++
	}

	s.logger.Info("dunning sequence scheduled",
		"failure_id", failure.ID.String(),
		"stages", summary.ScheduledCount)

	return summary, nil
}

// NextDueStage returns the earliest unsent stage whose trigger time is at or
// before asOf, or "" when nothing is due. An earlier pending stage that is
// not yet due blocks later stages.
func (s *Scheduler) NextDueStage(ctx context.Context, failureID uuid.UUID, asOf time.Time) (string, error) {
	entries, err := s.schedules.ListByFailure(ctx, failureID)
	if err != nil {
		return "", fmt.Errorf("failed to list schedule: %w", err)
	}

	for _, e := range entries {
		if e.Status != model.ScheduleStatusPending {
			continue
		}
		if e.TriggerAt.After(asOf) {
			return "", nil
		}
		return e.StageName, nil
	}
	return "", nil
}

// CurrentStage returns the latest stage actually sent, or "" when none has.
func (s *Scheduler) CurrentStage(ctx context.Context, failureID uuid.UUID) (string, error) {
	entries, err := s.schedules.ListByFailure(ctx, failureID)
	if err != nil {
		return "", fmt.Errorf("failed to list schedule: %w", err)
	}

	current := ""
	for _, e := range entries {
		if e.Status == model.ScheduleStatusSent {
			current = e.StageName
		}
	}
	return current, nil
}

// MarkSent records the commit point for a stage: the primary channel
// delivered.
func (s *Scheduler) MarkSent(ctx context.Context, failureID uuid.UUID, stageName string) error {
	return s.schedules.MarkSent(ctx, failureID, stageName, s.nowFn())
}

// Cancel marks every unsent entry cancelled. Called when the payment is
// recovered or the failure otherwise closes.
func (s *Scheduler) Cancel(ctx context.Context, failureID uuid.UUID) (int64, error) {
	cancelled, err := s.schedules.CancelPending(ctx, failureID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel schedule: %w", err)
	}
	if cancelled > 0 {
		s.logger.Info("cancelled pending dunning stages",
			"failure_id", failureID.String(),
			"cancelled", cancelled)
	}
	return cancelled, nil
}
