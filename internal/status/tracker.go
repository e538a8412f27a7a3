// Package status reports sequence position and progress for a failure.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/dunning-engine/internal/model"
	"github.com/recoverly/dunning-engine/internal/repository"
	"github.com/recoverly/dunning-engine/internal/stageconfig"
)

// SequenceStatus is the full timetable view for one failure.
type SequenceStatus struct {
	FailureID       uuid.UUID              `json:"failure_id"`
	Status          model.FailureStatus    `json:"status"`
	FailedAt        time.Time              `json:"failed_at"`
	CurrentStage    string                 `json:"current_stage"`
	NextStage       string                 `json:"next_stage"`
	ScheduledEmails []*model.ScheduledEmail `json:"scheduled_emails"`
	SentEmails      int                    `json:"sent_emails"`
	NextEmailDate   *time.Time             `json:"next_email_date,omitempty"`
	FinalNoticeDate *time.Time             `json:"final_notice_date,omitempty"`
}

// StageProgress is the compact position view: how far along the sequence a
// failure is. Before anything is sent the index is -1 and progress is 0.
type StageProgress struct {
	CurrentStage       string   `json:"current_stage"`
	TotalStages        int      `json:"total_stages"`
	CurrentStageIndex  int      `json:"current_stage_index"`
	ProgressPercentage float64  `json:"progress_percentage"`
	StagesCompleted    []string `json:"stages_completed"`
	StagesRemaining    []string `json:"stages_remaining"`
}

type Tracker struct {
	registry  *stageconfig.Registry
	failures  repository.FailureRepository
	schedules repository.ScheduleRepository
}

func NewTracker(registry *stageconfig.Registry, failures repository.FailureRepository, schedules repository.ScheduleRepository) *Tracker {
	return &Tracker{
		registry:  registry,
		failures:  failures,
		schedules: schedules,
	}
}

// SequenceStatus assembles the timetable view from the schedule table.
func (t *Tracker) SequenceStatus(ctx context.Context, failureID uuid.UUID) (*SequenceStatus, error) {
	failure, err := t.failures.Get(ctx, failureID)
	if err != nil {
		return nil, err
	}

	entries, err := t.schedules.ListByFailure(ctx, failureID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule: %w", err)
	}

	st := &SequenceStatus{
		FailureID:       failure.ID,
		Status:          failure.Status,
		FailedAt:        failure.FailedAt,
		ScheduledEmails: entries,
	}

	for _, e := range entries {
		switch e.Status {
		case model.ScheduleStatusSent:
			st.SentEmails++
			st.CurrentStage = e.StageName
		case model.ScheduleStatusPending:
			if st.NextStage == "" {
				st.NextStage = e.StageName
				at := e.TriggerAt
				st.NextEmailDate = &at
			}
		}
		if t.registry.IsFinal(e.StageName) {
			at := e.TriggerAt
			st.FinalNoticeDate = &at
		}
	}

	return st, nil
}

// StageProgress computes position against the configured stage table.
// Percentage is index/(total-1)*100, clamped to [0,100].
func (t *Tracker) StageProgress(ctx context.Context, failureID uuid.UUID) (*StageProgress, error) {
	st, err := t.SequenceStatus(ctx, failureID)
	if err != nil {
		return nil, err
	}

	stages := t.registry.OrderedStages()
	progress := &StageProgress{
		CurrentStage:      st.CurrentStage,
		TotalStages:       len(stages),
		CurrentStageIndex: -1,
	}

	if st.CurrentStage != "" {
		idx, err := t.registry.StageIndex(st.CurrentStage)
		if err != nil {
			return nil, err
		}
		progress.CurrentStageIndex = idx
		if len(stages) > 1 {
			progress.ProgressPercentage = float64(idx) / float64(len(stages)-1) * 100
		} else {
			progress.ProgressPercentage = 100
		}
		if progress.ProgressPercentage < 0 {
			progress.ProgressPercentage = 0
		}
		if progress.ProgressPercentage > 100 {
			progress.ProgressPercentage = 100
		}
	}

	for i, stage := range stages {
		if i <= progress.CurrentStageIndex {
			progress.StagesCompleted = append(progress.StagesCompleted, stage.Name)
		} else {
			progress.StagesRemaining = append(progress.StagesRemaining, stage.Name)
		}
	}

	return progress, nil
}
