package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverly/dunning-engine/internal/config"
	"github.com/recoverly/dunning-engine/internal/model"
	"github.com/recoverly/dunning-engine/internal/repository/memory"
	"github.com/recoverly/dunning-engine/internal/stageconfig"
	"github.com/recoverly/dunning-engine/pkg/logger"
)

var testFailedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*Scheduler, *memory.Store) {
	t.Helper()
	cfg := config.DefaultDunning()
	registry, err := stageconfig.NewRegistry(cfg.ToStageDefinitions(), cfg.SMS.CriticalStages)
	require.NoError(t, err)

	store := memory.NewStore()
	s := NewScheduler(registry, store.Schedules, logger.NewLogger(nil))
	s.nowFn = func() time.Time { return testFailedAt }
	return s, store
}

func newTestFailure() *model.PaymentFailureRecord {
	return &model.PaymentFailureRecord{
		ID:       uuid.New(),
		FailedAt: testFailedAt,
		Status:   model.FailureStatusPending,
	}
}

func TestScheduleComputesTimetable(t *testing.T) {
	s, store := newTestScheduler(t)
	failure := newTestFailure()

	summary, err := s.Schedule(context.Background(), failure)
	require.NoError(t, err)

	assert.Equal(t, 6, summary.ScheduledCount)
	assert.Equal(t, testFailedAt, summary.FirstEmailDate)
	assert.Equal(t, testFailedAt.Add(30*24*time.Hour), summary.FinalNoticeDate)

	wantDelays := map[string]int{
		"initial_notice":  0,
		"first_reminder":  3,
		"second_reminder": 7,
		"urgent_notice":   14,
		"final_warning":   21,
		"final_notice":    30,
	}
	for name, days := range wantDelays {
		got, ok := summary.StageDates[name]
		require.True(t, ok, "missing stage %s", name)
		assert.Equal(t, testFailedAt.Add(time.Duration(days)*24*time.Hour), got)
	}

	entries, err := store.Schedules.ListByFailure(context.Background(), failure.ID)
	require.NoError(t, err)
	require.Len(t, entries, 6)
	for _, e := range entries {
		assert.Equal(t, model.ScheduleStatusPending, e.Status)
	}
}

func TestScheduleIsIdempotent(t *testing.T) {
	s, store := newTestScheduler(t)
	failure := newTestFailure()
	ctx := context.Background()

	_, err := s.Schedule(ctx, failure)
	require.NoError(t, err)
	require.NoError(t, s.MarkSent(ctx, failure.ID, "initial_notice"))

	// Re-ingesting the same failure must not duplicate rows or reset state.
	_, err = s.Schedule(ctx, failure)
	require.NoError(t, err)

	entries, err := store.Schedules.ListByFailure(ctx, failure.ID)
	require.NoError(t, err)
	require.Len(t, entries, 6)

	var sent int
	for _, e := range entries {
		if e.Status == model.ScheduleStatusSent {
			sent++
		}
	}
	assert.Equal(t, 1, sent)
}

func TestNextDueStageOrdering(t *testing.T) {
	s, _ := newTestScheduler(t)
	failure := newTestFailure()
	ctx := context.Background()

	_, err := s.Schedule(ctx, failure)
	require.NoError(t, err)

	// Nothing due before the first trigger.
	stage, err := s.NextDueStage(ctx, failure.ID, testFailedAt.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stage)

	// At failure time the zero-delay stage is due.
	stage, err = s.NextDueStage(ctx, failure.ID, testFailedAt)
	require.NoError(t, err)
	assert.Equal(t, "initial_notice", stage)

	// Even when later stages are overdue, the earliest unsent stage wins.
	dayEight := testFailedAt.Add(8 * 24 * time.Hour)
	stage, err = s.NextDueStage(ctx, failure.ID, dayEight)
	require.NoError(t, err)
	assert.Equal(t, "initial_notice", stage)

	require.NoError(t, s.MarkSent(ctx, failure.ID, "initial_notice"))
	stage, err = s.NextDueStage(ctx, failure.ID, dayEight)
	require.NoError(t, err)
	assert.Equal(t, "first_reminder", stage)

	require.NoError(t, s.MarkSent(ctx, failure.ID, "first_reminder"))
	require.NoError(t, s.MarkSent(ctx, failure.ID, "second_reminder"))

	// Next pending stage (urgent_notice, day 14) is in the future: blocked.
	stage, err = s.NextDueStage(ctx, failure.ID, dayEight)
	require.NoError(t, err)
	assert.Empty(t, stage)
}

func TestCurrentStage(t *testing.T) {
	s, _ := newTestScheduler(t)
	failure := newTestFailure()
	ctx := context.Background()

	_, err := s.Schedule(ctx, failure)
	require.NoError(t, err)

	current, err := s.CurrentStage(ctx, failure.ID)
	require.NoError(t, err)
	assert.Empty(t, current)

	require.NoError(t, s.MarkSent(ctx, failure.ID, "initial_notice"))
	require.NoError(t, s.MarkSent(ctx, failure.ID, "first_reminder"))

	current, err = s.CurrentStage(ctx, failure.ID)
	require.NoError(t, err)
	assert.Equal(t, "first_reminder", current)
}

func TestMarkSentTwiceFails(t *testing.T) {
	s, _ := newTestScheduler(t)
	failure := newTestFailure()
	ctx := context.Background()

	_, err := s.Schedule(ctx, failure)
	require.NoError(t, err)

	require.NoError(t, s.MarkSent(ctx, failure.ID, "initial_notice"))
	assert.Error(t, s.MarkSent(ctx, failure.ID, "initial_notice"))
}

func TestCancelPendingStages(t *testing.T) {
	s, store := newTestScheduler(t)
	failure := newTestFailure()
	ctx := context.Background()

	_, err := s.Schedule(ctx, failure)
	require.NoError(t, err)
	require.NoError(t, s.MarkSent(ctx, failure.ID, "initial_notice"))
	require.NoError(t, s.MarkSent(ctx, failure.ID, "first_reminder"))

	cancelled, err := s.Cancel(ctx, failure.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, cancelled)

	entries, err := store.Schedules.ListByFailure(ctx, failure.ID)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, model.ScheduleStatusPending, e.Status)
	}

	// Sent history is preserved.
	current, err := s.CurrentStage(ctx, failure.ID)
	require.NoError(t, err)
	assert.Equal(t, "first_reminder", current)
}
