package dunning

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
	"github.com/recoverly/dunning-engine/internal/schedule"
	"github.com/recoverly/dunning-engine/internal/stageconfig"
	"github.com/recoverly/dunning-engine/internal/status"
	apperrors "github.com/recoverly/dunning-engine/pkg/errors"
	"github.com/recoverly/dunning-engine/pkg/logger"
	"github.com/recoverly/dunning-engine/pkg/metrics"
)

var (
	testFailedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testNow      = testFailedAt.Add(time.Hour)
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	cfg := config.DefaultDunning()
	registry, err := stageconfig.NewRegistry(cfg.ToStageDefinitions(), cfg.SMS.CriticalStages)
	require.NoError(t, err)

	store := memory.NewStore()
	log := logger.NewLogger(nil)
	scheduler := schedule.NewScheduler(registry, store.Schedules, log)
	tracker := status.NewTracker(registry, store.Failures, store.Schedules)

	s := NewService(store.Failures, store.Events, scheduler, tracker, metrics.New("test"), log)
	s.nowFn = func() time.Time { return testNow }
	return s, store
}

func ingestRequest() *IngestRequest {
	return &IngestRequest{
		CustomerID:      uuid.New(),
		SubscriptionID:  uuid.New(),
		InvoiceID:       "in_42",
		PaymentIntentID: "pi_42",
		FailureReason:   "card declined",
		FailureCode:     "card_declined",
		AmountCents:     2499,
		Currency:        "USD",
		FailedAt:        testFailedAt,
	}
}

func TestIngestSchedulesFullSequence(t *testing.T) {
	s, store := newTestService(t)

	result, err := s.Ingest(context.Background(), ingestRequest())
	require.NoError(t, err)

	assert.Equal(t, model.FailureStatusPending, result.Failure.Status)
	assert.Equal(t, testFailedAt, result.Failure.FailedAt)
	assert.Equal(t, 6, result.Schedule.ScheduledCount)
	assert.Equal(t, testFailedAt.Add(30*24*time.Hour), result.Schedule.FinalNoticeDate)

	entries, err := store.Schedules.ListByFailure(context.Background(), result.Failure.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 6)
}

func TestIngestDefaultsFailedAtToNow(t *testing.T) {
	s, _ := newTestService(t)
	req := ingestRequest()
	req.FailedAt = time.Time{}

	result, err := s.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, testNow, result.Failure.FailedAt)
}

func TestMarkRecoveredCancelsPendingStages(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()

	result, err := s.Ingest(ctx, ingestRequest())
	require.NoError(t, err)

	failure, err := s.MarkRecovered(ctx, result.Failure.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FailureStatusRecovered, failure.Status)

	entries, err := store.Schedules.ListByFailure(ctx, result.Failure.ID)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, model.ScheduleStatusCancelled, e.Status)
	}

	// Recovering twice is a no-op, not an error.
	again, err := s.MarkRecovered(ctx, result.Failure.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FailureStatusRecovered, again.Status)
}

func TestMarkRecoveredOnSuspendedFailureConflicts(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()

	result, err := s.Ingest(ctx, ingestRequest())
	require.NoError(t, err)
	require.NoError(t, store.Failures.UpdateStatus(ctx, result.Failure.ID, model.FailureStatusSuspended))

	_, err = s.MarkRecovered(ctx, result.Failure.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConflict))
}

func TestMarkRecoveredUnknownFailure(t *testing.T) {
	s, _ := newTestService(t)

	_, err := s.MarkRecovered(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestSequenceStatusAndProgressPassThrough(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	result, err := s.Ingest(ctx, ingestRequest())
	require.NoError(t, err)

	st, err := s.SequenceStatus(ctx, result.Failure.ID)
	require.NoError(t, err)
	assert.Equal(t, "initial_notice", st.NextStage)

	progress, err := s.StageProgress(ctx, result.Failure.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, progress.CurrentStageIndex)
}

func TestNotificationHistory(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()

	result, err := s.Ingest(ctx, ingestRequest())
	require.NoError(t, err)

	require.NoError(t, store.Events.Create(ctx, &model.NotificationEvent{
		FailureID: result.Failure.ID,
		StageName: "initial_notice",
		Channel:   model.ChannelEmail,
		Status:    model.NotificationStatusSent,
	}))

	events, err := s.NotificationHistory(ctx, result.Failure.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ChannelEmail, events[0].Channel)

	_, err = s.NotificationHistory(ctx, uuid.New())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}
