package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverly/dunning-engine/internal/model"
)

func seedDueFailure(t *testing.T, store *Store, failedAt time.Time) *model.PaymentFailureRecord {
	t.Helper()
	ctx := context.Background()

	failure := &model.PaymentFailureRecord{
		ID:       uuid.New(),
		FailedAt: failedAt,
		Status:   model.FailureStatusPending,
	}
	require.NoError(t, store.Failures.Create(ctx, failure))
	require.NoError(t, store.Schedules.Create(ctx, &model.ScheduledEmail{
		FailureID: failure.ID,
		StageName: "initial_notice",
		TriggerAt: failedAt,
		Status:    model.ScheduleStatusPending,
	}))
	return failure
}

func TestClaimDueLeasesFailure(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	failure := seedDueFailure(t, store, now)

	claimed, err := store.Failures.ClaimDue(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, failure.ID, claimed[0].ID)

	// Still due, but leased: a concurrent pass must not see it.
	again, err := store.Failures.ClaimDue(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestReleaseMakesFailureClaimableAgain(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	failure := seedDueFailure(t, store, now)

	_, err := store.Failures.ClaimDue(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Failures.Release(ctx, failure.ID))

	claimed, err := store.Failures.ClaimDue(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestExpiredClaimIsReclaimed(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedDueFailure(t, store, now)

	_, err := store.Failures.ClaimDue(ctx, now, 10, time.Minute)
	require.NoError(t, err)

	// A crashed worker never releases; the lease expiring is the recovery.
	claimed, err := store.Failures.ClaimDue(ctx, now.Add(2*time.Minute), 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}
