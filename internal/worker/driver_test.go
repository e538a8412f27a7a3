package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverly/dunning-engine/internal/action"
	"github.com/recoverly/dunning-engine/internal/config"
	"github.com/recoverly/dunning-engine/internal/content"
	"github.com/recoverly/dunning-engine/internal/dispatch"
	"github.com/recoverly/dunning-engine/internal/model"
	"github.com/recoverly/dunning-engine/internal/repository/memory"
	"github.com/recoverly/dunning-engine/internal/schedule"
	"github.com/recoverly/dunning-engine/internal/stageconfig"
	"github.com/recoverly/dunning-engine/pkg/logger"
	"github.com/recoverly/dunning-engine/pkg/metrics"
)

var testFailedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type okEmail struct{ sent int }

func (f *okEmail) SendCustom(context.Context, string, string, string) error {
	f.sent++
	return nil
}

type okSMS struct{ sent int }

func (f *okSMS) Send(context.Context, string, string) error {
	f.sent++
	return nil
}

type okBroker struct{ published int }

func (f *okBroker) Publish(context.Context, string, interface{}) error {
	f.published++
	return nil
}
func (f *okBroker) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (f *okBroker) Close() error                                             { return nil }

type stubGateway struct {
	result action.ChargeResult
	calls  int
}

func (f *stubGateway) RetryCharge(context.Context, string, int64) (action.ChargeResult, error) {
	f.calls++
	return f.result, nil
}

type driverEnv struct {
	driver    *Driver
	store     *memory.Store
	scheduler *schedule.Scheduler
	email     *okEmail
	sms       *okSMS
	broker    *okBroker
	gateway   *stubGateway
}

func newDriverEnv(t *testing.T, cfg config.DunningConfig, gatewayResult action.ChargeResult) *driverEnv {
	t.Helper()
	registry, err := stageconfig.NewRegistry(cfg.ToStageDefinitions(), cfg.SMS.CriticalStages)
	require.NoError(t, err)

	store := memory.NewStore()
	log := logger.NewLogger(nil)
	m := metrics.New("test")

	env := &driverEnv{
		store:   store,
		email:   &okEmail{},
		sms:     &okSMS{},
		broker:  &okBroker{},
		gateway: &stubGateway{result: gatewayResult},
	}
	env.scheduler = schedule.NewScheduler(registry, store.Schedules, log)
	dispatcher := dispatch.NewDispatcher(
		registry, content.NewGenerator(registry, cfg), env.scheduler,
		store.Customers, store.Events,
		env.email, env.sms, env.broker,
		m, log,
	)
	executor := action.NewExecutor(registry, store.Failures, store.Actions, env.gateway, cfg, m, log)

	env.driver = NewDriver(registry, store.Failures, env.scheduler, dispatcher, executor, config.DriverConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
		ClaimTTL:      time.Minute,
	}, log, m)
	return env
}

func (e *driverEnv) at(now time.Time) {
	e.driver.nowFn = func() time.Time { return now }
}

func (e *driverEnv) seed(t *testing.T) *model.PaymentFailureRecord {
	t.Helper()
	phone := "+15551234567"
	customer := &model.Customer{
		ID:          uuid.New(),
		Name:        "Ada Lovelace",
		Email:       "ada@example.com",
		PhoneNumber: &phone,
	}
	e.store.Customers.Put(customer)

	failure := &model.PaymentFailureRecord{
		ID:              uuid.New(),
		CustomerID:      customer.ID,
		PaymentIntentID: "pi_123",
		FailureCode:     "card_declined",
		AmountCents:     10000,
		Currency:        "USD",
		FailedAt:        testFailedAt,
		Status:          model.FailureStatusPending,
	}
	require.NoError(t, e.store.Failures.Create(context.Background(), failure))
	_, err := e.scheduler.Schedule(context.Background(), failure)
	require.NoError(t, err)
	return failure
}

func TestProcessDueAdvancesOneStage(t *testing.T) {
	env := newDriverEnv(t, config.DefaultDunning(), action.ChargeResult{Success: false, Reason: "card_declined"})
	failure := env.seed(t)
	env.at(testFailedAt)
	ctx := context.Background()

	require.NoError(t, env.driver.ProcessDue(ctx))

	stored, err := env.store.Failures.Get(ctx, failure.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FailureStatusInProgress, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, 1, env.gateway.calls)
	assert.Equal(t, 1, env.email.sent)

	current, err := env.scheduler.CurrentStage(ctx, failure.ID)
	require.NoError(t, err)
	assert.Equal(t, "initial_notice", current)

	// Nothing further is due at the same instant.
	require.NoError(t, env.driver.ProcessDue(ctx))
	assert.Equal(t, 1, env.email.sent)
}

func TestSuccessfulRetryClosesSequence(t *testing.T) {
	env := newDriverEnv(t, config.DefaultDunning(), action.ChargeResult{Success: true})
	failure := env.seed(t)
	env.at(testFailedAt)
	ctx := context.Background()

	require.NoError(t, env.driver.ProcessDue(ctx))

	stored, err := env.store.Failures.Get(ctx, failure.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FailureStatusRecovered, stored.Status)

	// The payment is collected: no dunning email goes out.
	assert.Zero(t, env.email.sent)

	entries, err := env.store.Schedules.ListByFailure(ctx, failure.ID)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, model.ScheduleStatusCancelled, e.Status)
	}
}

func TestFullSequenceEndsInManualIntervention(t *testing.T) {
	env := newDriverEnv(t, config.DefaultDunning(), action.ChargeResult{Success: false, Reason: "card_declined"})
	failure := env.seed(t)
	env.at(testFailedAt.Add(31 * 24 * time.Hour))
	ctx := context.Background()

	// Every stage is overdue; each pass advances exactly one stage.
	for i := 0; i < 6; i++ {
		require.NoError(t, env.driver.ProcessDue(ctx))
	}

	assert.Equal(t, 6, env.email.sent)

	stored, err := env.store.Failures.Get(ctx, failure.ID)
	require.NoError(t, err)
	assert.True(t, stored.ManualIntervention)
	// Held for a human, not auto-suspended.
	assert.Equal(t, model.FailureStatusInProgress, stored.Status)

	// The hold excludes the failure from further automated passes.
	require.NoError(t, env.driver.ProcessDue(ctx))
	assert.Equal(t, 6, env.email.sent)
}

func TestFinalStageWithoutHoldSuspends(t *testing.T) {
	cfg := config.DefaultDunning()
	cfg.Stages[len(cfg.Stages)-1].ManualIntervention = false

	env := newDriverEnv(t, cfg, action.ChargeResult{Success: false, Reason: "card_declined"})
	failure := env.seed(t)
	env.at(testFailedAt.Add(31 * 24 * time.Hour))
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, env.driver.ProcessDue(ctx))
	}

	stored, err := env.store.Failures.Get(ctx, failure.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FailureStatusSuspended, stored.Status)

	require.NoError(t, env.driver.ProcessDue(ctx))
	assert.Equal(t, 6, env.email.sent)
}

func TestClosedFailureIsNeverProcessed(t *testing.T) {
	env := newDriverEnv(t, config.DefaultDunning(), action.ChargeResult{Success: false})
	failure := env.seed(t)
	require.NoError(t, env.store.Failures.UpdateStatus(context.Background(), failure.ID, model.FailureStatusRecovered))
	env.at(testFailedAt.Add(31 * 24 * time.Hour))

	require.NoError(t, env.driver.ProcessDue(context.Background()))
	assert.Zero(t, env.email.sent)
	assert.Zero(t, env.gateway.calls)
}

func TestDriverConfigValidation(t *testing.T) {
	assert.Panics(t, func() {
		NewDriver(nil, nil, nil, nil, nil, config.DriverConfig{}, logger.NewLogger(nil), metrics.New("test"))
	})
}
