package content

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverly/dunning-engine/internal/config"
	"github.com/recoverly/dunning-engine/internal/model"
	"github.com/recoverly/dunning-engine/internal/stageconfig"
	apperrors "github.com/recoverly/dunning-engine/pkg/errors"
)

var (
	testFailedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testNow      = testFailedAt.Add(7 * 24 * time.Hour)
)

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	cfg := config.DefaultDunning()
	registry, err := stageconfig.NewRegistry(cfg.ToStageDefinitions(), cfg.SMS.CriticalStages)
	require.NoError(t, err)

	g := NewGenerator(registry, cfg)
	g.nowFn = func() time.Time { return testNow }
	return g
}

func testFailure() *model.PaymentFailureRecord {
	return &model.PaymentFailureRecord{
		ID:            uuid.New(),
		AmountCents:   2499,
		Currency:      "USD",
		FailedAt:      testFailedAt,
		FailureReason: "card declined",
		RetryCount:    2,
		Status:        model.FailureStatusInProgress,
	}
}

func testCustomer() *model.Customer {
	return &model.Customer{
		ID:    uuid.New(),
		Name:  "Ada Lovelace",
		Email: "ada@example.com",
	}
}

func TestGenerateEmailContent(t *testing.T) {
	g := newTestGenerator(t)

	content, err := g.GenerateEmailContent(testFailure(), testCustomer(), "second_reminder")
	require.NoError(t, err)

	assert.Equal(t, "Your payment is 7 days overdue", content.Subject)
	assert.Equal(t, "Hi Ada Lovelace,", content.Greeting)
	assert.Contains(t, content.Body, "$24.99")
	assert.Contains(t, content.Body, "7 days overdue")
	assert.Equal(t, model.UrgencyMedium, content.UrgencyLevel)
	assert.Equal(t, 7, content.DaysSinceFailure)
	assert.NotEmpty(t, content.PaymentUpdateURL)
	assert.Empty(t, content.Offers)
}

func TestGenerateEmailContentIsDeterministic(t *testing.T) {
	g := newTestGenerator(t)
	failure := testFailure()
	customer := testCustomer()

	first, err := g.GenerateEmailContent(failure, customer, "urgent_notice")
	require.NoError(t, err)
	second, err := g.GenerateEmailContent(failure, customer, "urgent_notice")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEmailOffers(t *testing.T) {
	g := newTestGenerator(t)
	failure := testFailure()
	customer := testCustomer()

	grace, err := g.GenerateEmailContent(failure, customer, "urgent_notice")
	require.NoError(t, err)
	require.Contains(t, grace.Offers, "grace_period")
	assert.Equal(t, 7, grace.Offers["grace_period"].Days)
	assert.NotContains(t, grace.Offers, "partial_payment")

	partial, err := g.GenerateEmailContent(failure, customer, "final_warning")
	require.NoError(t, err)
	require.Contains(t, partial.Offers, "partial_payment")
	assert.Equal(t, float64(50), partial.Offers["partial_payment"].MinimumPercentage)
	assert.Equal(t, "$12.49", partial.Offers["partial_payment"].MinimumAmount)
}

func TestGenerateSMSContent(t *testing.T) {
	g := newTestGenerator(t)

	sms, err := g.GenerateSMSContent(testFailure(), testCustomer(), "final_warning")
	require.NoError(t, err)
	assert.Contains(t, sms.Message, "$24.99")
	assert.Contains(t, sms.Message, "7 days")
	assert.Contains(t, sms.Message, "STOP")
	assert.Equal(t, "urgent", sms.Priority)
	assert.Equal(t, 2, sms.RetryCount)

	urgent, err := g.GenerateSMSContent(testFailure(), testCustomer(), "urgent_notice")
	require.NoError(t, err)
	assert.Equal(t, "high", urgent.Priority)
}

func TestGenerateSMSContentRejectsNonCriticalStage(t *testing.T) {
	g := newTestGenerator(t)

	_, err := g.GenerateSMSContent(testFailure(), testCustomer(), "initial_notice")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrPrecondition))
}

func TestGenerateInAppContent(t *testing.T) {
	g := newTestGenerator(t)

	content, err := g.GenerateInAppContent(testFailure(), testCustomer(), "payment_warning")
	require.NoError(t, err)
	assert.Equal(t, "Account at risk", content.Title)
	assert.Equal(t, "error", content.Severity)
	assert.True(t, content.ActionRequired)
	assert.True(t, content.Persistent)
	assert.Contains(t, content.Message, "$24.99")

	_, err = g.GenerateInAppContent(testFailure(), testCustomer(), "bogus")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrUnknownType))
}

func TestGenerateBillingAlertContent(t *testing.T) {
	g := newTestGenerator(t)

	alert, err := g.GenerateBillingAlertContent(testFailure(), testCustomer(), "billing_critical")
	require.NoError(t, err)
	assert.True(t, alert.Sound)
	assert.True(t, alert.Vibration)

	freq, err := g.AlertFrequency("billing_critical")
	require.NoError(t, err)
	assert.Equal(t, "always", freq)

	_, err = g.GenerateBillingAlertContent(testFailure(), testCustomer(), "bogus")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrUnknownType))
}

// Every configured stage must map to exactly one in-app type and one alert
// type; a stage outside the mapping would lose its secondary channels.
func TestStageMappingsAreTotal(t *testing.T) {
	cfg := config.DefaultDunning()
	registry, err := stageconfig.NewRegistry(cfg.ToStageDefinitions(), cfg.SMS.CriticalStages)
	require.NoError(t, err)
	g := NewGenerator(registry, cfg)

	for _, stage := range registry.OrderedStages() {
		inAppType, err := g.StageToInAppType(stage.Name)
		require.NoError(t, err, "stage %s", stage.Name)
		_, ok := inAppTypes[inAppType]
		assert.True(t, ok, "stage %s maps to unknown in-app type %s", stage.Name, inAppType)

		alertType, err := g.StageToAlertType(stage.Name)
		require.NoError(t, err, "stage %s", stage.Name)
		_, ok = billingAlertTypes[alertType]
		assert.True(t, ok, "stage %s maps to unknown alert type %s", stage.Name, alertType)
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "$24.99", formatAmount(2499, "USD"))
	assert.Equal(t, "€10.00", formatAmount(1000, "eur"))
	assert.Equal(t, "£0.05", formatAmount(5, "GBP"))
	assert.Equal(t, "12.00 SEK", formatAmount(1200, "SEK"))
}
