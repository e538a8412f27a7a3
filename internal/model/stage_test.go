package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnabledActionsUseActionLogTokens(t *testing.T) {
	stage := DunningStageDefinition{
		Name:                "everything",
		RetryAttempt:        true,
		PaymentMethodUpdate: true,
		GracePeriodOffer:    true,
		PartialPaymentOffer: true,
		ManualIntervention:  true,
	}

	assert.Equal(t, []string{
		string(ActionPaymentRetry),
		string(ActionPaymentMethodPrompt),
		string(ActionGracePeriod),
		string(ActionPartialPayment),
		string(ActionManualIntervention),
	}, stage.EnabledActions())
}

func TestEnabledActionsEmptyWithoutFlags(t *testing.T) {
	assert.Empty(t, DunningStageDefinition{Name: "bare"}.EnabledActions())
}
