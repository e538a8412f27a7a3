package model

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// DunningStageDefinition is configuration, not persisted per-failure. The
// stage table is loaded once at startup and validated for strictly
// increasing delays.
type DunningStageDefinition struct {
	Name                string  `json:"name"`
	DelayDays           int     `json:"delay_days"`
	Subject             string  `json:"subject"`
	Template            string  `json:"template"`
	Urgency             Urgency `json:"urgency"`
	RetryAttempt        bool    `json:"retry_attempt"`
	AmountAdjustment    bool    `json:"amount_adjustment"`
	PaymentMethodUpdate bool    `json:"payment_method_update"`
	GracePeriodOffer    bool    `json:"grace_period_offer"`
	PartialPaymentOffer bool    `json:"partial_payment_offer"`
	ManualIntervention  bool    `json:"manual_intervention"`
}

// EnabledActions lists the side-effect flags set on the stage, in the order
// the executor runs them. Tokens are the ActionType values, so the email's
// stage_actions list and the recovery-action log use the same vocabulary.
func (d DunningStageDefinition) EnabledActions() []string {
	var actions []string
	if d.RetryAttempt {
		actions = append(actions, string(ActionPaymentRetry))
	}
	if d.PaymentMethodUpdate {
		actions = append(actions, string(ActionPaymentMethodPrompt))
	}
	if d.GracePeriodOffer {
		actions = append(actions, string(ActionGracePeriod))
	}
	if d.PartialPaymentOffer {
		actions = append(actions, string(ActionPartialPayment))
	}
	if d.ManualIntervention {
		actions = append(actions, string(ActionManualIntervention))
	}
	return actions
}
