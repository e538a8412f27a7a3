// Package content renders stage and channel specific customer messaging.
// Rendering is deterministic: identical inputs (including the injected
// clock) produce identical output, which keeps re-delivery idempotent.
package content

import (
	"fmt"
	"strings"
	"time"

	"github.com/recoverly/dunning-engine/internal/config"
	"github.com/recoverly/dunning-engine/internal/model"
	"github.com/recoverly/dunning-engine/internal/stageconfig"
	apperrors "github.com/recoverly/dunning-engine/pkg/errors"
)

// Offer is one remediation offer attached to email content.
type Offer struct {
	Description       string  `json:"description"`
	Days              int     `json:"days,omitempty"`
	MinimumPercentage float64 `json:"minimum_percentage,omitempty"`
	MinimumAmount     string  `json:"minimum_amount,omitempty"`
}

type EmailContent struct {
	Subject          string           `json:"subject"`
	Greeting         string           `json:"greeting"`
	Body             string           `json:"body"`
	CallToAction     string           `json:"call_to_action"`
	Footer           string           `json:"footer"`
	UrgencyLevel     model.Urgency    `json:"urgency_level"`
	DaysSinceFailure int              `json:"days_since_failure"`
	PaymentUpdateURL string           `json:"payment_update_url"`
	Offers           map[string]Offer `json:"offers,omitempty"`
}

type SMSContent struct {
	Message    string `json:"message"`
	Priority   string `json:"priority"`
	RetryCount int    `json:"retry_count"`
}

type InAppContent struct {
	Title          string `json:"title"`
	Message        string `json:"message"`
	Severity       string `json:"severity"`
	ActionRequired bool   `json:"action_required"`
	ActionText     string `json:"action_text"`
	ActionURL      string `json:"action_url"`
	Dismissible    bool   `json:"dismissible"`
	Persistent     bool   `json:"persistent"`
}

type BillingAlertContent struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Icon      string `json:"icon"`
	Color     string `json:"color"`
	Sound     bool   `json:"sound"`
	Vibration bool   `json:"vibration"`
}

// In-app notification types, keyed by name. The urgency of a stage selects
// exactly one of these, so the mapping is total over any valid stage table.
type inAppType struct {
	title          string
	severity       string
	actionRequired bool
	actionText     string
	dismissible    bool
	persistent     bool
}

var inAppTypes = map[string]inAppType{
	"payment_failed": {
		title:          "Payment failed",
		severity:       "info",
		actionRequired: true,
		actionText:     "Update payment method",
		dismissible:    true,
	},
	"payment_reminder": {
		title:          "Payment overdue",
		severity:       "warning",
		actionRequired: true,
		actionText:     "Update payment method",
		dismissible:    true,
	},
	"payment_warning": {
		title:          "Account at risk",
		severity:       "error",
		actionRequired: true,
		actionText:     "Resolve payment issue",
		persistent:     true,
	},
	"suspension_notice": {
		title:          "Suspension pending",
		severity:       "critical",
		actionRequired: true,
		actionText:     "Restore your account",
		persistent:     true,
	},
}

type billingAlertType struct {
	title     string
	icon      string
	color     string
	sound     bool
	vibration bool
	frequency string
}

var billingAlertTypes = map[string]billingAlertType{
	"billing_issue": {
		title:     "Billing issue",
		icon:      "credit-card",
		color:     "#f0ad4e",
		frequency: "once",
	},
	"billing_reminder": {
		title:     "Billing reminder",
		icon:      "bell",
		color:     "#f0ad4e",
		frequency: "daily",
	},
	"billing_urgent": {
		title:     "Urgent billing alert",
		icon:      "alert-triangle",
		color:     "#d9534f",
		sound:     true,
		frequency: "daily",
	},
	"billing_critical": {
		title:     "Account suspension alert",
		icon:      "alert-octagon",
		color:     "#d9534f",
		sound:     true,
		vibration: true,
		frequency: "always",
	},
}

type Generator struct {
	registry *stageconfig.Registry
	cfg      config.DunningConfig
	nowFn    func() time.Time
}

func NewGenerator(registry *stageconfig.Registry, cfg config.DunningConfig) *Generator {
	return &Generator{
		registry: registry,
		cfg:      cfg,
		nowFn:    time.Now,
	}
}

func (g *Generator) GenerateEmailContent(failure *model.PaymentFailureRecord, customer *model.Customer, stageName string) (*EmailContent, error) {
	stage, err := g.registry.GetStage(stageName)
	if err != nil {
		return nil, err
	}

	days := g.daysSinceFailure(failure)
	amount := formatAmount(failure.AmountCents, failure.Currency)
	body := renderTemplate(stage.Template, customer.Name, amount, days)

	content := &EmailContent{
		Subject:          renderTemplate(stage.Subject, customer.Name, amount, days),
		Greeting:         fmt.Sprintf("Hi %s,", customer.Name),
		Body:             body,
		CallToAction:     g.callToAction(stage),
		Footer:           fmt.Sprintf("Questions? Call us at %s. Reply STOP to opt out of SMS updates.", g.cfg.SMS.SupportPhone),
		UrgencyLevel:     stage.Urgency,
		DaysSinceFailure: days,
		PaymentUpdateURL: g.cfg.PaymentUpdateURL,
	}

	offers := make(map[string]Offer)
	if stage.GracePeriodOffer && g.cfg.GracePeriod.Enabled {
		offers["grace_period"] = Offer{
			Description: fmt.Sprintf("Keep your access for %d more days while you sort this out.", g.cfg.GracePeriod.GracePeriodDays),
			Days:        g.cfg.GracePeriod.GracePeriodDays,
		}
	}
	if stage.PartialPaymentOffer && g.cfg.PartialPayment.Enabled {
		minCents := failure.AmountCents * int64(g.cfg.PartialPayment.MinimumPercentage) / 100
		offers["partial_payment"] = Offer{
			Description:       fmt.Sprintf("Pay %s now to keep your account open.", formatAmount(minCents, failure.Currency)),
			MinimumPercentage: g.cfg.PartialPayment.MinimumPercentage,
			MinimumAmount:     formatAmount(minCents, failure.Currency),
		}
	}
	if len(offers) > 0 {
		content.Offers = offers
	}

	return content, nil
}

// GenerateSMSContent is only defined for SMS-eligible stages. Calling it for
// any other stage is an error so callers can tell "not applicable" from
// "failed".
func (g *Generator) GenerateSMSContent(failure *model.PaymentFailureRecord, customer *model.Customer, stageName string) (*SMSContent, error) {
	stage, err := g.registry.GetStage(stageName)
	if err != nil {
		return nil, err
	}
	if !g.registry.SMSEligible(stageName) {
		return nil, apperrors.Precondition(fmt.Sprintf("stage %s is not critical", stageName))
	}

	amount := formatAmount(failure.AmountCents, failure.Currency)
	days := g.daysSinceFailure(failure)

	priority := "high"
	if stage.Urgency == model.UrgencyCritical {
		priority = "urgent"
	}

	return &SMSContent{
		Message: fmt.Sprintf("PAYMENT ALERT: %s overdue for %d days. Update your payment method: %s. Reply HELP for assistance or STOP to opt out.",
			amount, days, g.cfg.PaymentUpdateURL),
		Priority:   priority,
		RetryCount: failure.RetryCount,
	}, nil
}

func (g *Generator) GenerateInAppContent(failure *model.PaymentFailureRecord, customer *model.Customer, notificationType string) (*InAppContent, error) {
	t, ok := inAppTypes[notificationType]
	if !ok {
		return nil, apperrors.UnknownType("notification", notificationType)
	}

	amount := formatAmount(failure.AmountCents, failure.Currency)
	return &InAppContent{
		Title:          t.title,
		Message:        fmt.Sprintf("Your payment of %s could not be processed (%s).", amount, failure.FailureReason),
		Severity:       t.severity,
		ActionRequired: t.actionRequired,
		ActionText:     t.actionText,
		ActionURL:      g.cfg.PaymentUpdateURL,
		Dismissible:    t.dismissible,
		Persistent:     t.persistent,
	}, nil
}

func (g *Generator) GenerateBillingAlertContent(failure *model.PaymentFailureRecord, customer *model.Customer, alertType string) (*BillingAlertContent, error) {
	t, ok := billingAlertTypes[alertType]
	if !ok {
		return nil, apperrors.UnknownType("alert", alertType)
	}

	amount := formatAmount(failure.AmountCents, failure.Currency)
	return &BillingAlertContent{
		Title:     t.title,
		Message:   fmt.Sprintf("%s due on your account. Tap to update your payment method.", amount),
		Icon:      t.icon,
		Color:     t.color,
		Sound:     t.sound,
		Vibration: t.vibration,
	}, nil
}

// StageToInAppType maps every configured stage to exactly one in-app
// notification type via its urgency.
func (g *Generator) StageToInAppType(stageName string) (string, error) {
	stage, err := g.registry.GetStage(stageName)
	if err != nil {
		return "", err
	}
	switch stage.Urgency {
	case model.UrgencyLow:
		return "payment_failed", nil
	case model.UrgencyMedium:
		return "payment_reminder", nil
	case model.UrgencyHigh:
		return "payment_warning", nil
	default:
		return "suspension_notice", nil
	}
}

// StageToAlertType maps every configured stage to exactly one billing alert
// type via its urgency.
func (g *Generator) StageToAlertType(stageName string) (string, error) {
	stage, err := g.registry.GetStage(stageName)
	if err != nil {
		return "", err
	}
	switch stage.Urgency {
	case model.UrgencyLow:
		return "billing_issue", nil
	case model.UrgencyMedium:
		return "billing_reminder", nil
	case model.UrgencyHigh:
		return "billing_urgent", nil
	default:
		return "billing_critical", nil
	}
}

// AlertFrequency returns the notification_frequency policy for an alert type.
func (g *Generator) AlertFrequency(alertType string) (string, error) {
	t, ok := billingAlertTypes[alertType]
	if !ok {
		return "", apperrors.UnknownType("alert", alertType)
	}
	return t.frequency, nil
}

func (g *Generator) daysSinceFailure(failure *model.PaymentFailureRecord) int {
	days := int(g.nowFn().Sub(failure.FailedAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days
}

func (g *Generator) callToAction(stage model.DunningStageDefinition) string {
	switch {
	case stage.ManualIntervention:
		return fmt.Sprintf("Contact support at %s to restore your account.", g.cfg.SMS.SupportPhone)
	case stage.PaymentMethodUpdate:
		return fmt.Sprintf("Update your payment method now: %s", g.cfg.PaymentUpdateURL)
	case stage.RetryAttempt:
		return "No action needed yet. We'll retry your payment automatically."
	default:
		return fmt.Sprintf("Review your billing details: %s", g.cfg.PaymentUpdateURL)
	}
}

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

func formatAmount(cents int64, currency string) string {
	whole := cents / 100
	frac := cents % 100
	if frac < 0 {
		frac = -frac
	}
	if sym, ok := currencySymbols[strings.ToUpper(currency)]; ok {
		return fmt.Sprintf("%s%d.%02d", sym, whole, frac)
	}
	return fmt.Sprintf("%d.%02d %s", whole, frac, strings.ToUpper(currency))
}

func renderTemplate(tmpl, customerName, amount string, days int) string {
	r := strings.NewReplacer(
		"{customer_name}", customerName,
		"{amount}", amount,
		"{days}", fmt.Sprintf("%d", days),
	)
	return r.Replace(tmpl)
}
