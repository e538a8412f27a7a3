// Package dispatch fans stage notifications out across delivery channels.
// Email is the primary channel: its delivery is the commit point that marks
// a stage sent. The other channels are best-effort and recorded per attempt.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/recoverly/dunning-engine/internal/content"
	"github.com/recoverly/dunning-engine/internal/model"
	"github.com/recoverly/dunning-engine/internal/repository"
	"github.com/recoverly/dunning-engine/internal/schedule"
	"github.com/recoverly/dunning-engine/internal/stageconfig"
	"github.com/recoverly/dunning-engine/internal/email"
	"github.com/recoverly/dunning-engine/internal/sms"
	apperrors "github.com/recoverly/dunning-engine/pkg/errors"
	"github.com/recoverly/dunning-engine/pkg/logger"
	"github.com/recoverly/dunning-engine/pkg/messaging"
	"github.com/recoverly/dunning-engine/pkg/metrics"
)

const customerCacheTTL = 5 * time.Minute

// ChannelResult reports one delivery attempt on one channel.
type ChannelResult struct {
	Channel model.Channel            `json:"channel"`
	Status  model.NotificationStatus `json:"status"`
	Reason  string                   `json:"reason,omitempty"`
}

// EmailResult is the primary-channel result, including the stage actions the
// recipient was told about.
type EmailResult struct {
	ChannelResult
	Subject      string   `json:"subject"`
	StageActions []string `json:"stage_actions"`
}

// MultiChannelResult aggregates a full stage fan-out. Success follows the
// primary channel only; a failed SMS never blocks the sequence.
type MultiChannelResult struct {
	Stage   string         `json:"stage"`
	Success bool           `json:"success"`
	Email   *EmailResult   `json:"email,omitempty"`
	SMS     *ChannelResult `json:"sms,omitempty"`
	InApp   *ChannelResult `json:"in_app,omitempty"`
	Push    *ChannelResult `json:"push,omitempty"`
}

type Dispatcher struct {
	registry  *stageconfig.Registry
	generator *content.Generator
	scheduler *schedule.Scheduler
	customers repository.CustomerRepository
	events    repository.NotificationEventRepository
	email     email.Service
	sms       sms.Sender
	broker    messaging.Broker
	cache     *gocache.Cache
	metrics   *metrics.Metrics
	logger    *logger.Logger
	nowFn     func() time.Time
}

func NewDispatcher(
	registry *stageconfig.Registry,
	generator *content.Generator,
	scheduler *schedule.Scheduler,
	customers repository.CustomerRepository,
	events repository.NotificationEventRepository,
	emailSvc email.Service,
	smsSender sms.Sender,
	broker messaging.Broker,
	m *metrics.Metrics,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		generator: generator,
		scheduler: scheduler,
		customers: customers,
		events:    events,
		email:     emailSvc,
		sms:       smsSender,
		broker:    broker,
		cache:     gocache.New(customerCacheTTL, 2*customerCacheTTL),
		metrics:   m,
		logger:    log,
		nowFn:     time.Now,
	}
}

// SendEmail delivers the stage email and, on success, marks the scheduled
// entry sent. Marking happens only after delivery so a crash in between
// re-sends rather than silently skips.
func (d *Dispatcher) SendEmail(ctx context.Context, failure *model.PaymentFailureRecord, stageName string) (*EmailResult, error) {
	stage, err := d.registry.GetStage(stageName)
	if err != nil {
		return nil, err
	}

	customer, err := d.customer(ctx, failure)
	if err != nil {
		return nil, err
	}

	emailContent, err := d.generator.GenerateEmailContent(failure, customer, stageName)
	if err != nil {
		return nil, err
	}

	result := &EmailResult{
		ChannelResult: ChannelResult{Channel: model.ChannelEmail},
		Subject:       emailContent.Subject,
		StageActions:  stage.EnabledActions(),
	}

	body := renderEmailBody(emailContent)
	if err := d.email.SendCustom(ctx, customer.Email, emailContent.Subject, body); err != nil {
		result.Status = model.NotificationStatusFailed
		result.Reason = err.Error()
		d.recordEvent(ctx, failure, stageName, model.ChannelEmail, model.NotificationStatusFailed, err.Error())
		return result, fmt.Errorf("failed to send stage email: %w", err)
	}

	if err := d.scheduler.MarkSent(ctx, failure.ID, stageName); err != nil {
		// Delivered but not recorded: surface loudly, the entry will be
		// retried and the customer may see a duplicate.
		d.logger.Error(err, "email delivered but stage not marked sent",
			"failure_id", failure.ID.String(), "stage", stageName)
		return result, fmt.Errorf("failed to mark stage sent: %w", err)
	}

	result.Status = model.NotificationStatusSent
	d.recordEvent(ctx, failure, stageName, model.ChannelEmail, model.NotificationStatusSent, "")
	return result, nil
}

// SendSMS delivers the stage SMS. Only defined for SMS-eligible stages; a
// customer without a phone number yields a skipped result, not an error.
func (d *Dispatcher) SendSMS(ctx context.Context, failure *model.PaymentFailureRecord, stageName string) (*ChannelResult, error) {
	if _, err := d.registry.GetStage(stageName); err != nil {
		return nil, err
	}
	if !d.registry.SMSEligible(stageName) {
		return nil, apperrors.Precondition(fmt.Sprintf("stage %s is not critical", stageName))
	}

	customer, err := d.customer(ctx, failure)
	if err != nil {
		return nil, err
	}

	result := &ChannelResult{Channel: model.ChannelSMS}

	raw, ok := ResolvePhoneNumber(customer)
	if !ok {
		result.Status = model.NotificationStatusSkipped
		result.Reason = "no phone number on file"
		d.recordEvent(ctx, failure, stageName, model.ChannelSMS, model.NotificationStatusSkipped, result.Reason)
		return result, nil
	}

	to, err := NormalizePhoneNumber(raw)
	if err != nil {
		result.Status = model.NotificationStatusFailed
		result.Reason = err.Error()
		d.recordEvent(ctx, failure, stageName, model.ChannelSMS, model.NotificationStatusFailed, result.Reason)
		return result, nil
	}

	smsContent, err := d.generator.GenerateSMSContent(failure, customer, stageName)
	if err != nil {
		return nil, err
	}

	if err := d.sms.Send(ctx, to, smsContent.Message); err != nil {
		result.Status = model.NotificationStatusFailed
		result.Reason = err.Error()
		d.recordEvent(ctx, failure, stageName, model.ChannelSMS, model.NotificationStatusFailed, result.Reason)
		return result, nil
	}

	result.Status = model.NotificationStatusSent
	d.recordEvent(ctx, failure, stageName, model.ChannelSMS, model.NotificationStatusSent, "")
	return result, nil
}

// SendInApp publishes an in-app notification for the stage on the
// notifications channel.
func (d *Dispatcher) SendInApp(ctx context.Context, failure *model.PaymentFailureRecord, stageName string) (*ChannelResult, error) {
	notificationType, err := d.generator.StageToInAppType(stageName)
	if err != nil {
		return nil, err
	}

	customer, err := d.customer(ctx, failure)
	if err != nil {
		return nil, err
	}

	inApp, err := d.generator.GenerateInAppContent(failure, customer, notificationType)
	if err != nil {
		return nil, err
	}

	result := &ChannelResult{Channel: model.ChannelInApp}
	msg := messaging.Message{Type: notificationType, Payload: map[string]interface{}{
		"customer_id": customer.ID.String(),
		"failure_id":  failure.ID.String(),
		"stage":       stageName,
		"content":     inApp,
	}}
	if err := d.broker.Publish(ctx, "notifications", msg); err != nil {
		result.Status = model.NotificationStatusFailed
		result.Reason = err.Error()
		d.recordEvent(ctx, failure, stageName, model.ChannelInApp, model.NotificationStatusFailed, result.Reason)
		return result, nil
	}

	result.Status = model.NotificationStatusSent
	d.recordEvent(ctx, failure, stageName, model.ChannelInApp, model.NotificationStatusSent, "")
	return result, nil
}

// SendBillingAlert publishes a mobile billing alert for the stage on the
// alerts channel, honoring the alert type's frequency policy downstream.
func (d *Dispatcher) SendBillingAlert(ctx context.Context, failure *model.PaymentFailureRecord, stageName string) (*ChannelResult, error) {
	alertType, err := d.generator.StageToAlertType(stageName)
	if err != nil {
		return nil, err
	}

	customer, err := d.customer(ctx, failure)
	if err != nil {
		return nil, err
	}

	alert, err := d.generator.GenerateBillingAlertContent(failure, customer, alertType)
	if err != nil {
		return nil, err
	}
	frequency, err := d.generator.AlertFrequency(alertType)
	if err != nil {
		return nil, err
	}

	result := &ChannelResult{Channel: model.ChannelPush}
	msg := messaging.Message{Type: alertType, Payload: map[string]interface{}{
		"customer_id": customer.ID.String(),
		"failure_id":  failure.ID.String(),
		"stage":       stageName,
		"frequency":   frequency,
		"content":     alert,
	}}
	if err := d.broker.Publish(ctx, "alerts", msg); err != nil {
		result.Status = model.NotificationStatusFailed
		result.Reason = err.Error()
		d.recordEvent(ctx, failure, stageName, model.ChannelPush, model.NotificationStatusFailed, result.Reason)
		return result, nil
	}

	result.Status = model.NotificationStatusSent
	d.recordEvent(ctx, failure, stageName, model.ChannelPush, model.NotificationStatusSent, "")
	return result, nil
}

// SendMultiChannel fans the stage out across all channels concurrently.
// Aggregate success tracks the email channel alone. Channels with a prior
// sent event for this stage are not re-run, so a retry pass after an email
// failure never duplicates SMS or broker deliveries.
func (d *Dispatcher) SendMultiChannel(ctx context.Context, failure *model.PaymentFailureRecord, stageName string) (*MultiChannelResult, error) {
	if _, err := d.registry.GetStage(stageName); err != nil {
		return nil, err
	}

	result := &MultiChannelResult{Stage: stageName}
	delivered := d.deliveredChannels(ctx, failure, stageName)

	var wg sync.WaitGroup
	var emailErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		result.Email, emailErr = d.SendEmail(ctx, failure, stageName)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if delivered[model.ChannelSMS] {
			result.SMS = &ChannelResult{Channel: model.ChannelSMS, Status: model.NotificationStatusSent, Reason: "already delivered"}
			return
		}
		if d.registry.SMSEligible(stageName) {
			res, err := d.SendSMS(ctx, failure, stageName)
			if err != nil {
				res = &ChannelResult{Channel: model.ChannelSMS, Status: model.NotificationStatusFailed, Reason: err.Error()}
			}
			result.SMS = res
			return
		}
		// Not eligible: recorded as skipped so the audit trail shows the
		// decision, not just its absence.
		result.SMS = &ChannelResult{Channel: model.ChannelSMS, Status: model.NotificationStatusSkipped, Reason: "stage not critical"}
		d.recordEvent(ctx, failure, stageName, model.ChannelSMS, model.NotificationStatusSkipped, "stage not critical")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if delivered[model.ChannelInApp] {
			result.InApp = &ChannelResult{Channel: model.ChannelInApp, Status: model.NotificationStatusSent, Reason: "already delivered"}
			return
		}
		res, err := d.SendInApp(ctx, failure, stageName)
		if err != nil {
			res = &ChannelResult{Channel: model.ChannelInApp, Status: model.NotificationStatusFailed, Reason: err.Error()}
		}
		result.InApp = res
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if delivered[model.ChannelPush] {
			result.Push = &ChannelResult{Channel: model.ChannelPush, Status: model.NotificationStatusSent, Reason: "already delivered"}
			return
		}
		res, err := d.SendBillingAlert(ctx, failure, stageName)
		if err != nil {
			res = &ChannelResult{Channel: model.ChannelPush, Status: model.NotificationStatusFailed, Reason: err.Error()}
		}
		result.Push = res
	}()

	wg.Wait()

	if emailErr != nil {
		result.Success = false
		return result, emailErr
	}
	result.Success = result.Email != nil && result.Email.Status == model.NotificationStatusSent
	return result, nil
}

// deliveredChannels reports which channels already have a sent event for the
// stage. A lookup failure degrades to re-sending; downstream transports
// deduplicate on their own keys.
func (d *Dispatcher) deliveredChannels(ctx context.Context, failure *model.PaymentFailureRecord, stageName string) map[model.Channel]bool {
	delivered := make(map[model.Channel]bool)
	events, err := d.events.ListByFailure(ctx, failure.ID)
	if err != nil {
		d.logger.Error(err, "failed to load notification history",
			"failure_id", failure.ID.String(), "stage", stageName)
		return delivered
	}
	for _, e := range events {
		if e.StageName == stageName && e.Status == model.NotificationStatusSent {
			delivered[e.Channel] = true
		}
	}
	return delivered
}

func (d *Dispatcher) customer(ctx context.Context, failure *model.PaymentFailureRecord) (*model.Customer, error) {
	key := failure.CustomerID.String()
	if cached, ok := d.cache.Get(key); ok {
		return cached.(*model.Customer), nil
	}
	customer, err := d.customers.Get(ctx, failure.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}
	d.cache.Set(key, customer, gocache.DefaultExpiration)
	return customer, nil
}

func (d *Dispatcher) recordEvent(ctx context.Context, failure *model.PaymentFailureRecord, stageName string, channel model.Channel, status model.NotificationStatus, reason string) {
	event := &model.NotificationEvent{
		FailureID: failure.ID,
		StageName: stageName,
		Channel:   channel,
		Status:    status,
		SentAt:    d.nowFn(),
		CreatedAt: d.nowFn(),
	}
	if reason != "" {
		event.Error = &reason
	}
	if err := d.events.Create(ctx, event); err != nil {
		d.logger.Error(err, "failed to record notification event",
			"failure_id", failure.ID.String(),
			"stage", stageName,
			"channel", string(channel))
	}
	d.metrics.DispatchTotal.WithLabelValues(string(channel), string(status)).Inc()
}

func renderEmailBody(c *content.EmailContent) string {
	var b strings.Builder
	b.WriteString("<p>" + c.Greeting + "</p>")
	b.WriteString("<p>" + c.Body + "</p>")
	for _, key := range []string{"grace_period", "partial_payment"} {
		if offer, ok := c.Offers[key]; ok {
			b.WriteString("<p><strong>" + offer.Description + "</strong></p>")
		}
	}
	b.WriteString(fmt.Sprintf(`<p><a href="%s">%s</a></p>`, c.PaymentUpdateURL, c.CallToAction))
	b.WriteString("<p>" + c.Footer + "</p>")
	return b.String()
}
