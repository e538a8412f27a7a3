// Package action executes the side effects attached to a dunning stage's
// flags, independent of notification delivery. Completed effects are
// idempotent per (failure, stage): the recovery_actions log is checked before
// the underlying effect runs, so re-processing a stage never charges twice.
// Failed payment retries are the exception: they may be re-attempted across
// driver passes up to the configured per-stage budget, spaced by the
// configured delay.
package action

import (
	"context"
	"fmt"
	"time"

	"github.com/recoverly/dunning-engine/internal/config"
	"github.com/recoverly/dunning-engine/internal/model"
	"github.com/recoverly/dunning-engine/internal/repository"
	apperrors "github.com/recoverly/dunning-engine/pkg/errors"
	"github.com/recoverly/dunning-engine/pkg/logger"
	"github.com/recoverly/dunning-engine/pkg/metrics"
	"github.com/recoverly/dunning-engine/internal/stageconfig"
)

// ChargeResult is the payment gateway's answer to a retry.
type ChargeResult struct {
	Success bool
	Reason  string
}

// PaymentGateway executes actual charges. Owned by the billing collaborator;
// the gateway is assumed to deduplicate on payment_intent_id.
type PaymentGateway interface {
	RetryCharge(ctx context.Context, paymentIntentID string, amountCents int64) (ChargeResult, error)
}

type RetryResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type PromptResult struct {
	Success         bool `json:"success"`
	PromptScheduled bool `json:"prompt_scheduled"`
}

type GraceResult struct {
	Success            bool `json:"success"`
	GracePeriodOffered bool `json:"grace_period_offered"`
	Days               int  `json:"days"`
}

type PartialResult struct {
	Success               bool    `json:"success"`
	PartialPaymentOffered bool    `json:"partial_payment_offered"`
	MinimumPercentage     float64 `json:"minimum_percentage"`
}

type InterventionResult struct {
	Success                     bool `json:"success"`
	ManualInterventionTriggered bool `json:"manual_intervention_triggered"`
}

// StageActionResults aggregates everything the executor ran for one stage.
type StageActionResults struct {
	Executed     []string            `json:"executed"`
	Retry        *RetryResult        `json:"retry,omitempty"`
	Prompt       *PromptResult       `json:"prompt,omitempty"`
	Grace        *GraceResult        `json:"grace,omitempty"`
	Partial      *PartialResult      `json:"partial,omitempty"`
	Intervention *InterventionResult `json:"intervention,omitempty"`
}

type Executor struct {
	registry *stageconfig.Registry
	failures repository.FailureRepository
	actions  repository.ActionRepository
	gateway  PaymentGateway
	retry    config.RetryConfig
	grace    config.GracePeriodConfig
	partial  config.PartialPaymentConfig
	metrics  *metrics.Metrics
	logger   *logger.Logger
	nowFn    func() time.Time
}

func NewExecutor(
	registry *stageconfig.Registry,
	failures repository.FailureRepository,
	actions repository.ActionRepository,
	gateway PaymentGateway,
	cfg config.DunningConfig,
	m *metrics.Metrics,
	log *logger.Logger,
) *Executor {
	return &Executor{
		registry: registry,
		failures: failures,
		actions:  actions,
		gateway:  gateway,
		retry:    cfg.Retry,
		grace:    cfg.GracePeriod,
		partial:  cfg.PartialPayment,
		metrics:  m,
		logger:   log,
		nowFn:    time.Now,
	}
}

// AttemptPaymentRetry retries the charge for a stage flagged retry_attempt.
// A successful charge is never repeated; a failed charge may be re-attempted
// on later passes until max_retries_per_stage attempts have been recorded,
// with at least retry_delay_hours between attempts. A failed retry is
// non-fatal: the result is recorded and the sequence continues on schedule.
func (e *Executor) AttemptPaymentRetry(ctx context.Context, failure *model.PaymentFailureRecord, stageName string) (*RetryResult, error) {
	stage, err := e.registry.GetStage(stageName)
	if err != nil {
		return nil, err
	}
	if !stage.RetryAttempt {
		return nil, apperrors.Precondition(fmt.Sprintf("stage %s does not allow payment retry", stageName))
	}

	prev, err := e.actions.Find(ctx, failure.ID, stageName, model.ActionPaymentRetry)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		if prev.Status == model.ActionStatusCompleted {
			return &RetryResult{Success: true, Reason: prev.Detail}, nil
		}
		if prev.Attempts >= e.retry.MaxRetriesPerStage {
			return &RetryResult{Success: false, Reason: fmt.Sprintf("retry budget of %d exhausted for stage %s", e.retry.MaxRetriesPerStage, stageName)}, nil
		}
		if wait := time.Duration(e.retry.RetryDelayHours) * time.Hour; wait > 0 && e.nowFn().Sub(prev.LastAttemptAt) < wait {
			return &RetryResult{Success: false, Reason: fmt.Sprintf("next retry not due before %s", prev.LastAttemptAt.Add(wait).Format(time.RFC3339))}, nil
		}
	}

	if failure.IsClosed() {
		return &RetryResult{Success: false, Reason: "failure already closed"}, nil
	}
	if !e.retry.Enabled {
		return &RetryResult{Success: false, Reason: "payment retries disabled"}, nil
	}
	if len(e.retry.RetryConditions) > 0 && !contains(e.retry.RetryConditions, failure.FailureCode) {
		result := &RetryResult{Success: false, Reason: fmt.Sprintf("failure code %s not retryable", failure.FailureCode)}
		e.recordRetryOutcome(ctx, failure, stageName, prev, model.ActionStatusFailed, result.Reason, 0)
		return result, nil
	}

	amount := failure.AmountCents
	if stage.AmountAdjustment && e.retry.AmountReductionPercentage > 0 {
		amount = amount * int64(100-e.retry.AmountReductionPercentage) / 100
	}

	if err := e.failures.IncrementRetryCount(ctx, failure.ID); err != nil {
		return nil, fmt.Errorf("failed to increment retry count: %w", err)
	}
	failure.IncrementRetry()

	charge, err := e.gateway.RetryCharge(ctx, failure.PaymentIntentID, amount)
	if err != nil {
		// Gateway unreachable: record and continue the sequence.
		e.metrics.PaymentRetries.WithLabelValues("error").Inc()
		result := &RetryResult{Success: false, Reason: err.Error()}
		e.recordRetryOutcome(ctx, failure, stageName, prev, model.ActionStatusFailed, result.Reason, amount)
		return result, nil
	}

	status := model.ActionStatusFailed
	label := "failed"
	if charge.Success {
		status = model.ActionStatusCompleted
		label = "success"
	}
	e.metrics.PaymentRetries.WithLabelValues(label).Inc()
	e.recordRetryOutcome(ctx, failure, stageName, prev, status, charge.Reason, amount)

	return &RetryResult{Success: charge.Success, Reason: charge.Reason}, nil
}

// recordRetryOutcome writes the attempt to the action log: the first attempt
// creates the row, later attempts bump its counter in place so the
// per-stage budget survives process restarts.
func (e *Executor) recordRetryOutcome(ctx context.Context, failure *model.PaymentFailureRecord, stageName string, prev *model.RecoveryAction, status model.ActionStatus, detail string, amountCents int64) {
	if prev == nil {
		e.record(ctx, failure, stageName, model.ActionPaymentRetry, status, detail, amountCents)
		return
	}
	prev.Status = status
	prev.Detail = detail
	prev.AmountCents = amountCents
	prev.Attempts++
	prev.LastAttemptAt = e.nowFn()
	if err := e.actions.Update(ctx, prev); err != nil {
		e.logger.Error(err, "failed to update recovery action",
			"failure_id", failure.ID.String(),
			"stage", stageName,
			"action", string(model.ActionPaymentRetry))
	}
	e.metrics.ActionsTotal.WithLabelValues(string(model.ActionPaymentRetry), string(status)).Inc()
}

func (e *Executor) SchedulePaymentMethodUpdatePrompt(ctx context.Context, failure *model.PaymentFailureRecord, stageName string) (*PromptResult, error) {
	stage, err := e.registry.GetStage(stageName)
	if err != nil {
		return nil, err
	}
	if !stage.PaymentMethodUpdate {
		return nil, apperrors.Precondition(fmt.Sprintf("stage %s does not prompt for payment method update", stageName))
	}

	if prev, err := e.actions.Find(ctx, failure.ID, stageName, model.ActionPaymentMethodPrompt); err != nil {
		return nil, err
	} else if prev != nil {
		return &PromptResult{Success: true, PromptScheduled: true}, nil
	}

	if failure.IsClosed() {
		return &PromptResult{Success: false, PromptScheduled: false}, nil
	}

	e.record(ctx, failure, stageName, model.ActionPaymentMethodPrompt, model.ActionStatusCompleted, "prompt scheduled", 0)
	return &PromptResult{Success: true, PromptScheduled: true}, nil
}

func (e *Executor) OfferGracePeriod(ctx context.Context, failure *model.PaymentFailureRecord, stageName string) (*GraceResult, error) {
	stage, err := e.registry.GetStage(stageName)
	if err != nil {
		return nil, err
	}
	if !stage.GracePeriodOffer {
		return nil, apperrors.Precondition(fmt.Sprintf("stage %s does not offer a grace period", stageName))
	}

	if prev, err := e.actions.Find(ctx, failure.ID, stageName, model.ActionGracePeriod); err != nil {
		return nil, err
	} else if prev != nil {
		return &GraceResult{Success: true, GracePeriodOffered: true, Days: e.grace.GracePeriodDays}, nil
	}

	// Never extend access on an account that already recovered or suspended.
	if failure.IsClosed() {
		return &GraceResult{Success: false, GracePeriodOffered: false}, nil
	}
	if !e.grace.Enabled {
		return &GraceResult{Success: false, GracePeriodOffered: false}, nil
	}

	e.record(ctx, failure, stageName, model.ActionGracePeriod, model.ActionStatusCompleted,
		fmt.Sprintf("grace period of %d days offered", e.grace.GracePeriodDays), 0)
	return &GraceResult{Success: true, GracePeriodOffered: true, Days: e.grace.GracePeriodDays}, nil
}

func (e *Executor) OfferPartialPayment(ctx context.Context, failure *model.PaymentFailureRecord, stageName string) (*PartialResult, error) {
	stage, err := e.registry.GetStage(stageName)
	if err != nil {
		return nil, err
	}
	if !stage.PartialPaymentOffer {
		return nil, apperrors.Precondition(fmt.Sprintf("stage %s does not offer partial payment", stageName))
	}

	if prev, err := e.actions.Find(ctx, failure.ID, stageName, model.ActionPartialPayment); err != nil {
		return nil, err
	} else if prev != nil {
		return &PartialResult{Success: true, PartialPaymentOffered: true, MinimumPercentage: e.partial.MinimumPercentage}, nil
	}

	if failure.IsClosed() || !e.partial.Enabled {
		return &PartialResult{Success: false, PartialPaymentOffered: false}, nil
	}

	minCents := failure.AmountCents * int64(e.partial.MinimumPercentage) / 100
	e.record(ctx, failure, stageName, model.ActionPartialPayment, model.ActionStatusCompleted,
		fmt.Sprintf("partial payment of %d%% offered", int(e.partial.MinimumPercentage)), minCents)
	return &PartialResult{Success: true, PartialPaymentOffered: true, MinimumPercentage: e.partial.MinimumPercentage}, nil
}

// TriggerManualIntervention flags the failure for human review and halts
// automated stage advancement. Terminal for the automated sequence; the
// failure status itself is not changed.
func (e *Executor) TriggerManualIntervention(ctx context.Context, failure *model.PaymentFailureRecord, stageName string) (*InterventionResult, error) {
	stage, err := e.registry.GetStage(stageName)
	if err != nil {
		return nil, err
	}
	if !stage.ManualIntervention {
		return nil, apperrors.Precondition(fmt.Sprintf("stage %s does not trigger manual intervention", stageName))
	}

	if prev, err := e.actions.Find(ctx, failure.ID, stageName, model.ActionManualIntervention); err != nil {
		return nil, err
	} else if prev != nil {
		return &InterventionResult{Success: true, ManualInterventionTriggered: true}, nil
	}

	if failure.IsClosed() {
		return &InterventionResult{Success: false, ManualInterventionTriggered: false}, nil
	}

	if err := e.failures.SetManualIntervention(ctx, failure.ID); err != nil {
		return nil, fmt.Errorf("failed to flag manual intervention: %w", err)
	}
	failure.ManualIntervention = true

	e.record(ctx, failure, stageName, model.ActionManualIntervention, model.ActionStatusCompleted, "flagged for human review", 0)
	return &InterventionResult{Success: true, ManualInterventionTriggered: true}, nil
}

// ExecuteStage runs every action enabled on the stage, in flag order.
// Individual action failures are recorded and do not stop the rest.
func (e *Executor) ExecuteStage(ctx context.Context, failure *model.PaymentFailureRecord, stageName string) (*StageActionResults, error) {
	stage, err := e.registry.GetStage(stageName)
	if err != nil {
		return nil, err
	}

	results := &StageActionResults{}

	if stage.RetryAttempt {
		if results.Retry, err = e.AttemptPaymentRetry(ctx, failure, stageName); err != nil {
			e.logger.Error(err, "payment retry failed", "failure_id", failure.ID.String(), "stage", stageName)
		} else {
			results.Executed = append(results.Executed, string(model.ActionPaymentRetry))
		}
	}
	if stage.PaymentMethodUpdate {
		if results.Prompt, err = e.SchedulePaymentMethodUpdatePrompt(ctx, failure, stageName); err != nil {
			e.logger.Error(err, "payment method prompt failed", "failure_id", failure.ID.String(), "stage", stageName)
		} else {
			results.Executed = append(results.Executed, string(model.ActionPaymentMethodPrompt))
		}
	}
	if stage.GracePeriodOffer {
		if results.Grace, err = e.OfferGracePeriod(ctx, failure, stageName); err != nil {
			e.logger.Error(err, "grace period offer failed", "failure_id", failure.ID.String(), "stage", stageName)
		} else {
			results.Executed = append(results.Executed, string(model.ActionGracePeriod))
		}
	}
	if stage.PartialPaymentOffer {
		if results.Partial, err = e.OfferPartialPayment(ctx, failure, stageName); err != nil {
			e.logger.Error(err, "partial payment offer failed", "failure_id", failure.ID.String(), "stage", stageName)
		} else {
			results.Executed = append(results.Executed, string(model.ActionPartialPayment))
		}
	}
	if stage.ManualIntervention {
		if results.Intervention, err = e.TriggerManualIntervention(ctx, failure, stageName); err != nil {
			e.logger.Error(err, "manual intervention failed", "failure_id", failure.ID.String(), "stage", stageName)
		} else {
			results.Executed = append(results.Executed, string(model.ActionManualIntervention))
		}
	}

	return results, nil
}

func (e *Executor) record(ctx context.Context, failure *model.PaymentFailureRecord, stageName string, actionType model.ActionType, status model.ActionStatus, detail string, amountCents int64) {
	action := &model.RecoveryAction{
		FailureID:     failure.ID,
		StageName:     stageName,
		Type:          actionType,
		Status:        status,
		Detail:        detail,
		AmountCents:   amountCents,
		Attempts:      1,
		LastAttemptAt: e.nowFn(),
		CreatedAt:     e.nowFn(),
	}
	if err := e.actions.Create(ctx, action); err != nil {
		e.logger.Error(err, "failed to record recovery action",
			"failure_id", failure.ID.String(),
			"stage", stageName,
			"action", string(actionType))
	}
	e.metrics.ActionsTotal.WithLabelValues(string(actionType), string(status)).Inc()
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
