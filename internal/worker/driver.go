// Package worker contains the sequence driver: the periodic evaluator that
// advances every open failure through its dunning timetable.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/recoverly/dunning-engine/internal/action"
	"github.com/recoverly/dunning-engine/internal/config"
	"github.com/recoverly/dunning-engine/internal/dispatch"
	"github.com/recoverly/dunning-engine/internal/model"
	"github.com/recoverly/dunning-engine/internal/repository"
	"github.com/recoverly/dunning-engine/internal/schedule"
	"github.com/recoverly/dunning-engine/internal/stageconfig"
	"github.com/recoverly/dunning-engine/pkg/logger"
	"github.com/recoverly/dunning-engine/pkg/metrics"
)

type Driver struct {
	registry   *stageconfig.Registry
	failures   repository.FailureRepository
	scheduler  *schedule.Scheduler
	dispatcher *dispatch.Dispatcher
	executor   *action.Executor
	config     config.DriverConfig
	logger     *logger.Logger
	metrics    *metrics.Metrics
	nowFn      func() time.Time
}

func NewDriver(
	registry *stageconfig.Registry,
	failures repository.FailureRepository,
	scheduler *schedule.Scheduler,
	dispatcher *dispatch.Dispatcher,
	executor *action.Executor,
	cfg config.DriverConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *Driver {
	// Config validation instead of defaults
	if cfg.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if cfg.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if cfg.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if cfg.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}
	if cfg.ClaimTTL <= 0 {
		panic("ClaimTTL must be greater than 0")
	}

	return &Driver{
		registry:   registry,
		failures:   failures,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		executor:   executor,
		config:     cfg,
		logger:     log,
		metrics:    m,
		nowFn:      time.Now,
	}
}

func (d *Driver) Start(ctx context.Context) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	d.logger.Info("Starting dunning sequence driver")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Shutting down dunning sequence driver")
			return
		case <-ticker.C:
			if err := d.ProcessDue(ctx); err != nil {
				d.logger.Error(err, "Failed to process due failures")
			}
		}
	}
}

// ProcessDue claims one batch of failures with a due stage and advances each
// by exactly one stage. Claims are leased so a concurrent worker never picks
// up a failure mid-processing, and released as soon as the failure is done.
// Per-failure errors are logged and do not stop the batch.
func (d *Driver) ProcessDue(ctx context.Context) error {
	due, err := d.failures.ClaimDue(ctx, d.nowFn(), d.config.BatchSize, d.config.ClaimTTL)
	if err != nil {
		d.metrics.DatabaseOperations.WithLabelValues("claim_due", "error").Inc()
		return fmt.Errorf("failed to claim due failures: %w", err)
	}
	d.metrics.DatabaseOperations.WithLabelValues("claim_due", "success").Inc()

	for _, failure := range due {
		err := d.ProcessFailure(ctx, failure)
		if relErr := d.failures.Release(ctx, failure.ID); relErr != nil {
			d.logger.Error(relErr, "Failed to release claim",
				"failure_id", failure.ID.String())
		}
		if err != nil {
			d.metrics.StagesFailed.Inc()
			d.logger.Error(err, "Failed to process failure",
				"failure_id", failure.ID.String(),
				"status", string(failure.Status))
		}
	}

	return nil
}

// ProcessFailure advances one failure by its next due stage: execute the
// stage's actions, fan out notifications, then close the sequence if the
// final stage went out without a manual-intervention hold.
func (d *Driver) ProcessFailure(ctx context.Context, failure *model.PaymentFailureRecord) error {
	timer := prometheus.NewTimer(d.metrics.StageProcessingLatency)
	defer timer.ObserveDuration()

	if failure.IsClosed() {
		return nil
	}

	stageName, err := d.scheduler.NextDueStage(ctx, failure.ID, d.nowFn())
	if err != nil {
		return err
	}
	if stageName == "" {
		return nil
	}

	if failure.Status == model.FailureStatusPending {
		if err := failure.TransitionTo(model.FailureStatusInProgress); err != nil {
			return err
		}
		if err := d.failures.UpdateStatus(ctx, failure.ID, model.FailureStatusInProgress); err != nil {
			return fmt.Errorf("failed to mark failure in progress: %w", err)
		}
	}

	results, err := d.executor.ExecuteStage(ctx, failure, stageName)
	if err != nil {
		// Action failures never block the notification itself.
		d.logger.Error(err, "Stage actions failed",
			"failure_id", failure.ID.String(), "stage", stageName)
	}

	// A successful automated retry means the payment is collected: close the
	// sequence instead of emailing about a debt that no longer exists.
	if results != nil && results.Retry != nil && results.Retry.Success {
		return d.closeRecovered(ctx, failure)
	}

	retryErr := retry(d.config.RetryAttempts, d.config.RetryDelay, func() error {
		res, err := d.dispatcher.SendMultiChannel(ctx, failure, stageName)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("primary channel did not deliver for stage %s", stageName)
		}
		return nil
	})
	if retryErr != nil {
		return fmt.Errorf("failed to dispatch stage %s: %w", stageName, retryErr)
	}

	d.metrics.StagesProcessed.Inc()
	d.logger.Info("dunning stage dispatched",
		"failure_id", failure.ID.String(),
		"stage", stageName)

	stage, err := d.registry.GetStage(stageName)
	if err != nil {
		return err
	}
	if d.registry.IsFinal(stageName) && !stage.ManualIntervention {
		if err := failure.TransitionTo(model.FailureStatusSuspended); err != nil {
			return err
		}
		if err := d.failures.UpdateStatus(ctx, failure.ID, model.FailureStatusSuspended); err != nil {
			return fmt.Errorf("failed to suspend failure: %w", err)
		}
		d.metrics.FailuresSuspended.Inc()
		d.logger.Warn("failure suspended after final notice",
			"failure_id", failure.ID.String())
	}

	return nil
}

func (d *Driver) closeRecovered(ctx context.Context, failure *model.PaymentFailureRecord) error {
	if err := failure.TransitionTo(model.FailureStatusRecovered); err != nil {
		return err
	}
	if err := d.failures.UpdateStatus(ctx, failure.ID, model.FailureStatusRecovered); err != nil {
		return fmt.Errorf("failed to mark failure recovered: %w", err)
	}
	if _, err := d.scheduler.Cancel(ctx, failure.ID); err != nil {
		return err
	}
	d.metrics.FailuresRecovered.Inc()
	d.logger.Info("payment recovered by automated retry",
		"failure_id", failure.ID.String())
	return nil
}

// Helper retry function
func retry(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}
