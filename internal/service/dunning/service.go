// Package dunning is the API-facing orchestration layer: webhook ingest,
// recovery signals and sequence reporting.
package dunning

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/dunning-engine/internal/model"
	"github.com/recoverly/dunning-engine/internal/repository"
	"github.com/recoverly/dunning-engine/internal/schedule"
	"github.com/recoverly/dunning-engine/internal/status"
	apperrors "github.com/recoverly/dunning-engine/pkg/errors"
	"github.com/recoverly/dunning-engine/pkg/logger"
	"github.com/recoverly/dunning-engine/pkg/metrics"
)

// IngestRequest is the payment-failure webhook payload.
type IngestRequest struct {
	CustomerID      uuid.UUID         `json:"customer_id" binding:"required"`
	SubscriptionID  uuid.UUID         `json:"subscription_id" binding:"required"`
	InvoiceID       string            `json:"invoice_id" binding:"required"`
	PaymentIntentID string            `json:"payment_intent_id" binding:"required"`
	FailureReason   string            `json:"failure_reason"`
	FailureCode     string            `json:"failure_code"`
	AmountCents     int64             `json:"amount_cents" binding:"required,gt=0"`
	Currency        string            `json:"currency" binding:"required,len=3"`
	FailedAt        time.Time         `json:"failed_at"`
	Metadata        map[string]string `json:"metadata"`
}

// IngestResult is the ingest response: the created record plus its computed
// timetable.
type IngestResult struct {
	Failure  *model.PaymentFailureRecord `json:"failure"`
	Schedule *schedule.ScheduleSummary   `json:"schedule"`
}

type Service struct {
	failures  repository.FailureRepository
	events    repository.NotificationEventRepository
	scheduler *schedule.Scheduler
	tracker   *status.Tracker
	metrics   *metrics.Metrics
	logger    *logger.Logger
	nowFn     func() time.Time
}

func NewService(
	failures repository.FailureRepository,
	events repository.NotificationEventRepository,
	scheduler *schedule.Scheduler,
	tracker *status.Tracker,
	m *metrics.Metrics,
	log *logger.Logger,
) *Service {
	return &Service{
		failures:  failures,
		events:    events,
		scheduler: scheduler,
		tracker:   tracker,
		metrics:   m,
		logger:    log,
		nowFn:     time.Now,
	}
}

// Ingest records a new payment failure and computes its dunning timetable.
func (s *Service) Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, error) {
	failedAt := req.FailedAt
	if failedAt.IsZero() {
		failedAt = s.nowFn()
	}

	failure := &model.PaymentFailureRecord{
		ID:              uuid.New(),
		CustomerID:      req.CustomerID,
		SubscriptionID:  req.SubscriptionID,
		InvoiceID:       req.InvoiceID,
		PaymentIntentID: req.PaymentIntentID,
		FailureReason:   req.FailureReason,
		FailureCode:     req.FailureCode,
		AmountCents:     req.AmountCents,
		Currency:        req.Currency,
		FailedAt:        failedAt,
		Status:          model.FailureStatusPending,
		Metadata:        req.Metadata,
		CreatedAt:       s.nowFn(),
		UpdatedAt:       s.nowFn(),
	}

	if err := s.failures.Create(ctx, failure); err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("create_failure", "error").Inc()
		return nil, fmt.Errorf("failed to create payment failure: %w", err)
	}
	s.metrics.DatabaseOperations.WithLabelValues("create_failure", "success").Inc()

	summary, err := s.scheduler.Schedule(ctx, failure)
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment failure ingested",
		"failure_id", failure.ID.String(),
		"customer_id", failure.CustomerID.String(),
		"amount_cents", failure.AmountCents)

	return &IngestResult{Failure: failure, Schedule: summary}, nil
}

// MarkRecovered closes the sequence after an external recovery signal
// (customer paid, updated their card, or support resolved the invoice).
// Pending stages are cancelled; already-sent stages stay in the audit trail.
func (s *Service) MarkRecovered(ctx context.Context, failureID uuid.UUID) (*model.PaymentFailureRecord, error) {
	failure, err := s.failures.Get(ctx, failureID)
	if err != nil {
		return nil, err
	}

	if failure.Status == model.FailureStatusRecovered {
		return failure, nil
	}
	if err := failure.TransitionTo(model.FailureStatusRecovered); err != nil {
		return nil, apperrors.Conflict(err.Error())
	}
	if err := s.failures.UpdateStatus(ctx, failureID, model.FailureStatusRecovered); err != nil {
		return nil, fmt.Errorf("failed to mark failure recovered: %w", err)
	}

	cancelled, err := s.scheduler.Cancel(ctx, failureID)
	if err != nil {
		return nil, err
	}

	s.metrics.FailuresRecovered.Inc()
	s.logger.Info("payment failure recovered",
		"failure_id", failureID.String(),
		"cancelled_stages", cancelled)

	return failure, nil
}

func (s *Service) GetFailure(ctx context.Context, failureID uuid.UUID) (*model.PaymentFailureRecord, error) {
	return s.failures.Get(ctx, failureID)
}

func (s *Service) SequenceStatus(ctx context.Context, failureID uuid.UUID) (*status.SequenceStatus, error) {
	return s.tracker.SequenceStatus(ctx, failureID)
}

func (s *Service) StageProgress(ctx context.Context, failureID uuid.UUID) (*status.StageProgress, error) {
	return s.tracker.StageProgress(ctx, failureID)
}

// NotificationHistory returns every dispatch attempt recorded for a failure.
func (s *Service) NotificationHistory(ctx context.Context, failureID uuid.UUID) ([]*model.NotificationEvent, error) {
	if _, err := s.failures.Get(ctx, failureID); err != nil {
		return nil, err
	}
	return s.events.ListByFailure(ctx, failureID)
}
