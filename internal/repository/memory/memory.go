// Package memory provides in-memory repository implementations used by
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/dunning-engine/internal/model"
	apperrors "github.com/recoverly/dunning-engine/pkg/errors"
)

type FailureRepository struct {
	mu       sync.RWMutex
	failures map[uuid.UUID]*model.PaymentFailureRecord
	claims   map[uuid.UUID]time.Time
	// dueFn answers ClaimDue; wired by the store so the failure repo can see
	// schedule state without a cyclic dependency.
	dueFn func(failureID uuid.UUID, asOf time.Time) bool
}

type ScheduleRepository struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*model.ScheduledEmail
}

type NotificationEventRepository struct {
	mu     sync.RWMutex
	events []*model.NotificationEvent
}

type CustomerRepository struct {
	mu        sync.RWMutex
	customers map[uuid.UUID]*model.Customer
}

type ActionRepository struct {
	mu      sync.RWMutex
	actions []*model.RecoveryAction
}

// Store bundles all in-memory repositories over shared state.
type Store struct {
	Failures  *FailureRepository
	Schedules *ScheduleRepository
	Events    *NotificationEventRepository
	Customers *CustomerRepository
	Actions   *ActionRepository
}

func NewStore() *Store {
	schedules := &ScheduleRepository{entries: make(map[uuid.UUID]*model.ScheduledEmail)}
	failures := &FailureRepository{
		failures: make(map[uuid.UUID]*model.PaymentFailureRecord),
		claims:   make(map[uuid.UUID]time.Time),
	}
	failures.dueFn = func(failureID uuid.UUID, asOf time.Time) bool {
		schedules.mu.RLock()
		defer schedules.mu.RUnlock()
		for _, e := range schedules.entries {
			if e.FailureID == failureID && e.Status == model.ScheduleStatusPending && !e.TriggerAt.After(asOf) {
				return true
			}
		}
		return false
	}
	return &Store{
		Failures:  failures,
		Schedules: schedules,
		Events:    &NotificationEventRepository{},
		Customers: &CustomerRepository{customers: make(map[uuid.UUID]*model.Customer)},
		Actions:   &ActionRepository{},
	}
}

func (r *FailureRepository) Create(_ context.Context, failure *model.PaymentFailureRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if failure.ID == uuid.Nil {
		failure.ID = uuid.New()
	}
	if failure.Status == "" {
		failure.Status = model.FailureStatusPending
	}
	cp := *failure
	r.failures[failure.ID] = &cp
	return nil
}

func (r *FailureRepository) Get(_ context.Context, id uuid.UUID) (*model.PaymentFailureRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.failures[id]
	if !ok {
		return nil, apperrors.NewNotFound("payment failure", nil)
	}
	cp := *f
	return &cp, nil
}

func (r *FailureRepository) UpdateStatus(_ context.Context, id uuid.UUID, status model.FailureStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.failures[id]
	if !ok {
		return apperrors.NewNotFound("payment failure", nil)
	}
	f.Status = status
	f.UpdatedAt = time.Now()
	return nil
}

func (r *FailureRepository) IncrementRetryCount(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.failures[id]
	if !ok {
		return apperrors.NewNotFound("payment failure", nil)
	}
	f.RetryCount++
	f.UpdatedAt = time.Now()
	return nil
}

func (r *FailureRepository) SetManualIntervention(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.failures[id]
	if !ok {
		return apperrors.NewNotFound("payment failure", nil)
	}
	f.ManualIntervention = true
	f.UpdatedAt = time.Now()
	return nil
}

func (r *FailureRepository) ClaimDue(_ context.Context, asOf time.Time, limit int, lease time.Duration) ([]*model.PaymentFailureRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*model.PaymentFailureRecord
	for _, f := range r.failures {
		if f.Status != model.FailureStatusPending && f.Status != model.FailureStatusInProgress {
			continue
		}
		if f.ManualIntervention {
			continue
		}
		if until, claimed := r.claims[f.ID]; claimed && until.After(asOf) {
			continue
		}
		if r.dueFn != nil && !r.dueFn(f.ID, asOf) {
			continue
		}
		cp := *f
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FailedAt.Before(due[j].FailedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, f := range due {
		r.claims[f.ID] = asOf.Add(lease)
	}
	return due, nil
}

func (r *FailureRepository) Release(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, id)
	return nil
}

func (r *ScheduleRepository) Create(_ context.Context, entry *model.ScheduledEmail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.FailureID == entry.FailureID && e.StageName == entry.StageName {
			// unique (failure_id, stage_name): keep the existing row
			return nil
		}
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Status == "" {
		entry.Status = model.ScheduleStatusPending
	}
	cp := *entry
	r.entries[entry.ID] = &cp
	return nil
}

func (r *ScheduleRepository) ListByFailure(_ context.Context, failureID uuid.UUID) ([]*model.ScheduledEmail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var entries []*model.ScheduledEmail
	for _, e := range r.entries {
		if e.FailureID == failureID {
			cp := *e
			entries = append(entries, &cp)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TriggerAt.Before(entries[j].TriggerAt) })
	return entries, nil
}

func (r *ScheduleRepository) UpdateTrigger(_ context.Context, id uuid.UUID, triggerAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return apperrors.NewNotFound("scheduled email", nil)
	}
	if e.Status == model.ScheduleStatusPending {
		e.TriggerAt = triggerAt
		e.UpdatedAt = time.Now()
	}
	return nil
}

func (r *ScheduleRepository) MarkSent(_ context.Context, failureID uuid.UUID, stageName string, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.FailureID == failureID && e.StageName == stageName && e.Status == model.ScheduleStatusPending {
			e.Status = model.ScheduleStatusSent
			e.SentAt = &sentAt
			e.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("no pending scheduled email for failure %s stage %s", failureID, stageName)
}

func (r *ScheduleRepository) CancelPending(_ context.Context, failureID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cancelled int64
	for _, e := range r.entries {
		if e.FailureID == failureID && e.Status == model.ScheduleStatusPending {
			e.Status = model.ScheduleStatusCancelled
			e.UpdatedAt = time.Now()
			cancelled++
		}
	}
	return cancelled, nil
}

func (r *NotificationEventRepository) Create(_ context.Context, event *model.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	cp := *event
	r.events = append(r.events, &cp)
	return nil
}

func (r *NotificationEventRepository) ListByFailure(_ context.Context, failureID uuid.UUID) ([]*model.NotificationEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var events []*model.NotificationEvent
	for _, e := range r.events {
		if e.FailureID == failureID {
			cp := *e
			events = append(events, &cp)
		}
	}
	return events, nil
}

func (r *CustomerRepository) Put(customer *model.Customer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *customer
	r.customers[customer.ID] = &cp
}

func (r *CustomerRepository) Get(_ context.Context, id uuid.UUID) (*model.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.customers[id]
	if !ok {
		return nil, apperrors.NewNotFound("customer", nil)
	}
	cp := *c
	return &cp, nil
}

func (r *ActionRepository) Create(_ context.Context, action *model.RecoveryAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.actions {
		if a.FailureID == action.FailureID && a.StageName == action.StageName && a.Type == action.Type {
			// unique (failure_id, stage_name, action_type): keep existing
			return nil
		}
	}
	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	if action.Attempts == 0 {
		action.Attempts = 1
	}
	if action.LastAttemptAt.IsZero() {
		action.LastAttemptAt = time.Now()
	}
	cp := *action
	r.actions = append(r.actions, &cp)
	return nil
}

func (r *ActionRepository) Update(_ context.Context, action *model.RecoveryAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range r.actions {
		if a.ID == action.ID {
			cp := *action
			r.actions[i] = &cp
			return nil
		}
	}
	return apperrors.NewNotFound("recovery action", nil)
}

func (r *ActionRepository) Find(_ context.Context, failureID uuid.UUID, stageName string, actionType model.ActionType) (*model.RecoveryAction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.actions {
		if a.FailureID == failureID && a.StageName == stageName && a.Type == actionType {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}
