package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/store"
	"compliance/engine-service/internal/workflow"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// BreachSeverity grades how late a request is past its deadline.
func BreachSeverity(lateness time.Duration) models.BreachSeverity {
	switch {
	case lateness <= 4*time.Hour:
		return models.BreachMinor
	case lateness <= 24*time.Hour:
		return models.BreachMajor
	default:
		return models.BreachCritical
	}
}

// openBreach records the first breach of a request and moves it to the
// sla_breached overlay when the lifecycle allows it.
func (s *Scheduler) openBreach(ctx context.Context, req models.ServiceRequest, now time.Time) (models.ServiceRequest, bool, error) {
	deadline := *req.SLADeadline
	breach, created, err := s.store.OpenBreach(ctx, models.SLABreach{
		RequestID:  req.RequestID,
		EntityID:   req.EntityID,
		Severity:   BreachSeverity(now.Sub(deadline)),
		BreachType: models.BreachTypeResolution,
		Status:     models.BreachOpen,
		DeadlineAt: deadline.UTC(),
		DetectedAt: now.UTC(),
	})
	if err != nil {
		return req, false, fmt.Errorf("open breach for %s: %w", req.RequestID, err)
	}
	if !created {
		return req, false, nil
	}
	s.metrics.BreachesOpened.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", string(breach.Severity))))
	s.logger.Warn("sla breached",
		zap.String("request_id", req.RequestID),
		zap.String("breach_id", breach.BreachID),
		zap.String("severity", string(breach.Severity)),
	)

	current := workflow.StateOf(req)
	if !workflow.CanTransition(current, models.StatusSLABreached) {
		return req, true, nil
	}
	next, record, err := workflow.Transition(current, models.StatusSLABreached, systemActor, "sla deadline passed", now)
	if err != nil {
		return req, true, err
	}
	record.RequestID = req.RequestID
	updated, err := s.store.ApplyTransition(ctx, store.TransitionInput{
		RequestID:      req.RequestID,
		ExpectedStatus: req.Status,
		Status:         next.Status,
		ResumeStatus:   next.Resume,
		History:        record,
	})
	if errors.Is(err, store.ErrStaleTransition) {
		s.logger.Debug("request moved before breach overlay", zap.String("request_id", req.RequestID))
		return req, true, nil
	}
	if err != nil {
		return req, true, fmt.Errorf("mark %s breached: %w", req.RequestID, err)
	}
	return updated, true, nil
}
