// Package core wires the lifecycle, compliance, escalation and breach
// operations exposed over HTTP and the CLI.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"compliance/engine-service/internal/escalation"
	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/queue"
	"compliance/engine-service/internal/store"
	"compliance/engine-service/internal/telemetry"
	"compliance/engine-service/internal/workflow"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Recalculator runs on-demand recalculations outside the periodic pass.
type Recalculator interface {
	TriggerEntity(ctx context.Context, entityID string) (models.ComplianceState, bool, error)
	TriggerRequest(ctx context.Context, requestID string) ([]models.EscalationExecution, error)
}

type Service struct {
	store   store.Store
	recalc  Recalculator
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

func NewService(st store.Store, recalc Recalculator, logger *zap.Logger, metrics *telemetry.Metrics) *Service {
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Service{store: st, recalc: recalc, logger: logger, metrics: metrics, now: time.Now}
}

type TransitionRequest struct {
	RequestID       string
	RequestedStatus models.RequestStatus
	ActorID         string
	ExpectedStatus  models.RequestStatus
	Note            string
}

// Transition moves a request through the state machine. The write only
// succeeds if the request is still in the status the move was validated
// against; a lost race surfaces as store.ErrStaleTransition.
func (s *Service) Transition(ctx context.Context, in TransitionRequest) (models.ServiceRequest, error) {
	req, err := s.store.GetRequest(ctx, in.RequestID)
	if err != nil {
		return models.ServiceRequest{}, err
	}
	if in.ExpectedStatus != "" && in.ExpectedStatus != req.Status {
		return models.ServiceRequest{}, store.ErrStaleTransition
	}

	next, record, err := workflow.Transition(workflow.StateOf(req), in.RequestedStatus, in.ActorID, in.Note, s.now())
	if err != nil {
		s.metrics.TransitionsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "illegal")))
		return models.ServiceRequest{}, err
	}
	record.RequestID = req.RequestID

	updated, err := s.store.ApplyTransition(ctx, store.TransitionInput{
		RequestID:      req.RequestID,
		ExpectedStatus: req.Status,
		Status:         next.Status,
		ResumeStatus:   next.Resume,
		History:        record,
	})
	if err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			s.metrics.TransitionsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "stale")))
		}
		return models.ServiceRequest{}, err
	}
	s.logger.Info("request transitioned",
		zap.String("request_id", updated.RequestID),
		zap.String("from", string(record.From)),
		zap.String("to", string(record.To)),
		zap.String("actor_id", in.ActorID),
	)

	if s.recalc != nil && !workflow.IsTerminal(updated.Status) {
		if _, err := s.recalc.TriggerRequest(ctx, updated.RequestID); err != nil {
			s.logger.Warn("post-transition evaluation failed", zap.String("request_id", updated.RequestID), zap.Error(err))
		}
	}
	return updated, nil
}

func (s *Service) GetRequest(ctx context.Context, requestID string) (models.ServiceRequest, error) {
	return s.store.GetRequest(ctx, requestID)
}

// History returns the request's status history and whether its hash chain
// verifies.
func (s *Service) History(ctx context.Context, requestID string) ([]models.StatusHistory, bool, error) {
	records, err := s.store.ListHistory(ctx, requestID)
	if err != nil {
		return nil, false, err
	}
	if err := store.VerifyHistory(records); err != nil {
		s.logger.Error("status history failed verification", zap.String("request_id", requestID), zap.Error(err))
		return records, false, nil
	}
	return records, true, nil
}

// Compliance returns the stored snapshot, computing it on first access for an
// entity that has obligations.
func (s *Service) Compliance(ctx context.Context, entityID string) (models.ComplianceState, error) {
	state, err := s.store.GetComplianceState(ctx, entityID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, store.ErrStateNotFound) {
		return models.ComplianceState{}, err
	}
	state, _, err = s.Recalculate(ctx, entityID)
	return state, err
}

func (s *Service) Recalculate(ctx context.Context, entityID string) (models.ComplianceState, bool, error) {
	obligations, err := s.store.ListObligations(ctx, entityID)
	if err != nil {
		return models.ComplianceState{}, false, err
	}
	if len(obligations) == 0 {
		return models.ComplianceState{}, false, store.ErrEntityNotFound
	}
	if s.recalc == nil {
		return models.ComplianceState{}, false, errors.New("recalculation unavailable")
	}
	return s.recalc.TriggerEntity(ctx, entityID)
}

func (s *Service) CreateRule(ctx context.Context, rule models.EscalationRule) (models.EscalationRule, error) {
	prepared, err := escalation.Prepare(rule)
	if err != nil {
		return models.EscalationRule{}, err
	}
	created, err := s.store.CreateRule(ctx, prepared)
	if err != nil {
		return models.EscalationRule{}, fmt.Errorf("create rule: %w", err)
	}
	s.logger.Info("escalation rule created", zap.String("rule_id", created.RuleID), zap.String("name", created.Name))
	return created, nil
}

func (s *Service) UpdateRule(ctx context.Context, ruleID string, rule models.EscalationRule) (models.EscalationRule, error) {
	if _, err := s.store.GetRule(ctx, ruleID); err != nil {
		return models.EscalationRule{}, err
	}
	rule.RuleID = ruleID
	prepared, err := escalation.Prepare(rule)
	if err != nil {
		return models.EscalationRule{}, err
	}
	updated, err := s.store.UpdateRule(ctx, prepared)
	if err != nil {
		return models.EscalationRule{}, err
	}
	s.logger.Info("escalation rule updated", zap.String("rule_id", updated.RuleID), zap.Bool("active", updated.Active))
	return updated, nil
}

func (s *Service) GetRule(ctx context.Context, ruleID string) (models.EscalationRule, error) {
	return s.store.GetRule(ctx, ruleID)
}

func (s *Service) ListRules(ctx context.Context, activeOnly bool) ([]models.EscalationRule, error) {
	return s.store.ListRules(ctx, activeOnly)
}

func (s *Service) WorkQueue(ctx context.Context, filter queue.Filter) ([]queue.WorkItem, error) {
	requests, err := s.store.ListOpenRequests(ctx)
	if err != nil {
		return nil, err
	}
	return queue.Prioritize(requests, filter, s.now()), nil
}

// Events pages the outbox feed. Consumers pass the last Seq they processed.
func (s *Service) Events(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error) {
	if afterSeq < 0 {
		afterSeq = 0
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListOutboxEvents(ctx, afterSeq, limit)
}
