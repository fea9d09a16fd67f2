package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/scheduler"
	"compliance/engine-service/internal/workflow"

	"go.uber.org/zap"
)

// ErrInvalidInput marks caller mistakes in create and upsert payloads.
var ErrInvalidInput = errors.New("invalid input")

type NewRequest struct {
	RequestID   string
	EntityID    string
	ServiceKey  string
	Priority    models.Priority
	AssignedTo  string
	SLADeadline *time.Time
}

// CreateRequest registers a request in draft. Its status is only ever moved
// by Transition afterwards.
func (s *Service) CreateRequest(ctx context.Context, in NewRequest) (models.ServiceRequest, error) {
	in.EntityID = strings.TrimSpace(in.EntityID)
	in.ServiceKey = strings.TrimSpace(in.ServiceKey)
	if in.EntityID == "" || in.ServiceKey == "" {
		return models.ServiceRequest{}, fmt.Errorf("%w: entity_id and service_key are required", ErrInvalidInput)
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if !in.Priority.Valid() {
		return models.ServiceRequest{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, in.Priority)
	}

	now := s.now().UTC()
	req := models.ServiceRequest{
		RequestID:       strings.TrimSpace(in.RequestID),
		EntityID:        in.EntityID,
		ServiceKey:      in.ServiceKey,
		Status:          models.StatusDraft,
		Priority:        in.Priority,
		SLADeadline:     in.SLADeadline,
		StatusChangedAt: now,
		CreatedAt:       now,
	}
	if in.SLADeadline != nil {
		req.SLAStartedAt = &now
	}
	if assignee := strings.TrimSpace(in.AssignedTo); assignee != "" {
		req.AssignedTo = &assignee
	}

	created, err := s.store.CreateRequest(ctx, req)
	if err != nil {
		return models.ServiceRequest{}, err
	}
	s.logger.Info("request created",
		zap.String("request_id", created.RequestID),
		zap.String("entity_id", created.EntityID),
		zap.String("service_key", created.ServiceKey),
	)
	return created, nil
}

// UpsertObligation stores an obligation and refreshes the entity's snapshot.
// A refresh that cannot run now is left to the next scheduler pass.
func (s *Service) UpsertObligation(ctx context.Context, ob models.Obligation) (models.Obligation, error) {
	ob.EntityID = strings.TrimSpace(ob.EntityID)
	ob.Title = strings.TrimSpace(ob.Title)
	if ob.EntityID == "" || ob.ObligationID == "" || ob.Title == "" {
		return models.Obligation{}, fmt.Errorf("%w: obligation_id, entity_id and title are required", ErrInvalidInput)
	}
	if ob.Status == "" {
		ob.Status = models.ObligationPending
	}
	if !ob.Status.Valid() {
		return models.Obligation{}, fmt.Errorf("%w: unknown obligation status %q", ErrInvalidInput, ob.Status)
	}
	if ob.Priority == "" {
		ob.Priority = models.PriorityMedium
	}
	if !ob.Priority.Valid() {
		return models.Obligation{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, ob.Priority)
	}
	if ob.PenaltyRisk < 0 {
		return models.Obligation{}, fmt.Errorf("%w: penalty_risk must not be negative", ErrInvalidInput)
	}
	if ob.Status == models.ObligationCompleted && ob.CompletedAt == nil {
		completed := s.now().UTC()
		ob.CompletedAt = &completed
	}

	if err := s.store.UpsertObligation(ctx, ob); err != nil {
		return models.Obligation{}, fmt.Errorf("upsert obligation: %w", err)
	}
	if s.recalc != nil {
		if _, _, err := s.recalc.TriggerEntity(ctx, ob.EntityID); err != nil && !errors.Is(err, scheduler.ErrRecalcInProgress) {
			s.logger.Warn("post-upsert recalculation failed", zap.String("entity_id", ob.EntityID), zap.Error(err))
		}
	}
	return ob, nil
}

func (s *Service) ListObligations(ctx context.Context, entityID string) ([]models.Obligation, error) {
	return s.store.ListObligations(ctx, entityID)
}

// Statuses describes the request lifecycle for clients.
func (s *Service) Statuses() []workflow.Descriptor {
	return workflow.Catalog()
}
