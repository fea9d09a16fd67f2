package core

import (
	"context"
	"fmt"

	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/store"

	"go.uber.org/zap"
)

type BreachAction string

const (
	BreachAcknowledge BreachAction = "acknowledge"
	BreachInvestigate BreachAction = "investigate"
	BreachResolve     BreachAction = "resolve"
)

var breachTargets = map[BreachAction]models.BreachStatus{
	BreachAcknowledge: models.BreachAcknowledged,
	BreachInvestigate: models.BreachInvestigating,
	BreachResolve:     models.BreachResolved,
}

var breachTransitions = map[models.BreachStatus][]models.BreachStatus{
	models.BreachOpen:          {models.BreachAcknowledged, models.BreachInvestigating},
	models.BreachAcknowledged:  {models.BreachInvestigating, models.BreachResolved},
	models.BreachInvestigating: {models.BreachResolved},
	models.BreachResolved:      nil,
}

func ValidBreachAction(action BreachAction) bool {
	_, ok := breachTargets[action]
	return ok
}

func canMoveBreach(from, to models.BreachStatus) bool {
	for _, allowed := range breachTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s *Service) ListBreaches(ctx context.Context, status models.BreachStatus) ([]models.SLABreach, error) {
	return s.store.ListBreaches(ctx, status)
}

// UpdateBreach moves a breach along its own lifecycle. It never touches the
// request's status.
func (s *Service) UpdateBreach(ctx context.Context, breachID string, action BreachAction, notes string) (models.SLABreach, error) {
	target, ok := breachTargets[action]
	if !ok {
		return models.SLABreach{}, fmt.Errorf("%w: unknown action %q", store.ErrInvalidBreachState, action)
	}
	breach, err := s.store.GetBreach(ctx, breachID)
	if err != nil {
		return models.SLABreach{}, err
	}
	if !canMoveBreach(breach.Status, target) {
		return models.SLABreach{}, fmt.Errorf("%w: %s -> %s", store.ErrInvalidBreachState, breach.Status, target)
	}
	updated, err := s.store.UpdateBreach(ctx, store.BreachUpdate{
		BreachID:       breachID,
		ExpectedStatus: breach.Status,
		Status:         target,
		Notes:          notes,
		OccurredAt:     s.now(),
	})
	if err != nil {
		return models.SLABreach{}, err
	}
	s.logger.Info("sla breach updated",
		zap.String("breach_id", breachID),
		zap.String("from", string(breach.Status)),
		zap.String("to", string(updated.Status)),
	)
	return updated, nil
}
