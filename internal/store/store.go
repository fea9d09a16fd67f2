package store

import (
	"context"
	"encoding/json"
	"time"

	"compliance/engine-service/internal/models"
)

// TransitionInput carries a validated transition. The update only applies
// while the stored status still equals ExpectedStatus.
type TransitionInput struct {
	RequestID      string
	ExpectedStatus models.RequestStatus
	Status         models.RequestStatus
	ResumeStatus   models.RequestStatus
	History        models.StatusHistory
}

type BreachUpdate struct {
	BreachID       string
	ExpectedStatus models.BreachStatus
	Status         models.BreachStatus
	Notes          string
	OccurredAt     time.Time
}

type RequestStore interface {
	CreateRequest(ctx context.Context, req models.ServiceRequest) (models.ServiceRequest, error)
	GetRequest(ctx context.Context, requestID string) (models.ServiceRequest, error)
	ListOpenRequests(ctx context.Context) ([]models.ServiceRequest, error)
	ApplyTransition(ctx context.Context, input TransitionInput) (models.ServiceRequest, error)
	ListHistory(ctx context.Context, requestID string) ([]models.StatusHistory, error)
	AssignRequest(ctx context.Context, requestID, assignee string, at time.Time) error
}

type ObligationStore interface {
	UpsertObligation(ctx context.Context, ob models.Obligation) error
	ListObligations(ctx context.Context, entityID string) ([]models.Obligation, error)
	ListActiveEntities(ctx context.Context) ([]string, error)
}

type ComplianceStateStore interface {
	GetComplianceState(ctx context.Context, entityID string) (models.ComplianceState, error)
	// SaveComplianceState stores the snapshot and reports whether its derived
	// values differ from the previously stored one.
	SaveComplianceState(ctx context.Context, state models.ComplianceState) (bool, error)
}

type RuleStore interface {
	CreateRule(ctx context.Context, rule models.EscalationRule) (models.EscalationRule, error)
	UpdateRule(ctx context.Context, rule models.EscalationRule) (models.EscalationRule, error)
	GetRule(ctx context.Context, ruleID string) (models.EscalationRule, error)
	ListRules(ctx context.Context, activeOnly bool) ([]models.EscalationRule, error)
}

type ExecutionStore interface {
	ListExecutions(ctx context.Context, ruleID, requestID string) ([]models.EscalationExecution, error)
	// CreateExecution returns false when an execution for the same
	// (rule, request, tier) already exists.
	CreateExecution(ctx context.Context, exec models.EscalationExecution) (bool, error)
}

type BreachStore interface {
	// OpenBreach returns false when the request already has an unresolved breach.
	OpenBreach(ctx context.Context, breach models.SLABreach) (models.SLABreach, bool, error)
	GetBreach(ctx context.Context, breachID string) (models.SLABreach, error)
	ListBreaches(ctx context.Context, status models.BreachStatus) ([]models.SLABreach, error)
	UpdateBreach(ctx context.Context, update BreachUpdate) (models.SLABreach, error)
}

type EventStore interface {
	// ListOutboxEvents pages the feed in commit order by Seq.
	ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]OutboxEvent, error)
}

type Store interface {
	RequestStore
	ObligationStore
	ComplianceStateStore
	RuleStore
	ExecutionStore
	BreachStore
	EventStore
}

type OutboxEvent struct {
	Seq       int64           `json:"seq"`
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	EventStatusChanged     = "request.status_changed"
	EventRequestAssigned   = "request.assigned"
	EventEscalationFired   = "escalation.fired"
	EventBreachOpened      = "sla_breach.opened"
	EventBreachUpdated     = "sla_breach.updated"
	EventComplianceChanged = "compliance.state_changed"
)
