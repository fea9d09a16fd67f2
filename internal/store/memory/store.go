// Package memory is an in-process store used when no database is configured
// and by tests. It enforces the same conditional updates and uniqueness rules
// as the PostgreSQL store.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/store"
	"compliance/engine-service/internal/workflow"

	"github.com/google/uuid"
)

type Store struct {
	mu          sync.RWMutex
	now         func() time.Time
	requests    map[string]models.ServiceRequest
	history     map[string][]models.StatusHistory
	obligations map[string]models.Obligation
	states      map[string]models.ComplianceState
	rules       map[string]models.EscalationRule
	executions  map[executionKey]models.EscalationExecution
	breaches    map[string]models.SLABreach
	outbox      []store.OutboxEvent
}

type executionKey struct {
	ruleID    string
	requestID string
	tier      int
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		now:         time.Now,
		requests:    make(map[string]models.ServiceRequest),
		history:     make(map[string][]models.StatusHistory),
		obligations: make(map[string]models.Obligation),
		states:      make(map[string]models.ComplianceState),
		rules:       make(map[string]models.EscalationRule),
		executions:  make(map[executionKey]models.EscalationExecution),
		breaches:    make(map[string]models.SLABreach),
	}
}

func (s *Store) CreateRequest(ctx context.Context, req models.ServiceRequest) (models.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if _, exists := s.requests[req.RequestID]; exists {
		return models.ServiceRequest{}, fmt.Errorf("%w: %s", store.ErrRequestExists, req.RequestID)
	}
	now := s.now().UTC()
	if req.Status == "" {
		req.Status = models.StatusDraft
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.StatusChangedAt.IsZero() {
		req.StatusChangedAt = req.CreatedAt
	}
	req.UpdatedAt = now
	s.requests[req.RequestID] = req
	return req, nil
}

func (s *Store) GetRequest(ctx context.Context, requestID string) (models.ServiceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return models.ServiceRequest{}, store.ErrRequestNotFound
	}
	return req, nil
}

func (s *Store) ListOpenRequests(ctx context.Context) ([]models.ServiceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ServiceRequest
	for _, req := range s.requests {
		if !workflow.IsTerminal(req.Status) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestID < out[j].RequestID })
	return out, nil
}

func (s *Store) ApplyTransition(ctx context.Context, input store.TransitionInput) (models.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[input.RequestID]
	if !ok {
		return models.ServiceRequest{}, store.ErrRequestNotFound
	}
	if req.Status != input.ExpectedStatus {
		return models.ServiceRequest{}, store.ErrStaleTransition
	}

	at := input.History.CreatedAt.UTC()
	req.Status = input.Status
	req.ResumeStatus = input.ResumeStatus
	req.StatusChangedAt = at
	req.UpdatedAt = at
	s.requests[req.RequestID] = req

	var last models.StatusHistory
	if records := s.history[req.RequestID]; len(records) > 0 {
		last = records[len(records)-1]
	}
	record := store.ChainHistory(last, input.History)
	s.history[req.RequestID] = append(s.history[req.RequestID], record)

	s.appendEvent(store.EventStatusChanged, map[string]any{
		"request_id": req.RequestID,
		"entity_id":  req.EntityID,
		"from":       record.From,
		"to":         record.To,
		"actor_id":   record.ActorID,
		"seq":        record.Seq,
	}, at)
	return req, nil
}

func (s *Store) ListHistory(ctx context.Context, requestID string) ([]models.StatusHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.requests[requestID]; !ok {
		return nil, store.ErrRequestNotFound
	}
	return append([]models.StatusHistory(nil), s.history[requestID]...), nil
}

func (s *Store) AssignRequest(ctx context.Context, requestID, assignee string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return store.ErrRequestNotFound
	}
	req.AssignedTo = &assignee
	req.UpdatedAt = at.UTC()
	s.requests[requestID] = req
	s.appendEvent(store.EventRequestAssigned, map[string]any{
		"request_id":  requestID,
		"assigned_to": assignee,
	}, at)
	return nil
}

func (s *Store) UpsertObligation(ctx context.Context, ob models.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ob.ObligationID == "" {
		ob.ObligationID = uuid.NewString()
	}
	s.obligations[ob.ObligationID] = ob
	return nil
}

func (s *Store) ListObligations(ctx context.Context, entityID string) ([]models.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Obligation
	for _, ob := range s.obligations {
		if ob.EntityID == entityID {
			out = append(out, ob)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObligationID < out[j].ObligationID })
	return out, nil
}

func (s *Store) ListActiveEntities(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, ob := range s.obligations {
		if ob.Archived || seen[ob.EntityID] {
			continue
		}
		seen[ob.EntityID] = true
		out = append(out, ob.EntityID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) GetComplianceState(ctx context.Context, entityID string) (models.ComplianceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[entityID]
	if !ok {
		return models.ComplianceState{}, store.ErrStateNotFound
	}
	return state, nil
}

func (s *Store) SaveComplianceState(ctx context.Context, state models.ComplianceState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.states[state.EntityID]
	changed := !existed || !prev.SameAs(state)
	s.states[state.EntityID] = state
	if changed {
		s.appendEvent(store.EventComplianceChanged, map[string]any{
			"entity_id":    state.EntityID,
			"grade":        state.Grade,
			"health_score": state.HealthScore,
			"risk_score":   state.RiskScore,
		}, state.CalculatedAt)
	}
	return changed, nil
}

func (s *Store) CreateRule(ctx context.Context, rule models.EscalationRule) (models.EscalationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.RuleID == "" {
		rule.RuleID = uuid.NewString()
	}
	if _, exists := s.rules[rule.RuleID]; exists {
		return models.EscalationRule{}, fmt.Errorf("rule %s already exists", rule.RuleID)
	}
	now := s.now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.RuleID] = rule
	return rule, nil
}

func (s *Store) UpdateRule(ctx context.Context, rule models.EscalationRule) (models.EscalationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.rules[rule.RuleID]
	if !ok {
		return models.EscalationRule{}, store.ErrRuleNotFound
	}
	rule.CreatedAt = prev.CreatedAt
	rule.UpdatedAt = s.now().UTC()
	s.rules[rule.RuleID] = rule
	return rule, nil
}

func (s *Store) GetRule(ctx context.Context, ruleID string) (models.EscalationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[ruleID]
	if !ok {
		return models.EscalationRule{}, store.ErrRuleNotFound
	}
	return rule, nil
}

func (s *Store) ListRules(ctx context.Context, activeOnly bool) ([]models.EscalationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.EscalationRule
	for _, rule := range s.rules {
		if activeOnly && !rule.Active {
			continue
		}
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out, nil
}

func (s *Store) ListExecutions(ctx context.Context, ruleID, requestID string) ([]models.EscalationExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.EscalationExecution
	for key, exec := range s.executions {
		if key.ruleID == ruleID && key.requestID == requestID {
			out = append(out, exec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TierLevel < out[j].TierLevel })
	return out, nil
}

func (s *Store) CreateExecution(ctx context.Context, exec models.EscalationExecution) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := executionKey{ruleID: exec.RuleID, requestID: exec.RequestID, tier: exec.TierLevel}
	if _, exists := s.executions[key]; exists {
		return false, nil
	}
	s.executions[key] = exec
	s.appendEvent(store.EventEscalationFired, exec, exec.FiredAt)
	return true, nil
}

func (s *Store) OpenBreach(ctx context.Context, breach models.SLABreach) (models.SLABreach, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.breaches {
		if existing.RequestID != breach.RequestID {
			continue
		}
		sameDeadline := existing.BreachType == breach.BreachType && existing.DeadlineAt.Equal(breach.DeadlineAt)
		if existing.Status != models.BreachResolved || sameDeadline {
			return existing, false, nil
		}
	}
	if breach.BreachID == "" {
		breach.BreachID = uuid.NewString()
	}
	if breach.Status == "" {
		breach.Status = models.BreachOpen
	}
	s.breaches[breach.BreachID] = breach
	s.appendEvent(store.EventBreachOpened, breach, breach.DetectedAt)
	return breach, true, nil
}

func (s *Store) GetBreach(ctx context.Context, breachID string) (models.SLABreach, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	breach, ok := s.breaches[breachID]
	if !ok {
		return models.SLABreach{}, store.ErrBreachNotFound
	}
	return breach, nil
}

func (s *Store) ListBreaches(ctx context.Context, status models.BreachStatus) ([]models.SLABreach, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SLABreach
	for _, breach := range s.breaches {
		if status != "" && breach.Status != status {
			continue
		}
		out = append(out, breach)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].BreachID < out[j].BreachID
	})
	return out, nil
}

func (s *Store) UpdateBreach(ctx context.Context, update store.BreachUpdate) (models.SLABreach, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	breach, ok := s.breaches[update.BreachID]
	if !ok {
		return models.SLABreach{}, store.ErrBreachNotFound
	}
	if breach.Status != update.ExpectedStatus {
		return models.SLABreach{}, store.ErrInvalidBreachState
	}
	at := update.OccurredAt.UTC()
	breach.Status = update.Status
	breach.Notes = joinNotes(breach.Notes, update.Notes)
	switch update.Status {
	case models.BreachAcknowledged:
		breach.AcknowledgedAt = &at
	case models.BreachResolved:
		breach.ResolvedAt = &at
	}
	s.breaches[breach.BreachID] = breach
	s.appendEvent(store.EventBreachUpdated, breach, at)
	return breach, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var out []store.OutboxEvent
	for _, event := range s.outbox {
		if event.Seq <= afterSeq {
			continue
		}
		out = append(out, event)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// appendEvent must be called with s.mu held.
func (s *Store) appendEvent(eventType string, payload any, at time.Time) {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte("{}")
	}
	if at.IsZero() {
		at = s.now()
	}
	s.outbox = append(s.outbox, store.OutboxEvent{
		Seq:       int64(len(s.outbox)) + 1,
		EventID:   uuid.NewString(),
		Type:      eventType,
		Payload:   body,
		CreatedAt: at.UTC(),
	})
}

func joinNotes(existing, next string) string {
	next = strings.TrimSpace(next)
	switch {
	case next == "":
		return existing
	case existing == "":
		return next
	default:
		return existing + "\n" + next
	}
}
