package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"compliance/engine-service/internal/escalation"
	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/queue"
	"compliance/engine-service/internal/risk"
	"compliance/engine-service/internal/store"
	"compliance/engine-service/internal/store/memory"
	"compliance/engine-service/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)

type fakeRecalc struct {
	triggerEntityFn  func(ctx context.Context, entityID string) (models.ComplianceState, bool, error)
	triggerRequestFn func(ctx context.Context, requestID string) ([]models.EscalationExecution, error)
}

func (f fakeRecalc) TriggerEntity(ctx context.Context, entityID string) (models.ComplianceState, bool, error) {
	return f.triggerEntityFn(ctx, entityID)
}

func (f fakeRecalc) TriggerRequest(ctx context.Context, requestID string) ([]models.EscalationExecution, error) {
	if f.triggerRequestFn == nil {
		return nil, nil
	}
	return f.triggerRequestFn(ctx, requestID)
}

func newTestService(t *testing.T, recalc Recalculator) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	svc := NewService(st, recalc, zap.NewNop(), nil)
	svc.now = func() time.Time { return now }
	return svc, st
}

func seedRequest(t *testing.T, st *memory.Store, id string, status models.RequestStatus) {
	t.Helper()
	_, err := st.CreateRequest(context.Background(), models.ServiceRequest{
		RequestID:  id,
		EntityID:   "ent-1",
		ServiceKey: "gst_filing",
		Status:     status,
		Priority:   models.PriorityMedium,
		CreatedAt:  now.Add(-time.Hour),
	})
	require.NoError(t, err)
}

func TestTransitionAppliesAndTriggersEvaluation(t *testing.T) {
	var triggered []string
	svc, st := newTestService(t, fakeRecalc{triggerRequestFn: func(ctx context.Context, requestID string) ([]models.EscalationExecution, error) {
		triggered = append(triggered, requestID)
		return nil, nil
	}})
	seedRequest(t, st, "req-1", models.StatusDraft)

	req, err := svc.Transition(context.Background(), TransitionRequest{RequestID: "req-1", RequestedStatus: models.StatusInitiated, ActorID: "ops-1", Note: "kickoff"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInitiated, req.Status)
	assert.Equal(t, []string{"req-1"}, triggered)

	history, verified, err := svc.History(context.Background(), "req-1")
	require.NoError(t, err)
	assert.True(t, verified)
	require.Len(t, history, 1)
	assert.Equal(t, "ops-1", history[0].ActorID)
	assert.Equal(t, "kickoff", history[0].Note)
	assert.Equal(t, now, history[0].CreatedAt)
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	svc, st := newTestService(t, nil)
	seedRequest(t, st, "req-1", models.StatusDraft)

	_, err := svc.Transition(context.Background(), TransitionRequest{RequestID: "req-1", RequestedStatus: models.StatusCompleted, ActorID: "ops"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, workflow.ErrIllegalTransition))
	var terr *workflow.TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, models.StatusDraft, terr.From)
	assert.Equal(t, models.StatusCompleted, terr.To)

	req, err := svc.GetRequest(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, req.Status)
	history, _, err := svc.History(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestTransitionRejectsStaleExpectation(t *testing.T) {
	svc, st := newTestService(t, nil)
	seedRequest(t, st, "req-1", models.StatusInitiated)

	_, err := svc.Transition(context.Background(), TransitionRequest{
		RequestID:       "req-1",
		RequestedStatus: models.StatusInitiated,
		ExpectedStatus:  models.StatusDraft,
		ActorID:         "ops",
	})
	assert.True(t, errors.Is(err, store.ErrStaleTransition))
}

func TestConcurrentTransitionsOnlyOneWins(t *testing.T) {
	svc, st := newTestService(t, nil)
	seedRequest(t, st, "req-1", models.StatusDocumentsUploaded)

	targets := []models.RequestStatus{models.StatusDocumentsVerified, models.StatusDocumentsPending}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Transition(context.Background(), TransitionRequest{RequestID: "req-1", RequestedStatus: target, ActorID: "ops"})
		}()
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.True(t, errors.Is(err, store.ErrStaleTransition) || errors.Is(err, workflow.ErrIllegalTransition), "unexpected error %v", err)
	}
	assert.Equal(t, 1, successes)

	history, verified, err := svc.History(context.Background(), "req-1")
	require.NoError(t, err)
	assert.True(t, verified)
	assert.Len(t, history, 1)
}

func TestComplianceComputedOnFirstAccess(t *testing.T) {
	calls := 0
	svc, st := newTestService(t, nil)
	svc.recalc = fakeRecalc{triggerEntityFn: func(ctx context.Context, entityID string) (models.ComplianceState, bool, error) {
		calls++
		obligations, err := st.ListObligations(ctx, entityID)
		if err != nil {
			return models.ComplianceState{}, false, err
		}
		state := risk.Score(entityID, obligations, now)
		changed, err := st.SaveComplianceState(ctx, state)
		return state, changed, err
	}}
	require.NoError(t, st.UpsertObligation(context.Background(), models.Obligation{
		ObligationID: "ob-1", EntityID: "ent-1", Title: "TDS", DueDate: now.AddDate(0, 0, -2), Status: models.ObligationPending, PenaltyRisk: 500,
	}))

	state, err := svc.Compliance(context.Background(), "ent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.OverdueCount)
	assert.Equal(t, 500.0, state.PenaltyExposure)

	_, err = svc.Compliance(context.Background(), "ent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	_, err = svc.Compliance(context.Background(), "ent-unknown")
	assert.True(t, errors.Is(err, store.ErrEntityNotFound))
}

func TestRuleCreationValidates(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.CreateRule(context.Background(), models.EscalationRule{
		Name:    "Broken",
		Trigger: models.TriggerSpec{Type: models.TriggerSLA},
	})
	assert.True(t, errors.Is(err, escalation.ErrMalformedRule))

	rule, err := svc.CreateRule(context.Background(), models.EscalationRule{
		Name:    "SLA watch",
		Trigger: models.TriggerSpec{Type: models.TriggerSLA},
		Tiers:   []models.EscalationTier{{ThresholdPercent: 75, Severity: models.SeverityHigh, NotifyRoles: []string{"lead"}}},
		Active:  true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rule.RuleID)
	assert.Equal(t, 1, rule.Tiers[0].Level)

	rule.Active = false
	updated, err := svc.UpdateRule(context.Background(), rule.RuleID, rule)
	require.NoError(t, err)
	assert.False(t, updated.Active)

	active, err := svc.ListRules(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = svc.UpdateRule(context.Background(), "missing", rule)
	assert.True(t, errors.Is(err, store.ErrRuleNotFound))
}

func TestBreachLifecycle(t *testing.T) {
	svc, st := newTestService(t, nil)
	breach, _, err := st.OpenBreach(context.Background(), models.SLABreach{RequestID: "req-1", Severity: models.BreachMinor, DetectedAt: now})
	require.NoError(t, err)

	_, err = svc.UpdateBreach(context.Background(), breach.BreachID, BreachResolve, "")
	assert.True(t, errors.Is(err, store.ErrInvalidBreachState))

	acked, err := svc.UpdateBreach(context.Background(), breach.BreachID, BreachAcknowledge, "looking")
	require.NoError(t, err)
	assert.Equal(t, models.BreachAcknowledged, acked.Status)

	resolved, err := svc.UpdateBreach(context.Background(), breach.BreachID, BreachResolve, "done")
	require.NoError(t, err)
	assert.Equal(t, models.BreachResolved, resolved.Status)
	assert.Equal(t, "looking\ndone", resolved.Notes)

	_, err = svc.UpdateBreach(context.Background(), breach.BreachID, BreachInvestigate, "")
	assert.True(t, errors.Is(err, store.ErrInvalidBreachState))

	_, err = svc.UpdateBreach(context.Background(), breach.BreachID, "escalate", "")
	assert.True(t, errors.Is(err, store.ErrInvalidBreachState))

	_, err = svc.UpdateBreach(context.Background(), "missing", BreachAcknowledge, "")
	assert.True(t, errors.Is(err, store.ErrBreachNotFound))
}

func TestBreachUpdateLeavesRequestStatus(t *testing.T) {
	svc, st := newTestService(t, nil)
	seedRequest(t, st, "req-1", models.StatusInProgress)
	breach, _, err := st.OpenBreach(context.Background(), models.SLABreach{RequestID: "req-1", Severity: models.BreachMinor, DetectedAt: now})
	require.NoError(t, err)

	_, err = svc.UpdateBreach(context.Background(), breach.BreachID, BreachInvestigate, "")
	require.NoError(t, err)

	req, err := svc.GetRequest(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, req.Status)
}

func TestWorkQueueFiltersAndOrders(t *testing.T) {
	svc, st := newTestService(t, nil)
	seedRequest(t, st, "req-b", models.StatusInProgress)
	seedRequest(t, st, "req-a", models.StatusInProgress)
	seedRequest(t, st, "req-done", models.StatusCompleted)

	items, err := svc.WorkQueue(context.Background(), queue.Filter{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "req-a", items[0].Request.RequestID)

	items, err = svc.WorkQueue(context.Background(), queue.Filter{ServiceKey: "other"})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAssignerUsesRoleQueueByDefault(t *testing.T) {
	st := memory.New()
	seedRequest(t, st, "req-1", models.StatusInProgress)
	require.NoError(t, NewAssigner(st, nil).Assign(context.Background(), "req-1", "team_lead"))

	req, err := st.GetRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.NotNil(t, req.AssignedTo)
	assert.Equal(t, "role:team_lead", *req.AssignedTo)
}

func TestAssignerResolvesActorFromDirectory(t *testing.T) {
	st := memory.New()
	seedRequest(t, st, "req-1", models.StatusInProgress)
	seedRequest(t, st, "req-2", models.StatusInProgress)
	assigner := NewAssigner(st, NewDirectoryResolver(map[string]string{" team_lead ": " lead-7 ", "auditor": ""}))

	require.NoError(t, assigner.Assign(context.Background(), "req-1", "team_lead"))
	require.NoError(t, assigner.Assign(context.Background(), "req-2", "auditor"))

	req, err := st.GetRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.NotNil(t, req.AssignedTo)
	assert.Equal(t, "lead-7", *req.AssignedTo)

	req, err = st.GetRequest(context.Background(), "req-2")
	require.NoError(t, err)
	require.NotNil(t, req.AssignedTo)
	assert.Equal(t, "role:auditor", *req.AssignedTo)
}

type failingResolver struct{}

func (failingResolver) ResolveActor(ctx context.Context, requestID, role string) (string, error) {
	return "", errors.New("directory unavailable")
}

func TestAssignerLeavesRequestWhenResolutionFails(t *testing.T) {
	st := memory.New()
	seedRequest(t, st, "req-1", models.StatusInProgress)

	err := NewAssigner(st, failingResolver{}).Assign(context.Background(), "req-1", "team_lead")
	require.Error(t, err)
	assert.ErrorIs(t, NewAssigner(st, nil).Assign(context.Background(), "req-1", " "), ErrInvalidInput)

	req, err := st.GetRequest(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Nil(t, req.AssignedTo)
}

func TestCreateRequestStartsInDraft(t *testing.T) {
	svc, _ := newTestService(t, nil)
	deadline := now.Add(48 * time.Hour)

	req, err := svc.CreateRequest(context.Background(), NewRequest{
		EntityID:    "ent-1",
		ServiceKey:  "gst_filing",
		AssignedTo:  " ops-1 ",
		SLADeadline: &deadline,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, req.RequestID)
	assert.Equal(t, models.StatusDraft, req.Status)
	assert.Equal(t, models.PriorityMedium, req.Priority)
	require.NotNil(t, req.AssignedTo)
	assert.Equal(t, "ops-1", *req.AssignedTo)
	require.NotNil(t, req.SLAStartedAt)
	assert.Equal(t, now, *req.SLAStartedAt)

	_, err = svc.CreateRequest(context.Background(), NewRequest{RequestID: req.RequestID, EntityID: "ent-1", ServiceKey: "gst_filing"})
	assert.True(t, errors.Is(err, store.ErrRequestExists))

	_, err = svc.CreateRequest(context.Background(), NewRequest{EntityID: "ent-1"})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = svc.CreateRequest(context.Background(), NewRequest{EntityID: "ent-1", ServiceKey: "x", Priority: "asap"})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestUpsertObligationTriggersRecalculation(t *testing.T) {
	var triggered []string
	svc, st := newTestService(t, fakeRecalc{triggerEntityFn: func(ctx context.Context, entityID string) (models.ComplianceState, bool, error) {
		triggered = append(triggered, entityID)
		return models.ComplianceState{}, false, nil
	}})

	ob, err := svc.UpsertObligation(context.Background(), models.Obligation{
		ObligationID: "ob-1", EntityID: "ent-1", Title: " TDS return ", DueDate: now.AddDate(0, 0, 5), Status: models.ObligationCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, "TDS return", ob.Title)
	assert.Equal(t, models.PriorityMedium, ob.Priority)
	require.NotNil(t, ob.CompletedAt)
	assert.Equal(t, []string{"ent-1"}, triggered)

	stored, err := st.ListObligations(context.Background(), "ent-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)

	for name, bad := range map[string]models.Obligation{
		"missing title":    {ObligationID: "ob-2", EntityID: "ent-1"},
		"unknown status":   {ObligationID: "ob-2", EntityID: "ent-1", Title: "x", Status: "late"},
		"negative penalty": {ObligationID: "ob-2", EntityID: "ent-1", Title: "x", PenaltyRisk: -1},
	} {
		_, err := svc.UpsertObligation(context.Background(), bad)
		assert.True(t, errors.Is(err, ErrInvalidInput), name)
	}
	assert.Len(t, triggered, 1)
}
