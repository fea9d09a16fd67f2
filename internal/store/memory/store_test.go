package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func TestApplyTransitionIsConditional(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateRequest(ctx, models.ServiceRequest{RequestID: "req-1", EntityID: "ent-1"})
	require.NoError(t, err)

	input := store.TransitionInput{
		RequestID:      "req-1",
		ExpectedStatus: models.StatusDraft,
		Status:         models.StatusInitiated,
		History:        models.StatusHistory{RequestID: "req-1", From: models.StatusDraft, To: models.StatusInitiated, ActorID: "ops", CreatedAt: at},
	}
	req, err := s.ApplyTransition(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInitiated, req.Status)
	assert.Equal(t, at, req.StatusChangedAt)

	_, err = s.ApplyTransition(ctx, input)
	assert.True(t, errors.Is(err, store.ErrStaleTransition))

	_, err = s.ApplyTransition(ctx, store.TransitionInput{RequestID: "missing"})
	assert.True(t, errors.Is(err, store.ErrRequestNotFound))
}

func TestHistoryIsChained(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateRequest(ctx, models.ServiceRequest{RequestID: "req-1"})
	require.NoError(t, err)

	steps := []struct{ from, to, resume models.RequestStatus }{
		{models.StatusDraft, models.StatusInitiated, ""},
		{models.StatusInitiated, models.StatusOnHold, models.StatusInitiated},
		{models.StatusOnHold, models.StatusInitiated, ""},
	}
	for i, step := range steps {
		_, err := s.ApplyTransition(ctx, store.TransitionInput{
			RequestID:      "req-1",
			ExpectedStatus: step.from,
			Status:         step.to,
			ResumeStatus:   step.resume,
			History:        models.StatusHistory{RequestID: "req-1", From: step.from, To: step.to, Resume: step.resume, ActorID: "ops", CreatedAt: at.Add(time.Duration(i) * time.Minute)},
		})
		require.NoError(t, err)
	}

	history, err := s.ListHistory(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.NoError(t, store.VerifyHistory(history))

	status, resume, err := store.ReplayStatus(models.StatusDraft, history)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInitiated, status)
	assert.Empty(t, resume)
}

func TestCreateExecutionIsUniquePerTier(t *testing.T) {
	s := New()
	ctx := context.Background()
	exec := models.EscalationExecution{ExecutionID: "e1", RuleID: "r1", RequestID: "req-1", TierLevel: 1, FiredAt: at}

	created, err := s.CreateExecution(ctx, exec)
	require.NoError(t, err)
	assert.True(t, created)

	exec.ExecutionID = "e2"
	created, err = s.CreateExecution(ctx, exec)
	require.NoError(t, err)
	assert.False(t, created)

	exec.TierLevel = 2
	created, err = s.CreateExecution(ctx, exec)
	require.NoError(t, err)
	assert.True(t, created)

	execs, err := s.ListExecutions(ctx, "r1", "req-1")
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "e1", execs[0].ExecutionID)
}

func TestSaveComplianceStateReportsChange(t *testing.T) {
	s := New()
	ctx := context.Background()
	state := models.ComplianceState{EntityID: "ent-1", Grade: models.GradeGreen, HealthScore: 90, RiskScore: 10, CalculatedAt: at}

	changed, err := s.SaveComplianceState(ctx, state)
	require.NoError(t, err)
	assert.True(t, changed)

	state.CalculatedAt = at.Add(time.Hour)
	changed, err = s.SaveComplianceState(ctx, state)
	require.NoError(t, err)
	assert.False(t, changed)

	state.HealthScore, state.RiskScore, state.Grade = 70, 30, models.GradeAmber
	changed, err = s.SaveComplianceState(ctx, state)
	require.NoError(t, err)
	assert.True(t, changed)

	events, err := s.ListOutboxEvents(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestOneBreachPerRequestDeadline(t *testing.T) {
	s := New()
	ctx := context.Background()
	first, created, err := s.OpenBreach(ctx, models.SLABreach{RequestID: "req-1", Severity: models.BreachMinor, DetectedAt: at})
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := s.OpenBreach(ctx, models.SLABreach{RequestID: "req-1", Severity: models.BreachMajor, DetectedAt: at})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.BreachID, again.BreachID)

	_, err = s.UpdateBreach(ctx, store.BreachUpdate{BreachID: first.BreachID, ExpectedStatus: models.BreachAcknowledged, Status: models.BreachResolved, OccurredAt: at})
	assert.True(t, errors.Is(err, store.ErrInvalidBreachState))

	resolved, err := s.UpdateBreach(ctx, store.BreachUpdate{BreachID: first.BreachID, ExpectedStatus: models.BreachOpen, Status: models.BreachResolved, Notes: "fixed", OccurredAt: at})
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, "fixed", resolved.Notes)

	again, created, err = s.OpenBreach(ctx, models.SLABreach{RequestID: "req-1", Severity: models.BreachMajor, DetectedAt: at.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, created, "a resolved breach of the same deadline is not reopened")
	assert.Equal(t, first.BreachID, again.BreachID)

	_, created, err = s.OpenBreach(ctx, models.SLABreach{RequestID: "req-1", Severity: models.BreachMajor, DeadlineAt: at.Add(24 * time.Hour), DetectedAt: at.Add(30 * time.Hour)})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestActiveEntitiesIgnoreArchived(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.UpsertObligation(ctx, models.Obligation{ObligationID: "o1", EntityID: "ent-b"}))
	require.NoError(t, s.UpsertObligation(ctx, models.Obligation{ObligationID: "o2", EntityID: "ent-a"}))
	require.NoError(t, s.UpsertObligation(ctx, models.Obligation{ObligationID: "o3", EntityID: "ent-c", Archived: true}))

	entities, err := s.ListActiveEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ent-a", "ent-b"}, entities)
}

func TestOutboxCursor(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.CreateExecution(ctx, models.EscalationExecution{RuleID: "r", RequestID: "req", TierLevel: i + 1, FiredAt: at})
		require.NoError(t, err)
	}
	first, err := s.ListOutboxEvents(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, []int64{1, 2}, []int64{first[0].Seq, first[1].Seq})

	// Same timestamps on both sides of the page boundary.
	rest, err := s.ListOutboxEvents(ctx, first[1].Seq, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, store.EventEscalationFired, rest[0].Type)
	assert.Equal(t, int64(3), rest[0].Seq)

	// Back-dated events still land after the cursor.
	_, err = s.CreateExecution(ctx, models.EscalationExecution{RuleID: "r", RequestID: "req-late", TierLevel: 1, FiredAt: at.Add(-time.Hour)})
	require.NoError(t, err)
	late, err := s.ListOutboxEvents(ctx, rest[0].Seq, 10)
	require.NoError(t, err)
	require.Len(t, late, 1)
	assert.True(t, late[0].CreatedAt.Equal(at.Add(-time.Hour)))
}
