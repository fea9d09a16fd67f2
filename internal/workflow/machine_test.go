package workflow

import (
	"errors"
	"sync"
	"testing"
	"time"

	"compliance/engine-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from  models.RequestStatus
		to    models.RequestStatus
		valid bool
	}{
		{models.StatusDraft, models.StatusInitiated, true},
		{models.StatusDraft, models.StatusDelivered, false},
		{models.StatusDraft, models.StatusPaymentReceived, false},
		{models.StatusInitiated, models.StatusPendingPayment, true},
		{models.StatusPendingPayment, models.StatusInProgress, false},
		{models.StatusDocumentsUploaded, models.StatusDocumentsPending, true},
		{models.StatusProcessing, models.StatusPendingReview, true},
		{models.StatusProcessing, models.StatusQCReview, false},
		{models.StatusQCReview, models.StatusQCRejected, true},
		{models.StatusQCRejected, models.StatusInProgress, true},
		{models.StatusQCRejected, models.StatusReadyForDelivery, false},
		{models.StatusQCApproved, models.StatusReadyForDelivery, true},
		{models.StatusAwaitingClientConfirmation, models.StatusCompleted, true},
		{models.StatusDelivered, models.StatusCompleted, false},
		{models.StatusCompleted, models.StatusInProgress, false},
		{models.StatusCancelled, models.StatusEscalated, false},
		{models.StatusDraft, models.StatusEscalated, true},
		{models.StatusDraft, models.StatusOnHold, false},
		{models.StatusInProgress, models.StatusOnHold, true},
		{models.StatusUnderReview, models.StatusSLABreached, true},
		{models.StatusDraft, models.RequestStatus("archived"), false},
	}

	for _, tt := range cases {
		if got := CanTransition(State{Status: tt.from}, tt.to); got != tt.valid {
			t.Fatalf("CanTransition(%q, %q)=%v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestTransitionRejectsPhaseSkip(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, _, err := Transition(State{Status: models.StatusDraft}, models.StatusDelivered, "ops-1", "", at)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIllegalTransition))

	var terr *TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, models.StatusDraft, terr.From)
	assert.Equal(t, models.StatusDelivered, terr.To)
	assert.Equal(t, "illegal transition draft -> delivered", err.Error())

	next, record, err := Transition(State{Status: models.StatusDraft}, models.StatusInitiated, "ops-1", "kickoff", at)
	require.NoError(t, err)
	assert.Equal(t, State{Status: models.StatusInitiated}, next)
	assert.Equal(t, models.StatusDraft, record.From)
	assert.Equal(t, models.StatusInitiated, record.To)
	assert.Equal(t, "ops-1", record.ActorID)
	assert.Equal(t, "kickoff", record.Note)
	assert.Equal(t, at, record.CreatedAt)
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, status := range []models.RequestStatus{models.StatusCompleted, models.StatusCancelled, models.StatusRejected} {
		assert.Empty(t, Allowed(State{Status: status}), status)
	}
}

func TestOverlayRemembersPriorState(t *testing.T) {
	at := time.Now()
	state := State{Status: models.StatusProcessing}

	state, record, err := Transition(state, models.StatusEscalated, "system", "", at)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, state.Resume)
	assert.Equal(t, models.StatusProcessing, record.Resume)

	// Stacking a second special state keeps the original resume point.
	state, _, err = Transition(state, models.StatusSLABreached, "system", "", at)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, state.Resume)

	_, _, err = Transition(state, models.StatusPendingReview, "ops-1", "", at)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	state, _, err = Transition(state, models.StatusProcessing, "ops-1", "resolved", at)
	require.NoError(t, err)
	assert.Equal(t, State{Status: models.StatusProcessing}, state)
}

func TestOnHoldOnlyFromActiveAndReview(t *testing.T) {
	assert.True(t, CanTransition(State{Status: models.StatusEscalated, Resume: models.StatusQCReview}, models.StatusOnHold))
	assert.False(t, CanTransition(State{Status: models.StatusEscalated, Resume: models.StatusDraft}, models.StatusOnHold))
	assert.False(t, CanTransition(State{Status: models.StatusReadyForDelivery}, models.StatusOnHold))
}

func TestSpecialStateCancellationFollowsResumeState(t *testing.T) {
	assert.True(t, CanTransition(State{Status: models.StatusOnHold, Resume: models.StatusInProgress}, models.StatusCancelled))
	assert.False(t, CanTransition(State{Status: models.StatusOnHold, Resume: models.StatusUnderReview}, models.StatusCancelled))
}

func TestSpecialStateWithoutResumeIsStuck(t *testing.T) {
	assert.Empty(t, Allowed(State{Status: models.StatusEscalated}))
}

func TestCatalogDerivedFromTable(t *testing.T) {
	catalog := Catalog()
	require.Len(t, catalog, len(Statuses()))

	byStatus := map[models.RequestStatus]Descriptor{}
	for _, d := range catalog {
		byStatus[d.Status] = d
	}
	assert.Equal(t, "QC Rejected", byStatus[models.StatusQCRejected].Label)
	assert.Equal(t, "SLA Breached", byStatus[models.StatusSLABreached].Label)
	assert.Equal(t, "Awaiting Client Confirmation", byStatus[models.StatusAwaitingClientConfirmation].Label)
	assert.True(t, byStatus[models.StatusRejected].Terminal)
	assert.Equal(t, PhaseReview, byStatus[models.StatusQCReview].Phase)
	assert.Contains(t, byStatus[models.StatusInProgress].Next, models.StatusOnHold)
	assert.Nil(t, byStatus[models.StatusOnHold].Next)
}

func TestCatalogIsSafeForConcurrentUse(t *testing.T) {
	want := Catalog()

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				got := Catalog()
				if len(got) != len(want) {
					t.Errorf("catalog size=%d, want %d", len(got), len(want))
					return
				}
				for j := range got {
					if got[j].Label != want[j].Label {
						t.Errorf("label for %s=%q, want %q", got[j].Status, got[j].Label, want[j].Label)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}
