package store

import (
	"errors"
	"testing"
	"time"

	"compliance/engine-service/internal/models"
)

func buildChain(t *testing.T) []models.StatusHistory {
	t.Helper()
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	steps := []models.StatusHistory{
		{RequestID: "req-1", From: models.StatusDraft, To: models.StatusInitiated, ActorID: "ops-1", CreatedAt: at},
		{RequestID: "req-1", From: models.StatusInitiated, To: models.StatusEscalated, Resume: models.StatusInitiated, ActorID: "system", CreatedAt: at.Add(time.Hour)},
		{RequestID: "req-1", From: models.StatusEscalated, To: models.StatusInitiated, ActorID: "ops-2", Note: "resolved", CreatedAt: at.Add(2 * time.Hour)},
	}
	var chain []models.StatusHistory
	last := models.StatusHistory{}
	for _, step := range steps {
		last = ChainHistory(last, step)
		chain = append(chain, last)
	}
	return chain
}

func TestHistoryChainVerifies(t *testing.T) {
	chain := buildChain(t)
	if err := VerifyHistory(chain); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if chain[0].PrevHash != "" || chain[1].PrevHash != chain[0].Hash {
		t.Fatalf("unexpected links")
	}
}

func TestHistoryChainDetectsRewrite(t *testing.T) {
	chain := buildChain(t)
	chain[1].ActorID = "someone-else"
	if err := VerifyHistory(chain); !errors.Is(err, ErrHistoryTampered) {
		t.Fatalf("expected tamper error, got %v", err)
	}
}

func TestReplayStatus(t *testing.T) {
	chain := buildChain(t)
	status, resume, err := ReplayStatus(models.StatusDraft, chain[:2])
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if status != models.StatusEscalated || resume != models.StatusInitiated {
		t.Fatalf("got %s/%s", status, resume)
	}

	status, resume, err = ReplayStatus(models.StatusDraft, chain)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if status != models.StatusInitiated || resume != "" {
		t.Fatalf("got %s/%s", status, resume)
	}

	if _, _, err := ReplayStatus(models.StatusInProgress, chain); !errors.Is(err, ErrHistoryTampered) {
		t.Fatalf("expected replay mismatch, got %v", err)
	}
}
