package risk

import (
	"math"
	"sort"
	"time"

	"compliance/engine-service/internal/models"
)

const (
	overduePenalty = 10
	greenFloor     = 80
	amberFloor     = 60
)

// Score derives the compliance snapshot for one entity. The result depends
// only on the obligations and now; input order does not matter.
func Score(entityID string, obligations []models.Obligation, now time.Time) models.ComplianceState {
	sorted := make([]models.Obligation, len(obligations))
	copy(sorted, obligations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ObligationID < sorted[j].ObligationID
	})

	state := models.ComplianceState{
		EntityID:     entityID,
		TotalCount:   len(sorted),
		CalculatedAt: now,
	}

	var next *models.Obligation
	var nextRisk DeadlineRisk
	for i := range sorted {
		ob := sorted[i]
		risk, applicable := ClassifyDeadline(ob.DueDate, ob.Status, now)
		if !applicable {
			state.CompletedCount++
			continue
		}
		state.PenaltyExposure += ob.PenaltyRisk
		switch risk {
		case RiskOverdue:
			state.OverdueCount++
		case RiskDanger, RiskWarning:
			state.UpcomingCount++
		}
		if ob.DueDate.IsZero() {
			continue
		}
		if next == nil || deadlineBefore(ob, *next) {
			next = &sorted[i]
			nextRisk = risk
		}
	}

	state.HealthScore = HealthScore(state.TotalCount, state.CompletedCount, state.OverdueCount)
	state.RiskScore = 100 - state.HealthScore
	state.Grade = GradeFor(state.HealthScore)
	state.PenaltyExposure = math.Round(state.PenaltyExposure*100) / 100

	if next != nil {
		state.NextDeadline = &models.NextDeadline{
			ObligationID: next.ObligationID,
			Title:        next.Title,
			DueDate:      next.DueDate,
			Priority:     next.Priority,
			Risk:         string(nextRisk),
		}
	}
	return state
}

// HealthScore applies the flat per-overdue deduction to the completion ratio
// and clamps the result to [0, 100].
func HealthScore(total, completed, overdue int) int {
	base := 100.0
	if total > 0 {
		base = float64(completed) / float64(total) * 100
	}
	score := int(math.Round(base - float64(overdue*overduePenalty)))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func GradeFor(score int) models.Grade {
	switch {
	case score >= greenFloor:
		return models.GradeGreen
	case score >= amberFloor:
		return models.GradeAmber
	default:
		return models.GradeRed
	}
}

// deadlineBefore orders by due date, then highest priority, then lowest id.
func deadlineBefore(a, b models.Obligation) bool {
	if !a.DueDate.Equal(b.DueDate) {
		return a.DueDate.Before(b.DueDate)
	}
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	return a.ObligationID < b.ObligationID
}
