package models

import "time"

type Grade string

const (
	GradeGreen Grade = "GREEN"
	GradeAmber Grade = "AMBER"
	GradeRed   Grade = "RED"
)

type NextDeadline struct {
	ObligationID string    `json:"obligation_id"`
	Title        string    `json:"title"`
	DueDate      time.Time `json:"due_date"`
	Priority     Priority  `json:"priority"`
	Risk         string    `json:"risk"`
}

// ComplianceState is a derived snapshot of an entity's obligations. It can be
// discarded and rebuilt at any time.
type ComplianceState struct {
	EntityID        string        `json:"entity_id"`
	Grade           Grade         `json:"grade"`
	HealthScore     int           `json:"health_score"`
	RiskScore       int           `json:"risk_score"`
	PenaltyExposure float64       `json:"penalty_exposure"`
	TotalCount      int           `json:"total_count"`
	CompletedCount  int           `json:"completed_count"`
	OverdueCount    int           `json:"overdue_count"`
	UpcomingCount   int           `json:"upcoming_count"`
	NextDeadline    *NextDeadline `json:"next_deadline,omitempty"`
	CalculatedAt    time.Time     `json:"calculated_at"`
}

// SameAs reports whether two snapshots carry the same derived values,
// ignoring when they were calculated.
func (s ComplianceState) SameAs(other ComplianceState) bool {
	if s.EntityID != other.EntityID ||
		s.Grade != other.Grade ||
		s.HealthScore != other.HealthScore ||
		s.RiskScore != other.RiskScore ||
		s.PenaltyExposure != other.PenaltyExposure ||
		s.TotalCount != other.TotalCount ||
		s.CompletedCount != other.CompletedCount ||
		s.OverdueCount != other.OverdueCount ||
		s.UpcomingCount != other.UpcomingCount {
		return false
	}
	if (s.NextDeadline == nil) != (other.NextDeadline == nil) {
		return false
	}
	if s.NextDeadline == nil {
		return true
	}
	a, b := *s.NextDeadline, *other.NextDeadline
	return a.ObligationID == b.ObligationID && a.DueDate.Equal(b.DueDate) && a.Priority == b.Priority && a.Risk == b.Risk && a.Title == b.Title
}
