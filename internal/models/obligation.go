package models

import "time"

type ObligationStatus string

const (
	ObligationPending    ObligationStatus = "pending"
	ObligationInProgress ObligationStatus = "in_progress"
	ObligationCompleted  ObligationStatus = "completed"
)

type Obligation struct {
	ObligationID string           `json:"obligation_id"`
	EntityID     string           `json:"entity_id"`
	Title        string           `json:"title"`
	Category     string           `json:"category,omitempty"`
	DueDate      time.Time        `json:"due_date"`
	Status       ObligationStatus `json:"status"`
	PenaltyRisk  float64          `json:"penalty_risk"`
	Priority     Priority         `json:"priority"`
	Archived     bool             `json:"archived"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

func (s ObligationStatus) Valid() bool {
	switch s {
	case ObligationPending, ObligationInProgress, ObligationCompleted:
		return true
	default:
		return false
	}
}
