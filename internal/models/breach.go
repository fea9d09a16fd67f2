package models

import "time"

type BreachSeverity string

const (
	BreachMinor    BreachSeverity = "minor"
	BreachMajor    BreachSeverity = "major"
	BreachCritical BreachSeverity = "critical"
)

type BreachStatus string

const (
	BreachOpen          BreachStatus = "open"
	BreachAcknowledged  BreachStatus = "acknowledged"
	BreachInvestigating BreachStatus = "investigating"
	BreachResolved      BreachStatus = "resolved"
)

const BreachTypeResolution = "resolution_deadline"

type SLABreach struct {
	BreachID       string         `json:"breach_id"`
	RequestID      string         `json:"request_id"`
	EntityID       string         `json:"entity_id"`
	Severity       BreachSeverity `json:"severity"`
	BreachType     string         `json:"breach_type"`
	Status         BreachStatus   `json:"status"`
	Notes          string         `json:"notes,omitempty"`
	DeadlineAt     time.Time      `json:"deadline_at"`
	DetectedAt     time.Time      `json:"detected_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}
