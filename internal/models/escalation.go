package models

import "time"

type TriggerType string

const (
	TriggerTime   TriggerType = "time"
	TriggerSLA    TriggerType = "sla"
	TriggerStatus TriggerType = "status"
)

type TierAction string

const (
	ActionNotifyRoles  TierAction = "notify_roles"
	ActionReassign     TierAction = "reassign"
	ActionNotifyClient TierAction = "notify_client"
	ActionOpenIncident TierAction = "open_incident"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// TriggerSpec is the persisted form of a trigger. Only the fields of the
// selected Type are meaningful.
type TriggerSpec struct {
	Type            TriggerType `json:"type" yaml:"type"`
	DurationMinutes int         `json:"duration_minutes,omitempty" yaml:"duration_minutes,omitempty"`
	Predicate       string      `json:"predicate,omitempty" yaml:"predicate,omitempty"`
	WindowMinutes   int         `json:"window_minutes,omitempty" yaml:"window_minutes,omitempty"`
}

type RuleScope struct {
	ServiceKeys []string        `json:"service_keys,omitempty" yaml:"service_keys,omitempty"`
	Statuses    []RequestStatus `json:"statuses,omitempty" yaml:"statuses,omitempty"`
	Priorities  []Priority      `json:"priorities,omitempty" yaml:"priorities,omitempty"`
}

type EscalationTier struct {
	Level            int          `json:"level" yaml:"level"`
	ThresholdPercent float64      `json:"threshold_percent" yaml:"threshold_percent"`
	Severity         Severity     `json:"severity" yaml:"severity"`
	NotifyRoles      []string     `json:"notify_roles,omitempty" yaml:"notify_roles,omitempty"`
	ReassignRole     string       `json:"reassign_role,omitempty" yaml:"reassign_role,omitempty"`
	Actions          []TierAction `json:"actions,omitempty" yaml:"actions,omitempty"`
}

func (t EscalationTier) HasAction(action TierAction) bool {
	for _, a := range t.Actions {
		if a == action {
			return true
		}
	}
	return false
}

type EscalationRule struct {
	RuleID       string           `json:"rule_id" yaml:"rule_id,omitempty"`
	Name         string           `json:"name" yaml:"name"`
	Trigger      TriggerSpec      `json:"trigger" yaml:"trigger"`
	Scope        RuleScope        `json:"scope" yaml:"scope"`
	Tiers        []EscalationTier `json:"tiers" yaml:"tiers"`
	AutoReassign bool             `json:"auto_reassign" yaml:"auto_reassign"`
	NotifyClient bool             `json:"notify_client" yaml:"notify_client"`
	Active       bool             `json:"active" yaml:"active"`
	CreatedAt    time.Time        `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time        `json:"updated_at" yaml:"-"`
}

type EscalationExecution struct {
	ExecutionID    string       `json:"execution_id"`
	RuleID         string       `json:"rule_id"`
	RequestID      string       `json:"request_id"`
	TierLevel      int          `json:"tier_level"`
	Severity       Severity     `json:"severity"`
	ElapsedPercent float64      `json:"elapsed_percent"`
	Actions        []TierAction `json:"actions"`
	FiredAt        time.Time    `json:"fired_at"`
}
