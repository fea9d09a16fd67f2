package risk

import "time"

type SLAStatus string

const (
	SLANone      SLAStatus = "no_sla"
	SLACompleted SLAStatus = "completed"
	SLAOnTrack   SLAStatus = "on_track"
	SLAAtRisk    SLAStatus = "at_risk"
	SLACritical  SLAStatus = "critical"
	SLABreached  SLAStatus = "breached"
)

const (
	criticalHours = 4.0
	atRiskHours   = 24.0
)

// EvaluateSLA buckets a work item by hours left before its deadline. Bucket
// boundaries belong to the more urgent bucket.
func EvaluateSLA(deadline *time.Time, completed bool, now time.Time) SLAStatus {
	if deadline == nil || deadline.IsZero() {
		return SLANone
	}
	if completed {
		return SLACompleted
	}
	hours := deadline.Sub(now).Hours()
	switch {
	case hours < 0:
		return SLABreached
	case hours <= criticalHours:
		return SLACritical
	case hours <= atRiskHours:
		return SLAAtRisk
	default:
		return SLAOnTrack
	}
}

// Rank orders SLA buckets for work queues. Completed items never appear in a
// queue and rank after everything else.
func (s SLAStatus) Rank() int {
	switch s {
	case SLABreached:
		return 0
	case SLACritical:
		return 1
	case SLAAtRisk:
		return 2
	case SLAOnTrack:
		return 3
	case SLANone:
		return 4
	default:
		return 5
	}
}

func (s SLAStatus) Valid() bool {
	return s.Rank() < 5 || s == SLACompleted
}
