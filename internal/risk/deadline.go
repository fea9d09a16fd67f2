// Package risk holds the pure classification and scoring functions used by
// the compliance and SLA views. Nothing here reads the clock; callers pass
// the evaluation instant so a single pass stays consistent.
package risk

import (
	"time"

	"compliance/engine-service/internal/models"
)

type DeadlineRisk string

const (
	RiskOverdue DeadlineRisk = "overdue"
	RiskDanger  DeadlineRisk = "danger"
	RiskWarning DeadlineRisk = "warning"
	RiskSafe    DeadlineRisk = "safe"
)

const (
	dangerDays  = 3
	warningDays = 7
)

// ClassifyDeadline marks an obligation overdue once its due instant has
// passed, otherwise buckets it by calendar days until due. The second return is false for completed obligations, which are not
// classified. A zero due date is treated as safe.
func ClassifyDeadline(due time.Time, status models.ObligationStatus, now time.Time) (DeadlineRisk, bool) {
	if status == models.ObligationCompleted {
		return "", false
	}
	if due.IsZero() {
		return RiskSafe, true
	}
	if due.Before(now) {
		return RiskOverdue, true
	}
	switch days := DaysUntil(due, now); {
	case days <= dangerDays:
		return RiskDanger, true
	case days <= warningDays:
		return RiskWarning, true
	default:
		return RiskSafe, true
	}
}

// DaysUntil is the calendar-day difference between now and due, both taken
// in now's location.
func DaysUntil(due, now time.Time) int {
	loc := now.Location()
	d := due.In(loc)
	dueDay := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	nowDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(dueDay.Sub(nowDay).Hours() / 24)
}
