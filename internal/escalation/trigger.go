package escalation

import (
	"fmt"
	"time"

	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/risk"
)

// Input is everything a trigger may look at for one work item.
type Input struct {
	Request   models.ServiceRequest
	SLAStatus risk.SLAStatus
	Now       time.Time
}

// Trigger measures how far an item has progressed toward escalation, as a
// percentage compared against tier thresholds. ok is false when the trigger
// does not apply to the item at all.
type Trigger interface {
	Type() models.TriggerType
	Measure(in Input) (percent float64, ok bool, err error)
}

// TimeTrigger measures time since the request was created against a fixed
// duration.
type TimeTrigger struct {
	Duration time.Duration
}

func (TimeTrigger) Type() models.TriggerType { return models.TriggerTime }

func (t TimeTrigger) Measure(in Input) (float64, bool, error) {
	return percentOf(in.Now.Sub(in.Request.CreatedAt), t.Duration), true, nil
}

// SLATrigger measures elapsed time against the request's own SLA window.
type SLATrigger struct{}

func (SLATrigger) Type() models.TriggerType { return models.TriggerSLA }

func (SLATrigger) Measure(in Input) (float64, bool, error) {
	if in.Request.SLADeadline == nil || in.Request.SLADeadline.IsZero() {
		return 0, false, nil
	}
	start := in.Request.SLAStart()
	total := in.Request.SLADeadline.Sub(start)
	if total <= 0 {
		return 100, true, nil
	}
	return percentOf(in.Now.Sub(start), total), true, nil
}

// StatusTrigger applies when its predicate holds. With a window it measures
// time spent in the current status; without one it is fully elapsed as soon
// as the predicate matches.
type StatusTrigger struct {
	Predicate string
	Window    time.Duration

	predicates *predicateCache
}

func (StatusTrigger) Type() models.TriggerType { return models.TriggerStatus }

func (t StatusTrigger) Measure(in Input) (float64, bool, error) {
	matched, err := t.predicates.eval(t.Predicate, predicateVars(in))
	if err != nil {
		return 0, false, err
	}
	if !matched {
		return 0, false, nil
	}
	if t.Window <= 0 {
		return 100, true, nil
	}
	return percentOf(in.Now.Sub(in.Request.StatusChangedAt), t.Window), true, nil
}

func predicateVars(in Input) map[string]any {
	req := in.Request
	assignee := ""
	if req.AssignedTo != nil {
		assignee = *req.AssignedTo
	}
	return map[string]any{
		"id":                  req.RequestID,
		"entity_id":           req.EntityID,
		"service_key":         req.ServiceKey,
		"status":              string(req.Status),
		"resume_status":       string(req.ResumeStatus),
		"priority":            string(req.Priority),
		"sla_status":          string(in.SLAStatus),
		"assigned_to":         assignee,
		"hours_in_status":     in.Now.Sub(req.StatusChangedAt).Hours(),
		"hours_since_created": in.Now.Sub(req.CreatedAt).Hours(),
	}
}

func percentOf(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	return float64(elapsed) / float64(total) * 100
}

// CompileTrigger turns a persisted trigger spec into its evaluating variant.
func CompileTrigger(spec models.TriggerSpec) (Trigger, error) {
	switch spec.Type {
	case models.TriggerTime:
		if spec.DurationMinutes <= 0 {
			return nil, &RuleError{Field: "trigger.duration_minutes", Reason: "must be positive for time triggers"}
		}
		return TimeTrigger{Duration: time.Duration(spec.DurationMinutes) * time.Minute}, nil
	case models.TriggerSLA:
		return SLATrigger{}, nil
	case models.TriggerStatus:
		if spec.Predicate == "" {
			return nil, &RuleError{Field: "trigger.predicate", Reason: "required for status triggers"}
		}
		if spec.WindowMinutes < 0 {
			return nil, &RuleError{Field: "trigger.window_minutes", Reason: "must not be negative"}
		}
		cache, err := defaultPredicates()
		if err != nil {
			return nil, err
		}
		if _, err := cache.program(spec.Predicate); err != nil {
			return nil, &RuleError{Field: "trigger.predicate", Reason: err.Error()}
		}
		return StatusTrigger{
			Predicate:  spec.Predicate,
			Window:     time.Duration(spec.WindowMinutes) * time.Minute,
			predicates: cache,
		}, nil
	default:
		return nil, &RuleError{Field: "trigger.type", Reason: fmt.Sprintf("unknown trigger type %q", spec.Type)}
	}
}
