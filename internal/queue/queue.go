// Package queue orders open service requests for operators.
package queue

import (
	"sort"
	"time"

	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/risk"
	"compliance/engine-service/internal/workflow"
)

type WorkItem struct {
	Request   models.ServiceRequest `json:"request"`
	SLAStatus risk.SLAStatus        `json:"sla_status"`
}

// Filter narrows the queue. Zero fields match everything.
type Filter struct {
	SLAStatus  risk.SLAStatus
	AssignedTo string
	Priority   models.Priority
	ServiceKey string
}

func (f Filter) matches(item WorkItem) bool {
	if f.SLAStatus != "" && item.SLAStatus != f.SLAStatus {
		return false
	}
	if f.AssignedTo != "" && (item.Request.AssignedTo == nil || *item.Request.AssignedTo != f.AssignedTo) {
		return false
	}
	if f.Priority != "" && item.Request.Priority != f.Priority {
		return false
	}
	if f.ServiceKey != "" && item.Request.ServiceKey != f.ServiceKey {
		return false
	}
	return true
}

// Prioritize returns open requests ordered by SLA urgency, then priority,
// then deadline (missing last), then request id.
func Prioritize(requests []models.ServiceRequest, filter Filter, now time.Time) []WorkItem {
	items := make([]WorkItem, 0, len(requests))
	for _, req := range requests {
		if workflow.IsTerminal(req.Status) {
			continue
		}
		item := WorkItem{
			Request:   req,
			SLAStatus: risk.EvaluateSLA(req.SLADeadline, req.Status == models.StatusCompleted, now),
		}
		if item.SLAStatus == risk.SLACompleted || !filter.matches(item) {
			continue
		}
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return less(items[i], items[j])
	})
	return items
}

func less(a, b WorkItem) bool {
	if ra, rb := a.SLAStatus.Rank(), b.SLAStatus.Rank(); ra != rb {
		return ra < rb
	}
	if pa, pb := a.Request.Priority.Rank(), b.Request.Priority.Rank(); pa != pb {
		return pa < pb
	}
	da, db := a.Request.SLADeadline, b.Request.SLADeadline
	switch {
	case da != nil && db == nil:
		return true
	case da == nil && db != nil:
		return false
	case da != nil && db != nil && !da.Equal(*db):
		return da.Before(*db)
	}
	return a.Request.RequestID < b.Request.RequestID
}
