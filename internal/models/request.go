package models

import "time"

type RequestStatus string

const (
	StatusDraft          RequestStatus = "draft"
	StatusInitiated      RequestStatus = "initiated"
	StatusPendingPayment RequestStatus = "pending_payment"

	StatusPaymentReceived   RequestStatus = "payment_received"
	StatusDocumentsPending  RequestStatus = "documents_pending"
	StatusDocumentsUploaded RequestStatus = "documents_uploaded"
	StatusDocumentsVerified RequestStatus = "documents_verified"
	StatusInProgress        RequestStatus = "in_progress"
	StatusProcessing        RequestStatus = "processing"

	StatusPendingReview RequestStatus = "pending_review"
	StatusUnderReview   RequestStatus = "under_review"
	StatusQCReview      RequestStatus = "qc_review"
	StatusQCApproved    RequestStatus = "qc_approved"
	StatusQCRejected    RequestStatus = "qc_rejected"

	StatusReadyForDelivery           RequestStatus = "ready_for_delivery"
	StatusDelivered                  RequestStatus = "delivered"
	StatusAwaitingClientConfirmation RequestStatus = "awaiting_client_confirmation"

	StatusCompleted RequestStatus = "completed"
	StatusCancelled RequestStatus = "cancelled"
	StatusRejected  RequestStatus = "rejected"

	StatusOnHold      RequestStatus = "on_hold"
	StatusEscalated   RequestStatus = "escalated"
	StatusSLABreached RequestStatus = "sla_breached"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities for sorting; urgent is 0 and unknown values sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

func (p Priority) Valid() bool {
	return p.Rank() < 4
}

// ServiceRequest is a unit of delivery work. Status and ResumeStatus are only
// written through the workflow state machine.
type ServiceRequest struct {
	RequestID       string        `json:"request_id"`
	EntityID        string        `json:"entity_id"`
	ServiceKey      string        `json:"service_key"`
	Status          RequestStatus `json:"status"`
	ResumeStatus    RequestStatus `json:"resume_status,omitempty"`
	Priority        Priority      `json:"priority"`
	AssignedTo      *string       `json:"assigned_to,omitempty"`
	SLADeadline     *time.Time    `json:"sla_deadline,omitempty"`
	SLAStartedAt    *time.Time    `json:"sla_started_at,omitempty"`
	StatusChangedAt time.Time     `json:"status_changed_at"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// SLAStart is the instant the SLA clock started, falling back to creation.
func (r ServiceRequest) SLAStart() time.Time {
	if r.SLAStartedAt != nil {
		return *r.SLAStartedAt
	}
	return r.CreatedAt
}

type StatusHistory struct {
	RequestID string        `json:"request_id"`
	Seq       int           `json:"seq"`
	From      RequestStatus `json:"from"`
	To        RequestStatus `json:"to"`
	Resume    RequestStatus `json:"resume,omitempty"`
	ActorID   string        `json:"actor_id"`
	Note      string        `json:"note,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	PrevHash  string        `json:"prev_hash"`
	Hash      string        `json:"hash"`
}
