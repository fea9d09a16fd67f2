package workflow

import "compliance/engine-service/internal/models"

type Phase string

const (
	PhaseInitial  Phase = "initial"
	PhaseActive   Phase = "active"
	PhaseReview   Phase = "review"
	PhaseDelivery Phase = "delivery"
	PhaseTerminal Phase = "terminal"
	PhaseSpecial  Phase = "special"
)

// transitionMap is the single source of truth for regular moves. Special
// states are layered on top in Allowed.
var transitionMap = map[models.RequestStatus][]models.RequestStatus{
	models.StatusDraft:          {models.StatusInitiated, models.StatusCancelled},
	models.StatusInitiated:      {models.StatusPendingPayment, models.StatusCancelled},
	models.StatusPendingPayment: {models.StatusPaymentReceived, models.StatusCancelled},

	models.StatusPaymentReceived:   {models.StatusDocumentsPending, models.StatusCancelled},
	models.StatusDocumentsPending:  {models.StatusDocumentsUploaded, models.StatusCancelled},
	models.StatusDocumentsUploaded: {models.StatusDocumentsVerified, models.StatusDocumentsPending, models.StatusCancelled},
	models.StatusDocumentsVerified: {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress:        {models.StatusProcessing, models.StatusCancelled},
	models.StatusProcessing:        {models.StatusPendingReview, models.StatusCancelled},

	models.StatusPendingReview: {models.StatusUnderReview},
	models.StatusUnderReview:   {models.StatusQCReview, models.StatusRejected},
	models.StatusQCReview:      {models.StatusQCApproved, models.StatusQCRejected},
	models.StatusQCApproved:    {models.StatusReadyForDelivery},
	models.StatusQCRejected:    {models.StatusInProgress, models.StatusProcessing},

	models.StatusReadyForDelivery:           {models.StatusDelivered},
	models.StatusDelivered:                  {models.StatusAwaitingClientConfirmation},
	models.StatusAwaitingClientConfirmation: {models.StatusCompleted},

	models.StatusCompleted: nil,
	models.StatusCancelled: nil,
	models.StatusRejected:  nil,
}

var phaseMap = map[models.RequestStatus]Phase{
	models.StatusDraft:                      PhaseInitial,
	models.StatusInitiated:                  PhaseInitial,
	models.StatusPendingPayment:             PhaseInitial,
	models.StatusPaymentReceived:            PhaseActive,
	models.StatusDocumentsPending:           PhaseActive,
	models.StatusDocumentsUploaded:          PhaseActive,
	models.StatusDocumentsVerified:          PhaseActive,
	models.StatusInProgress:                 PhaseActive,
	models.StatusProcessing:                 PhaseActive,
	models.StatusPendingReview:              PhaseReview,
	models.StatusUnderReview:                PhaseReview,
	models.StatusQCReview:                   PhaseReview,
	models.StatusQCApproved:                 PhaseReview,
	models.StatusQCRejected:                 PhaseReview,
	models.StatusReadyForDelivery:           PhaseDelivery,
	models.StatusDelivered:                  PhaseDelivery,
	models.StatusAwaitingClientConfirmation: PhaseDelivery,
	models.StatusCompleted:                  PhaseTerminal,
	models.StatusCancelled:                  PhaseTerminal,
	models.StatusRejected:                   PhaseTerminal,
	models.StatusOnHold:                     PhaseSpecial,
	models.StatusEscalated:                  PhaseSpecial,
	models.StatusSLABreached:                PhaseSpecial,
}

// overlays are reachable from every non-terminal state.
var overlays = []models.RequestStatus{models.StatusEscalated, models.StatusSLABreached}

// specialOrder fixes the order special targets are reported in.
var specialOrder = []models.RequestStatus{models.StatusOnHold, models.StatusEscalated, models.StatusSLABreached}

func PhaseOf(status models.RequestStatus) (Phase, bool) {
	phase, ok := phaseMap[status]
	return phase, ok
}

func Known(status models.RequestStatus) bool {
	_, ok := phaseMap[status]
	return ok
}

func IsTerminal(status models.RequestStatus) bool {
	return phaseMap[status] == PhaseTerminal
}

func IsSpecial(status models.RequestStatus) bool {
	return phaseMap[status] == PhaseSpecial
}

// Statuses lists every status in lifecycle order.
func Statuses() []models.RequestStatus {
	return []models.RequestStatus{
		models.StatusDraft,
		models.StatusInitiated,
		models.StatusPendingPayment,
		models.StatusPaymentReceived,
		models.StatusDocumentsPending,
		models.StatusDocumentsUploaded,
		models.StatusDocumentsVerified,
		models.StatusInProgress,
		models.StatusProcessing,
		models.StatusPendingReview,
		models.StatusUnderReview,
		models.StatusQCReview,
		models.StatusQCApproved,
		models.StatusQCRejected,
		models.StatusReadyForDelivery,
		models.StatusDelivered,
		models.StatusAwaitingClientConfirmation,
		models.StatusCompleted,
		models.StatusCancelled,
		models.StatusRejected,
		models.StatusOnHold,
		models.StatusEscalated,
		models.StatusSLABreached,
	}
}

func TerminalStatuses() []models.RequestStatus {
	var out []models.RequestStatus
	for _, status := range Statuses() {
		if IsTerminal(status) {
			out = append(out, status)
		}
	}
	return out
}

func holdable(status models.RequestStatus) bool {
	phase := phaseMap[status]
	return phase == PhaseActive || phase == PhaseReview
}

func contains(list []models.RequestStatus, status models.RequestStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}
