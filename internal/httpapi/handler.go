package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"compliance/engine-service/internal/core"
	"compliance/engine-service/internal/models"
	"compliance/engine-service/internal/queue"
	"compliance/engine-service/internal/risk"
	"compliance/engine-service/internal/store"
	"compliance/engine-service/internal/workflow"

	"go.uber.org/zap"
)

// Service is the set of engine operations the API exposes.
type Service interface {
	CreateRequest(ctx context.Context, in core.NewRequest) (models.ServiceRequest, error)
	Transition(ctx context.Context, in core.TransitionRequest) (models.ServiceRequest, error)
	GetRequest(ctx context.Context, requestID string) (models.ServiceRequest, error)
	History(ctx context.Context, requestID string) ([]models.StatusHistory, bool, error)
	Compliance(ctx context.Context, entityID string) (models.ComplianceState, error)
	Recalculate(ctx context.Context, entityID string) (models.ComplianceState, bool, error)
	UpsertObligation(ctx context.Context, ob models.Obligation) (models.Obligation, error)
	ListObligations(ctx context.Context, entityID string) ([]models.Obligation, error)
	CreateRule(ctx context.Context, rule models.EscalationRule) (models.EscalationRule, error)
	UpdateRule(ctx context.Context, ruleID string, rule models.EscalationRule) (models.EscalationRule, error)
	GetRule(ctx context.Context, ruleID string) (models.EscalationRule, error)
	ListRules(ctx context.Context, activeOnly bool) ([]models.EscalationRule, error)
	ListBreaches(ctx context.Context, status models.BreachStatus) ([]models.SLABreach, error)
	UpdateBreach(ctx context.Context, breachID string, action core.BreachAction, notes string) (models.SLABreach, error)
	WorkQueue(ctx context.Context, filter queue.Filter) ([]queue.WorkItem, error)
	Events(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error)
	Statuses() []workflow.Descriptor
}

type Handler struct {
	service Service
	logger  *zap.Logger
}

type createRequestRequest struct {
	RequestID   string     `json:"request_id"`
	EntityID    string     `json:"entity_id"`
	ServiceKey  string     `json:"service_key"`
	Priority    string     `json:"priority"`
	AssignedTo  string     `json:"assigned_to"`
	SLADeadline *time.Time `json:"sla_deadline"`
}

type obligationRequest struct {
	Title       string     `json:"title"`
	Category    string     `json:"category"`
	DueDate     time.Time  `json:"due_date"`
	Status      string     `json:"status"`
	PenaltyRisk float64    `json:"penalty_risk"`
	Priority    string     `json:"priority"`
	Archived    bool       `json:"archived"`
	CompletedAt *time.Time `json:"completed_at"`
}

type transitionRequest struct {
	RequestedStatus string `json:"requested_status"`
	ActorID         string `json:"actor_id"`
	ExpectedStatus  string `json:"expected_status"`
	Note            string `json:"note"`
}

type breachActionRequest struct {
	Notes string `json:"notes"`
}

type historyResponse struct {
	RequestID string                 `json:"request_id"`
	Verified  bool                   `json:"verified"`
	History   []models.StatusHistory `json:"history"`
}

type recalculateResponse struct {
	State   models.ComplianceState `json:"state"`
	Changed bool                   `json:"changed"`
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/statuses", h.handleStatuses)
	mux.HandleFunc("/api/requests", h.handleCreateRequest)
	mux.HandleFunc("/api/requests/", h.handleRequests)
	mux.HandleFunc("/api/entities/", h.handleEntities)
	mux.HandleFunc("/api/escalation-rules", h.handleRules)
	mux.HandleFunc("/api/escalation-rules/", h.handleRule)
	mux.HandleFunc("/api/breaches", h.handleBreaches)
	mux.HandleFunc("/api/breaches/", h.handleBreachAction)
	mux.HandleFunc("/api/work-queue", h.handleWorkQueue)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleStatuses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Statuses())
}

func (h *Handler) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req createRequestRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	created, err := h.service.CreateRequest(r.Context(), core.NewRequest{
		RequestID:   req.RequestID,
		EntityID:    req.EntityID,
		ServiceKey:  req.ServiceKey,
		Priority:    models.Priority(strings.TrimSpace(req.Priority)),
		AssignedTo:  req.AssignedTo,
		SLADeadline: req.SLADeadline,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleRequests serves /api/requests/{id}, /history and /transitions.
func (h *Handler) handleRequests(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/requests/")
	if len(parts) == 0 || len(parts) > 2 {
		writeError(w, requestIDFrom(r), http.StatusNotFound, "not_found", "route not found")
		return
	}
	requestID := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGetRequest(w, r, requestID)
		return
	}

	switch parts[1] {
	case "history":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleHistory(w, r, requestID)
	case "transitions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTransition(w, r, requestID)
	default:
		writeError(w, requestIDFrom(r), http.StatusNotFound, "not_found", "route not found")
	}
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request, requestID string) {
	req, err := h.service.GetRequest(r.Context(), requestID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, requestID string) {
	history, verified, err := h.service.History(r.Context(), requestID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if history == nil {
		history = []models.StatusHistory{}
	}
	writeJSON(w, http.StatusOK, historyResponse{RequestID: requestID, Verified: verified, History: history})
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, requestID string) {
	var req transitionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.RequestedStatus = strings.TrimSpace(req.RequestedStatus)
	req.ActorID = strings.TrimSpace(req.ActorID)
	req.ExpectedStatus = strings.TrimSpace(req.ExpectedStatus)

	if req.RequestedStatus == "" || req.ActorID == "" {
		writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_request", "requested_status and actor_id are required")
		return
	}
	if !workflow.Known(models.RequestStatus(req.RequestedStatus)) {
		writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_request", "requested_status is not a known status")
		return
	}
	if req.ExpectedStatus != "" && !workflow.Known(models.RequestStatus(req.ExpectedStatus)) {
		writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_request", "expected_status is not a known status")
		return
	}

	updated, err := h.service.Transition(r.Context(), core.TransitionRequest{
		RequestID:       requestID,
		RequestedStatus: models.RequestStatus(req.RequestedStatus),
		ActorID:         req.ActorID,
		ExpectedStatus:  models.RequestStatus(req.ExpectedStatus),
		Note:            strings.TrimSpace(req.Note),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleEntities serves the compliance snapshot, recalculation and
// obligation routes under /api/entities/{id}.
func (h *Handler) handleEntities(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/entities/")
	switch {
	case len(parts) == 2 && parts[1] == "obligations":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		obligations, err := h.service.ListObligations(r.Context(), parts[0])
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if obligations == nil {
			obligations = []models.Obligation{}
		}
		writeJSON(w, http.StatusOK, obligations)
	case len(parts) == 3 && parts[1] == "obligations":
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleUpsertObligation(w, r, parts[0], parts[2])
	case len(parts) == 2 && parts[1] == "compliance":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		state, err := h.service.Compliance(r.Context(), parts[0])
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	case len(parts) == 3 && parts[1] == "compliance" && parts[2] == "recalculate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		state, changed, err := h.service.Recalculate(r.Context(), parts[0])
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, recalculateResponse{State: state, Changed: changed})
	default:
		writeError(w, requestIDFrom(r), http.StatusNotFound, "not_found", "route not found")
	}
}

func (h *Handler) handleUpsertObligation(w http.ResponseWriter, r *http.Request, entityID, obligationID string) {
	var req obligationRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	ob, err := h.service.UpsertObligation(r.Context(), models.Obligation{
		ObligationID: obligationID,
		EntityID:     entityID,
		Title:        req.Title,
		Category:     strings.TrimSpace(req.Category),
		DueDate:      req.DueDate,
		Status:       models.ObligationStatus(strings.TrimSpace(req.Status)),
		PenaltyRisk:  req.PenaltyRisk,
		Priority:     models.Priority(strings.TrimSpace(req.Priority)),
		Archived:     req.Archived,
		CompletedAt:  req.CompletedAt,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ob)
}

func (h *Handler) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		activeOnly, err := parseOptionalBool(r.URL.Query().Get("active"))
		if err != nil {
			writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_request", "active must be a boolean")
			return
		}
		rules, err := h.service.ListRules(r.Context(), activeOnly)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if rules == nil {
			rules = []models.EscalationRule{}
		}
		writeJSON(w, http.StatusOK, rules)
	case http.MethodPost:
		var rule models.EscalationRule
		if !decodeRequest(w, r, &rule) {
			return
		}
		created, err := h.service.CreateRule(r.Context(), rule)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleRule(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/escalation-rules/")
	if len(parts) != 1 {
		writeError(w, requestIDFrom(r), http.StatusNotFound, "not_found", "route not found")
		return
	}
	ruleID := parts[0]

	switch r.Method {
	case http.MethodGet:
		rule, err := h.service.GetRule(r.Context(), ruleID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	case http.MethodPut:
		var rule models.EscalationRule
		if !decodeRequest(w, r, &rule) {
			return
		}
		updated, err := h.service.UpdateRule(r.Context(), ruleID, rule)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleBreaches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status := models.BreachStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	switch status {
	case "", models.BreachOpen, models.BreachAcknowledged, models.BreachInvestigating, models.BreachResolved:
	default:
		writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_request", "status must be open, acknowledged, investigating, or resolved")
		return
	}
	breaches, err := h.service.ListBreaches(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if breaches == nil {
		breaches = []models.SLABreach{}
	}
	writeJSON(w, http.StatusOK, breaches)
}

func (h *Handler) handleBreachAction(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/breaches/")
	if len(parts) != 2 {
		writeError(w, requestIDFrom(r), http.StatusNotFound, "not_found", "route not found")
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	action := core.BreachAction(parts[1])
	if !core.ValidBreachAction(action) {
		writeError(w, requestIDFrom(r), http.StatusNotFound, "not_found", "route not found")
		return
	}

	var req breachActionRequest
	if r.ContentLength != 0 && !decodeRequest(w, r, &req) {
		return
	}
	breach, err := h.service.UpdateBreach(r.Context(), parts[0], action, req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, breach)
}

func (h *Handler) handleWorkQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	filter := queue.Filter{
		SLAStatus:  risk.SLAStatus(strings.TrimSpace(query.Get("sla_status"))),
		AssignedTo: strings.TrimSpace(query.Get("assigned_to")),
		Priority:   models.Priority(strings.TrimSpace(query.Get("priority"))),
		ServiceKey: strings.TrimSpace(query.Get("service_key")),
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_request", "priority must be low, medium, high, or urgent")
		return
	}
	if filter.SLAStatus != "" && !filter.SLAStatus.Valid() {
		writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_request", "sla_status is not a known status")
		return
	}

	items, err := h.service.WorkQueue(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []queue.WorkItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	var after int64
	if raw := strings.TrimSpace(query.Get("after")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_request", "after must be a non-negative event seq")
			return
		}
		after = parsed
	}
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.service.Events(r.Context(), after, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if events == nil {
		events = []store.OutboxEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	resp := mapError(err)
	if resp.Status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeErrorResponse(w, requestIDFrom(r), resp)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func pathParts(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func parseOptionalBool(raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

func requestIDFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}
