package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"compliance/engine-service/internal/core"
	"compliance/engine-service/internal/escalation"
	"compliance/engine-service/internal/scheduler"
	"compliance/engine-service/internal/store"
	"compliance/engine-service/internal/workflow"
)

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Field   string `json:"field,omitempty"`
}

type mappedError struct {
	Status int
	responseError
}

func mapError(err error) mappedError {
	var terr *workflow.TransitionError
	if errors.As(err, &terr) {
		return mappedError{Status: http.StatusConflict, responseError: responseError{
			Code:    "illegal_transition",
			Message: "transition not allowed from the current status",
			From:    string(terr.From),
			To:      string(terr.To),
		}}
	}
	var rerr *escalation.RuleError
	if errors.As(err, &rerr) {
		return mappedError{Status: http.StatusBadRequest, responseError: responseError{
			Code:    "malformed_rule",
			Message: rerr.Error(),
			Field:   rerr.Field,
		}}
	}

	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return plainError(http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, store.ErrRequestExists):
		return plainError(http.StatusConflict, "request_exists", "request already exists")
	case errors.Is(err, store.ErrStaleTransition):
		return plainError(http.StatusConflict, "stale_transition", "request status changed concurrently")
	case errors.Is(err, store.ErrRequestNotFound):
		return plainError(http.StatusNotFound, "request_not_found", "request not found")
	case errors.Is(err, store.ErrRuleNotFound):
		return plainError(http.StatusNotFound, "rule_not_found", "escalation rule not found")
	case errors.Is(err, store.ErrBreachNotFound):
		return plainError(http.StatusNotFound, "breach_not_found", "sla breach not found")
	case errors.Is(err, store.ErrEntityNotFound):
		return plainError(http.StatusNotFound, "entity_not_found", "entity has no obligations")
	case errors.Is(err, store.ErrInvalidBreachState):
		return plainError(http.StatusConflict, "invalid_breach_state", "breach state does not allow this action")
	case errors.Is(err, scheduler.ErrRecalcInProgress):
		return plainError(http.StatusConflict, "recalculation_in_progress", "recalculation already running for this entity")
	default:
		return plainError(http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func plainError(status int, code, message string) mappedError {
	return mappedError{Status: status, responseError: responseError{Code: code, Message: message}}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeErrorResponse(w, requestID, plainError(status, code, message))
}

func writeErrorResponse(w http.ResponseWriter, requestID string, resp mappedError) {
	writeJSON(w, resp.Status, errorResponse{
		RequestID: requestID,
		Error:     resp.responseError,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
