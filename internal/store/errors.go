package store

import "errors"

var (
	ErrRequestNotFound    = errors.New("service request not found")
	ErrRequestExists      = errors.New("service request already exists")
	ErrRuleNotFound       = errors.New("escalation rule not found")
	ErrBreachNotFound     = errors.New("sla breach not found")
	ErrStateNotFound      = errors.New("compliance state not found")
	ErrEntityNotFound     = errors.New("entity has no obligations")
	ErrStaleTransition    = errors.New("stale transition")
	ErrDuplicateExecution = errors.New("duplicate escalation execution")
	ErrInvalidBreachState = errors.New("invalid breach state")
	ErrHistoryTampered    = errors.New("status history chain broken")
)
