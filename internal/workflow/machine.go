// Package workflow enforces the service request lifecycle.
package workflow

import (
	"errors"
	"fmt"
	"time"

	"compliance/engine-service/internal/models"
)

var ErrIllegalTransition = errors.New("illegal transition")

// TransitionError names the rejected (from, to) pair.
type TransitionError struct {
	From models.RequestStatus
	To   models.RequestStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// State is the machine's view of a request: the current status plus the
// regular status to return to while in a special state.
type State struct {
	Status models.RequestStatus
	Resume models.RequestStatus
}

func StateOf(req models.ServiceRequest) State {
	return State{Status: req.Status, Resume: req.ResumeStatus}
}

// Allowed returns the statuses reachable from current.
func Allowed(current State) []models.RequestStatus {
	if !Known(current.Status) || IsTerminal(current.Status) {
		return nil
	}

	if IsSpecial(current.Status) {
		resume := current.Resume
		if !Known(resume) || IsSpecial(resume) || IsTerminal(resume) {
			return nil
		}
		next := []models.RequestStatus{resume}
		for _, s := range specialOrder {
			if s == current.Status {
				continue
			}
			if s == models.StatusOnHold && !holdable(resume) {
				continue
			}
			next = append(next, s)
		}
		if contains(transitionMap[resume], models.StatusCancelled) {
			next = append(next, models.StatusCancelled)
		}
		return next
	}

	regular := transitionMap[current.Status]
	next := make([]models.RequestStatus, 0, len(regular)+len(specialOrder))
	next = append(next, regular...)
	if holdable(current.Status) {
		next = append(next, models.StatusOnHold)
	}
	next = append(next, overlays...)
	return next
}

func CanTransition(current State, next models.RequestStatus) bool {
	return contains(Allowed(current), next)
}

// Transition validates a move and returns the resulting state together with
// the history record to append. It never coerces an illegal request.
func Transition(current State, next models.RequestStatus, actorID, note string, at time.Time) (State, models.StatusHistory, error) {
	if !Known(next) || next == current.Status || !CanTransition(current, next) {
		return current, models.StatusHistory{}, &TransitionError{From: current.Status, To: next}
	}

	updated := State{Status: next}
	if IsSpecial(next) {
		if IsSpecial(current.Status) {
			updated.Resume = current.Resume
		} else {
			updated.Resume = current.Status
		}
	}

	record := models.StatusHistory{
		From:      current.Status,
		To:        next,
		Resume:    updated.Resume,
		ActorID:   actorID,
		Note:      note,
		CreatedAt: at.UTC(),
	}
	return updated, record, nil
}
