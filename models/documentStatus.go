package models

import (
	"fmt"
	"strings"
)

// documentTransitions is the adjacency table of legal lifecycle transitions.
// States missing from a row's destination list are reachable only as automatic
// consequences of queue/dispatch outcomes, never by direct user action
// (e.g. Frozen -> QueuedToExternal fires when the enqueue succeeds).
// Cancelled is terminal: no outgoing transitions.
var documentTransitions = map[DocumentStatus][]DocumentStatus{
	DocumentStatusDraft:     {DocumentStatusValidated, DocumentStatusCancelled},
	DocumentStatusValidated: {DocumentStatusDraft, DocumentStatusFrozen, DocumentStatusCancelled},
	DocumentStatusFrozen:    {DocumentStatusQueuedToExternal, DocumentStatusCancelled},
	DocumentStatusQueuedToExternal: {
		DocumentStatusSentToExternal,
		DocumentStatusRejectedByExternal,
	},
	DocumentStatusSentToExternal: {
		DocumentStatusAcceptedByExternal,
		DocumentStatusPostedExternally,
		DocumentStatusRejectedByExternal,
	},
	DocumentStatusAcceptedByExternal: {
		DocumentStatusPostedExternally,
		DocumentStatusRejectedByExternal,
	},
	DocumentStatusPostedExternally: {DocumentStatusUnpostedExternally},
	DocumentStatusUnpostedExternally: {
		DocumentStatusPostedExternally,
		DocumentStatusFrozen,
		DocumentStatusCancelled,
	},
	DocumentStatusRejectedByExternal: {
		DocumentStatusValidated,
		DocumentStatusFrozen,
		DocumentStatusCancelled,
	},
	DocumentStatusCancelled: {},
}

// editableStatuses are the states in which document content may still change.
var editableStatuses = map[DocumentStatus]bool{
	DocumentStatusDraft:              true,
	DocumentStatusValidated:          true,
	DocumentStatusRejectedByExternal: true,
	DocumentStatusUnpostedExternally: true,
}

// InvalidTransitionError reports a rejected lifecycle transition together
// with the destinations that would have been legal.
type InvalidTransitionError struct {
	From    DocumentStatus
	To      DocumentStatus
	Allowed []DocumentStatus
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, s := range e.Allowed {
		allowed = append(allowed, string(s))
	}
	if len(allowed) == 0 {
		return fmt.Sprintf("invalid transition %s -> %s: %s is terminal", e.From, e.To, e.From)
	}
	return fmt.Sprintf("invalid transition %s -> %s: allowed destinations are %s",
		e.From, e.To, strings.Join(allowed, ", "))
}

func IsEditable(status DocumentStatus) bool {
	return editableStatuses[status]
}

// CanTransition is a plain adjacency lookup. Self-transitions are never legal.
func CanTransition(from DocumentStatus, to DocumentStatus) bool {
	if from == to {
		return false
	}
	for _, dest := range documentTransitions[from] {
		if dest == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an *InvalidTransitionError naming the allowed
// destinations when the transition is rejected (including from == to).
func ValidateTransition(from DocumentStatus, to DocumentStatus) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{
			From:    from,
			To:      to,
			Allowed: AvailableTransitions(from),
		}
	}
	return nil
}

// AvailableTransitions lists the legal next states, used to render only the
// actions a user may take.
func AvailableTransitions(status DocumentStatus) []DocumentStatus {
	dests := documentTransitions[status]
	out := make([]DocumentStatus, len(dests))
	copy(out, dests)
	return out
}
