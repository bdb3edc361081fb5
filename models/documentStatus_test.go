package models

import (
	"errors"
	"strings"
	"testing"
)

var allDocumentStatuses = []DocumentStatus{
	DocumentStatusDraft,
	DocumentStatusValidated,
	DocumentStatusFrozen,
	DocumentStatusQueuedToExternal,
	DocumentStatusSentToExternal,
	DocumentStatusAcceptedByExternal,
	DocumentStatusPostedExternally,
	DocumentStatusUnpostedExternally,
	DocumentStatusRejectedByExternal,
	DocumentStatusCancelled,
}

func TestSelfTransitionsAlwaysRejected(t *testing.T) {
	for _, s := range allDocumentStatuses {
		if CanTransition(s, s) {
			t.Errorf("self transition %s -> %s must be rejected", s, s)
		}
		if err := ValidateTransition(s, s); err == nil {
			t.Errorf("ValidateTransition(%s, %s) expected error", s, s)
		}
	}
}

func TestCancelledIsTerminal(t *testing.T) {
	if got := AvailableTransitions(DocumentStatusCancelled); len(got) != 0 {
		t.Fatalf("Cancelled must have no outgoing transitions, got %v", got)
	}
	for _, s := range allDocumentStatuses {
		if CanTransition(DocumentStatusCancelled, s) {
			t.Errorf("Cancelled -> %s must be rejected", s)
		}
	}
}

func TestCanTransitionMatchesAvailableTransitions(t *testing.T) {
	for _, from := range allDocumentStatuses {
		allowed := map[DocumentStatus]bool{}
		for _, to := range AvailableTransitions(from) {
			allowed[to] = true
		}
		for _, to := range allDocumentStatuses {
			want := allowed[to] && from != to
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestValidateTransitionErrorNamesAllowedDestinations(t *testing.T) {
	err := ValidateTransition(DocumentStatusDraft, DocumentStatusFrozen)
	if err == nil {
		t.Fatal("Draft -> Frozen should be rejected")
	}
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *InvalidTransitionError, got %T", err)
	}
	if invalid.From != DocumentStatusDraft || invalid.To != DocumentStatusFrozen {
		t.Errorf("error carries wrong endpoints: %+v", invalid)
	}
	msg := invalid.Error()
	if !strings.Contains(msg, string(DocumentStatusValidated)) ||
		!strings.Contains(msg, string(DocumentStatusCancelled)) {
		t.Errorf("error message should list the legal destinations, got %q", msg)
	}
}

func TestTerminalTransitionErrorMessage(t *testing.T) {
	err := ValidateTransition(DocumentStatusCancelled, DocumentStatusDraft)
	if err == nil {
		t.Fatal("transitions out of Cancelled should be rejected")
	}
	if !strings.Contains(err.Error(), "terminal") {
		t.Errorf("expected terminal wording, got %q", err.Error())
	}
}

func TestEditableStatuses(t *testing.T) {
	editable := map[DocumentStatus]bool{
		DocumentStatusDraft:              true,
		DocumentStatusValidated:          true,
		DocumentStatusRejectedByExternal: true,
		DocumentStatusUnpostedExternally: true,
	}
	for _, s := range allDocumentStatuses {
		if got := IsEditable(s); got != editable[s] {
			t.Errorf("IsEditable(%s) = %v, want %v", s, got, editable[s])
		}
	}
}

func TestHappyPathIsReachable(t *testing.T) {
	path := []DocumentStatus{
		DocumentStatusDraft,
		DocumentStatusValidated,
		DocumentStatusFrozen,
		DocumentStatusQueuedToExternal,
		DocumentStatusSentToExternal,
		DocumentStatusAcceptedByExternal,
		DocumentStatusPostedExternally,
	}
	for i := 1; i < len(path); i++ {
		if err := ValidateTransition(path[i-1], path[i]); err != nil {
			t.Errorf("happy path step %s -> %s rejected: %v", path[i-1], path[i], err)
		}
	}
}

func TestAvailableTransitionsReturnsCopy(t *testing.T) {
	first := AvailableTransitions(DocumentStatusDraft)
	if len(first) == 0 {
		t.Fatal("Draft should have outgoing transitions")
	}
	first[0] = DocumentStatusPostedExternally
	if CanTransition(DocumentStatusDraft, DocumentStatusPostedExternally) {
		t.Error("mutating the returned slice must not affect the transition table")
	}
}
