package models

import "testing"

// A successful upsert reports SentToExternal, but resends are allowed from
// any post-freeze state. The success path must record the acknowledgement
// without forcing the document backwards through the lifecycle.
func TestResendSuccessKeepsAdvancedStatus(t *testing.T) {
	advanced := []DocumentStatus{
		DocumentStatusSentToExternal,
		DocumentStatusAcceptedByExternal,
		DocumentStatusPostedExternally,
		DocumentStatusUnpostedExternally,
		DocumentStatusRejectedByExternal,
	}
	for _, current := range advanced {
		if ShouldApplyPortalStatus(current, DocumentStatusSentToExternal) {
			t.Errorf("upsert success from %s must not move the document to SentToExternal", current)
		}
	}
}

func TestFirstPushAdvancesToSentToExternal(t *testing.T) {
	if !ShouldApplyPortalStatus(DocumentStatusQueuedToExternal, DocumentStatusSentToExternal) {
		t.Error("QueuedToExternal -> SentToExternal is the normal first-push advance")
	}
}

func TestPostSuccessAdvancesWhereLegal(t *testing.T) {
	cases := map[DocumentStatus]bool{
		DocumentStatusSentToExternal:     true,
		DocumentStatusAcceptedByExternal: true,
		DocumentStatusPostedExternally:   false,
		DocumentStatusCancelled:          false,
	}
	for current, want := range cases {
		if got := ShouldApplyPortalStatus(current, DocumentStatusPostedExternally); got != want {
			t.Errorf("ShouldApplyPortalStatus(%s, PostedExternally) = %v, want %v", current, got, want)
		}
	}
}
