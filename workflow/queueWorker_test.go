package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ecofhq/portal_backend/extsys"
	"github.com/ecofhq/portal_backend/models"
	"github.com/ecofhq/portal_backend/utils"
)

// NOTE: These tests are intentionally DB-free. They validate the queue
// semantics that do not depend on MySQL: operation dispatch, the cancel
// fail-fast, and the claim discipline (modelled with an in-memory store) that
// keeps concurrent workers from double-processing an item.

type fakeExternalClient struct {
	mu          sync.Mutex
	upserts     [][]byte
	posted      []string
	upsertErr   error
	upsertRef   string
	upsertState string
}

func (f *fakeExternalClient) CreateOrUpdateDocument(ctx context.Context, payload []byte) (*extsys.ExternalResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, payload)
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	return &extsys.ExternalResult{Ref: f.upsertRef, Status: f.upsertState}, nil
}

func (f *fakeExternalClient) PostDocument(ctx context.Context, externalRef string) (*extsys.ExternalResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, externalRef)
	return &extsys.ExternalResult{Ref: externalRef, Status: "Posted"}, nil
}

func TestDispatchUpsertCallsExternalSystem(t *testing.T) {
	client := &fakeExternalClient{upsertRef: "EXT-9", upsertState: "Accepted"}
	w := &QueueWorker{Client: client}

	item := models.IntegrationQueueItem{
		ID:        1,
		Operation: models.QueueOperationUpsertDocument,
		Payload:   []byte(`{"type":"Invoice"}`),
	}
	result, portalStatus, err := w.dispatch(context.Background(), item)
	if err != nil {
		t.Fatal(err)
	}
	if result.Ref != "EXT-9" {
		t.Errorf("unexpected result %+v", result)
	}
	if portalStatus != models.DocumentStatusSentToExternal {
		t.Errorf("upsert success should land the document in SentToExternal, got %s", portalStatus)
	}
	if len(client.upserts) != 1 || string(client.upserts[0]) != `{"type":"Invoice"}` {
		t.Errorf("payload not forwarded verbatim: %v", client.upserts)
	}
}

func TestDispatchUpsertPropagatesClientError(t *testing.T) {
	client := &fakeExternalClient{upsertErr: errors.New("connection refused")}
	w := &QueueWorker{Client: client}

	item := models.IntegrationQueueItem{Operation: models.QueueOperationUpsertDocument}
	if _, _, err := w.dispatch(context.Background(), item); err == nil {
		t.Fatal("client error must fail the dispatch")
	}
}

func TestDispatchCancelFailsFast(t *testing.T) {
	client := &fakeExternalClient{}
	w := &QueueWorker{Client: client}

	item := models.IntegrationQueueItem{Operation: models.QueueOperationCancelDocument}
	_, _, err := w.dispatch(context.Background(), item)
	if !errors.Is(err, utils.ErrorNotImplemented) {
		t.Fatalf("cancel must fail with not-implemented, got %v", err)
	}
	if len(client.upserts) != 0 || len(client.posted) != 0 {
		t.Error("cancel must not reach the external system")
	}
}

func TestDispatchRejectsUnknownOperation(t *testing.T) {
	w := &QueueWorker{Client: &fakeExternalClient{}}
	item := models.IntegrationQueueItem{Operation: models.QueueOperation("DeleteDocument")}
	if _, _, err := w.dispatch(context.Background(), item); err == nil {
		t.Fatal("unknown operations must be rejected")
	}
}

// fakeClaimStore models the PENDING -> PROCESSING conditional flip the worker
// performs under FOR UPDATE SKIP LOCKED: the claim succeeds only for items
// still pending, atomically.
type fakeClaimStore struct {
	mu     sync.Mutex
	status map[int]models.QueueItemStatus
}

func newFakeClaimStore(n int) *fakeClaimStore {
	s := &fakeClaimStore{status: map[int]models.QueueItemStatus{}}
	for i := 1; i <= n; i++ {
		s.status[i] = models.QueueItemStatusPending
	}
	return s
}

func (s *fakeClaimStore) claim(batch int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []int
	for id, st := range s.status {
		if st != models.QueueItemStatusPending {
			continue
		}
		s.status[id] = models.QueueItemStatusProcessing
		claimed = append(claimed, id)
		if len(claimed) == batch {
			break
		}
	}
	return claimed
}

func TestConcurrentClaimsNeverOverlap(t *testing.T) {
	const items = 500
	const workers = 8
	store := newFakeClaimStore(items)

	var mu sync.Mutex
	processedBy := map[int]int{}

	var wg sync.WaitGroup
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				claimed := store.claim(20)
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, id := range claimed {
					processedBy[id]++
				}
				mu.Unlock()
			}
		}(worker)
	}
	wg.Wait()

	if len(processedBy) != items {
		t.Fatalf("expected every item processed, got %d of %d", len(processedBy), items)
	}
	for id, count := range processedBy {
		if count != 1 {
			t.Errorf("item %d processed %d times", id, count)
		}
	}
}

func TestAttemptsCeilingGoesTerminal(t *testing.T) {
	const maxAttempts = 3
	attempts := 0
	status := models.QueueItemStatusPending
	for i := 0; i < 5; i++ {
		if status != models.QueueItemStatusPending {
			break
		}
		// Each failed processing round increments attempts; at the ceiling
		// the item becomes terminal instead of returning to Pending.
		attempts++
		if attempts >= maxAttempts {
			status = models.QueueItemStatusFailed
		}
	}
	if attempts != maxAttempts {
		t.Errorf("expected exactly %d attempts, got %d", maxAttempts, attempts)
	}
	if status != models.QueueItemStatusFailed {
		t.Errorf("expected FAILED after the ceiling, got %s", status)
	}
}
