package extsys

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(url string) *Client {
	return NewClient(url, "portal", "secret", 5*time.Second, 3, time.Millisecond)
}

func TestCreateOrUpdateDocumentSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/documents" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "portal" || pass != "secret" {
			t.Error("basic auth credentials not forwarded")
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		w.Write([]byte(`{"ref":"EXT-1","status":"Accepted"}`))
	}))
	defer srv.Close()

	result, err := testClient(srv.URL).CreateOrUpdateDocument(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.Ref != "EXT-1" || result.Status != "Accepted" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestCreateOrUpdateDocumentRequiresRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"Accepted"}`))
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).CreateOrUpdateDocument(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("a response without ref should be an error")
	}
}

func TestRetriesTransientServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ref":"EXT-2","status":"Accepted"}`))
	}))
	defer srv.Close()

	result, err := testClient(srv.URL).CreateOrUpdateDocument(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if result.Ref != "EXT-2" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestExhaustedRetriesReturnLastError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).CreateOrUpdateDocument(context.Background(), []byte(`{}`))
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestClientRejectionsAreNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`missing contract`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).CreateOrUpdateDocument(context.Background(), []byte(`{}`))
	if err == nil {
		t.Fatal("expected a permanent error")
	}
	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected *PermanentError, got %T: %v", err, err)
	}
	if perm.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("StatusCode = %d", perm.StatusCode)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", got)
	}
}

func TestPostDocumentFallsBackToRequestRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/documents/EXT-3/post" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"Posted"}`))
	}))
	defer srv.Close()

	result, err := testClient(srv.URL).PostDocument(context.Background(), "EXT-3")
	if err != nil {
		t.Fatal(err)
	}
	if result.Ref != "EXT-3" || result.Status != "Posted" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestContextCancellationStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "portal", "secret", 5*time.Second, 5, 200*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.CreateOrUpdateDocument(ctx, []byte(`{}`))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
