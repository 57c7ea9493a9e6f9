package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"checkind/internal/syncqueue"
)

func validArtifact() syncqueue.Artifact {
	return syncqueue.Artifact{
		ID:           "a1",
		PayloadRef:   "photos/a1.jpg",
		CapturedAtMs: 1700000000000,
		Metadata:     map[string]string{"latitude": "8.639000"},
	}
}

func newTestDeliverer(t *testing.T, endpoint string) *HTTPDeliverer {
	t.Helper()
	d, err := NewHTTP(endpoint, time.Second, nil)
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	return d
}

func TestNewHTTPRequiresEndpoint(t *testing.T) {
	if _, err := NewHTTP("", time.Second, nil); err == nil {
		t.Error("expected error for empty endpoint")
	}
}

func TestDeliverSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	d := newTestDeliverer(t, srv.URL)
	outcome, err := d.Deliver(context.Background(), validArtifact())
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if outcome != syncqueue.OutcomeSynced {
		t.Errorf("outcome = %s, want synced", outcome)
	}
}

func TestDeliverServerRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	d := newTestDeliverer(t, srv.URL)
	outcome, err := d.Deliver(context.Background(), validArtifact())
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if outcome != syncqueue.OutcomeFailed {
		t.Errorf("outcome = %s, want failed for 4xx", outcome)
	}
}

func TestDeliverServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := newTestDeliverer(t, srv.URL)
	outcome, _ := d.Deliver(context.Background(), validArtifact())
	if outcome != syncqueue.OutcomeInconclusive {
		t.Errorf("outcome = %s, want inconclusive for 5xx", outcome)
	}
}

func TestDeliverNetworkFailure(t *testing.T) {
	// A closed server gives a connection error.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := newTestDeliverer(t, url)
	outcome, err := d.Deliver(context.Background(), validArtifact())
	if err != nil {
		t.Fatalf("network failure should not surface as error, got %v", err)
	}
	if outcome != syncqueue.OutcomeInconclusive {
		t.Errorf("outcome = %s, want inconclusive", outcome)
	}
}

func TestDeliverInvalidArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("invalid artifact must not reach the server")
	}))
	defer srv.Close()

	d := newTestDeliverer(t, srv.URL)
	outcome, _ := d.Deliver(context.Background(), syncqueue.Artifact{ID: ""})
	if outcome != syncqueue.OutcomeFailed {
		t.Errorf("outcome = %s, want failed for schema violation", outcome)
	}
}
