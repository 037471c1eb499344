package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mtlprog/tokenize/internal/domain"
)

func TestCollectorRecordsWorkflow(t *testing.T) {
	c := New()

	c.Transition(domain.PhaseInitializing, domain.PhaseKeypairGenerated)
	c.Transition(domain.PhaseInitializing, domain.PhaseKeypairGenerated)
	c.Retry("funding")
	c.Outcome(domain.StatusConfirmed, 3*time.Second)
	c.Reconciled(2, 1, 0)

	if got := testutil.ToFloat64(c.transitions.WithLabelValues("initializing", "keypair_generated")); got != 2 {
		t.Errorf("transitions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.retries.WithLabelValues("funding")); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.outcomes.WithLabelValues("confirmed")); got != 1 {
		t.Errorf("outcomes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.reconciled.WithLabelValues("confirmed")); got != 2 {
		t.Errorf("reconciled confirmed = %v, want 2", got)
	}
}

func TestInstrumentAndHandler(t *testing.T) {
	c := New()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := c.Instrument(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deployments/6f1c2a9e-0000-4000-8000-000000000000", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(c.httpReqs.WithLabelValues("GET", "/api/v1/deployments/:id", "404")); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tokenize_http_requests_total") {
		t.Error("metrics output missing tokenize_http_requests_total")
	}
}

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"":                         "/",
		"/":                        "/",
		"/api/v1/deployments":      "/api/v1/deployments",
		"/api/v1/deployments/abc":  "/api/v1/deployments/:id",
		"/api/v1/tokenomics/quote": "/api/v1/tokenomics/quote",
	}
	for in, want := range tests {
		if got := canonicalPath(in); got != want {
			t.Errorf("canonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}
