package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSlotQueryAndCommit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSlotQuery("ok", 4, 20*time.Millisecond)
	m.ObserveSlotQuery("not_found", 0, time.Millisecond)
	m.ObserveCommit("create", "created")
	m.ObserveCommit("create", "conflict")
	m.ObserveCommit("create", "conflict")

	if got := testutil.ToFloat64(m.slotQueries.WithLabelValues("ok")); got != 1 {
		t.Fatalf("expected 1 ok query, got %v", got)
	}
	if got := testutil.ToFloat64(m.commits.WithLabelValues("create", "conflict")); got != 2 {
		t.Fatalf("expected 2 conflicts, got %v", got)
	}
}

func TestObserveHTTPUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?date=2026-05-04", nil)
	req.Pattern = "/api/v1/public/slots"
	m.ObserveHTTP(req, http.StatusOK, time.Millisecond)

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/public/slots", "200")); got != 1 {
		t.Fatalf("expected 1 request, got %v", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveSlotQuery("ok", 1, time.Millisecond)
	m.ObserveCommit("create", "created")
	m.ObserveHTTP(httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, time.Millisecond)
}
