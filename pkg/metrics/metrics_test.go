package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r.RunsTotal == nil || r.NodeExecutionsTotal == nil || r.HTTPRequestsTotal == nil {
		t.Fatal("collectors not initialized")
	}
	if r.GetPrometheusRegistry() == nil {
		t.Fatal("Prometheus registry not initialized")
	}
	// Independent registries must not collide on registration.
	_ = NewRegistry()
}

func TestRecordRun(t *testing.T) {
	r := NewRegistry()
	for range 3 {
		r.RunStarted()
	}
	r.RecordRun("success", 2*time.Second)
	r.RecordRun("success", time.Second)
	r.RecordRun("error", time.Second)

	if got := testutil.ToFloat64(r.RunsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("success runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.RunsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error runs = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(r.RunDuration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestRunsActive(t *testing.T) {
	r := NewRegistry()
	r.RunStarted()
	r.RunStarted()
	if got := testutil.ToFloat64(r.RunsActive); got != 2 {
		t.Errorf("active = %v, want 2", got)
	}
	r.RecordRun("success", time.Second)
	r.RecordRun("error", time.Second)
	if got := testutil.ToFloat64(r.RunsActive); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
}

func TestRecordNode(t *testing.T) {
	r := NewRegistry()
	r.RecordNode("ai", "success", 300*time.Millisecond)
	r.RecordNode("ai", "error", 100*time.Millisecond)
	r.RecordNode("input", "success", time.Millisecond)

	if got := testutil.ToFloat64(r.NodeExecutionsTotal.WithLabelValues("ai", "error")); got != 1 {
		t.Errorf("ai errors = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(r.NodeDuration); n != 2 {
		t.Errorf("node duration series = %d, want 2", n)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	r := NewRegistry()
	r.RecordHTTPRequest("GET", "/api/workflows", "200", 10*time.Millisecond)
	r.RecordHTTPRequest("GET", "/api/workflows", "200", 20*time.Millisecond)

	if got := testutil.ToFloat64(r.HTTPRequestsTotal.WithLabelValues("GET", "/api/workflows", "200")); got != 2 {
		t.Errorf("requests = %v, want 2", got)
	}
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	r.RecordRun("success", time.Second)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `opal_workflow_runs_total{status="success"} 1`) {
		t.Errorf("exposition missing run counter:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("exposition missing runtime collectors")
	}
}
