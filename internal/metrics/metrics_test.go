package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerServesMetrics(t *testing.T) {
	RecordRequest("fluid_capacities", "success", 3*time.Second)
	RecordClaim("won")
	RecordPollSweep("https://jobs.example.com", "ok")
	RecordReasonerCall("gemini", "success")
	SetWorkerState("idle", 2)
	SetBuildInfo("test", "go1.24")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"mitchell_requests_total",
		"mitchell_claims_total",
		"mitchell_poll_sweeps_total",
		"mitchell_reasoner_calls_total",
		"mitchell_workers",
		"mitchell_build_info",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRecordRequestLabels(t *testing.T) {
	RecordRequest("query_by_vin", "error", time.Second)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `tool="query_by_vin"`) {
		t.Error("tool label not recorded")
	}
	if !strings.Contains(body, `status="error"`) {
		t.Error("status label not recorded")
	}
}

func TestRuntimeCollectorStops(t *testing.T) {
	stopCh := make(chan struct{})
	done := make(chan struct{})

	go func() {
		StartRuntimeCollector(time.Millisecond, stopCh)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	close(stopCh)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop after stopCh close")
	}
}
