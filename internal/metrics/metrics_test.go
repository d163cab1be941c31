package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, m *Metrics, name, label, value string) float64 {
	t.Helper()

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabel(metric, label, value) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestCounters(t *testing.T) {
	t.Parallel()

	m := New()
	m.IncRequest(OutcomeOK)
	m.IncRequest(OutcomeOK)
	m.IncRequest(OutcomeRateLimited)
	m.IncReconcile("repaired")

	if got := counterValue(t, m, "gpa_insight_requests_total", "outcome", OutcomeOK); got != 2 {
		t.Errorf("expected 2 ok requests, got %v", got)
	}
	if got := counterValue(t, m, "gpa_insight_requests_total", "outcome", OutcomeRateLimited); got != 1 {
		t.Errorf("expected 1 rate limited request, got %v", got)
	}
	if got := counterValue(t, m, "gpa_insight_reconcile_total", "tier", "repaired"); got != 1 {
		t.Errorf("expected 1 repaired reply, got %v", got)
	}
}

func TestHandlerExposesModelCalls(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveModelCall("openai", "ok", 1200*time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	body, _ := io.ReadAll(rr.Body)
	want := `gpa_insight_gateway_duration_seconds_count{provider="openai",result="ok"} 1`
	if !strings.Contains(string(body), want) {
		t.Fatalf("expected %q in exposition output", want)
	}
}
