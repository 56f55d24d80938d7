package observability

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/sessionstore"
)

var _ sessionstore.Observer = (*Metrics)(nil)

func TestMetricsRenderPrometheus(t *testing.T) {
	m := New()
	m.OperationObserved("append_signal", 2*time.Millisecond, false)
	m.OperationObserved("append_signal", 150*time.Millisecond, true)
	m.SignalScored(0.72)
	m.InterventionFired(struggle.InterventionRecord{Type: struggle.InterventionBreakOffer, Urgency: struggle.UrgencyHigh})
	m.InterventionSuppressed("cooldown")
	m.SessionArchived(struggle.ReasonIdleTimeout)
	m.ActiveSessions(3)
	m.ObserveAPI("POST", "/api/struggle/signals", "200", 5*time.Millisecond)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`struggle_operations_total{op="append_signal",slow="true"} 1`,
		`struggle_interventions_total{type="break_offer",urgency="high"} 1`,
		`struggle_interventions_suppressed_total{reason="cooldown"} 1`,
		`struggle_sessions_archived_total{reason="idle_timeout"} 1`,
		`struggle_active_sessions 3`,
		`struggle_signal_score_bucket{le="0.8"} 1`,
		`struggle_api_requests_total{method="POST",route="/api/struggle/signals",status="200"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.OperationObserved("x", time.Millisecond, true)
	m.ObserveAPI("GET", "/", "500", time.Millisecond)
	m.AlertPublished(false)
	rec := httptest.NewRecorder()
	m.WriteHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 503 {
		t.Fatalf("expected 503 from nil metrics, got %d", rec.Code)
	}
	if m.NewSLOEvaluator(nil) != nil {
		t.Fatalf("nil metrics should not build an evaluator")
	}
}

func TestSLOEvaluatorBurnRate(t *testing.T) {
	m := New()
	e := m.NewSLOEvaluator(nil)
	for i := 0; i < 98; i++ {
		m.OperationObserved("append_signal", time.Millisecond, false)
	}
	m.OperationObserved("append_signal", time.Second, true)
	m.OperationObserved("append_signal", time.Second, true)
	e.Evaluate()

	if got := m.sloCompliance.Value("operation_budget", e.windowLabel); got < 0.979 || got > 0.981 {
		t.Fatalf("compliance: got %v", got)
	}
	if got := m.sloBurn.Value("operation_budget", e.windowLabel); got < 1.99 || got > 2.01 {
		t.Fatalf("burn rate: got %v", got)
	}
	if got := m.sloCompliance.Value("api_availability", e.windowLabel); got != 1 {
		t.Fatalf("idle SLO should report full compliance, got %v", got)
	}
}

func TestFormatWindowLabel(t *testing.T) {
	cases := map[time.Duration]string{
		24 * time.Hour:   "1d",
		36 * time.Hour:   "36h",
		2 * time.Hour:    "2h",
		30 * time.Minute: "30m",
	}
	for in, want := range cases {
		if got := formatWindowLabel(in); got != want {
			t.Fatalf("%s: got %q want %q", in, got, want)
		}
	}
}
