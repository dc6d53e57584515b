package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(Join)
	m.Add(RouteOffer, 2)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	for _, want := range []string{
		"# TYPE aero_webrtc_signal_relay_events_total counter",
		`aero_webrtc_signal_relay_events_total{event="route_offer"} 2`,
		`aero_webrtc_signal_relay_events_total{event="join"} 1`,
		`aero_webrtc_signal_relay_events_total{event="quote\"back\\slash"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
	if strings.Index(body, `event="join"`) > strings.Index(body, `event="route_offer"`) {
		t.Fatalf("expected sorted output:\n%s", body)
	}
}

func TestPrometheusHandler_NilMetrics(t *testing.T) {
	rr := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(Join)
	if got := m.Get(Join); got != 0 {
		t.Fatalf("Get=%d, want 0", got)
	}
	if snap := m.Snapshot(); len(snap) != 0 {
		t.Fatalf("Snapshot=%v, want empty", snap)
	}
}

func TestMetrics_SnapshotIsCopy(t *testing.T) {
	m := New()
	m.Inc(Leave)
	snap := m.Snapshot()
	snap[Leave] = 100
	if got := m.Get(Leave); got != 1 {
		t.Fatalf("Get=%d, want 1", got)
	}
}
