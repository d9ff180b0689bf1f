package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveAndSnapshot(t *testing.T) {
	reg := NewRegistry()
	reg.Observe("GET /admin", 403, 12*time.Millisecond)
	reg.Observe("GET /admin", 200, 4*time.Millisecond)
	reg.RecordDecision(false, "AUTHORIZATION_FAILED")
	reg.RecordDecision(true, "")
	reg.SetGauge("fingerprints_tracked", 7)

	snap := reg.Snapshot()
	stat := snap.Endpoints["GET /admin"]
	if stat.Count != 2 || stat.ErrorCount != 1 || stat.MaxMillis != 12 || stat.LastStatusCode != 200 {
		t.Fatalf("unexpected endpoint stat: %+v", stat)
	}
	if snap.Verdicts["allow"] != 1 || snap.Verdicts["deny"] != 1 {
		t.Fatalf("unexpected verdicts: %+v", snap.Verdicts)
	}
	if snap.Reasons["AUTHORIZATION_FAILED"] != 1 {
		t.Fatalf("unexpected reasons: %+v", snap.Reasons)
	}
	if snap.Gauges["fingerprints_tracked"] != 7 {
		t.Fatalf("unexpected gauges: %+v", snap.Gauges)
	}
}

func TestPrometheusHandler(t *testing.T) {
	reg := NewRegistry()
	reg.RecordDecision(false, "TOKEN_EXPIRED")
	reg.Observe("POST /api/login", 401, time.Millisecond)
	rec := httptest.NewRecorder()
	reg.PrometheusHandler()(rec, httptest.NewRequest("GET", "/metrics/prometheus", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `ztna_decisions_total{verdict="deny"} 1`) {
		t.Fatalf("missing verdict counter in:\n%s", body)
	}
	if !strings.Contains(body, `ztna_denials_total{code="TOKEN_EXPIRED"} 1`) {
		t.Fatalf("missing denial counter in:\n%s", body)
	}
	if !strings.Contains(body, `ztna_requests_total{endpoint="POST /api/login"} 1`) {
		t.Fatalf("missing endpoint counter in:\n%s", body)
	}
}
