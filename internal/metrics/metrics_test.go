package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordActionIncrementsCounterAndHistogram(t *testing.T) {
	before := testutil.ToFloat64(ActionsTotal.WithLabelValues("Tap", "true"))
	RecordAction("Tap", true, 0.05)
	after := testutil.ToFloat64(ActionsTotal.WithLabelValues("Tap", "true"))

	if after != before+1 {
		t.Errorf("ActionsTotal{Tap,true} = %v, want %v", after, before+1)
	}
}

func TestRecordSessionStartAndEnd(t *testing.T) {
	before := testutil.ToFloat64(ActiveSessions)
	RecordSessionStart()
	if got := testutil.ToFloat64(ActiveSessions); got != before+1 {
		t.Errorf("ActiveSessions after start = %v, want %v", got, before+1)
	}

	RecordSessionEnd(12.5)
	if got := testutil.ToFloat64(ActiveSessions); got != before {
		t.Errorf("ActiveSessions after end = %v, want %v", got, before)
	}
}

func TestRecordEventDropIncrementsPerSession(t *testing.T) {
	before := testutil.ToFloat64(EventBufferDrops.WithLabelValues("sess-a"))
	RecordEventDrop("sess-a")
	after := testutil.ToFloat64(EventBufferDrops.WithLabelValues("sess-a"))
	if after != before+1 {
		t.Errorf("EventBufferDrops{sess-a} = %v, want %v", after, before+1)
	}
}

func TestRecordWatcherTickOutcomeLabels(t *testing.T) {
	before := testutil.ToFloat64(WatcherTicks.WithLabelValues("sess-b", "changed"))
	RecordWatcherTick("sess-b", "changed")
	after := testutil.ToFloat64(WatcherTicks.WithLabelValues("sess-b", "changed"))
	if after != before+1 {
		t.Errorf("WatcherTicks{sess-b,changed} = %v, want %v", after, before+1)
	}
}

func TestRecordAgentRecovery(t *testing.T) {
	before := testutil.ToFloat64(AgentRecoveries)
	RecordAgentRecovery()
	if got := testutil.ToFloat64(AgentRecoveries); got != before+1 {
		t.Errorf("AgentRecoveries = %v, want %v", got, before+1)
	}
}

func TestMiddlewareRecordsRequestMetrics(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "/health", "418"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	after := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "/health", "418"))
	if after != before+1 {
		t.Errorf("RequestsTotal{GET,/health,418} = %v, want %v", after, before+1)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("recorder status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestNormalizePathCollapsesUnknownPaths(t *testing.T) {
	cases := map[string]string{
		"/health":           "/health",
		"/ready":            "/ready",
		"/metrics":          "/metrics",
		"/sessions/abc-123": "other",
		"/":                 "other",
	}
	for path, want := range cases {
		if got := normalizePath(path); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", path, got, want)
		}
	}
}
