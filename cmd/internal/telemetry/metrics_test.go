package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Connected()
	m.Disconnected()
	m.DialFailed()
	m.Joined()
	m.Delivered("presence")
	m.DecodeFailed()
	m.Sent()
	m.SendDropped()
	m.HistoryFetch("stale")
	m.SessionTransition("login")
	if m.Registry() != nil {
		t.Fatalf("nil metrics must have nil registry")
	}
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := New()
	m.Connected()
	m.Joined()
	m.Joined()
	m.SendDropped()
	m.HistoryFetch("stale")

	if got := testutil.ToFloat64(m.connected); got != 1 {
		t.Fatalf("connected=%v want=1", got)
	}
	if got := testutil.ToFloat64(m.joins); got != 2 {
		t.Fatalf("joins=%v want=2", got)
	}
	m.Disconnected()
	if got := testutil.ToFloat64(m.connected); got != 0 {
		t.Fatalf("connected=%v want=0", got)
	}
	if got := testutil.ToFloat64(m.historyFetches.WithLabelValues("stale")); got != 1 {
		t.Fatalf("stale=%v want=1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := New()
	m.SendDropped()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "pacschat_presence_sends_dropped_total 1") {
		t.Fatalf("metrics output missing counter:\n%s", body)
	}
}
