package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector

	// none of these may panic
	c.RecordFetch("AAPL", "")
	c.RecordWrite(time.Millisecond, nil)
	c.SetQueueDepth(3)
	c.SetActivePollers(2)
	c.RecordReconcile(errors.New("bad"))
	c.RecordStopTimeout()
}

func TestCollector_RecordFetch(t *testing.T) {
	c := NewCollector()

	c.RecordFetch("AAPL", "")
	c.RecordFetch("AAPL", "")
	c.RecordFetch("AAPL", "parse")
	c.RecordFetch("MSFT", "network")

	if got := promtest.ToFloat64(c.fetches.WithLabelValues("AAPL", "ok")); got != 2 {
		t.Errorf("ok fetches = %v, want 2", got)
	}
	if got := promtest.ToFloat64(c.fetches.WithLabelValues("AAPL", "error")); got != 1 {
		t.Errorf("error fetches = %v, want 1", got)
	}
	if got := promtest.ToFloat64(c.fetchFailures.WithLabelValues("AAPL", "parse")); got != 1 {
		t.Errorf("AAPL parse failures = %v, want 1", got)
	}
	if got := promtest.ToFloat64(c.fetchFailures.WithLabelValues("MSFT", "network")); got != 1 {
		t.Errorf("MSFT network failures = %v, want 1", got)
	}
	if got := promtest.ToFloat64(c.fetchFailures.WithLabelValues("AAPL", "network")); got != 0 {
		t.Errorf("AAPL network failures = %v, want 0", got)
	}
}

func TestCollector_Gauges(t *testing.T) {
	c := NewCollector()

	c.SetActivePollers(4)
	c.SetQueueDepth(7)
	c.RecordStopTimeout()
	c.RecordReconcile(nil)

	if got := promtest.ToFloat64(c.activePollers); got != 4 {
		t.Errorf("active pollers = %v, want 4", got)
	}
	if got := promtest.ToFloat64(c.queueDepth); got != 7 {
		t.Errorf("queue depth = %v, want 7", got)
	}
	if got := promtest.ToFloat64(c.stopTimeouts); got != 1 {
		t.Errorf("stop timeouts = %v, want 1", got)
	}
	if got := promtest.ToFloat64(c.reconciliations.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok reconciliations = %v, want 1", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.RecordWrite(10*time.Millisecond, nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `stockwatch_writer_writes_total{result="ok"} 1`) {
		t.Errorf("metrics output missing writes counter:\n%s", rec.Body.String())
	}
}
