package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEngineMetrics(t *testing.T) {
	c := NewCollector("test")

	c.ItemEvaluated("ok", time.Millisecond)
	c.ItemEvaluated("ok", time.Millisecond)
	c.ItemEvaluated("error", time.Millisecond)
	c.ExpressionFailed()
	c.BatchCompleted("baterias", 3, 10*time.Millisecond)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"ok items", testutil.ToFloat64(c.itemsTotal.WithLabelValues("ok")), 2},
		{"error items", testutil.ToFloat64(c.itemsTotal.WithLabelValues("error")), 1},
		{"expression failures", testutil.ToFloat64(c.expressionFailures), 1},
		{"batches", testutil.ToFloat64(c.batchesTotal.WithLabelValues("baterias")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestHTTPMetrics(t *testing.T) {
	c := NewCollector("")
	c.ObserveRequest("POST", "/simulate", 200, 5*time.Millisecond)
	c.ObserveRequest("POST", "/simulate", 400, time.Millisecond)

	if got := testutil.ToFloat64(c.httpRequests.WithLabelValues("POST", "/simulate", "200")); got != 1 {
		t.Errorf("200 requests = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.httpRequests); got != 2 {
		t.Errorf("request series = %d, want 2", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("battery_pricing")
	c.BatchCompleted("baterias", 10, time.Second)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "battery_pricing_engine_batches_total") {
		t.Errorf("metrics output missing batches counter:\n%s", body)
	}
}
