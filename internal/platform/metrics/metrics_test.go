package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MRamiBalles/CrowdCombat/server/internal/tick"
)

func TestObservePass(t *testing.T) {
	c := NewCollector()
	c.ObservePass(tick.Pass{Frame: 1})
	c.ObservePass(tick.Pass{Frame: 2, Fired: true, Eligible: 45, Batch: 20, Ticked: 19, Skipped: 1, CursorAfter: 20, Duration: time.Millisecond})
	c.RecordFailure(tick.Failure{Phase: tick.PhaseTick})

	if got := testutil.ToFloat64(c.frames); got != 2 {
		t.Errorf("frames = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.ticks); got != 19 {
		t.Errorf("ticks = %v, want 19", got)
	}
	if got := testutil.ToFloat64(c.cursor); got != 20 {
		t.Errorf("cursor = %v, want 20", got)
	}
	if got := testutil.ToFloat64(c.failures.WithLabelValues("tick")); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}

	snap := c.Snapshot()["scheduler"].(map[string]interface{})
	if snap["fires"] != uint64(1) || snap["failures"] != uint64(1) || snap["last_eligible"] != 45 {
		t.Errorf("unexpected snapshot: %v", snap)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.SetRegistered(7)
	c.RecordHTTPRequest("GET", "/api/stats", 200, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{"crowd_scheduler_registered 7", "crowd_http_requests_total"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
