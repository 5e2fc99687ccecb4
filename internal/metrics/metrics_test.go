package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordersExposeSeries(t *testing.T) {
	Init()
	RecordMerge("PI_XBTUSD", "bid", MergeCounts{Updated: 2, IgnoredInserts: 1})
	RecordStale("PI_ETHUSD")
	RecordFlush("ask")
	RecordSnapshot("PI_XBTUSD")
	SetLevels("PI_XBTUSD", "bid", 25)
	RecordReconnect("uifeed")

	if got := testutil.ToFloat64(mergeEntries.WithLabelValues("PI_XBTUSD", "bid", "updated")); got != 2 {
		t.Fatalf("updated = %v, want 2", got)
	}
	if got := testutil.ToFloat64(bookLevels.WithLabelValues("PI_XBTUSD", "bid")); got != 25 {
		t.Fatalf("levels = %v, want 25", got)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{
		"bookview_merge_entries_total",
		"bookview_stale_rejected_total",
		"bookview_buffer_flushes_total",
		"bookview_feed_reconnects_total",
		"go_goroutines",
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}
