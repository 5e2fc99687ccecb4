// Registers:
//
//	#bookview_merge_entries_total{market,side,outcome}
//	#bookview_stale_rejected_total{market}
//	#bookview_buffer_flushes_total{side}
//	#bookview_snapshots_total{market}
//	#bookview_book_levels{market,side}
//	#bookview_feed_reconnects_total{source}
//	#go_* and process_* system metrics
//
// Handler exposes them for the API server's /metrics route.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once           sync.Once
	registry       *prometheus.Registry
	mergeEntries   *prometheus.CounterVec
	staleRejected  *prometheus.CounterVec
	bufferFlushes  *prometheus.CounterVec
	snapshots      *prometheus.CounterVec
	bookLevels     *prometheus.GaugeVec
	feedReconnects *prometheus.CounterVec
)

// MergeCounts is the per-outcome breakdown of one merged batch.
type MergeCounts struct {
	Updated         int
	Inserted        int
	Removed         int
	IgnoredRemovals int
	IgnoredInserts  int
	Malformed       int
}

func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		mergeEntries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookview_merge_entries_total",
				Help: "Delta entries merged into the grouped book, by outcome",
			},
			[]string{"market", "side", "outcome"},
		)
		staleRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookview_stale_rejected_total",
				Help: "Feed messages rejected because they belong to an inactive market",
			},
			[]string{"market"},
		)
		bufferFlushes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookview_buffer_flushes_total",
				Help: "Accumulation buffer flushes",
			},
			[]string{"side"},
		)
		snapshots = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookview_snapshots_total",
				Help: "Snapshots applied to the book",
			},
			[]string{"market"},
		)
		bookLevels = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bookview_book_levels",
				Help: "Grouped levels currently held per side",
			},
			[]string{"market", "side"},
		)
		feedReconnects = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookview_feed_reconnects_total",
				Help: "Transport reconnect attempts",
			},
			[]string{"source"},
		)

		registry.MustRegister(mergeEntries, staleRejected, bufferFlushes, snapshots, bookLevels, feedReconnects)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves the registry. Init is called if nobody did yet.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordMerge adds one batch's outcomes.
func RecordMerge(market, side string, c MergeCounts) {
	if mergeEntries == nil {
		return
	}
	add := func(outcome string, n int) {
		if n > 0 {
			mergeEntries.WithLabelValues(market, side, outcome).Add(float64(n))
		}
	}
	add("updated", c.Updated)
	add("inserted", c.Inserted)
	add("removed", c.Removed)
	add("ignored_removal", c.IgnoredRemovals)
	add("ignored_insert", c.IgnoredInserts)
	add("malformed", c.Malformed)
}

func RecordStale(market string) {
	if staleRejected != nil {
		staleRejected.WithLabelValues(market).Inc()
	}
}

func RecordFlush(side string) {
	if bufferFlushes != nil {
		bufferFlushes.WithLabelValues(side).Inc()
	}
}

func RecordSnapshot(market string) {
	if snapshots != nil {
		snapshots.WithLabelValues(market).Inc()
	}
}

func SetLevels(market, side string, n int) {
	if bookLevels != nil {
		bookLevels.WithLabelValues(market, side).Set(float64(n))
	}
}

func RecordReconnect(source string) {
	if feedReconnects != nil {
		feedReconnects.WithLabelValues(source).Inc()
	}
}
