package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	entries  int64
}

var (
	warnsFeed      int64
	warnsBook      int64
	errorsFeed     int64
	errorsBook     int64
	snapshotReads  int64
	deltaReads     int64
	staleRejected  int64
	bufferFlushes  int64
	groupingResets int64
	channels       sync.Map // map[string]*channelStat
)

// Components whose name mentions "feed" or "reader" count as feed, the rest
// of the book pipeline as book.
func recordWarn(component string) {
	switch {
	case isFeedComponent(component):
		atomic.AddInt64(&warnsFeed, 1)
	case strings.Contains(component, "book"):
		atomic.AddInt64(&warnsBook, 1)
	}
}

func recordError(component string) {
	switch {
	case isFeedComponent(component):
		atomic.AddInt64(&errorsFeed, 1)
	case strings.Contains(component, "book"):
		atomic.AddInt64(&errorsBook, 1)
	}
}

func isFeedComponent(component string) bool {
	return strings.Contains(component, "feed") || strings.Contains(component, "reader")
}

// IncrementSnapshotRead counts a decoded snapshot carrying entries levels.
func IncrementSnapshotRead(entries int) {
	atomic.AddInt64(&snapshotReads, 1)
	recordChannel("snapshot", entries)
}

// IncrementDeltaRead counts a decoded delta carrying entries updates.
func IncrementDeltaRead(entries int) {
	atomic.AddInt64(&deltaReads, 1)
	recordChannel("delta", entries)
}

func IncrementStaleRejected() {
	atomic.AddInt64(&staleRejected, 1)
}

func IncrementBufferFlush(entries int) {
	atomic.AddInt64(&bufferFlushes, 1)
	recordChannel("buffer_flush", entries)
}

func IncrementGroupingChange() {
	atomic.AddInt64(&groupingResets, 1)
}

func RecordChannelMessage(name string, entries int) {
	recordChannel(name, entries)
}

func recordChannel(name string, entries int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.entries, int64(entries))
}

// StartReport logs and publishes the runtime report every interval until ctx
// is done.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func reportFields() (Fields, map[string]map[string]int64) {
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		cs := v.(*channelStat)
		channelData[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"entries":  atomic.LoadInt64(&cs.entries),
		}
		return true
	})

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Fields{
		"warns_feed":       atomic.LoadInt64(&warnsFeed),
		"warns_book":       atomic.LoadInt64(&warnsBook),
		"errors_feed":      atomic.LoadInt64(&errorsFeed),
		"errors_book":      atomic.LoadInt64(&errorsBook),
		"snapshot_reads":   atomic.LoadInt64(&snapshotReads),
		"delta_reads":      atomic.LoadInt64(&deltaReads),
		"stale_rejected":   atomic.LoadInt64(&staleRejected),
		"buffer_flushes":   atomic.LoadInt64(&bufferFlushes),
		"grouping_changes": atomic.LoadInt64(&groupingResets),
		"goroutines":       runtime.NumGoroutine(),
		"heap_mb":          int64(mem.HeapAlloc) / 1024 / 1024,
		"channels":         channelData,
	}, channelData
}

func logReport(ctx context.Context, log *Log) {
	fields, channelData := reportFields()
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	counters := []string{
		"warns_feed", "warns_book", "errors_feed", "errors_book",
		"snapshot_reads", "delta_reads", "stale_rejected", "buffer_flushes",
	}
	data := make([]cwtypes.MetricDatum, 0, len(counters)+2+2*len(channelData))
	for _, name := range counters {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(metricName(name)),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(fields[name].(int64))),
		})
	}
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Goroutines"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["goroutines"].(int)))},
		cwtypes.MetricDatum{MetricName: aws.String("HeapMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(fields["heap_mb"].(int64)))},
	)
	for name, stats := range channelData {
		dims := []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}}
		data = append(data,
			cwtypes.MetricDatum{MetricName: aws.String("ChannelMessages"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(stats["messages"]))},
			cwtypes.MetricDatum{MetricName: aws.String("ChannelEntries"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(stats["entries"]))},
		)
	}
	publishMetrics(ctx, data)
}

// metricName turns a snake_case field into the CamelCase metric name.
func metricName(field string) string {
	parts := strings.Split(field, "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "")
}
