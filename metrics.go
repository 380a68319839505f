package segdex

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/segdex/index"
)

// MetricsObserver receives writer events. See index.MetricsObserver.
type MetricsObserver = index.MetricsObserver

// NoopMetricsObserver discards all events.
type NoopMetricsObserver = index.NoopMetricsObserver

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
//
//	metrics := &segdex.BasicMetricsCollector{}
//	ix, _ := segdex.Open(ctx, segdex.Local("./data"), segdex.WithMetrics(metrics))
//	// ... use ix ...
//	stats := metrics.GetStats()
//	fmt.Printf("flushes: %d, avg: %s\n", stats.FlushCount, stats.FlushAvg)
type BasicMetricsCollector struct {
	FlushCount       atomic.Int64
	FlushErrors      atomic.Int64
	FlushDocs        atomic.Int64
	FlushBytes       atomic.Int64
	FlushTotalNanos  atomic.Int64
	MergeCount       atomic.Int64
	MergeErrors      atomic.Int64
	MergedSegments   atomic.Int64
	MergedDocs       atomic.Int64
	MergeTotalNanos  atomic.Int64
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	CommitTotalNanos atomic.Int64
	LastGeneration   atomic.Int64
	StallCount       atomic.Int64
	StallTotalNanos  atomic.Int64
	BytesWritten     atomic.Int64

	mu          sync.Mutex
	queueDepths map[string]int
}

var _ index.MetricsObserver = (*BasicMetricsCollector)(nil)

// OnFlush implements MetricsObserver.
func (b *BasicMetricsCollector) OnFlush(duration time.Duration, docs int, bytes int64, err error) {
	b.FlushCount.Add(1)
	b.FlushTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FlushErrors.Add(1)
		return
	}
	b.FlushDocs.Add(int64(docs))
	b.FlushBytes.Add(bytes)
}

// OnMerge implements MetricsObserver.
func (b *BasicMetricsCollector) OnMerge(duration time.Duration, inputSegments int, outputDocs int, err error) {
	b.MergeCount.Add(1)
	b.MergeTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.MergeErrors.Add(1)
		return
	}
	b.MergedSegments.Add(int64(inputSegments))
	b.MergedDocs.Add(int64(outputDocs))
}

// OnCommit implements MetricsObserver.
func (b *BasicMetricsCollector) OnCommit(duration time.Duration, generation int64, err error) {
	b.CommitCount.Add(1)
	b.CommitTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CommitErrors.Add(1)
		return
	}
	b.LastGeneration.Store(generation)
}

// OnStall implements MetricsObserver.
func (b *BasicMetricsCollector) OnStall(_ string, duration time.Duration) {
	b.StallCount.Add(1)
	b.StallTotalNanos.Add(duration.Nanoseconds())
}

// OnQueueDepth implements MetricsObserver.
func (b *BasicMetricsCollector) OnQueueDepth(name string, depth int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queueDepths == nil {
		b.queueDepths = make(map[string]int)
	}
	b.queueDepths[name] = depth
}

// OnThroughput implements MetricsObserver.
func (b *BasicMetricsCollector) OnThroughput(_ string, bytes int64) {
	b.BytesWritten.Add(bytes)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		FlushCount:     b.FlushCount.Load(),
		FlushErrors:    b.FlushErrors.Load(),
		FlushDocs:      b.FlushDocs.Load(),
		FlushBytes:     b.FlushBytes.Load(),
		FlushAvg:       avg(b.FlushTotalNanos.Load(), b.FlushCount.Load()),
		MergeCount:     b.MergeCount.Load(),
		MergeErrors:    b.MergeErrors.Load(),
		MergedSegments: b.MergedSegments.Load(),
		MergedDocs:     b.MergedDocs.Load(),
		MergeAvg:       avg(b.MergeTotalNanos.Load(), b.MergeCount.Load()),
		CommitCount:    b.CommitCount.Load(),
		CommitErrors:   b.CommitErrors.Load(),
		CommitAvg:      avg(b.CommitTotalNanos.Load(), b.CommitCount.Load()),
		LastGeneration: b.LastGeneration.Load(),
		StallCount:     b.StallCount.Load(),
		StallTotal:     time.Duration(b.StallTotalNanos.Load()),
		BytesWritten:   b.BytesWritten.Load(),
	}
	b.mu.Lock()
	if len(b.queueDepths) > 0 {
		s.QueueDepths = make(map[string]int, len(b.queueDepths))
		for k, v := range b.queueDepths {
			s.QueueDepths[k] = v
		}
	}
	b.mu.Unlock()
	return s
}

func avg(totalNanos, count int64) time.Duration {
	if count == 0 {
		return 0
	}
	return time.Duration(totalNanos / count)
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	FlushCount     int64
	FlushErrors    int64
	FlushDocs      int64
	FlushBytes     int64
	FlushAvg       time.Duration
	MergeCount     int64
	MergeErrors    int64
	MergedSegments int64
	MergedDocs     int64
	MergeAvg       time.Duration
	CommitCount    int64
	CommitErrors   int64
	CommitAvg      time.Duration
	LastGeneration int64
	StallCount     int64
	StallTotal     time.Duration
	BytesWritten   int64
	QueueDepths    map[string]int
}

// multiObserver fans events out to several observers.
type multiObserver []index.MetricsObserver

func (m multiObserver) OnFlush(d time.Duration, docs int, bytes int64, err error) {
	for _, o := range m {
		o.OnFlush(d, docs, bytes, err)
	}
}

func (m multiObserver) OnMerge(d time.Duration, in int, out int, err error) {
	for _, o := range m {
		o.OnMerge(d, in, out, err)
	}
}

func (m multiObserver) OnCommit(d time.Duration, gen int64, err error) {
	for _, o := range m {
		o.OnCommit(d, gen, err)
	}
}

func (m multiObserver) OnStall(reason string, d time.Duration) {
	for _, o := range m {
		o.OnStall(reason, d)
	}
}

func (m multiObserver) OnQueueDepth(name string, depth int) {
	for _, o := range m {
		o.OnQueueDepth(name, depth)
	}
}

func (m multiObserver) OnThroughput(name string, bytes int64) {
	for _, o := range m {
		o.OnThroughput(name, bytes)
	}
}

// logObserver turns writer events into log records.
type logObserver struct {
	l *Logger
}

func (o logObserver) OnFlush(d time.Duration, docs int, bytes int64, err error) {
	o.l.LogFlush(context.Background(), d, docs, bytes, err)
}

func (o logObserver) OnMerge(d time.Duration, in int, out int, err error) {
	o.l.LogMerge(context.Background(), d, in, out, err)
}

func (o logObserver) OnCommit(time.Duration, int64, error) {}

func (o logObserver) OnStall(reason string, d time.Duration) {
	o.l.LogStall(context.Background(), reason, d)
}

func (o logObserver) OnQueueDepth(string, int)   {}
func (o logObserver) OnThroughput(string, int64) {}
