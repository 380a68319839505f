package index

import "time"

// MetricsObserver receives writer events. Implementations must be safe for
// concurrent use and must not block.
type MetricsObserver interface {
	// OnFlush is called when a segment builder was flushed.
	OnFlush(duration time.Duration, docs int, bytes int64, err error)

	// OnMerge is called when a merge finished or failed.
	OnMerge(duration time.Duration, inputSegments int, outputDocs int, err error)

	// OnCommit is called when a commit was published or failed.
	OnCommit(duration time.Duration, generation int64, err error)

	// OnStall is called when an ingesting goroutine waited for flushes or
	// merges to catch up.
	OnStall(reason string, duration time.Duration)

	// OnQueueDepth reports the depth of a background queue.
	OnQueueDepth(name string, depth int)

	// OnThroughput reports bytes processed.
	OnThroughput(name string, bytes int64)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (o *NoopMetricsObserver) OnFlush(time.Duration, int, int64, error) {}
func (o *NoopMetricsObserver) OnMerge(time.Duration, int, int, error)   {}
func (o *NoopMetricsObserver) OnCommit(time.Duration, int64, error)     {}
func (o *NoopMetricsObserver) OnStall(string, time.Duration)            {}
func (o *NoopMetricsObserver) OnQueueDepth(string, int)                 {}
func (o *NoopMetricsObserver) OnThroughput(string, int64)               {}
