// Package prometheus exports writer events as Prometheus metrics.
//
//	reg := prometheus.NewRegistry()
//	obs, err := segdexprom.New(reg)
//	ix, err := segdex.Open(ctx, backend, segdex.WithMetrics(obs))
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/segdex/index"
)

// Observer implements index.MetricsObserver on Prometheus collectors.
type Observer struct {
	flushLatency  *prometheus.HistogramVec
	flushDocs     prometheus.Counter
	flushBytes    prometheus.Counter
	mergeLatency  *prometheus.HistogramVec
	mergedSegs    prometheus.Counter
	mergedDocs    prometheus.Counter
	commitLatency *prometheus.HistogramVec
	generation    prometheus.Gauge
	stalls        *prometheus.CounterVec
	stallSeconds  *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	throughput    *prometheus.CounterVec
}

var _ index.MetricsObserver = (*Observer)(nil)

type options struct {
	namespace   string
	constLabels prometheus.Labels
}

// Option configures New.
type Option func(*options)

// WithNamespace prefixes every metric name. The default is "segdex".
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// WithConstLabels attaches labels to every metric, e.g. the index name when
// several indexes share a registry.
func WithConstLabels(l prometheus.Labels) Option {
	return func(o *options) { o.constLabels = l }
}

// New creates an Observer and registers its collectors with reg. A nil reg
// means prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, optFns ...Option) (*Observer, error) {
	o := options{namespace: "segdex"}
	for _, fn := range optFns {
		fn(&o)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	ns, cl := o.namespace, o.constLabels
	obs := &Observer{
		flushLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, ConstLabels: cl,
			Name:    "flush_duration_seconds",
			Help:    "Latency of segment flushes",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		flushDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, ConstLabels: cl,
			Name: "flushed_docs_total",
			Help: "Documents written by flushes",
		}),
		flushBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, ConstLabels: cl,
			Name: "flushed_bytes_total",
			Help: "Bytes written by flushes",
		}),
		mergeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, ConstLabels: cl,
			Name:    "merge_duration_seconds",
			Help:    "Latency of segment merges",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"status"}),
		mergedSegs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, ConstLabels: cl,
			Name: "merged_segments_total",
			Help: "Segments consumed by merges",
		}),
		mergedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, ConstLabels: cl,
			Name: "merged_docs_total",
			Help: "Documents written by merges",
		}),
		commitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, ConstLabels: cl,
			Name:    "commit_duration_seconds",
			Help:    "Latency of commits",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, ConstLabels: cl,
			Name: "commit_generation",
			Help: "Generation of the last successful commit",
		}),
		stalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, ConstLabels: cl,
			Name: "stalls_total",
			Help: "Times ingestion was held back",
		}, []string{"reason"}),
		stallSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, ConstLabels: cl,
			Name: "stall_seconds_total",
			Help: "Time ingestion was held back",
		}, []string{"reason"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, ConstLabels: cl,
			Name: "queue_depth",
			Help: "Depth of internal queues",
		}, []string{"queue"}),
		throughput: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, ConstLabels: cl,
			Name: "throughput_total",
			Help: "Units processed per stream",
		}, []string{"stream"}),
	}

	for _, c := range []prometheus.Collector{
		obs.flushLatency, obs.flushDocs, obs.flushBytes,
		obs.mergeLatency, obs.mergedSegs, obs.mergedDocs,
		obs.commitLatency, obs.generation,
		obs.stalls, obs.stallSeconds, obs.queueDepth, obs.throughput,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return obs, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// OnFlush implements index.MetricsObserver.
func (o *Observer) OnFlush(d time.Duration, docs int, bytes int64, err error) {
	o.flushLatency.WithLabelValues(status(err)).Observe(d.Seconds())
	if err == nil {
		o.flushDocs.Add(float64(docs))
		o.flushBytes.Add(float64(bytes))
	}
}

// OnMerge implements index.MetricsObserver.
func (o *Observer) OnMerge(d time.Duration, in, out int, err error) {
	o.mergeLatency.WithLabelValues(status(err)).Observe(d.Seconds())
	if err == nil {
		o.mergedSegs.Add(float64(in))
		o.mergedDocs.Add(float64(out))
	}
}

// OnCommit implements index.MetricsObserver.
func (o *Observer) OnCommit(d time.Duration, gen int64, err error) {
	o.commitLatency.WithLabelValues(status(err)).Observe(d.Seconds())
	if err == nil && gen > 0 {
		o.generation.Set(float64(gen))
	}
}

// OnStall implements index.MetricsObserver.
func (o *Observer) OnStall(reason string, d time.Duration) {
	o.stalls.WithLabelValues(reason).Inc()
	o.stallSeconds.WithLabelValues(reason).Add(d.Seconds())
}

// OnQueueDepth implements index.MetricsObserver.
func (o *Observer) OnQueueDepth(name string, depth int) {
	o.queueDepth.WithLabelValues(name).Set(float64(depth))
}

// OnThroughput implements index.MetricsObserver.
func (o *Observer) OnThroughput(name string, n int64) {
	o.throughput.WithLabelValues(name).Add(float64(n))
}
