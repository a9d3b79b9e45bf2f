// Package metrics provides the load-el metrics sink. A single Metrics value
// is constructed at process start and handed to every component; nothing in
// this package registers into a global registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric exported by the client.
const Namespace = "load_el"

var engineLatencyBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics is the process-wide metrics handle.
type Metrics struct {
	registry *prometheus.Registry

	forkchoiceDuration prometheus.Histogram
	getPayloadDuration prometheus.Histogram
	newPayloadDuration prometheus.Histogram

	getBlobsRequests prometheus.Counter
	getBlobsHits     prometheus.Counter
	getBlobsMisses   prometheus.Counter

	blobCacheItems prometheus.Gauge
	blobCacheBytes prometheus.Gauge

	rpcOverload   *prometheus.CounterVec
	payloadBuilds *prometheus.CounterVec

	poolAdded    prometheus.Counter
	poolRejected *prometheus.CounterVec
	poolPending  prometheus.Gauge
}

// New creates the metrics handle and registers every collector in a fresh
// registry, alongside the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	m := NewWithRegisterer(reg)
	m.registry = reg
	return m
}

// NewWithRegisterer registers the client collectors in reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		forkchoiceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "forkchoice_duration_seconds",
			Help:      "Latency of engine_forkchoiceUpdated calls",
			Buckets:   engineLatencyBuckets,
		}),
		getPayloadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "get_payload_duration_seconds",
			Help:      "Latency of engine_getPayload calls",
			Buckets:   engineLatencyBuckets,
		}),
		newPayloadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "new_payload_duration_seconds",
			Help:      "Latency of engine_newPayload calls",
			Buckets:   engineLatencyBuckets,
		}),
		getBlobsRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "get_blobs_requests_total",
			Help:      "Total engine_getBlobs requests served",
		}),
		getBlobsHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "get_blobs_hits_total",
			Help:      "Versioned hashes found in the blob cache",
		}),
		getBlobsMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "get_blobs_misses_total",
			Help:      "Versioned hashes missing from the blob cache",
		}),
		blobCacheItems: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "blob_cache",
			Name:      "items",
			Help:      "Blob sidecars held in the cache",
		}),
		blobCacheBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "blob_cache",
			Name:      "bytes",
			Help:      "Bytes of blob data held in the cache",
		}),
		rpcOverload: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "overload_total",
			Help:      "Requests rejected by the per-method concurrency limit",
		}, []string{"method"}),
		payloadBuilds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "payload_builds_total",
			Help:      "Payload builds by outcome",
		}, []string{"outcome"}),
		poolAdded: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "txpool",
			Name:      "added_total",
			Help:      "Transactions admitted to the pool",
		}),
		poolRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "txpool",
			Name:      "rejected_total",
			Help:      "Transactions rejected at pool ingress",
		}, []string{"reason"}),
		poolPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "txpool",
			Name:      "pending",
			Help:      "Transactions waiting for inclusion",
		}),
	}
}

// Registry returns the registry created by New, or nil when the handle was
// built with NewWithRegisterer.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) RecordForkchoice(d time.Duration) { m.forkchoiceDuration.Observe(d.Seconds()) }

func (m *Metrics) RecordGetPayload(d time.Duration) { m.getPayloadDuration.Observe(d.Seconds()) }

func (m *Metrics) RecordNewPayload(d time.Duration) { m.newPayloadDuration.Observe(d.Seconds()) }

// RecordGetBlobs counts one getBlobs request and its per-hash outcome.
func (m *Metrics) RecordGetBlobs(hits, misses int) {
	m.getBlobsRequests.Inc()
	m.getBlobsHits.Add(float64(hits))
	m.getBlobsMisses.Add(float64(misses))
}

// RecordBlobCache sets the cache occupancy gauges.
func (m *Metrics) RecordBlobCache(items int, bytes uint64) {
	m.blobCacheItems.Set(float64(items))
	m.blobCacheBytes.Set(float64(bytes))
}

func (m *Metrics) RecordOverload(method string) { m.rpcOverload.WithLabelValues(method).Inc() }

func (m *Metrics) RecordBuild(outcome string) { m.payloadBuilds.WithLabelValues(outcome).Inc() }

func (m *Metrics) RecordPoolAdd() { m.poolAdded.Inc() }

func (m *Metrics) RecordPoolReject(reason string) { m.poolRejected.WithLabelValues(reason).Inc() }

func (m *Metrics) RecordPoolPending(n int) { m.poolPending.Set(float64(n)) }
