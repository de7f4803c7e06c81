package providers

import (
	"charsync/internal/structures"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"time"
)

type MetricsProviderInterface interface {
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)
	IncCacheHits()
	IncCacheMisses()
	IncSnapshotsSent(role string)
	IncSendFailures(reason string)
	IncSnapshotsReceived(role string)
	IncMergeFailures(reason string)
	ObservePayloadSize(direction string, bytes int)
	ObservePersistenceDuration(duration time.Duration)
	SetActiveSessions(count int)
}

type MetricsProvider struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
	snapshotsSent       *prometheus.CounterVec
	sendFailures        *prometheus.CounterVec
	snapshotsReceived   *prometheus.CounterVec
	mergeFailures       *prometheus.CounterVec
	payloadSize         *prometheus.HistogramVec
	persistenceDuration prometheus.Histogram
	activeSessions      prometheus.Gauge
}

func (m *MetricsProvider) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *MetricsProvider) ObserveRequestDuration(endpoint string, duration time.Duration) {
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *MetricsProvider) IncCacheHits() {
	m.cacheHits.Inc()
}

func (m *MetricsProvider) IncCacheMisses() {
	m.cacheMisses.Inc()
}

func (m *MetricsProvider) IncSnapshotsSent(role string) {
	m.snapshotsSent.WithLabelValues(role).Inc()
}

func (m *MetricsProvider) IncSendFailures(reason string) {
	m.sendFailures.WithLabelValues(reason).Inc()
}

func (m *MetricsProvider) IncSnapshotsReceived(role string) {
	m.snapshotsReceived.WithLabelValues(role).Inc()
}

func (m *MetricsProvider) IncMergeFailures(reason string) {
	m.mergeFailures.WithLabelValues(reason).Inc()
}

func (m *MetricsProvider) ObservePayloadSize(direction string, bytes int) {
	m.payloadSize.WithLabelValues(direction).Observe(float64(bytes))
}

func (m *MetricsProvider) ObservePersistenceDuration(duration time.Duration) {
	m.persistenceDuration.Observe(duration.Seconds())
}

func (m *MetricsProvider) SetActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func NewMetricsProvider(conf *structures.Config) MetricsProviderInterface {
	if !conf.Metrics.Enabled {
		return &noopMetrics{}
	}

	return &MetricsProvider{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "charsync_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"endpoint", "status"}),

		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "charsync_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		cacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "charsync_cache_hits_total",
			Help: "Total number of cache hits",
		}),

		cacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "charsync_cache_misses_total",
			Help: "Total number of cache misses",
		}),

		snapshotsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "charsync_snapshots_sent_total",
			Help: "Snapshots handed to the transport successfully",
		}, []string{"role"}),

		sendFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "charsync_send_failures_total",
			Help: "Snapshots that could not be sent",
		}, []string{"reason"}),

		snapshotsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "charsync_snapshots_received_total",
			Help: "Inbound snapshots merged or acknowledged",
		}, []string{"role"}),

		mergeFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "charsync_merge_failures_total",
			Help: "Inbound payloads dropped by decode or merge",
		}, []string{"reason"}),

		payloadSize: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "charsync_payload_bytes",
			Help:    "Compressed snapshot payload size",
			Buckets: prometheus.ExponentialBuckets(512, 4, 8),
		}, []string{"direction"}),

		persistenceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "charsync_persistence_duration_seconds",
			Help:    "Duration of persistence operations in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		activeSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "charsync_active_sessions",
			Help: "Sessions currently connected to a peer",
		}),
	}
}

// noopMetrics is a no-op implementation for when metrics are disabled.
type noopMetrics struct{}

func (n *noopMetrics) IncRequestsTotal(_ string, _ int)                 {}
func (n *noopMetrics) ObserveRequestDuration(_ string, _ time.Duration) {}
func (n *noopMetrics) IncCacheHits()                                    {}
func (n *noopMetrics) IncCacheMisses()                                  {}
func (n *noopMetrics) IncSnapshotsSent(_ string)                        {}
func (n *noopMetrics) IncSendFailures(_ string)                         {}
func (n *noopMetrics) IncSnapshotsReceived(_ string)                    {}
func (n *noopMetrics) IncMergeFailures(_ string)                        {}
func (n *noopMetrics) ObservePayloadSize(_ string, _ int)               {}
func (n *noopMetrics) ObservePersistenceDuration(_ time.Duration)       {}
func (n *noopMetrics) SetActiveSessions(_ int)                          {}
