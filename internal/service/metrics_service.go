package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP layer,
// the upload protocol and the sweeper.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec

	uploadsInitiated *prometheus.CounterVec
	uploadsFinalized prometheus.Counter
	uploadsRejected  *prometheus.CounterVec
	bytesFinalized   prometheus.Counter
	sweeperItems     *prometheus.CounterVec
	sweeperDuration  prometheus.Histogram

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	uploadsInitiated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filevault_uploads_initiated_total",
		Help: "Upload sessions opened, by mode",
	}, []string{"mode"})

	uploadsFinalized := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "filevault_uploads_finalized_total",
		Help: "Uploads committed to the ledger",
	})

	uploadsRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filevault_uploads_rejected_total",
		Help: "Uploads rejected at init or finalize, by reason",
	}, []string{"stage", "reason"})

	bytesFinalized := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "filevault_bytes_finalized_total",
		Help: "Bytes charged to the ledger by finalized uploads",
	})

	sweeperItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filevault_sweeper_items_total",
		Help: "Files handled by the sweeper, by pass and outcome",
	}, []string{"pass", "outcome"})

	sweeperDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "filevault_sweeper_run_seconds",
		Help:    "Duration of sweeper runs",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses, dbQueryDuration,
		uploadsInitiated, uploadsFinalized, uploadsRejected, bytesFinalized, sweeperItems, sweeperDuration, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		cacheLatency:     cacheLatency,
		cacheWrite:       cacheWrite,
		cacheHitRatio:    cacheHitRatio,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		dbQueryDuration:  dbQueryDuration,
		uploadsInitiated: uploadsInitiated,
		uploadsFinalized: uploadsFinalized,
		uploadsRejected:  uploadsRejected,
		bytesFinalized:   bytesFinalized,
		sweeperItems:     sweeperItems,
		sweeperDuration:  sweeperDuration,
	}
}

// Registry exposes the registry for tests and extra collectors.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// UploadInitiated counts a new single or multipart session.
func (m *MetricsService) UploadInitiated(multipart bool) {
	if m == nil {
		return
	}
	mode := "single"
	if multipart {
		mode = "multipart"
	}
	m.uploadsInitiated.WithLabelValues(mode).Inc()
}

// UploadFinalized counts a committed upload and its bytes.
func (m *MetricsService) UploadFinalized(size int64) {
	if m == nil {
		return
	}
	m.uploadsFinalized.Inc()
	m.bytesFinalized.Add(float64(size))
}

// UploadRejected counts a rejection at stage ("init" or "finalize") with its reason code.
func (m *MetricsService) UploadRejected(stage, reason string) {
	if m == nil {
		return
	}
	m.uploadsRejected.WithLabelValues(stage, reason).Inc()
}

// SweeperItem counts one sweeper decision.
func (m *MetricsService) SweeperItem(pass, outcome string) {
	if m == nil {
		return
	}
	m.sweeperItems.WithLabelValues(pass, outcome).Inc()
}

// ObserveSweep records how long a sweep took.
func (m *MetricsService) ObserveSweep(duration time.Duration) {
	if m == nil {
		return
	}
	m.sweeperDuration.Observe(duration.Seconds())
}
