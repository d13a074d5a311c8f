// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jobrunner/owsgate/internal/ports/output"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	gatherer            prometheus.Gatherer
	requestCounter      *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	recordsReturned     *prometheus.HistogramVec
	recordsLoaded       prometheus.Gauge
	storageOperations   *prometheus.CounterVec
	storageDuration     *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var _ output.MetricsCollector = (*Collector)(nil)

// NewCollector creates a collector registering its metrics with reg. A nil
// reg uses the default Prometheus registry.
func NewCollector(namespace string, reg *prometheus.Registry) *Collector {
	if namespace == "" {
		namespace = "owsgate"
	}
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	return &Collector{
		gatherer: gatherer,

		requestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ows_requests_total",
				Help:      "Total number of OWS operations",
			},
			[]string{"service", "operation", "status"},
		),

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ows_request_duration_seconds",
				Help:      "OWS operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "operation"},
		),

		recordsReturned: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "records_returned",
				Help:      "Records returned per query and type",
				Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000},
			},
			[]string{"type_name"},
		),

		recordsLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "seed_records_loaded",
				Help:      "Number of records loaded from seed files",
			},
		),

		storageOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),

		storageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_duration_seconds",
				Help:      "Storage operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// IncRequestCount implements output.MetricsCollector.
func (c *Collector) IncRequestCount(service, operation string, success bool) {
	c.requestCounter.WithLabelValues(service, operation, successLabel(success)).Inc()
}

// ObserveRequestDuration implements output.MetricsCollector.
func (c *Collector) ObserveRequestDuration(service, operation string, duration time.Duration) {
	c.requestDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// ObserveRecordsReturned implements output.MetricsCollector.
func (c *Collector) ObserveRecordsReturned(typeName string, count int) {
	c.recordsReturned.WithLabelValues(typeName).Observe(float64(count))
}

// SetRecordsLoaded implements output.MetricsCollector.
func (c *Collector) SetRecordsLoaded(count int) {
	c.recordsLoaded.Set(float64(count))
}

// IncStorageOperations increments storage operation counter.
func (c *Collector) IncStorageOperations(operation string, success bool) {
	c.storageOperations.WithLabelValues(operation, successLabel(success)).Inc()
}

// ObserveStorageDuration records storage operation duration.
func (c *Collector) ObserveStorageDuration(operation string, duration time.Duration) {
	c.storageDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler returns the HTTP handler exposing the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Middleware returns HTTP middleware for metrics collection.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		c.httpRequestsTotal.WithLabelValues(r.Method, path, statusToString(wrapped.statusCode)).Inc()
		c.httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// normalizePath maps a request path onto a bounded set of labels.
func normalizePath(path string) string {
	switch {
	case path == "/csw", path == "/wfs", path == "/wcs", path == "/metrics":
		return path
	case strings.HasPrefix(path, "/health"):
		return "/health"
	case strings.HasPrefix(path, "/admin/"):
		return "/admin"
	default:
		return "other"
	}
}

func successLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// statusToString converts HTTP status code to string category.
func statusToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
