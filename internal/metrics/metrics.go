// Package metrics exposes Prometheus counters for the HTTP surface and the
// upload and analysis pipelines.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so tests can build independent instances.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	filesUploaded  prometheus.Counter
	bytesUploaded  prometheus.Counter
	mirrorFailures prometheus.Counter
	analyses       *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scalpscan_http_requests_total",
				Help: "HTTP requests by method, route and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scalpscan_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		filesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "scalpscan_files_uploaded_total",
			Help: "Files written to blob storage.",
		}),
		bytesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "scalpscan_upload_bytes_total",
			Help: "Bytes written to blob storage.",
		}),
		mirrorFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "scalpscan_metadata_mirror_failures_total",
			Help: "Uploads whose metadata row could not be written.",
		}),
		analyses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scalpscan_analyses_total",
				Help: "Analysis requests by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

// Middleware records request count and duration per gin route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveUpload counts one stored file.
func (m *Metrics) ObserveUpload(size int64) {
	m.filesUploaded.Inc()
	m.bytesUploaded.Add(float64(size))
}

func (m *Metrics) ObserveMirrorFailure() { m.mirrorFailures.Inc() }

// ObserveAnalysis counts an analysis by outcome: ok, client_error,
// rate_limited, provider_error, parse_error or not_configured.
func (m *Metrics) ObserveAnalysis(outcome string) {
	m.analyses.WithLabelValues(outcome).Inc()
}
