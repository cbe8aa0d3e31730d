// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// Collector
// =============================================================================

// Collector records Prometheus metrics for the service.
// All Record methods are safe to call on a nil *Collector.
type Collector struct {
	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Jobs and workflow
	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	stateTransitions *prometheus.CounterVec

	// Inference
	inferenceRequestsTotal   *prometheus.CounterVec
	inferenceRequestDuration *prometheus.HistogramVec

	// Browser and downloads
	browserSessionsActive prometheus.Gauge
	browserSessionsTotal  *prometheus.CounterVec
	downloadBytes         prometheus.Histogram

	// Intake
	intakeMessagesTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the collector's metrics on the default registry.
// namespace must be unique per process.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// Jobs and workflow
	c.jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of finished retrieval jobs",
		},
		[]string{"status", "code"},
	)

	c.jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Retrieval job duration in seconds",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 90, 120, 180, 300},
		},
		[]string{"status"},
	)

	c.stateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_state_transitions_total",
			Help:      "Total number of workflow state transitions",
		},
		[]string{"from", "to"},
	)

	// Inference
	c.inferenceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_requests_total",
			Help:      "Total number of vision/document inference calls",
		},
		[]string{"kind", "status"},
	)

	c.inferenceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_request_duration_seconds",
			Help:      "Inference call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	// Browser and downloads
	c.browserSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browser_sessions_active",
			Help:      "Number of open browser sessions",
		},
	)

	c.browserSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_sessions_total",
			Help:      "Browser session lifecycle events",
		},
		[]string{"event"}, // opened, closed, open_failed
	)

	c.downloadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_bytes",
			Help:      "Size of captured documents in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	// Intake
	c.intakeMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intake_messages_total",
			Help:      "Job messages received on the message channel",
		},
		[]string{"result"}, // accepted, malformed, invalid, rejected
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// HTTP
// =============================================================================

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// Jobs and workflow
// =============================================================================

// RecordJob records a finished job. code is empty for successful jobs.
func (c *Collector) RecordJob(status, code string, duration time.Duration) {
	if c == nil {
		return
	}
	if code == "" {
		code = "none"
	}
	c.jobsTotal.WithLabelValues(status, code).Inc()
	c.jobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStateTransition records a workflow state change.
func (c *Collector) RecordStateTransition(from, to string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

// =============================================================================
// Inference
// =============================================================================

// RecordInference records one solver or interpreter call.
func (c *Collector) RecordInference(kind, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.inferenceRequestsTotal.WithLabelValues(kind, status).Inc()
	c.inferenceRequestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// =============================================================================
// Browser
// =============================================================================

// SessionOpened records a browser session start.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.browserSessionsActive.Inc()
	c.browserSessionsTotal.WithLabelValues("opened").Inc()
}

// SessionClosed records a browser session release.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.browserSessionsActive.Dec()
	c.browserSessionsTotal.WithLabelValues("closed").Inc()
}

// SessionOpenFailed records a session that could not be started.
func (c *Collector) SessionOpenFailed() {
	if c == nil {
		return
	}
	c.browserSessionsTotal.WithLabelValues("open_failed").Inc()
}

// RecordDownload records the size of a captured document.
func (c *Collector) RecordDownload(size int) {
	if c == nil {
		return
	}
	c.downloadBytes.Observe(float64(size))
}

// =============================================================================
// Intake
// =============================================================================

// RecordIntakeMessage records how a channel message was handled.
func (c *Collector) RecordIntakeMessage(result string) {
	if c == nil {
		return
	}
	c.intakeMessagesTotal.WithLabelValues(result).Inc()
}

// =============================================================================
// Helpers
// =============================================================================

func statusCode(code int) string {
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
