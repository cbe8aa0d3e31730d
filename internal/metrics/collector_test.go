package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// Collector
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.jobsTotal)
	assert.NotNil(t, collector.stateTransitions)
	assert.NotNil(t, collector.inferenceRequestsTotal)
	assert.NotNil(t, collector.browserSessionsActive)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("POST", "/scrape", 200, 100*time.Millisecond, 64, 2048)
	collector.RecordHTTPRequest("POST", "/scrape", 200, 150*time.Millisecond, 64, 2048)
	collector.RecordHTTPRequest("POST", "/scrape", 500, time.Second, 64, 128)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/scrape", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/scrape", "5xx")))
}

func TestCollector_RecordJob(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordJob("completed", "", 20*time.Second)
	collector.RecordJob("failed", "DOWNLOAD_TIMEOUT", 40*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.jobsTotal.WithLabelValues("completed", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.jobsTotal.WithLabelValues("failed", "DOWNLOAD_TIMEOUT")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.jobDuration))
}

func TestCollector_RecordStateTransition(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordStateTransition("init", "navigated")
	collector.RecordStateTransition("init", "navigated")
	collector.RecordStateTransition("navigated", "failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.stateTransitions.WithLabelValues("init", "navigated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.stateTransitions.WithLabelValues("navigated", "failed")))
}

func TestCollector_RecordInference(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordInference("challenge", "success", 300*time.Millisecond)
	collector.RecordInference("document", "error", 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.inferenceRequestsTotal.WithLabelValues("challenge", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.inferenceRequestsTotal.WithLabelValues("document", "error")))
}

func TestCollector_Sessions(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.SessionOpened()
	collector.SessionOpened()
	collector.SessionClosed()
	collector.SessionOpenFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.browserSessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.browserSessionsTotal.WithLabelValues("opened")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.browserSessionsTotal.WithLabelValues("closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.browserSessionsTotal.WithLabelValues("open_failed")))
}

func TestCollector_DownloadAndIntake(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDownload(4096)
	collector.RecordIntakeMessage("accepted")
	collector.RecordIntakeMessage("malformed")

	assert.Equal(t, 1, testutil.CollectAndCount(collector.downloadBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.intakeMessagesTotal.WithLabelValues("accepted")))
}

func TestCollector_NilSafe(t *testing.T) {
	var collector *Collector
	assert.NotPanics(t, func() {
		collector.RecordHTTPRequest("GET", "/health", 200, time.Millisecond, 0, 0)
		collector.RecordJob("completed", "", time.Second)
		collector.RecordStateTransition("a", "b")
		collector.RecordInference("challenge", "success", time.Second)
		collector.SessionOpened()
		collector.SessionClosed()
		collector.SessionOpenFailed()
		collector.RecordDownload(1)
		collector.RecordIntakeMessage("accepted")
	})
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
		{100, "unknown"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("code_%d", tt.code), func(t *testing.T) {
			assert.Equal(t, tt.expected, statusCode(tt.code))
		})
	}
}
