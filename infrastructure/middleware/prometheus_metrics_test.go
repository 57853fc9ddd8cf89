package middleware

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/priceflow/pam-engine/internal/ports"
)

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(reg)

	labels := map[string]string{"tenant": "acme", "status": "COMPLETED"}

	pm.RecordLatency("batch_execution", 150*time.Millisecond, labels)
	pm.RecordCounter("pam_batch_duplicates_total", 1, labels)
	pm.RecordCounter("pam_batch_duplicates_total", 2, labels)
	pm.RecordGauge("pam_batches_running", 3, labels)

	t.Run("histogram observes latency", func(t *testing.T) {
		count := testutil.CollectAndCount(pm.executionLatency, "pam_operation_duration_seconds")
		assert.Equal(t, 1, count)
	})

	t.Run("counter accumulates", func(t *testing.T) {
		got := testutil.ToFloat64(pm.operationCounter.WithLabelValues("pam_batch_duplicates_total", "acme"))
		assert.Equal(t, 3.0, got)
	})

	t.Run("gauge sets", func(t *testing.T) {
		got := testutil.ToFloat64(pm.systemGauges.WithLabelValues("pam_batches_running", "acme"))
		assert.Equal(t, 3.0, got)
	})
}

func TestPrometheusMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusMetrics(reg)

	families, err := reg.Gather()
	assert.NoError(t, err)
	// Vectors with no observations gather empty; registration itself
	// must not fail or panic on a fresh registry.
	assert.NotNil(t, families)

	assert.Panics(t, func() { NewPrometheusMetrics(reg) },
		"duplicate registration on the same registry must panic via promauto")
}
