package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}

func TestRecordRun(t *testing.T) {
	before := value(t, agentRunsTotal.WithLabelValues("metrics_test_agent", "completed"))
	RecordRun("metrics_test_agent", "completed", 2*time.Second, 150)
	RecordRun("metrics_test_agent", "completed", time.Second, 0)

	assert.Equal(t, before+2, value(t, agentRunsTotal.WithLabelValues("metrics_test_agent", "completed")))
	assert.Equal(t, float64(150), value(t, tokensTotal.WithLabelValues("metrics_test_agent")))
}

func TestLeaseGaugeIsPerKind(t *testing.T) {
	pipelines := value(t, leasesActive.WithLabelValues("pipeline"))
	reports := value(t, leasesActive.WithLabelValues("report"))

	LeaseAcquired("pipeline")
	LeaseAcquired("report")
	LeaseAcquired("report")
	LeaseReleased("report")

	assert.Equal(t, pipelines+1, value(t, leasesActive.WithLabelValues("pipeline")))
	assert.Equal(t, reports+1, value(t, leasesActive.WithLabelValues("report")))
	LeaseReleased("pipeline")
	LeaseReleased("report")
}

func TestRecordEvidenceMergeIgnoresZero(t *testing.T) {
	before := value(t, evidenceMergesTotal.WithLabelValues("linked"))
	RecordEvidenceMerge("linked", 0)
	RecordEvidenceMerge("linked", 3)
	assert.Equal(t, before+3, value(t, evidenceMergesTotal.WithLabelValues("linked")))
}
