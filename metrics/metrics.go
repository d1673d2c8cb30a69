package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	agentRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caseanalysis_agent_runs_total",
			Help: "Total number of agent runs by terminal status",
		},
		[]string{"agent", "status"},
	)

	invocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "caseanalysis_invocation_duration_seconds",
			Help:    "Duration of analysis invoker calls in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"agent"},
	)

	tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caseanalysis_tokens_total",
			Help: "Total number of model tokens consumed",
		},
		[]string{"agent"},
	)

	leasesActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "caseanalysis_case_leases_active",
			Help: "Number of cases holding an analysis lease, by lease kind",
		},
		[]string{"kind"},
	)

	reportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caseanalysis_reports_total",
			Help: "Aggregated report generation attempts by outcome",
		},
		[]string{"outcome"},
	)

	evidenceMergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caseanalysis_evidence_merges_total",
			Help: "Evidence registry merge operations by action",
		},
		[]string{"action"},
	)
)

// RecordRun counts a finished run
func RecordRun(agent, status string, duration time.Duration, tokens int) {
	agentRunsTotal.WithLabelValues(agent, status).Inc()
	invocationDuration.WithLabelValues(agent).Observe(duration.Seconds())
	if tokens > 0 {
		tokensTotal.WithLabelValues(agent).Add(float64(tokens))
	}
}

// LeaseAcquired and LeaseReleased track active case leases per kind: "pipeline", "single_agent" or "report"
func LeaseAcquired(kind string) {
	leasesActive.WithLabelValues(kind).Inc()
}

func LeaseReleased(kind string) {
	leasesActive.WithLabelValues(kind).Dec()
}

// RecordReport counts a report generation attempt: "generated", "insufficient_input" or "failed"
func RecordReport(outcome string) {
	reportsTotal.WithLabelValues(outcome).Inc()
}

// RecordEvidenceMerge counts registry writes: "created", "merged" or "linked"
func RecordEvidenceMerge(action string, n int) {
	if n <= 0 {
		return
	}
	evidenceMergesTotal.WithLabelValues(action).Add(float64(n))
}
