package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeLeases(t *testing.T, kind LeaseKind) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "caseanalysis_case_leases_active" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "kind" && label.GetValue() == string(kind) {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func TestLeaseTableIsExclusivePerCase(t *testing.T) {
	table := newLeaseTable()
	caseID := uuid.New()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := table.acquire(caseID, LeaseReport, 1, cancel)
	require.NoError(t, err)
	_, err = table.acquire(caseID, LeasePipeline, 9, cancel)
	assert.ErrorIs(t, err, ErrCaseBusy)

	table.release(caseID, l)
	table.release(caseID, l)
	l, err = table.acquire(caseID, LeasePipeline, 9, cancel)
	require.NoError(t, err)
	table.release(caseID, l)
}

func TestLeaseGaugeCountsByKind(t *testing.T) {
	table := newLeaseTable()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipelines := activeLeases(t, LeasePipeline)
	singles := activeLeases(t, LeaseSingleAgent)

	first, second := uuid.New(), uuid.New()
	single, err := table.acquire(first, LeaseSingleAgent, 1, cancel)
	require.NoError(t, err)
	pipeline, err := table.acquire(second, LeasePipeline, 9, cancel)
	require.NoError(t, err)

	assert.Equal(t, pipelines+1, activeLeases(t, LeasePipeline))
	assert.Equal(t, singles+1, activeLeases(t, LeaseSingleAgent))

	table.release(first, single)
	table.release(second, pipeline)
	assert.Equal(t, pipelines, activeLeases(t, LeasePipeline))
	assert.Equal(t, singles, activeLeases(t, LeaseSingleAgent))
}
