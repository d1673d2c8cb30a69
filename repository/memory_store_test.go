package repository

import (
	"context"
	"testing"
	"time"

	"caseanalysis-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCase(t *testing.T, s *MemoryStore) *models.Case {
	t.Helper()
	c := &models.Case{Title: "State v. Doe", Status: models.CaseStatusOpen}
	require.NoError(t, s.CreateCase(context.Background(), c))
	return c
}

func TestMemoryStoreRunsNewestFirstAndLatestPerAgent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newCase(t, s)

	first := &models.AgentAnalysisRun{CaseID: c.ID, AgentID: models.AgentEvidenceCollector, Status: models.RunStatusRunning}
	second := &models.AgentAnalysisRun{CaseID: c.ID, AgentID: models.AgentEvidenceCollector, Status: models.RunStatusRunning}
	other := &models.AgentAnalysisRun{CaseID: c.ID, AgentID: models.AgentDefenseStrategy, Status: models.RunStatusRunning}
	for _, run := range []*models.AgentAnalysisRun{first, second, other} {
		require.NoError(t, s.CreateRun(ctx, run))
	}

	all, err := s.ListRunsByCase(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, other.ID, all[0].ID)
	assert.Equal(t, first.ID, all[2].ID)

	latest, err := s.LatestRunsByCase(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	ids := []uuid.UUID{latest[0].ID, latest[1].ID}
	assert.Contains(t, ids, second.ID)
	assert.Contains(t, ids, other.ID)
}

func TestMemoryStoreFinishRunOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newCase(t, s)

	run := &models.AgentAnalysisRun{CaseID: c.ID, AgentID: models.AgentAggregator, Status: models.RunStatusRunning}
	require.NoError(t, s.CreateRun(ctx, run))

	models.RunOutcome{Status: models.RunStatusCompleted, Result: "done", CompletedAt: time.Now()}.Apply(run)
	require.NoError(t, s.FinishRun(ctx, run))

	run.Result = "rewritten"
	assert.ErrorIs(t, s.FinishRun(ctx, run), ErrNotFound)

	stored, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "done", stored.Result)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newCase(t, s)

	run := &models.AgentAnalysisRun{CaseID: c.ID, AgentID: models.AgentAggregator, Status: models.RunStatusRunning}
	require.NoError(t, s.CreateRun(ctx, run))

	loaded, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	loaded.Status = models.RunStatusFailed

	again, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, again.Status)
}

func TestMemoryStoreEvidenceSequencePerCase(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := newCase(t, s)
	b := newCase(t, s)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.CreateEvidence(ctx, &models.EvidenceItem{CaseID: a.ID, Admissibility: models.AdmissibilityPendingReview}))
	}
	item := &models.EvidenceItem{CaseID: b.ID, Admissibility: models.AdmissibilityPendingReview}
	require.NoError(t, s.CreateEvidence(ctx, item))
	assert.Equal(t, 1, item.Sequence)

	items, err := s.ListEvidence(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].Sequence)
	assert.Equal(t, 2, items[1].Sequence)
}

func TestMemoryStoreReportSupersede(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newCase(t, s)

	first := &models.AggregatedReport{CaseID: c.ID, GeneratedAt: time.Now()}
	second := &models.AggregatedReport{CaseID: c.ID, GeneratedAt: time.Now().Add(time.Second)}
	require.NoError(t, s.CreateReport(ctx, first))
	require.NoError(t, s.CreateReport(ctx, second))

	current, err := s.CurrentReport(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)

	all, err := s.ListReports(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.NotNil(t, all[1].SupersededAt)
	assert.Nil(t, all[0].SupersededAt)
}

func TestMemoryStoreDeleteCaseCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newCase(t, s)

	vol := &models.CaseVolume{CaseID: c.ID, Title: "Volume 1"}
	require.NoError(t, s.CreateVolume(ctx, vol))
	require.NoError(t, s.DeleteCase(ctx, c.ID))

	_, err := s.GetVolume(ctx, vol.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteCase(ctx, c.ID), ErrNotFound)
}
