package service

import (
	"context"
	"io"
	"testing"
	"time"

	"caseanalysis-backend/logger"
	"caseanalysis-backend/models"
	"caseanalysis-backend/repository"
	"caseanalysis-backend/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportArchivedToStorage(t *testing.T) {
	store := repository.NewMemoryStore()
	c := seedCase(t, store)
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	inv := newFakeInvoker()
	inv.on(models.AgentAggregator, aggregatorReply)
	o := NewOrchestrator(models.DefaultCatalog(), store, inv, OrchestratorConfig{RunTimeout: time.Second},
		OrchestratorWithLogger(logger.NewNop()),
		OrchestratorWithArchive(local),
	)
	ctx := context.Background()

	for _, def := range models.DefaultCatalog().AnalysisAgents()[:3] {
		_, err := o.RunSingleAgent(ctx, c.ID, def.ID)
		require.NoError(t, err)
	}
	res, err := o.GenerateAggregatedReport(ctx, c.ID)
	require.NoError(t, err)

	require.NotNil(t, res.Report.ArchivePath)
	assert.Equal(t, storage.ReportArchiveKey(c.ID, res.Report.ID), *res.Report.ArchivePath)

	rc, err := local.Download(ctx, *res.Report.ArchivePath)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, string(body), "# State v. Doe")
	assert.Contains(t, string(body), "## Executive Summary\n\nSearch evidence is likely inadmissible")
	assert.Contains(t, string(body), "## Defense Strategy\n\nMove to suppress")
	assert.NotContains(t, string(body), "## Violations")
}

func TestBuildSectionsFallsBackToRawText(t *testing.T) {
	run := &models.AgentAnalysisRun{Result: "First paragraph.\n\nSecond paragraph."}

	sections := buildSections(run, ParsedOutput{Kind: models.OutputRawText})
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", sections.FullReport)
	assert.Equal(t, "First paragraph.", sections.ExecutiveSummary)

	summary := "short"
	run.Summary = &summary
	sections = buildSections(run, ParsedOutput{Kind: models.OutputParseFailed})
	assert.Equal(t, "short", sections.ExecutiveSummary)
}

func TestIsReportRefusal(t *testing.T) {
	assert.True(t, IsReportRefusal(&InsufficientInputError{Required: 3}))
	assert.True(t, IsReportRefusal(ErrAggregatorFailed))
	assert.False(t, IsReportRefusal(ErrCaseNotFound))
}
