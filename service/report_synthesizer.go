package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"caseanalysis-backend/events"
	"caseanalysis-backend/logger"
	"caseanalysis-backend/metrics"
	"caseanalysis-backend/models"
	"caseanalysis-backend/repository"
	"caseanalysis-backend/storage"

	"github.com/google/uuid"
)

const defaultQuorum = 3

// ReportSynthesizer produces aggregated reports from the latest completed agent runs
type ReportSynthesizer struct {
	catalog    *models.AgentCatalog
	runs       repository.RunStore
	evidence   repository.EvidenceStore
	reports    repository.ReportStore
	controller *RunController
	contexts   *ContextBuilder
	archive    storage.Storage
	quorum     int
	events     events.Publisher
	logger     logger.Logger
	now        func() time.Time
}

// SynthesizerOption is a functional option for ReportSynthesizer
type SynthesizerOption func(*ReportSynthesizer)

// SynthesizerWithQuorum sets how many distinct completed agents a report needs
func SynthesizerWithQuorum(n int) SynthesizerOption {
	return func(s *ReportSynthesizer) {
		if n > 0 {
			s.quorum = n
		}
	}
}

// SynthesizerWithArchive stores a markdown copy of every report
func SynthesizerWithArchive(store storage.Storage) SynthesizerOption {
	return func(s *ReportSynthesizer) {
		s.archive = store
	}
}

// SynthesizerWithEvents sets the event publisher
func SynthesizerWithEvents(p events.Publisher) SynthesizerOption {
	return func(s *ReportSynthesizer) {
		if p != nil {
			s.events = p
		}
	}
}

// SynthesizerWithLogger sets the logger
func SynthesizerWithLogger(l logger.Logger) SynthesizerOption {
	return func(s *ReportSynthesizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewReportSynthesizer creates a synthesizer
func NewReportSynthesizer(
	catalog *models.AgentCatalog,
	store interface {
		repository.RunStore
		repository.EvidenceStore
		repository.ReportStore
	},
	controller *RunController,
	contexts *ContextBuilder,
	opts ...SynthesizerOption,
) *ReportSynthesizer {
	s := &ReportSynthesizer{
		catalog:    catalog,
		runs:       store,
		evidence:   store,
		reports:    store,
		controller: controller,
		contexts:   contexts,
		quorum:     defaultQuorum,
		events:     events.Nop{},
		logger:     logger.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateReportResult holds the aggregator run and, when it completed, the new report
type GenerateReportResult struct {
	Report *models.AggregatedReport `json:"report,omitempty"`
	Run    *models.AgentAnalysisRun `json:"run"`
}

// Generate runs the aggregator over the latest completed run of each analysis agent.
// It refuses with *InsufficientInputError below quorum, and returns ErrAggregatorFailed
// (with the recorded run) when the aggregator itself does not complete.
// A new report supersedes the previous one only after it is stored.
func (s *ReportSynthesizer) Generate(ctx context.Context, c *models.Case) (*GenerateReportResult, error) {
	aggregator, ok := s.catalog.Lookup(models.AgentAggregator)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, models.AgentAggregator)
	}

	sources, err := s.sourceRuns(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if len(sources) < s.quorum {
		completed := make([]models.AgentID, len(sources))
		for i, run := range sources {
			completed[i] = run.AgentID
		}
		metrics.RecordReport("insufficient_input")
		return nil, &InsufficientInputError{Completed: completed, Required: s.quorum}
	}

	registry, err := s.evidence.ListEvidence(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load evidence registry: %w", err)
	}

	exec, err := s.controller.Execute(ctx, ExecuteRunRequest{
		CaseID:  c.ID,
		Agent:   aggregator,
		Context: s.contexts.ForAggregator(c, sources, registry),
	})
	if err != nil {
		return nil, err
	}

	run := exec.Run
	if run.Status != models.RunStatusCompleted {
		metrics.RecordReport("failed")
		reason := string(run.Status)
		if run.ErrorMessage != nil {
			reason = *run.ErrorMessage
		}
		return &GenerateReportResult{Run: run}, fmt.Errorf("%w: %s", ErrAggregatorFailed, reason)
	}

	sourceIDs := make(models.RunIDs, len(sources))
	for i, src := range sources {
		sourceIDs[i] = src.ID
	}
	report := &models.AggregatedReport{
		ID:              uuid.New(),
		CaseID:          c.ID,
		AggregatorRunID: run.ID,
		Sections:        buildSections(run, exec.Output),
		SourceRunIDs:    sourceIDs,
		GeneratedAt:     s.now(),
	}

	storeCtx := context.WithoutCancel(ctx)
	s.archiveReport(storeCtx, c, report)

	if err := s.reports.CreateReport(storeCtx, report); err != nil {
		metrics.RecordReport("failed")
		return nil, fmt.Errorf("failed to store report: %w", err)
	}
	metrics.RecordReport("generated")

	event := events.NewCaseEvent(events.TypeReportGenerated, c.ID.String(), map[string]interface{}{
		"report_id":         report.ID.String(),
		"aggregator_run_id": run.ID.String(),
		"source_runs":       len(sourceIDs),
	})
	if err := s.events.Publish(storeCtx, event); err != nil {
		s.logger.Warn("report_synthesizer", "failed to publish report event", map[string]interface{}{
			"case":  c.ID.String(),
			"error": err.Error(),
		})
	}
	s.logger.Info("report_synthesizer", "aggregated report generated", map[string]interface{}{
		"case":        c.ID.String(),
		"report":      report.ID.String(),
		"source_runs": len(sourceIDs),
	})

	return &GenerateReportResult{Report: report, Run: run}, nil
}

// sourceRuns returns the latest run of each analysis agent when that run completed, in catalog order
func (s *ReportSynthesizer) sourceRuns(ctx context.Context, caseID uuid.UUID) ([]*models.AgentAnalysisRun, error) {
	latest, err := s.runs.LatestRunsByCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest runs: %w", err)
	}
	byAgent := make(map[models.AgentID]*models.AgentAnalysisRun, len(latest))
	for _, run := range latest {
		byAgent[run.AgentID] = run
	}

	var sources []*models.AgentAnalysisRun
	for _, def := range s.catalog.AnalysisAgents() {
		if run, ok := byAgent[def.ID]; ok && run.Status == models.RunStatusCompleted {
			sources = append(sources, run)
		}
	}
	return sources, nil
}

func (s *ReportSynthesizer) archiveReport(ctx context.Context, c *models.Case, report *models.AggregatedReport) {
	if s.archive == nil {
		return
	}
	key := storage.ReportArchiveKey(c.ID, report.ID)
	path, err := s.archive.Upload(ctx, key, "text/markdown", strings.NewReader(RenderReportMarkdown(c, report)))
	if err != nil {
		s.logger.Warn("report_synthesizer", "failed to archive report", map[string]interface{}{
			"case":  c.ID.String(),
			"key":   key,
			"error": err.Error(),
		})
		return
	}
	report.ArchivePath = &path
}

// buildSections takes structured sections when the aggregator returned them and falls back to its raw text
func buildSections(run *models.AgentAnalysisRun, output ParsedOutput) models.ReportSections {
	var sections models.ReportSections
	if output.Kind == models.OutputStructured && output.Structured.Sections != nil {
		sections = *output.Structured.Sections
	}
	if sections.FullReport == "" {
		sections.FullReport = run.Result
	}
	if sections.ExecutiveSummary == "" {
		if run.Summary != nil {
			sections.ExecutiveSummary = *run.Summary
		} else {
			sections.ExecutiveSummary = firstParagraph(sections.FullReport)
		}
	}
	return sections
}

func firstParagraph(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "\n\n"); i >= 0 {
		return strings.TrimSpace(text[:i])
	}
	return text
}

// RenderReportMarkdown formats a report for archiving and download
func RenderReportMarkdown(c *models.Case, report *models.AggregatedReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", c.Title)
	if c.CaseNumber != nil && *c.CaseNumber != "" {
		fmt.Fprintf(&b, "Case number: %s\n\n", *c.CaseNumber)
	}
	fmt.Fprintf(&b, "Generated: %s\n\n", report.GeneratedAt.UTC().Format(time.RFC3339))

	for _, section := range []struct {
		title string
		body  string
	}{
		{"Executive Summary", report.Sections.ExecutiveSummary},
		{"Evidence", report.Sections.EvidenceSummary},
		{"Violations", report.Sections.ViolationsSummary},
		{"Defense Strategy", report.Sections.DefenseStrategy},
		{"Prosecution Weaknesses", report.Sections.ProsecutionWeaknesses},
		{"Recommendations", report.Sections.Recommendations},
		{"Full Report", report.Sections.FullReport},
	} {
		if strings.TrimSpace(section.body) == "" {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", section.title, strings.TrimSpace(section.body))
	}
	return b.String()
}

// IsReportRefusal reports whether err means no report could be produced from current input
func IsReportRefusal(err error) bool {
	return errors.Is(err, ErrInsufficientInput) || errors.Is(err, ErrAggregatorFailed)
}
