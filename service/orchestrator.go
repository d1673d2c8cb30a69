package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"caseanalysis-backend/events"
	"caseanalysis-backend/logger"
	"caseanalysis-backend/models"
	"caseanalysis-backend/repository"
	"caseanalysis-backend/storage"

	"github.com/google/uuid"
)

// OrchestratorConfig holds the analysis tunables
type OrchestratorConfig struct {
	RunTimeout     time.Duration
	Quorum         int
	ReferenceLimit int
}

// Orchestrator sequences agent runs for a case and owns the per-case lease
type Orchestrator struct {
	catalog     *models.AgentCatalog
	store       repository.Store
	controller  *RunController
	registry    *EvidenceRegistry
	synthesizer *ReportSynthesizer
	contexts    *ContextBuilder
	leases      *leaseTable
	events      events.Publisher
	logger      logger.Logger

	references ReferenceSource
	archive    storage.Storage
}

// OrchestratorOption is a functional option for Orchestrator
type OrchestratorOption func(*Orchestrator)

// OrchestratorWithEvents sets the lifecycle event publisher
func OrchestratorWithEvents(p events.Publisher) OrchestratorOption {
	return func(o *Orchestrator) {
		if p != nil {
			o.events = p
		}
	}
}

// OrchestratorWithLogger sets the logger
func OrchestratorWithLogger(l logger.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// OrchestratorWithReferences sets the legal reference source used in agent context
func OrchestratorWithReferences(r ReferenceSource) OrchestratorOption {
	return func(o *Orchestrator) {
		o.references = r
	}
}

// OrchestratorWithArchive archives generated reports to storage
func OrchestratorWithArchive(s storage.Storage) OrchestratorOption {
	return func(o *Orchestrator) {
		o.archive = s
	}
}

// NewOrchestrator wires the run controller, evidence registry and report synthesizer
func NewOrchestrator(
	catalog *models.AgentCatalog,
	store repository.Store,
	invoker AnalysisInvoker,
	cfg OrchestratorConfig,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		catalog: catalog,
		store:   store,
		leases:  newLeaseTable(),
		events:  events.Nop{},
		logger:  logger.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.controller = NewRunController(store, invoker,
		RunWithTimeout(cfg.RunTimeout),
		RunWithEvents(o.events),
		RunWithLogger(o.logger),
	)
	o.contexts = NewContextBuilder(catalog, store, store, o.references, cfg.ReferenceLimit, o.logger)
	o.registry = NewEvidenceRegistry(catalog, store, store, o.events, o.logger)

	synthOpts := []SynthesizerOption{
		SynthesizerWithQuorum(cfg.Quorum),
		SynthesizerWithEvents(o.events),
		SynthesizerWithLogger(o.logger),
	}
	if o.archive != nil {
		synthOpts = append(synthOpts, SynthesizerWithArchive(o.archive))
	}
	o.synthesizer = NewReportSynthesizer(catalog, store, o.controller, o.contexts, synthOpts...)
	return o
}

// Catalog returns the agent catalog
func (o *Orchestrator) Catalog() *models.AgentCatalog {
	return o.catalog
}

// PipelineResult summarizes one full run of the catalog
type PipelineResult struct {
	CaseID      uuid.UUID                  `json:"case_id"`
	Runs        []*models.AgentAnalysisRun `json:"runs"`
	Report      *models.AggregatedReport   `json:"report,omitempty"`
	ReportError string                     `json:"report_error,omitempty"`
	Cancelled   bool                       `json:"cancelled"`
	StartedAt   time.Time                  `json:"started_at"`
	FinishedAt  time.Time                  `json:"finished_at"`
}

// PipelineTicket acknowledges a pipeline started in the background
type PipelineTicket struct {
	CaseID    uuid.UUID `json:"case_id"`
	StartedAt time.Time `json:"started_at"`
}

func (o *Orchestrator) loadCase(ctx context.Context, caseID uuid.UUID) (*models.Case, error) {
	c, err := o.store.GetCase(ctx, caseID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load case: %w", err)
	}
	return c, nil
}

// RunSingleAgent runs one agent now and returns its recorded run.
// Running the aggregator generates a report.
func (o *Orchestrator) RunSingleAgent(ctx context.Context, caseID uuid.UUID, agentID models.AgentID) (*models.AgentAnalysisRun, error) {
	def, ok := o.catalog.Lookup(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	if def.IsAggregator() {
		res, err := o.GenerateAggregatedReport(ctx, caseID)
		if res != nil {
			return res.Run, err
		}
		return nil, err
	}

	c, err := o.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lease, err := o.leases.acquire(caseID, LeaseSingleAgent, 1, cancel)
	if err != nil {
		return nil, err
	}
	defer o.leases.release(caseID, lease)

	o.leases.begin(lease, def.ID, 1)
	run, err := o.runAgent(runCtx, c, def)
	if err != nil {
		return nil, err
	}
	o.leases.finish(lease, def.ID, run.Status == models.RunStatusCompleted)
	return run, nil
}

// RunAllAgents runs the whole catalog in order and waits for it.
// A failed agent does not stop the agents after it.
func (o *Orchestrator) RunAllAgents(ctx context.Context, caseID uuid.UUID) (*PipelineResult, error) {
	c, err := o.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lease, err := o.leases.acquire(caseID, LeasePipeline, len(o.catalog.Agents()), cancel)
	if err != nil {
		return nil, err
	}
	defer o.leases.release(caseID, lease)

	return o.runPipeline(runCtx, lease, c)
}

// StartAllAgents takes the case lease and runs the pipeline in the background.
// Callers follow along with Progress and LoadRuns.
func (o *Orchestrator) StartAllAgents(caseID uuid.UUID) (*PipelineTicket, error) {
	c, err := o.loadCase(context.Background(), caseID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lease, err := o.leases.acquire(caseID, LeasePipeline, len(o.catalog.Agents()), cancel)
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		defer cancel()
		defer o.leases.release(caseID, lease)

		if _, err := o.runPipeline(runCtx, lease, c); err != nil {
			o.logger.Error("orchestrator", "background pipeline aborted", map[string]interface{}{
				"case":  caseID.String(),
				"error": err.Error(),
			})
		}
	}()

	return &PipelineTicket{CaseID: caseID, StartedAt: lease.progress.StartedAt}, nil
}

// CancelPipeline cancels whatever holds the case lease; false when nothing is running
func (o *Orchestrator) CancelPipeline(caseID uuid.UUID) bool {
	cancelled := o.leases.cancel(caseID)
	if cancelled {
		o.logger.Info("orchestrator", "cancellation requested", map[string]interface{}{
			"case": caseID.String(),
		})
	}
	return cancelled
}

// Progress reports the work in flight for a case
func (o *Orchestrator) Progress(caseID uuid.UUID) (PipelineProgress, bool) {
	return o.leases.snapshot(caseID)
}

func (o *Orchestrator) runPipeline(ctx context.Context, lease *caseLease, c *models.Case) (*PipelineResult, error) {
	result := &PipelineResult{
		CaseID:    c.ID,
		Runs:      []*models.AgentAnalysisRun{},
		StartedAt: time.Now(),
	}
	o.publish(c.ID, events.TypePipelineStarted, nil)
	o.logger.Info("orchestrator", "pipeline started", map[string]interface{}{"case": c.ID.String()})

	for i, def := range o.catalog.Agents() {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		o.leases.begin(lease, def.ID, i+1)

		if def.IsAggregator() {
			gen, err := o.synthesizer.Generate(ctx, c)
			if gen != nil && gen.Run != nil {
				result.Runs = append(result.Runs, gen.Run)
				o.leases.finish(lease, def.ID, gen.Run.Status == models.RunStatusCompleted)
			}
			switch {
			case err == nil:
				result.Report = gen.Report
			case ctx.Err() != nil:
				result.Cancelled = true
			case IsReportRefusal(err):
				result.ReportError = err.Error()
				o.logger.Warn("orchestrator", "aggregated report not produced", map[string]interface{}{
					"case":  c.ID.String(),
					"error": err.Error(),
				})
			default:
				return o.finishPipeline(result, err)
			}
			continue
		}

		run, err := o.runAgent(ctx, c, def)
		if err != nil {
			if ctx.Err() != nil {
				result.Cancelled = true
				break
			}
			return o.finishPipeline(result, err)
		}
		result.Runs = append(result.Runs, run)
		o.leases.finish(lease, def.ID, run.Status == models.RunStatusCompleted)

		if run.Status == models.RunStatusCancelled {
			result.Cancelled = true
			break
		}
		if run.Status == models.RunStatusFailed {
			o.logger.Warn("orchestrator", "agent failed, continuing with next agent", map[string]interface{}{
				"case":  c.ID.String(),
				"agent": string(def.ID),
			})
		}
	}

	if result.Cancelled && result.Report == nil && result.ReportError == "" {
		result.ReportError = "analysis cancelled"
	}
	return o.finishPipeline(result, nil)
}

func (o *Orchestrator) finishPipeline(result *PipelineResult, err error) (*PipelineResult, error) {
	result.FinishedAt = time.Now()
	completed := 0
	for _, run := range result.Runs {
		if run.Status == models.RunStatusCompleted {
			completed++
		}
	}
	data := map[string]interface{}{
		"runs":      len(result.Runs),
		"completed": completed,
		"cancelled": result.Cancelled,
		"report":    result.Report != nil,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	o.publish(result.CaseID, events.TypePipelineFinished, data)
	o.logger.Info("orchestrator", "pipeline finished", map[string]interface{}{
		"case":      result.CaseID.String(),
		"runs":      len(result.Runs),
		"completed": completed,
		"cancelled": result.Cancelled,
	})
	return result, err
}

// runAgent executes one analysis agent and folds a completed run into the evidence registry
func (o *Orchestrator) runAgent(ctx context.Context, c *models.Case, def models.AgentDefinition) (*models.AgentAnalysisRun, error) {
	actx, err := o.contexts.ForAgent(ctx, c, def)
	if err != nil {
		return nil, err
	}

	exec, err := o.controller.Execute(ctx, ExecuteRunRequest{CaseID: c.ID, Agent: def, Context: actx})
	if err != nil {
		return nil, err
	}

	if exec.Run.Status == models.RunStatusCompleted {
		if _, err := o.registry.MergeRun(context.WithoutCancel(ctx), exec.Run); err != nil {
			return nil, fmt.Errorf("failed to merge run %s into evidence registry: %w", exec.Run.ID, err)
		}
	}
	return exec.Run, nil
}

// GenerateAggregatedReport runs the aggregator under the case lease
func (o *Orchestrator) GenerateAggregatedReport(ctx context.Context, caseID uuid.UUID) (*GenerateReportResult, error) {
	c, err := o.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lease, err := o.leases.acquire(caseID, LeaseReport, 1, cancel)
	if err != nil {
		return nil, err
	}
	defer o.leases.release(caseID, lease)

	o.leases.begin(lease, models.AgentAggregator, 1)
	return o.synthesizer.Generate(runCtx, c)
}

// CaseRuns is the run view of a case
type CaseRuns struct {
	// Latest holds the newest run of each agent, in catalog order
	Latest  []*models.AgentAnalysisRun `json:"latest"`
	History []*models.AgentAnalysisRun `json:"history"`
}

// LoadRuns returns the latest run per agent and the full history, newest first
func (o *Orchestrator) LoadRuns(ctx context.Context, caseID uuid.UUID) (*CaseRuns, error) {
	if _, err := o.loadCase(ctx, caseID); err != nil {
		return nil, err
	}
	history, err := o.store.ListRunsByCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	latest, err := o.store.LatestRunsByCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest runs: %w", err)
	}

	byAgent := make(map[models.AgentID]*models.AgentAnalysisRun, len(latest))
	for _, run := range latest {
		byAgent[run.AgentID] = run
	}
	view := &CaseRuns{
		Latest:  []*models.AgentAnalysisRun{},
		History: history,
	}
	if view.History == nil {
		view.History = []*models.AgentAnalysisRun{}
	}
	for _, def := range o.catalog.Agents() {
		if run, ok := byAgent[def.ID]; ok {
			view.Latest = append(view.Latest, run)
		}
	}
	return view, nil
}

// GetRun returns one run
func (o *Orchestrator) GetRun(ctx context.Context, runID uuid.UUID) (*models.AgentAnalysisRun, error) {
	run, err := o.store.GetRun(ctx, runID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return run, nil
}

// LoadEvidenceRegistry returns the case registry ordered by sequence
func (o *Orchestrator) LoadEvidenceRegistry(ctx context.Context, caseID uuid.UUID) ([]*models.EvidenceItem, error) {
	if _, err := o.loadCase(ctx, caseID); err != nil {
		return nil, err
	}
	return o.registry.List(ctx, caseID)
}

// OverrideAdmissibility applies a practitioner decision to one registry item
func (o *Orchestrator) OverrideAdmissibility(ctx context.Context, req OverrideAdmissibilityRequest) (*models.EvidenceItem, error) {
	if _, err := o.loadCase(ctx, req.CaseID); err != nil {
		return nil, err
	}
	return o.registry.OverrideAdmissibility(ctx, req)
}

// LoadAggregatedReport returns the current report of a case
func (o *Orchestrator) LoadAggregatedReport(ctx context.Context, caseID uuid.UUID) (*models.AggregatedReport, error) {
	if _, err := o.loadCase(ctx, caseID); err != nil {
		return nil, err
	}
	report, err := o.store.CurrentReport(ctx, caseID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report: %w", err)
	}
	return report, nil
}

// LoadReportHistory returns every report of a case, newest first
func (o *Orchestrator) LoadReportHistory(ctx context.Context, caseID uuid.UUID) ([]*models.AggregatedReport, error) {
	if _, err := o.loadCase(ctx, caseID); err != nil {
		return nil, err
	}
	reports, err := o.store.ListReports(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	if reports == nil {
		reports = []*models.AggregatedReport{}
	}
	return reports, nil
}

func (o *Orchestrator) publish(caseID uuid.UUID, eventType string, data map[string]interface{}) {
	if err := o.events.Publish(context.Background(), events.NewCaseEvent(eventType, caseID.String(), data)); err != nil {
		o.logger.Warn("orchestrator", "failed to publish event", map[string]interface{}{
			"case":  caseID.String(),
			"type":  eventType,
			"error": err.Error(),
		})
	}
}
