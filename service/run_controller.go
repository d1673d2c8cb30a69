package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"caseanalysis-backend/events"
	"caseanalysis-backend/logger"
	"caseanalysis-backend/metrics"
	"caseanalysis-backend/models"
	"caseanalysis-backend/repository"

	"github.com/google/uuid"
)

const defaultRunTimeout = 5 * time.Minute

// RunController executes one agent invocation and persists its lifecycle.
// Every run it creates ends in exactly one terminal status.
type RunController struct {
	runs    repository.RunStore
	invoker AnalysisInvoker
	events  events.Publisher
	logger  logger.Logger
	timeout time.Duration
	now     func() time.Time
}

// RunControllerOption is a functional option for RunController
type RunControllerOption func(*RunController)

// RunWithTimeout bounds each invocation
func RunWithTimeout(d time.Duration) RunControllerOption {
	return func(c *RunController) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// RunWithEvents sets the lifecycle event publisher
func RunWithEvents(p events.Publisher) RunControllerOption {
	return func(c *RunController) {
		if p != nil {
			c.events = p
		}
	}
}

// RunWithLogger sets the logger
func RunWithLogger(l logger.Logger) RunControllerOption {
	return func(c *RunController) {
		if l != nil {
			c.logger = l
		}
	}
}

// RunWithClock overrides time.Now
func RunWithClock(now func() time.Time) RunControllerOption {
	return func(c *RunController) {
		c.now = now
	}
}

// NewRunController creates a run controller
func NewRunController(runs repository.RunStore, invoker AnalysisInvoker, opts ...RunControllerOption) *RunController {
	c := &RunController{
		runs:    runs,
		invoker: invoker,
		events:  events.Nop{},
		logger:  logger.NewNop(),
		timeout: defaultRunTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExecuteRunRequest represents a request to run one agent
type ExecuteRunRequest struct {
	CaseID  uuid.UUID
	Agent   models.AgentDefinition
	Context AnalysisContext
}

// ExecuteRunResult carries the persisted run and the interpreted model output
type ExecuteRunResult struct {
	Run    *models.AgentAnalysisRun
	Output ParsedOutput
}

// Execute creates a running run, invokes the agent, and records the terminal outcome.
// Invocation failures, timeouts, and cancellation are recorded on the run, not returned.
// An error is returned only when the run store itself fails.
func (c *RunController) Execute(ctx context.Context, req ExecuteRunRequest) (*ExecuteRunResult, error) {
	if c.runs == nil {
		return nil, errors.New("run repository not set")
	}
	if c.invoker == nil {
		return nil, errors.New("analysis invoker not set")
	}

	// Store writes must land even after the caller cancels
	storeCtx := context.WithoutCancel(ctx)

	startedAt := c.now()
	run := &models.AgentAnalysisRun{
		ID:        uuid.New(),
		CaseID:    req.CaseID,
		AgentID:   req.Agent.ID,
		Status:    models.RunStatusPending,
		Findings:  make(models.Findings, 0),
		Citations: []string{},
	}
	if err := models.ValidateRunTransition(run.Status, models.RunStatusRunning); err != nil {
		return nil, err
	}
	run.Status = models.RunStatusRunning
	run.StartedAt = &startedAt

	if err := c.runs.CreateRun(storeCtx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	c.publish(storeCtx, run)
	c.logger.Info("run_controller", "agent run started", map[string]interface{}{
		"run":   run.ID.String(),
		"case":  req.CaseID.String(),
		"agent": string(req.Agent.ID),
	})

	invokeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	result, invokeErr := c.invoker.Invoke(invokeCtx, InvokeRequest{
		Agent:   req.Agent,
		CaseID:  req.CaseID,
		Context: req.Context,
	})
	timedOut := errors.Is(invokeCtx.Err(), context.DeadlineExceeded)
	cancel()

	outcome, output := c.classify(ctx, result, invokeErr, timedOut)
	if err := models.ValidateRunTransition(run.Status, outcome.Status); err != nil {
		return nil, err
	}
	outcome.Apply(run)

	if err := c.runs.FinishRun(storeCtx, run); err != nil {
		return nil, fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}

	duration := run.CompletedAt.Sub(startedAt)
	metrics.RecordRun(string(run.AgentID), string(run.Status), duration, run.TokensUsed)
	c.publish(storeCtx, run)
	c.logOutcome(run, output, duration)

	return &ExecuteRunResult{Run: run, Output: output}, nil
}

// classify maps the invoker's return into a terminal outcome.
// Caller cancellation wins over a late success.
func (c *RunController) classify(ctx context.Context, result *InvocationResult, invokeErr error, timedOut bool) (models.RunOutcome, ParsedOutput) {
	outcome := models.RunOutcome{CompletedAt: c.now()}

	switch {
	case ctx.Err() != nil:
		outcome.Status = models.RunStatusCancelled
		outcome.ErrorMessage = strPtr("analysis cancelled")
		return outcome, ParsedOutput{}

	case invokeErr != nil && timedOut:
		outcome.Status = models.RunStatusFailed
		outcome.ErrorMessage = strPtr(fmt.Sprintf("analysis timed out after %s", c.timeout))
		return outcome, ParsedOutput{}

	case invokeErr != nil:
		outcome.Status = models.RunStatusFailed
		outcome.ErrorMessage = strPtr(invokeErr.Error())
		return outcome, ParsedOutput{}

	case result == nil:
		outcome.Status = models.RunStatusFailed
		outcome.ErrorMessage = strPtr("invoker returned no result")
		return outcome, ParsedOutput{}
	}

	output := result.Output
	if output.Kind == "" {
		output = ParseAgentOutput(result.ResultText)
	}

	outcome.Status = models.RunStatusCompleted
	outcome.Result = result.ResultText
	outcome.Summary = result.Summary
	outcome.TokensUsed = result.TokensUsed
	outcome.OutputKind = output.Kind
	if output.Kind != models.OutputParseFailed {
		outcome.Findings = result.Findings
		outcome.Citations = result.Citations
	}
	return outcome, output
}

func (c *RunController) publish(ctx context.Context, run *models.AgentAnalysisRun) {
	if err := c.events.Publish(ctx, events.NewRunEvent(run)); err != nil {
		c.logger.Warn("run_controller", "failed to publish run event", map[string]interface{}{
			"run":   run.ID.String(),
			"error": err.Error(),
		})
	}
}

func (c *RunController) logOutcome(run *models.AgentAnalysisRun, output ParsedOutput, duration time.Duration) {
	details := map[string]interface{}{
		"run":         run.ID.String(),
		"case":        run.CaseID.String(),
		"agent":       string(run.AgentID),
		"status":      string(run.Status),
		"duration_ms": duration.Milliseconds(),
	}
	switch {
	case run.Status == models.RunStatusCompleted && output.Kind == models.OutputParseFailed:
		details["parse_error"] = output.ParseError
		c.logger.Warn("run_controller", "agent output was not valid JSON, kept raw text", details)
	case run.Status == models.RunStatusCompleted:
		details["findings"] = len(run.Findings)
		details["tokens"] = run.TokensUsed
		c.logger.Info("run_controller", "agent run completed", details)
	default:
		if run.ErrorMessage != nil {
			details["error"] = *run.ErrorMessage
		}
		c.logger.Warn("run_controller", "agent run did not complete", details)
	}
}

func strPtr(s string) *string {
	return &s
}
