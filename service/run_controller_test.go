package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"caseanalysis-backend/events"
	"caseanalysis-backend/logger"
	"caseanalysis-backend/models"
	"caseanalysis-backend/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.types = append(p.types, e.EventType())
	return nil
}

func newTestController(store *repository.MemoryStore, inv AnalysisInvoker, opts ...RunControllerOption) *RunController {
	opts = append([]RunControllerOption{RunWithLogger(logger.NewNop())}, opts...)
	return NewRunController(store, inv, opts...)
}

func TestRunControllerCompletesStructuredRun(t *testing.T) {
	store := repository.NewMemoryStore()
	c := seedCase(t, store)
	inv := newFakeInvoker()
	inv.on(models.AgentEvidenceCollector, func(context.Context, InvokeRequest) (*InvocationResult, error) {
		return structuredResult(StructuredOutput{
			Summary:   "two items",
			Analysis:  "full text",
			Citations: []string{"CPC Art. 75"},
			Findings:  models.Findings{{Severity: models.SeverityHigh, Title: "Search protocol"}},
		}), nil
	})
	pub := &recordingPublisher{}

	res, err := newTestController(store, inv, RunWithEvents(pub)).Execute(context.Background(), ExecuteRunRequest{
		CaseID: c.ID,
		Agent:  agentDef(t, models.AgentEvidenceCollector),
	})
	require.NoError(t, err)

	run := res.Run
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, models.OutputStructured, run.OutputKind)
	assert.Equal(t, "full text", run.Result)
	assert.Len(t, run.Findings, 1)
	assert.Equal(t, 100, run.TokensUsed)
	assert.NotNil(t, run.StartedAt)
	assert.NotNil(t, run.CompletedAt)
	assert.Nil(t, run.ErrorMessage)
	assert.Equal(t, []string{events.TypeRunStarted, events.TypeRunCompleted}, pub.types)

	stored, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	assert.Equal(t, "two items", *stored.Summary)
}

func TestRunControllerRecordsInvokerFailure(t *testing.T) {
	store := repository.NewMemoryStore()
	c := seedCase(t, store)
	inv := newFakeInvoker()
	inv.on(models.AgentChargeQualification, func(context.Context, InvokeRequest) (*InvocationResult, error) {
		return nil, errors.New("prompt blocked: SAFETY")
	})

	res, err := newTestController(store, inv).Execute(context.Background(), ExecuteRunRequest{
		CaseID: c.ID,
		Agent:  agentDef(t, models.AgentChargeQualification),
	})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusFailed, res.Run.Status)
	require.NotNil(t, res.Run.ErrorMessage)
	assert.Equal(t, "prompt blocked: SAFETY", *res.Run.ErrorMessage)
	assert.Empty(t, res.Run.Findings)
}

func TestRunControllerTimeout(t *testing.T) {
	store := repository.NewMemoryStore()
	c := seedCase(t, store)
	inv := newFakeInvoker()
	inv.on(models.AgentProceduralViolations, waitForDeadline)

	res, err := newTestController(store, inv, RunWithTimeout(20*time.Millisecond)).Execute(context.Background(), ExecuteRunRequest{
		CaseID: c.ID,
		Agent:  agentDef(t, models.AgentProceduralViolations),
	})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusFailed, res.Run.Status)
	require.NotNil(t, res.Run.ErrorMessage)
	assert.Equal(t, "analysis timed out after 20ms", *res.Run.ErrorMessage)
	assert.NotNil(t, res.Run.CompletedAt)
}

func TestRunControllerCancellation(t *testing.T) {
	store := repository.NewMemoryStore()
	c := seedCase(t, store)
	inv := newFakeInvoker()
	ctx, cancel := context.WithCancel(context.Background())
	inv.on(models.AgentDefenseStrategy, func(ctx context.Context, req InvokeRequest) (*InvocationResult, error) {
		cancel()
		return waitForDeadline(ctx, req)
	})

	res, err := newTestController(store, inv).Execute(ctx, ExecuteRunRequest{
		CaseID: c.ID,
		Agent:  agentDef(t, models.AgentDefenseStrategy),
	})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, res.Run.Status)

	stored, err := store.GetRun(context.Background(), res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, stored.Status)
}

func TestRunControllerLateSuccessAfterCancelIsCancelled(t *testing.T) {
	store := repository.NewMemoryStore()
	c := seedCase(t, store)
	inv := newFakeInvoker()
	ctx, cancel := context.WithCancel(context.Background())
	inv.on(models.AgentDefenseStrategy, func(context.Context, InvokeRequest) (*InvocationResult, error) {
		cancel()
		return NewInvocationResult(`{"summary":"late"}`, 5), nil
	})

	res, err := newTestController(store, inv).Execute(ctx, ExecuteRunRequest{
		CaseID: c.ID,
		Agent:  agentDef(t, models.AgentDefenseStrategy),
	})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, res.Run.Status)
	assert.Empty(t, res.Run.Result)
}

func TestRunControllerParseFailureKeepsRawText(t *testing.T) {
	store := repository.NewMemoryStore()
	c := seedCase(t, store)
	inv := newFakeInvoker()
	inv.on(models.AgentRightsViolations, func(context.Context, InvokeRequest) (*InvocationResult, error) {
		return NewInvocationResult(`{"summary": "cut off`, 9), nil
	})

	res, err := newTestController(store, inv).Execute(context.Background(), ExecuteRunRequest{
		CaseID: c.ID,
		Agent:  agentDef(t, models.AgentRightsViolations),
	})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, res.Run.Status)
	assert.Equal(t, models.OutputParseFailed, res.Run.OutputKind)
	assert.Equal(t, `{"summary": "cut off`, res.Run.Result)
	assert.Empty(t, res.Run.Findings)
	assert.Equal(t, models.OutputParseFailed, res.Output.Kind)
}

func TestRunControllerRetryCreatesNewRun(t *testing.T) {
	store := repository.NewMemoryStore()
	c := seedCase(t, store)
	inv := newFakeInvoker()
	fail := true
	inv.on(models.AgentEvidenceCollector, func(ctx context.Context, req InvokeRequest) (*InvocationResult, error) {
		if fail {
			return nil, errors.New("503 unavailable")
		}
		return inv.fallback(ctx, req)
	})
	controller := newTestController(store, inv)
	req := ExecuteRunRequest{CaseID: c.ID, Agent: agentDef(t, models.AgentEvidenceCollector)}

	first, err := controller.Execute(context.Background(), req)
	require.NoError(t, err)
	fail = false
	second, err := controller.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, first.Run.ID, second.Run.ID)

	history, err := store.ListRunsByCase(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.RunStatusCompleted, history[0].Status)
	assert.Equal(t, models.RunStatusFailed, history[1].Status)
}

func TestRunControllerRequiresDependencies(t *testing.T) {
	_, err := NewRunController(nil, newFakeInvoker()).Execute(context.Background(), ExecuteRunRequest{})
	assert.EqualError(t, err, "run repository not set")

	_, err = NewRunController(repository.NewMemoryStore(), nil).Execute(context.Background(), ExecuteRunRequest{})
	assert.EqualError(t, err, "analysis invoker not set")
}

func TestRunControllerKeepsInvokerFindingsWithoutParsedOutput(t *testing.T) {
	store := repository.NewMemoryStore()
	c := seedCase(t, store)
	inv := newFakeInvoker()
	inv.on(models.AgentEvidenceCollector, func(context.Context, InvokeRequest) (*InvocationResult, error) {
		return &InvocationResult{
			ResultText: "Search protocol reviewed",
			Findings:   models.Findings{evidenceFinding("Search protocol", "E-1", "")},
			Citations:  []string{"CPC art. 5"},
			TokensUsed: 42,
		}, nil
	})

	res, err := newTestController(store, inv).Execute(context.Background(), ExecuteRunRequest{
		CaseID: c.ID,
		Agent:  agentDef(t, models.AgentEvidenceCollector),
	})
	require.NoError(t, err)

	run := res.Run
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, models.OutputRawText, run.OutputKind)
	assert.Equal(t, models.OutputRawText, res.Output.Kind)

	stored, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, stored.Findings, 1)
	assert.Equal(t, "E-1", stored.Findings[0].Evidence.Key)
	assert.Equal(t, []string{"CPC art. 5"}, stored.Citations)
	assert.Equal(t, 42, stored.TokensUsed)
}

func TestRunControllerDropsFindingsForUnparsableOutput(t *testing.T) {
	store := repository.NewMemoryStore()
	c := seedCase(t, store)
	inv := newFakeInvoker()
	inv.on(models.AgentEvidenceCollector, func(context.Context, InvokeRequest) (*InvocationResult, error) {
		return &InvocationResult{
			ResultText: `{"summary": "cut off`,
			Findings:   models.Findings{evidenceFinding("Search protocol", "E-1", "")},
			Citations:  []string{"CPC art. 5"},
		}, nil
	})

	res, err := newTestController(store, inv).Execute(context.Background(), ExecuteRunRequest{
		CaseID: c.ID,
		Agent:  agentDef(t, models.AgentEvidenceCollector),
	})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, res.Run.Status)
	assert.Equal(t, models.OutputParseFailed, res.Run.OutputKind)
	assert.Empty(t, res.Run.Findings)
	assert.Empty(t, res.Run.Citations)
}
