package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"caseanalysis-backend/models"
	"caseanalysis-backend/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type invokeFunc func(ctx context.Context, req InvokeRequest) (*InvocationResult, error)

// fakeInvoker scripts per-agent behavior and records every call
type fakeInvoker struct {
	mu       sync.Mutex
	byAgent  map[models.AgentID]invokeFunc
	fallback invokeFunc
	calls    []InvokeRequest
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		byAgent: make(map[models.AgentID]invokeFunc),
		fallback: func(_ context.Context, req InvokeRequest) (*InvocationResult, error) {
			return structuredResult(StructuredOutput{
				Summary:  string(req.Agent.ID) + " summary",
				Analysis: string(req.Agent.ID) + " analysis",
			}), nil
		},
	}
}

func (f *fakeInvoker) on(agent models.AgentID, fn invokeFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byAgent[agent] = fn
}

func (f *fakeInvoker) Invoke(ctx context.Context, req InvokeRequest) (*InvocationResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn, ok := f.byAgent[req.Agent.ID]
	if !ok {
		fn = f.fallback
	}
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeInvoker) callCount(agent models.AgentID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Agent.ID == agent {
			n++
		}
	}
	return n
}

func (f *fakeInvoker) lastCall(agent models.AgentID) (InvokeRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Agent.ID == agent {
			return f.calls[i], true
		}
	}
	return InvokeRequest{}, false
}

func structuredResult(out StructuredOutput) *InvocationResult {
	raw, _ := json.Marshal(out)
	return NewInvocationResult(string(raw), 100)
}

// waitForDeadline blocks until the invocation context ends
func waitForDeadline(ctx context.Context, _ InvokeRequest) (*InvocationResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func seedCase(t *testing.T, store *repository.MemoryStore) *models.Case {
	t.Helper()
	c := &models.Case{
		ID:            uuid.New(),
		Title:         "State v. Doe",
		Facts:         "Search conducted without a warrant at 2am",
		LegalQuestion: "Is the seized evidence admissible",
		Status:        models.CaseStatusOpen,
	}
	require.NoError(t, store.CreateCase(context.Background(), c))
	require.NoError(t, store.CreateVolume(context.Background(), &models.CaseVolume{
		ID:           uuid.New(),
		CaseID:       c.ID,
		Title:        "Volume 1",
		Text:         "Protocol of search and seizure",
		OCRCompleted: true,
	}))
	return c
}

func agentDef(t *testing.T, id models.AgentID) models.AgentDefinition {
	t.Helper()
	def, ok := models.DefaultCatalog().Lookup(id)
	require.True(t, ok)
	return def
}

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}
