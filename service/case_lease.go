package service

import (
	"context"
	"sync"
	"time"

	"caseanalysis-backend/metrics"
	"caseanalysis-backend/models"

	"github.com/google/uuid"
)

// LeaseKind names the work holding a case
type LeaseKind string

const (
	LeasePipeline    LeaseKind = "pipeline"
	LeaseSingleAgent LeaseKind = "single_agent"
	LeaseReport      LeaseKind = "report"
)

// PipelineProgress is a snapshot of the work in flight for a case
type PipelineProgress struct {
	CaseID          uuid.UUID        `json:"case_id"`
	Kind            LeaseKind        `json:"kind"`
	CurrentAgent    models.AgentID   `json:"current_agent,omitempty"`
	Step            int              `json:"step"`
	TotalSteps      int              `json:"total_steps"`
	CompletedAgents []models.AgentID `json:"completed_agents"`
	FailedAgents    []models.AgentID `json:"failed_agents"`
	Cancelling      bool             `json:"cancelling"`
	StartedAt       time.Time        `json:"started_at"`
}

type caseLease struct {
	progress PipelineProgress
	cancel   context.CancelFunc
}

// leaseTable grants at most one lease per case
type leaseTable struct {
	mu     sync.Mutex
	leases map[uuid.UUID]*caseLease
}

func newLeaseTable() *leaseTable {
	return &leaseTable{leases: make(map[uuid.UUID]*caseLease)}
}

// acquire takes the case or returns ErrCaseBusy
func (t *leaseTable) acquire(caseID uuid.UUID, kind LeaseKind, totalSteps int, cancel context.CancelFunc) (*caseLease, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.leases[caseID]; busy {
		return nil, ErrCaseBusy
	}
	l := &caseLease{
		progress: PipelineProgress{
			CaseID:          caseID,
			Kind:            kind,
			TotalSteps:      totalSteps,
			CompletedAgents: []models.AgentID{},
			FailedAgents:    []models.AgentID{},
			StartedAt:       time.Now(),
		},
		cancel: cancel,
	}
	t.leases[caseID] = l
	metrics.LeaseAcquired(string(kind))
	return l, nil
}

func (t *leaseTable) release(caseID uuid.UUID, l *caseLease) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.leases[caseID] == l {
		delete(t.leases, caseID)
		metrics.LeaseReleased(string(l.progress.Kind))
	}
}

func (t *leaseTable) begin(l *caseLease, agent models.AgentID, step int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.progress.CurrentAgent = agent
	l.progress.Step = step
}

func (t *leaseTable) finish(l *caseLease, agent models.AgentID, completed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if completed {
		l.progress.CompletedAgents = append(l.progress.CompletedAgents, agent)
	} else {
		l.progress.FailedAgents = append(l.progress.FailedAgents, agent)
	}
	l.progress.CurrentAgent = ""
}

// cancel signals the lease holder; it reports false when nothing is running
func (t *leaseTable) cancel(caseID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.leases[caseID]
	if !ok {
		return false
	}
	l.progress.Cancelling = true
	l.cancel()
	return true
}

func (t *leaseTable) snapshot(caseID uuid.UUID) (PipelineProgress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.leases[caseID]
	if !ok {
		return PipelineProgress{}, false
	}
	p := l.progress
	p.CompletedAgents = append([]models.AgentID{}, l.progress.CompletedAgents...)
	p.FailedAgents = append([]models.AgentID{}, l.progress.FailedAgents...)
	return p, true
}
