package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle status of an agent run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

var allowedRunTransitions = map[RunStatus]map[RunStatus]struct{}{
	RunStatusPending: {
		RunStatusRunning:   {},
		RunStatusCancelled: {},
	},
	RunStatusRunning: {
		RunStatusCompleted: {},
		RunStatusFailed:    {},
		RunStatusCancelled: {},
	},
	RunStatusCompleted: {},
	RunStatusFailed:    {},
	RunStatusCancelled: {},
}

// IsTerminal reports whether no further transition is allowed from the status
func (s RunStatus) IsTerminal() bool {
	next, ok := allowedRunTransitions[s]
	return ok && len(next) == 0
}

// ValidateRunTransition checks a status change against the run state machine
func ValidateRunTransition(from, to RunStatus) error {
	next, ok := allowedRunTransitions[from]
	if !ok {
		return fmt.Errorf("invalid run status: %q", from)
	}
	if _, ok := allowedRunTransitions[to]; !ok {
		return fmt.Errorf("invalid run status: %q", to)
	}
	if _, ok := next[to]; !ok {
		return fmt.Errorf("invalid run transition: %s -> %s", from, to)
	}
	return nil
}

// OutputKind tags the shape of what the inference service returned
type OutputKind string

const (
	OutputStructured  OutputKind = "structured"
	OutputRawText     OutputKind = "raw_text"
	OutputParseFailed OutputKind = "parse_failed"
)

// Severity of a finding
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// NormalizeSeverity maps unknown values to info
func NormalizeSeverity(s Severity) Severity {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return s
	default:
		return SeverityInfo
	}
}

// FindingEvidence describes a piece of evidence a finding introduces or assesses
// VolumeID is kept as free text because models do not always echo a valid id.
type FindingEvidence struct {
	Key           string              `json:"key,omitempty"`
	VolumeID      string              `json:"volume_id,omitempty"`
	Type          string              `json:"type,omitempty"`
	Description   string              `json:"description,omitempty"`
	Admissibility AdmissibilityStatus `json:"admissibility,omitempty"`
}

// AgentFinding is one structured observation attached to a run
type AgentFinding struct {
	Severity     Severity         `json:"severity"`
	Title        string           `json:"title"`
	Description  string           `json:"description,omitempty"`
	LegalBasis   []string         `json:"legal_basis,omitempty"`
	EvidenceRefs []string         `json:"evidence_refs,omitempty"`
	PageRefs     []int            `json:"page_refs,omitempty"`
	Evidence     *FindingEvidence `json:"evidence,omitempty"`
}

// Findings is the ordered finding list stored as JSONB
type Findings []AgentFinding

// Value implements driver.Valuer for JSONB
func (f Findings) Value() (driver.Value, error) {
	if f == nil {
		return json.Marshal(Findings{})
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner for JSONB
func (f *Findings) Scan(value interface{}) error {
	*f = make(Findings, 0)
	_, err := scanJSONB(value, f)
	return err
}

// AgentAnalysisRun is one execution of one agent against one case
type AgentAnalysisRun struct {
	ID           uuid.UUID  `json:"id"`
	CaseID       uuid.UUID  `json:"case_id"`
	AgentID      AgentID    `json:"agent_id"`
	Status       RunStatus  `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Result       string     `json:"result"`
	Summary      *string    `json:"summary,omitempty"`
	Findings     Findings   `json:"findings"`
	Citations    []string   `json:"citations"`
	TokensUsed   int        `json:"tokens_used"`
	OutputKind   OutputKind `json:"output_kind,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RunOutcome carries the terminal state the run controller writes
type RunOutcome struct {
	Status       RunStatus
	Result       string
	Summary      *string
	Findings     Findings
	Citations    []string
	TokensUsed   int
	OutputKind   OutputKind
	ErrorMessage *string
	CompletedAt  time.Time
}

// Apply copies the outcome onto the run
func (o RunOutcome) Apply(run *AgentAnalysisRun) {
	completedAt := o.CompletedAt
	run.Status = o.Status
	run.Result = o.Result
	run.Summary = o.Summary
	run.Findings = o.Findings
	run.Citations = o.Citations
	run.TokensUsed = o.TokensUsed
	run.OutputKind = o.OutputKind
	run.ErrorMessage = o.ErrorMessage
	run.CompletedAt = &completedAt
	if run.Findings == nil {
		run.Findings = make(Findings, 0)
	}
	if run.Citations == nil {
		run.Citations = []string{}
	}
}
