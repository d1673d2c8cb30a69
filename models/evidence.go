package models

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AdmissibilityStatus of an evidence item
type AdmissibilityStatus string

const (
	AdmissibilityPendingReview AdmissibilityStatus = "pending_review"
	AdmissibilityQuestionable  AdmissibilityStatus = "questionable"
	AdmissibilityAdmissible    AdmissibilityStatus = "admissible"
	AdmissibilityInadmissible  AdmissibilityStatus = "inadmissible"
)

// Specificity ranks how definite an assessment is. Unknown values rank below pending_review.
func (s AdmissibilityStatus) Specificity() int {
	switch s {
	case AdmissibilityPendingReview:
		return 0
	case AdmissibilityQuestionable:
		return 1
	case AdmissibilityAdmissible, AdmissibilityInadmissible:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known admissibility status
func (s AdmissibilityStatus) Valid() bool {
	return s.Specificity() >= 0
}

// Assessment is one agent's (or the practitioner's) admissibility opinion on an item
type Assessment struct {
	Source     string              `json:"source"`
	RunID      *uuid.UUID          `json:"run_id,omitempty"`
	Status     AdmissibilityStatus `json:"status"`
	Note       string              `json:"note,omitempty"`
	AssessedAt time.Time           `json:"assessed_at"`
}

// Assessments is stored as JSONB
type Assessments []Assessment

// Value implements driver.Valuer for JSONB
func (a Assessments) Value() (driver.Value, error) {
	if a == nil {
		return json.Marshal(Assessments{})
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner for JSONB
func (a *Assessments) Scan(value interface{}) error {
	*a = make(Assessments, 0)
	_, err := scanJSONB(value, a)
	return err
}

// FindingRef points at one finding inside one run
type FindingRef struct {
	RunID   uuid.UUID `json:"run_id"`
	AgentID AgentID   `json:"agent_id"`
	Index   int       `json:"index"`
	Title   string    `json:"title"`
}

// FindingRefs is stored as JSONB
type FindingRefs []FindingRef

// Value implements driver.Valuer for JSONB
func (r FindingRefs) Value() (driver.Value, error) {
	if r == nil {
		return json.Marshal(FindingRefs{})
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner for JSONB
func (r *FindingRefs) Scan(value interface{}) error {
	*r = make(FindingRefs, 0)
	_, err := scanJSONB(value, r)
	return err
}

// Contains reports whether the ref is already present
func (r FindingRefs) Contains(ref FindingRef) bool {
	for _, existing := range r {
		if existing.RunID == ref.RunID && existing.Index == ref.Index {
			return true
		}
	}
	return false
}

// EvidenceItem is one registry entry, scoped to a case
type EvidenceItem struct {
	ID                uuid.UUID           `json:"id"`
	CaseID            uuid.UUID           `json:"case_id"`
	Sequence          int                 `json:"sequence"`
	VolumeID          *uuid.UUID          `json:"volume_id,omitempty"`
	Key               *string             `json:"key,omitempty"`
	Type              string              `json:"type"`
	Description       string              `json:"description"`
	Admissibility     AdmissibilityStatus `json:"admissibility"`
	StatusOverridden  bool                `json:"status_overridden"`
	Notes             string              `json:"notes"`
	Assessments       Assessments         `json:"assessments"`
	RelatedFindings   FindingRefs         `json:"related_findings"`
	RelatedViolations FindingRefs         `json:"related_violations"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// NormalizeEvidenceKey makes agent-supplied keys comparable
func NormalizeEvidenceKey(key string) string {
	return strings.ToLower(strings.Join(strings.Fields(key), " "))
}

// AppendNote adds a line to the item notes
func (e *EvidenceItem) AppendNote(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if e.Notes == "" {
		e.Notes = line
		return
	}
	e.Notes += "\n" + line
}
