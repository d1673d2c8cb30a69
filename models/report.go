package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReportSections holds the named sections of an aggregated report
type ReportSections struct {
	ExecutiveSummary      string `json:"executive_summary"`
	EvidenceSummary       string `json:"evidence_summary"`
	ViolationsSummary     string `json:"violations_summary"`
	DefenseStrategy       string `json:"defense_strategy"`
	ProsecutionWeaknesses string `json:"prosecution_weaknesses"`
	Recommendations       string `json:"recommendations"`
	FullReport            string `json:"full_report"`
}

// Value implements driver.Valuer for JSONB
func (s ReportSections) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for JSONB
func (s *ReportSections) Scan(value interface{}) error {
	_, err := scanJSONB(value, s)
	return err
}

// RunIDs is a list of run identifiers stored as JSONB
type RunIDs []uuid.UUID

// Value implements driver.Valuer for JSONB
func (r RunIDs) Value() (driver.Value, error) {
	if r == nil {
		return json.Marshal(RunIDs{})
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner for JSONB
func (r *RunIDs) Scan(value interface{}) error {
	*r = make(RunIDs, 0)
	_, err := scanJSONB(value, r)
	return err
}

// AggregatedReport is the synthesized cross-agent document for a case
type AggregatedReport struct {
	ID              uuid.UUID      `json:"id"`
	CaseID          uuid.UUID      `json:"case_id"`
	AggregatorRunID uuid.UUID      `json:"aggregator_run_id"`
	Sections        ReportSections `json:"sections"`
	SourceRunIDs    RunIDs         `json:"source_run_ids"`
	ArchivePath     *string        `json:"archive_path,omitempty"`
	GeneratedAt     time.Time      `json:"generated_at"`
	SupersededAt    *time.Time     `json:"superseded_at,omitempty"`
}
