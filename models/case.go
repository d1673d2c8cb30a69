package models

import (
	"time"

	"github.com/google/uuid"
)

// CaseStatus represents the status of a case file
type CaseStatus string

const (
	CaseStatusOpen     CaseStatus = "open"
	CaseStatusArchived CaseStatus = "archived"
)

// Case represents a case file owned by a practitioner
type Case struct {
	ID            uuid.UUID  `json:"id"`
	Title         string     `json:"title"`
	CaseNumber    *string    `json:"case_number,omitempty"`
	Facts         string     `json:"facts"`
	LegalQuestion string     `json:"legal_question"`
	Status        CaseStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CaseVolume is a unit of source material belonging to a case
type CaseVolume struct {
	ID           uuid.UUID  `json:"id"`
	CaseID       uuid.UUID  `json:"case_id"`
	Title        string     `json:"title"`
	PageCount    *int       `json:"page_count,omitempty"`
	Text         string     `json:"text"`
	OCRCompleted bool       `json:"ocr_completed"`
	SourceFileID *uuid.UUID `json:"source_file_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
