package models

import (
	"github.com/google/uuid"
)

// LegalReference is a chunk of statute or case-law text used as agent context
type LegalReference struct {
	ID             uuid.UUID `json:"id"`
	Topic          string    `json:"topic"` // "procedure", "evidence", "criminal_code", ...
	SourceDocument string    `json:"source_document"`
	Citation       *string   `json:"citation,omitempty"`
	Text           string    `json:"text"`
	Rank           float64   `json:"rank,omitempty"`
}
