package models

import (
	"time"

	"github.com/google/uuid"
)

// File is an uploaded source document attached to a case volume
type File struct {
	ID          uuid.UUID  `json:"id"`
	CaseID      uuid.UUID  `json:"case_id"`
	VolumeID    *uuid.UUID `json:"volume_id,omitempty"`
	Filename    string     `json:"filename"`
	MimeType    string     `json:"mime_type"`
	Size        int64      `json:"size"`
	StoragePath string     `json:"storage_path"`
	CreatedAt   time.Time  `json:"created_at"`
}
