package repository

import (
	"context"
	"errors"

	"caseanalysis-backend/models"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a record id is already taken
	ErrDuplicate = errors.New("record already exists")
)

// CaseStore persists cases and their volumes
type CaseStore interface {
	CreateCase(ctx context.Context, c *models.Case) error
	GetCase(ctx context.Context, id uuid.UUID) (*models.Case, error)
	UpdateCase(ctx context.Context, c *models.Case) error
	ListCases(ctx context.Context, status *models.CaseStatus, limit, offset int) ([]*models.Case, error)
	DeleteCase(ctx context.Context, id uuid.UUID) error

	CreateVolume(ctx context.Context, v *models.CaseVolume) error
	GetVolume(ctx context.Context, id uuid.UUID) (*models.CaseVolume, error)
	UpdateVolume(ctx context.Context, v *models.CaseVolume) error
	ListVolumes(ctx context.Context, caseID uuid.UUID) ([]*models.CaseVolume, error)
	DeleteVolume(ctx context.Context, id uuid.UUID) error
}

// RunStore persists agent runs. Runs are inserted once and finished once; they are never deleted here.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.AgentAnalysisRun) error
	FinishRun(ctx context.Context, run *models.AgentAnalysisRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.AgentAnalysisRun, error)
	// ListRunsByCase returns the full history, newest first
	ListRunsByCase(ctx context.Context, caseID uuid.UUID) ([]*models.AgentAnalysisRun, error)
	// LatestRunsByCase returns the newest run of each agent
	LatestRunsByCase(ctx context.Context, caseID uuid.UUID) ([]*models.AgentAnalysisRun, error)
}

// EvidenceStore persists the per-case evidence registry
type EvidenceStore interface {
	// ListEvidence returns the registry ordered by sequence
	ListEvidence(ctx context.Context, caseID uuid.UUID) ([]*models.EvidenceItem, error)
	GetEvidence(ctx context.Context, id uuid.UUID) (*models.EvidenceItem, error)
	// CreateEvidence assigns the next per-case sequence number
	CreateEvidence(ctx context.Context, item *models.EvidenceItem) error
	UpdateEvidence(ctx context.Context, item *models.EvidenceItem) error
}

// ReportStore persists aggregated reports
type ReportStore interface {
	// CreateReport inserts a report and marks the previous current report superseded
	CreateReport(ctx context.Context, report *models.AggregatedReport) error
	CurrentReport(ctx context.Context, caseID uuid.UUID) (*models.AggregatedReport, error)
	ListReports(ctx context.Context, caseID uuid.UUID) ([]*models.AggregatedReport, error)
}

// FileStore persists uploaded file metadata
type FileStore interface {
	CreateFile(ctx context.Context, file *models.File) error
	GetFile(ctx context.Context, id uuid.UUID) (*models.File, error)
}

// Store bundles every persistence concern of the service
type Store interface {
	CaseStore
	RunStore
	EvidenceStore
	ReportStore
	FileStore
}
