package repository

import (
	"context"

	"caseanalysis-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EvidenceRepository handles database operations for the evidence registry
type EvidenceRepository struct {
	db *pgxpool.Pool
}

// NewEvidenceRepository creates a new evidence repository
func NewEvidenceRepository(db *pgxpool.Pool) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

const evidenceColumns = `
	id, case_id, sequence, volume_id, evidence_key, evidence_type, description,
	admissibility, status_overridden, notes, assessments, related_findings,
	related_violations, created_at, updated_at`

func scanEvidence(row pgx.Row) (*models.EvidenceItem, error) {
	item := &models.EvidenceItem{}
	err := row.Scan(
		&item.ID,
		&item.CaseID,
		&item.Sequence,
		&item.VolumeID,
		&item.Key,
		&item.Type,
		&item.Description,
		&item.Admissibility,
		&item.StatusOverridden,
		&item.Notes,
		&item.Assessments,
		&item.RelatedFindings,
		&item.RelatedViolations,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return item, nil
}

// ListEvidence retrieves the registry of a case ordered by sequence
func (r *EvidenceRepository) ListEvidence(ctx context.Context, caseID uuid.UUID) ([]*models.EvidenceItem, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidence_items WHERE case_id = $1 ORDER BY sequence ASC`

	rows, err := r.db.Query(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.EvidenceItem
	for rows.Next() {
		item, err := scanEvidence(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetEvidence retrieves an evidence item by ID
func (r *EvidenceRepository) GetEvidence(ctx context.Context, id uuid.UUID) (*models.EvidenceItem, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidence_items WHERE id = $1`
	return scanEvidence(r.db.QueryRow(ctx, query, id))
}

// CreateEvidence inserts an item with the next per-case sequence number
func (r *EvidenceRepository) CreateEvidence(ctx context.Context, item *models.EvidenceItem) error {
	query := `
		INSERT INTO evidence_items (
			case_id, sequence, volume_id, evidence_key, evidence_type, description,
			admissibility, status_overridden, notes, assessments, related_findings, related_violations
		)
		SELECT $1, COALESCE(MAX(sequence), 0) + 1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		FROM evidence_items WHERE case_id = $1
		RETURNING id, sequence, created_at, updated_at`

	return r.db.QueryRow(
		ctx, query,
		item.CaseID,
		item.VolumeID,
		item.Key,
		item.Type,
		item.Description,
		item.Admissibility,
		item.StatusOverridden,
		item.Notes,
		item.Assessments,
		item.RelatedFindings,
		item.RelatedViolations,
	).Scan(&item.ID, &item.Sequence, &item.CreatedAt, &item.UpdatedAt)
}

// UpdateEvidence rewrites the mutable fields of an item
func (r *EvidenceRepository) UpdateEvidence(ctx context.Context, item *models.EvidenceItem) error {
	query := `
		UPDATE evidence_items SET
			volume_id = $2,
			evidence_type = $3,
			description = $4,
			admissibility = $5,
			status_overridden = $6,
			notes = $7,
			assessments = $8,
			related_findings = $9,
			related_violations = $10,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(
		ctx, query,
		item.ID,
		item.VolumeID,
		item.Type,
		item.Description,
		item.Admissibility,
		item.StatusOverridden,
		item.Notes,
		item.Assessments,
		item.RelatedFindings,
		item.RelatedViolations,
	).Scan(&item.UpdatedAt)

	return notFound(err)
}
