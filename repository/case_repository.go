package repository

import (
	"context"
	"errors"
	"fmt"

	"caseanalysis-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CaseRepository handles database operations for cases and volumes
type CaseRepository struct {
	db *pgxpool.Pool
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *pgxpool.Pool) *CaseRepository {
	return &CaseRepository{db: db}
}

// notFound maps pgx.ErrNoRows to ErrNotFound
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const caseColumns = `id, title, case_number, facts, legal_question, status, created_at, updated_at`

func scanCase(row pgx.Row) (*models.Case, error) {
	c := &models.Case{}
	err := row.Scan(
		&c.ID,
		&c.Title,
		&c.CaseNumber,
		&c.Facts,
		&c.LegalQuestion,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// CreateCase creates a new case
func (r *CaseRepository) CreateCase(ctx context.Context, c *models.Case) error {
	query := `
		INSERT INTO cases (title, case_number, facts, legal_question, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return r.db.QueryRow(
		ctx, query,
		c.Title,
		c.CaseNumber,
		c.Facts,
		c.LegalQuestion,
		c.Status,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

// GetCase retrieves a case by ID
func (r *CaseRepository) GetCase(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = $1`
	return scanCase(r.db.QueryRow(ctx, query, id))
}

// UpdateCase updates a case
func (r *CaseRepository) UpdateCase(ctx context.Context, c *models.Case) error {
	query := `
		UPDATE cases SET
			title = $2,
			case_number = $3,
			facts = $4,
			legal_question = $5,
			status = $6,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(
		ctx, query,
		c.ID,
		c.Title,
		c.CaseNumber,
		c.Facts,
		c.LegalQuestion,
		c.Status,
	).Scan(&c.UpdatedAt)

	return notFound(err)
}

// ListCases lists cases, newest first
func (r *CaseRepository) ListCases(ctx context.Context, status *models.CaseStatus, limit, offset int) ([]*models.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE 1 = 1`

	args := []interface{}{}
	argIndex := 1

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, *status)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
		argIndex++
		if offset > 0 {
			query += fmt.Sprintf(" OFFSET $%d", argIndex)
			args = append(args, offset)
		}
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*models.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}

	return cases, rows.Err()
}

// DeleteCase deletes a case; volumes, runs, evidence and reports cascade
func (r *CaseRepository) DeleteCase(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM cases WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const volumeColumns = `id, case_id, title, page_count, extracted_text, ocr_completed, source_file_id, created_at, updated_at`

func scanVolume(row pgx.Row) (*models.CaseVolume, error) {
	v := &models.CaseVolume{}
	err := row.Scan(
		&v.ID,
		&v.CaseID,
		&v.Title,
		&v.PageCount,
		&v.Text,
		&v.OCRCompleted,
		&v.SourceFileID,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return v, nil
}

// CreateVolume creates a new case volume
func (r *CaseRepository) CreateVolume(ctx context.Context, v *models.CaseVolume) error {
	query := `
		INSERT INTO case_volumes (case_id, title, page_count, extracted_text, ocr_completed, source_file_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	return r.db.QueryRow(
		ctx, query,
		v.CaseID,
		v.Title,
		v.PageCount,
		v.Text,
		v.OCRCompleted,
		v.SourceFileID,
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
}

// GetVolume retrieves a volume by ID
func (r *CaseRepository) GetVolume(ctx context.Context, id uuid.UUID) (*models.CaseVolume, error) {
	query := `SELECT ` + volumeColumns + ` FROM case_volumes WHERE id = $1`
	return scanVolume(r.db.QueryRow(ctx, query, id))
}

// UpdateVolume updates a volume
func (r *CaseRepository) UpdateVolume(ctx context.Context, v *models.CaseVolume) error {
	query := `
		UPDATE case_volumes SET
			title = $2,
			page_count = $3,
			extracted_text = $4,
			ocr_completed = $5,
			source_file_id = $6,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(
		ctx, query,
		v.ID,
		v.Title,
		v.PageCount,
		v.Text,
		v.OCRCompleted,
		v.SourceFileID,
	).Scan(&v.UpdatedAt)

	return notFound(err)
}

// ListVolumes lists the volumes of a case in creation order
func (r *CaseRepository) ListVolumes(ctx context.Context, caseID uuid.UUID) ([]*models.CaseVolume, error) {
	query := `SELECT ` + volumeColumns + ` FROM case_volumes WHERE case_id = $1 ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var volumes []*models.CaseVolume
	for rows.Next() {
		v, err := scanVolume(rows)
		if err != nil {
			return nil, err
		}
		volumes = append(volumes, v)
	}

	return volumes, rows.Err()
}

// DeleteVolume deletes a volume
func (r *CaseRepository) DeleteVolume(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM case_volumes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
