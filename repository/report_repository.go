package repository

import (
	"context"
	"fmt"

	"caseanalysis-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReportRepository handles database operations for aggregated reports
type ReportRepository struct {
	db *pgxpool.Pool
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{db: db}
}

const reportColumns = `id, case_id, aggregator_run_id, sections, source_run_ids, archive_path, generated_at, superseded_at`

func scanReport(row pgx.Row) (*models.AggregatedReport, error) {
	report := &models.AggregatedReport{}
	err := row.Scan(
		&report.ID,
		&report.CaseID,
		&report.AggregatorRunID,
		&report.Sections,
		&report.SourceRunIDs,
		&report.ArchivePath,
		&report.GeneratedAt,
		&report.SupersededAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return report, nil
}

// CreateReport supersedes the current report of the case and inserts the new one
func (r *ReportRepository) CreateReport(ctx context.Context, report *models.AggregatedReport) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}

	_, err = tx.Exec(ctx, `
		UPDATE aggregated_reports SET superseded_at = $2
		WHERE case_id = $1 AND superseded_at IS NULL`,
		report.CaseID, report.GeneratedAt)
	if err != nil {
		return fmt.Errorf("failed to supersede previous report: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO aggregated_reports (
			id, case_id, aggregator_run_id, sections, source_run_ids, archive_path, generated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		report.ID,
		report.CaseID,
		report.AggregatorRunID,
		report.Sections,
		report.SourceRunIDs,
		report.ArchivePath,
		report.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	return tx.Commit(ctx)
}

// CurrentReport retrieves the report that has not been superseded
func (r *ReportRepository) CurrentReport(ctx context.Context, caseID uuid.UUID) (*models.AggregatedReport, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM aggregated_reports
		WHERE case_id = $1 AND superseded_at IS NULL
		ORDER BY generated_at DESC
		LIMIT 1`
	return scanReport(r.db.QueryRow(ctx, query, caseID))
}

// ListReports retrieves every report of a case, newest first
func (r *ReportRepository) ListReports(ctx context.Context, caseID uuid.UUID) ([]*models.AggregatedReport, error) {
	query := `SELECT ` + reportColumns + ` FROM aggregated_reports WHERE case_id = $1 ORDER BY generated_at DESC`

	rows, err := r.db.Query(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*models.AggregatedReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}
