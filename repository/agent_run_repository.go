package repository

import (
	"context"

	"caseanalysis-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AgentRunRepository handles database operations for agent analysis runs
type AgentRunRepository struct {
	db *pgxpool.Pool
}

// NewAgentRunRepository creates a new agent run repository
func NewAgentRunRepository(db *pgxpool.Pool) *AgentRunRepository {
	return &AgentRunRepository{db: db}
}

const runColumns = `
	id, case_id, agent_id, status, started_at, completed_at, result, summary,
	findings, citations, tokens_used, output_kind, error_message, created_at`

func scanRun(row pgx.Row) (*models.AgentAnalysisRun, error) {
	run := &models.AgentAnalysisRun{}
	var outputKind *string
	err := row.Scan(
		&run.ID,
		&run.CaseID,
		&run.AgentID,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Result,
		&run.Summary,
		&run.Findings,
		&run.Citations,
		&run.TokensUsed,
		&outputKind,
		&run.ErrorMessage,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if outputKind != nil {
		run.OutputKind = models.OutputKind(*outputKind)
	}

	// Ensure slices are never nil (safeguard in case Scan didn't handle NULL properly)
	if run.Findings == nil {
		run.Findings = make(models.Findings, 0)
	}
	if run.Citations == nil {
		run.Citations = []string{}
	}
	return run, nil
}

func collectRuns(rows pgx.Rows) ([]*models.AgentAnalysisRun, error) {
	defer rows.Close()

	var runs []*models.AgentAnalysisRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CreateRun inserts a new run
func (r *AgentRunRepository) CreateRun(ctx context.Context, run *models.AgentAnalysisRun) error {
	query := `
		INSERT INTO agent_runs (
			id, case_id, agent_id, status, started_at, result, findings, citations, tokens_used
		) VALUES ($1, $2, $3, $4, $5, '', $6, $7, 0)
		RETURNING created_at`

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Findings == nil {
		run.Findings = make(models.Findings, 0)
	}
	if run.Citations == nil {
		run.Citations = []string{}
	}

	return r.db.QueryRow(
		ctx, query,
		run.ID,
		run.CaseID,
		run.AgentID,
		run.Status,
		run.StartedAt,
		run.Findings,
		run.Citations,
	).Scan(&run.CreatedAt)
}

// FinishRun writes the terminal outcome of a running run.
// The status guard keeps a finished record from being rewritten.
func (r *AgentRunRepository) FinishRun(ctx context.Context, run *models.AgentAnalysisRun) error {
	query := `
		UPDATE agent_runs SET
			status = $2,
			completed_at = $3,
			result = $4,
			summary = $5,
			findings = $6,
			citations = $7,
			tokens_used = $8,
			output_kind = $9,
			error_message = $10
		WHERE id = $1 AND status = 'running'`

	var outputKind *string
	if run.OutputKind != "" {
		kind := string(run.OutputKind)
		outputKind = &kind
	}

	tag, err := r.db.Exec(
		ctx, query,
		run.ID,
		run.Status,
		run.CompletedAt,
		run.Result,
		run.Summary,
		run.Findings,
		run.Citations,
		run.TokensUsed,
		outputKind,
		run.ErrorMessage,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun retrieves a run by ID
func (r *AgentRunRepository) GetRun(ctx context.Context, id uuid.UUID) (*models.AgentAnalysisRun, error) {
	query := `SELECT ` + runColumns + ` FROM agent_runs WHERE id = $1`
	return scanRun(r.db.QueryRow(ctx, query, id))
}

// ListRunsByCase retrieves every run of a case, newest first
func (r *AgentRunRepository) ListRunsByCase(ctx context.Context, caseID uuid.UUID) ([]*models.AgentAnalysisRun, error) {
	query := `SELECT ` + runColumns + ` FROM agent_runs WHERE case_id = $1 ORDER BY created_at DESC, id`

	rows, err := r.db.Query(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}

// LatestRunsByCase retrieves the newest run of each agent for a case
func (r *AgentRunRepository) LatestRunsByCase(ctx context.Context, caseID uuid.UUID) ([]*models.AgentAnalysisRun, error) {
	query := `
		SELECT DISTINCT ON (agent_id) ` + runColumns + `
		FROM agent_runs
		WHERE case_id = $1
		ORDER BY agent_id, created_at DESC`

	rows, err := r.db.Query(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}
