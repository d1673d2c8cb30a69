package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on top of the pgx repositories
type PostgresStore struct {
	*CaseRepository
	*AgentRunRepository
	*EvidenceRepository
	*ReportRepository
	*FileRepository
}

// NewPostgresStore wires every repository to one pool
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		CaseRepository:     NewCaseRepository(db),
		AgentRunRepository: NewAgentRunRepository(db),
		EvidenceRepository: NewEvidenceRepository(db),
		ReportRepository:   NewReportRepository(db),
		FileRepository:     NewFileRepository(db),
	}
}

var _ Store = (*PostgresStore)(nil)
