package main

import (
	"context"
	"flag"
	"log"

	"caseanalysis-backend/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

var statements = []struct {
	name string
	sql  string
}{
	{"pgcrypto extension", `CREATE EXTENSION IF NOT EXISTS pgcrypto`},
	{"cases", `
CREATE TABLE IF NOT EXISTS cases (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    title TEXT NOT NULL,
    case_number TEXT,
    facts TEXT NOT NULL DEFAULT '',
    legal_question TEXT NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'archived')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
	{"case_volumes", `
CREATE TABLE IF NOT EXISTS case_volumes (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    case_id UUID NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    page_count INTEGER,
    extracted_text TEXT NOT NULL DEFAULT '',
    ocr_completed BOOLEAN NOT NULL DEFAULT FALSE,
    source_file_id UUID,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
	{"files", `
CREATE TABLE IF NOT EXISTS files (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    case_id UUID NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
    volume_id UUID REFERENCES case_volumes(id) ON DELETE SET NULL,
    filename TEXT NOT NULL,
    mime_type VARCHAR(255) NOT NULL,
    size BIGINT NOT NULL DEFAULT 0,
    storage_path TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
	{"agent_runs", `
CREATE TABLE IF NOT EXISTS agent_runs (
    id UUID PRIMARY KEY,
    case_id UUID NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
    agent_id VARCHAR(64) NOT NULL,
    status VARCHAR(20) NOT NULL CHECK (status IN ('running', 'completed', 'failed', 'cancelled')),
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    result TEXT NOT NULL DEFAULT '',
    summary TEXT,
    findings JSONB NOT NULL DEFAULT '[]'::jsonb,
    citations TEXT[] NOT NULL DEFAULT '{}',
    tokens_used INTEGER NOT NULL DEFAULT 0,
    output_kind VARCHAR(20),
    error_message TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
)`},
	{"agent_runs index", `CREATE INDEX IF NOT EXISTS idx_agent_runs_case_agent ON agent_runs (case_id, agent_id, created_at DESC)`},
	{"evidence_items", `
CREATE TABLE IF NOT EXISTS evidence_items (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    case_id UUID NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
    sequence INTEGER NOT NULL,
    volume_id UUID REFERENCES case_volumes(id) ON DELETE SET NULL,
    evidence_key TEXT,
    evidence_type TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    admissibility VARCHAR(20) NOT NULL DEFAULT 'pending_review'
        CHECK (admissibility IN ('pending_review', 'questionable', 'admissible', 'inadmissible')),
    status_overridden BOOLEAN NOT NULL DEFAULT FALSE,
    notes TEXT NOT NULL DEFAULT '',
    assessments JSONB NOT NULL DEFAULT '[]'::jsonb,
    related_findings JSONB NOT NULL DEFAULT '[]'::jsonb,
    related_violations JSONB NOT NULL DEFAULT '[]'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (case_id, sequence)
)`},
	{"aggregated_reports", `
CREATE TABLE IF NOT EXISTS aggregated_reports (
    id UUID PRIMARY KEY,
    case_id UUID NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
    aggregator_run_id UUID NOT NULL REFERENCES agent_runs(id),
    sections JSONB NOT NULL,
    source_run_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
    archive_path TEXT,
    generated_at TIMESTAMPTZ NOT NULL,
    superseded_at TIMESTAMPTZ
)`},
	{"aggregated_reports current index", `
CREATE UNIQUE INDEX IF NOT EXISTS idx_aggregated_reports_current
    ON aggregated_reports (case_id) WHERE superseded_at IS NULL`},
	{"legal_references", `
CREATE TABLE IF NOT EXISTS legal_references (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    topic VARCHAR(64) NOT NULL,
    source_document VARCHAR(255) NOT NULL,
    chunk_index INTEGER NOT NULL,
    citation TEXT,
    chunk_text TEXT NOT NULL,
    search_vector TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', coalesce(citation, '') || ' ' || chunk_text)) STORED,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (source_document, chunk_index)
)`},
	{"legal_references search index", `CREATE INDEX IF NOT EXISTS idx_legal_references_search ON legal_references USING GIN (search_vector)`},
	{"legal_references topic index", `CREATE INDEX IF NOT EXISTS idx_legal_references_topic ON legal_references (topic)`},
}

func main() {
	reset := flag.Bool("reset", false, "drop all tables before creating them (development only)")
	flag.Parse()

	cfg := config.Load()

	pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()

	if *reset {
		_, err := pool.Exec(ctx, `DROP TABLE IF EXISTS aggregated_reports, evidence_items, agent_runs, files, case_volumes, cases, legal_references CASCADE`)
		if err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		log.Println("✓ Dropped existing tables")
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt.sql); err != nil {
			log.Fatalf("Failed to create %s: %v", stmt.name, err)
		}
		log.Printf("✓ %s", stmt.name)
	}

	log.Println("Schema ready")
}
