package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"trustlens-backend/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	drop := flag.Bool("drop", false, "drop existing tables first (development only)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Enable pgvector extension
	_, err = pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		log.Printf("Warning: Failed to create pgvector extension: %v", err)
	} else {
		log.Println("✓ pgvector extension enabled")
	}

	if *drop {
		for _, table := range []string{"explain_messages", "explain_sessions", "review_results", "review_runs", "rules", "document_chunks", "documents"} {
			if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
				log.Fatalf("Failed to drop %s: %v", table, err)
			}
		}
		log.Println("✓ Dropped existing tables")
	}

	tables := []struct {
		name string
		sql  string
	}{
		{
			name: "documents",
			sql: `
CREATE TABLE IF NOT EXISTS documents (
    id UUID PRIMARY KEY,
    filename VARCHAR(512) NOT NULL,
    file_type VARCHAR(10) NOT NULL CHECK (file_type IN ('pdf', 'docx', 'txt')),
    size BIGINT NOT NULL,
    content_hash VARCHAR(64) NOT NULL UNIQUE,
    storage_path TEXT NOT NULL,
    page_count INTEGER NOT NULL DEFAULT 0,
    chunk_count INTEGER NOT NULL DEFAULT 0,
    status VARCHAR(20) NOT NULL CHECK (status IN ('UPLOADED', 'PROCESSING', 'READY', 'REVIEWING', 'REVIEWED', 'ERROR')),
    error_message TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		},
		{
			name: "document_chunks",
			sql: fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS document_chunks (
    chunk_id VARCHAR(128) PRIMARY KEY,
    document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    page INTEGER NOT NULL,
    chunk_index INTEGER NOT NULL DEFAULT 0,
    clause_hint VARCHAR(64) NOT NULL DEFAULT '',
    text TEXT NOT NULL,
    bbox JSONB NOT NULL DEFAULT '{}'::jsonb,
    char_start INTEGER NOT NULL DEFAULT 0,
    char_end INTEGER NOT NULL DEFAULT 0,
    token_count INTEGER NOT NULL DEFAULT 0,
    tags TEXT[] NOT NULL DEFAULT '{}',
    embedding vector(%d),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`, cfg.EmbedDimensions),
		},
		{
			name: "rules",
			sql: `
CREATE TABLE IF NOT EXISTS rules (
    rule_id VARCHAR(128) NOT NULL,
    version INTEGER NOT NULL,
    name VARCHAR(255) NOT NULL,
    category VARCHAR(100) NOT NULL DEFAULT '',
    intent TEXT NOT NULL,
    type VARCHAR(32) NOT NULL,
    params JSONB NOT NULL DEFAULT '{}'::jsonb,
    risk_level VARCHAR(10) NOT NULL,
    retrieval_tags TEXT[] NOT NULL DEFAULT '{}',
    prompt_template_id VARCHAR(64) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    enabled BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (rule_id, version)
);`,
		},
		{
			name: "review_runs",
			sql: `
CREATE TABLE IF NOT EXISTS review_runs (
    id UUID PRIMARY KEY,
    document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    status VARCHAR(20) NOT NULL,
    rules JSONB NOT NULL DEFAULT '[]'::jsonb,
    total_rules INTEGER NOT NULL,
    error_message TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ
);`,
		},
		{
			name: "review_results",
			sql: `
CREATE TABLE IF NOT EXISTS review_results (
    review_id UUID NOT NULL REFERENCES review_runs(id) ON DELETE CASCADE,
    rule_id VARCHAR(128) NOT NULL,
    rule_name VARCHAR(255) NOT NULL DEFAULT '',
    rule_version INTEGER NOT NULL,
    status VARCHAR(20) NOT NULL CHECK (status IN ('PASS', 'RISK', 'MISSING', 'FAILED')),
    reason TEXT NOT NULL DEFAULT '',
    evidence JSONB NOT NULL DEFAULT '[]'::jsonb,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    suggestion TEXT,
    error TEXT,
    attempts INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (review_id, rule_id)
);`,
		},
		{
			name: "explain_sessions",
			sql: `
CREATE TABLE IF NOT EXISTS explain_sessions (
    id UUID PRIMARY KEY,
    review_id UUID NOT NULL REFERENCES review_runs(id) ON DELETE CASCADE,
    rule_id VARCHAR(128) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		},
		{
			name: "explain_messages",
			sql: `
CREATE TABLE IF NOT EXISTS explain_messages (
    seq BIGSERIAL PRIMARY KEY,
    id UUID NOT NULL UNIQUE,
    session_id UUID NOT NULL REFERENCES explain_sessions(id) ON DELETE CASCADE,
    role VARCHAR(16) NOT NULL CHECK (role IN ('user', 'assistant')),
    content TEXT NOT NULL,
    evidence_refs INTEGER[] NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		},
	}

	for _, t := range tables {
		if _, err := pool.Exec(ctx, t.sql); err != nil {
			log.Fatalf("Failed to create %s table: %v", t.name, err)
		}
		log.Printf("✓ Created %s table", t.name)
	}

	// Create indexes
	indexes := []struct {
		name string
		sql  string
	}{
		{
			name: "Vector similarity search (HNSW)",
			sql: `CREATE INDEX IF NOT EXISTS idx_chunks_embedding_hnsw ON document_chunks
USING hnsw (embedding vector_cosine_ops)
WITH (m = 16, ef_construction = 64);`,
		},
		{
			name: "Chunk document filtering",
			sql:  "CREATE INDEX IF NOT EXISTS idx_chunks_document ON document_chunks(document_id, page, chunk_index);",
		},
		{
			name: "Chunk tag filtering",
			sql:  "CREATE INDEX IF NOT EXISTS idx_chunks_tags ON document_chunks USING gin (tags);",
		},
		{
			name: "Enabled rules",
			sql:  "CREATE INDEX IF NOT EXISTS idx_rules_enabled ON rules(rule_id, version DESC);",
		},
		{
			name: "Reviews by document",
			sql:  "CREATE INDEX IF NOT EXISTS idx_review_runs_document ON review_runs(document_id, created_at DESC);",
		},
		{
			name: "At most one active review per document",
			sql: `CREATE UNIQUE INDEX IF NOT EXISTS idx_review_runs_active ON review_runs(document_id)
    WHERE status IN ('PENDING', 'RUNNING');`,
		},
		{
			name: "Sessions by review",
			sql:  "CREATE INDEX IF NOT EXISTS idx_explain_sessions_review ON explain_sessions(review_id, rule_id);",
		},
		{
			name: "Messages by session",
			sql:  "CREATE INDEX IF NOT EXISTS idx_explain_messages_session ON explain_messages(session_id, seq);",
		},
	}

	for _, idx := range indexes {
		_, err = pool.Exec(ctx, idx.sql)
		if err != nil {
			log.Printf("Warning: Failed to create index %s: %v", idx.name, err)
		} else {
			log.Printf("✓ Created index: %s", idx.name)
		}
	}

	fmt.Println("\n✅ Database schema created successfully!")
	fmt.Printf("   Tables: %d\n", len(tables))
	fmt.Printf("   Embedding dimensions: %d\n", cfg.EmbedDimensions)
}
