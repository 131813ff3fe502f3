package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func EnsureLedgerSchema(ctx context.Context, db Execer) error {
	if db == nil {
		return errors.New("postgres connection is nil")
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ingest_runs (
			id UUID PRIMARY KEY,
			source TEXT NOT NULL,
			folder TEXT NOT NULL,
			root TEXT NOT NULL,
			extensions TEXT[] NOT NULL DEFAULT '{}',
			new_count INT NOT NULL DEFAULT 0,
			changed_count INT NOT NULL DEFAULT 0,
			unchanged_count INT NOT NULL DEFAULT 0,
			failed_count INT NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ingest_decisions (
			run_id UUID NOT NULL REFERENCES ingest_runs(id) ON DELETE CASCADE,
			path TEXT NOT NULL,
			namespace TEXT NOT NULL DEFAULT '',
			classification TEXT NOT NULL,
			fingerprint TEXT NOT NULL DEFAULT '',
			previous TEXT NOT NULL DEFAULT '',
			error TEXT,
			PRIMARY KEY (run_id, path)
		)`,
		"CREATE INDEX IF NOT EXISTS idx_ingest_runs_source ON ingest_runs(source, folder, started_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_ingest_decisions_path ON ingest_decisions(path)",
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}
