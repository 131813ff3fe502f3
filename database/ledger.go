package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fabfab/go-ingest/ingestion"
)

// Beginner starts transactions; *pgxpool.Pool and *pgx.Conn satisfy it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Ledger keeps the history of runs in Postgres. Each report is written in a
// single transaction.
type Ledger struct {
	db Beginner
}

func NewLedger(db Beginner) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Record(ctx context.Context, report *ingestion.RunReport) error {
	if l == nil || l.db == nil {
		return errors.New("postgres connection is nil")
	}
	if report == nil {
		return errors.New("run report is nil")
	}

	return pgx.BeginFunc(ctx, l.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ingest_runs (id, source, folder, root, extensions,
				new_count, changed_count, unchanged_count, failed_count, started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			report.RunID.String(), report.Source, report.Folder, report.Root, extensionsOf(report),
			report.Count(ingestion.New), report.Count(ingestion.Changed), report.Count(ingestion.Unchanged),
			len(report.Failures), report.StartedAt, report.FinishedAt,
		); err != nil {
			return fmt.Errorf("insert run %s: %w", report.RunID, err)
		}

		for _, d := range report.Decisions {
			if _, err := tx.Exec(ctx, `
				INSERT INTO ingest_decisions (run_id, path, namespace, classification, fingerprint, previous)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (run_id, path) DO UPDATE
				SET classification = EXCLUDED.classification,
				    fingerprint = EXCLUDED.fingerprint,
				    previous = EXCLUDED.previous
			`, report.RunID.String(), d.Path, d.Key.Namespace, d.Class.String(), d.Fingerprint.String(), d.Previous.String()); err != nil {
				return fmt.Errorf("insert decision for %s: %w", d.Path, err)
			}
		}

		for _, f := range report.Failures {
			if _, err := tx.Exec(ctx, `
				INSERT INTO ingest_decisions (run_id, path, classification, error)
				VALUES ($1, $2, 'failed', $3)
				ON CONFLICT (run_id, path) DO UPDATE
				SET error = EXCLUDED.error
			`, report.RunID.String(), f.Path, f.Err.Error()); err != nil {
				return fmt.Errorf("insert failure for %s: %w", f.Path, err)
			}
		}

		return nil
	})
}

func extensionsOf(report *ingestion.RunReport) []string {
	if report.Extensions == nil {
		return []string{}
	}
	return report.Extensions
}
