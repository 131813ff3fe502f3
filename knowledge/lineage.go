// Package knowledge mirrors ingestion runs into a Neo4j lineage graph:
// (:Source)-[:HAS_FOLDER]->(:Folder)<-[:IN_FOLDER]-(:DataFile), with one
// (:Run) node per run linked to the files it classified.
package knowledge

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/go-ingest/ingestion"
)

type Lineage struct {
	driver neo4j.DriverWithContext
}

func NewLineage(driver neo4j.DriverWithContext) *Lineage {
	return &Lineage{driver: driver}
}

const upsertRunCypher = `
	MERGE (s:Source {name: $source})
	MERGE (f:Folder {path: $root})
	SET f.name = $folder
	MERGE (s)-[:HAS_FOLDER]->(f)
	MERGE (r:Run {id: $run_id})
	SET r.started_at = $started_at,
	    r.finished_at = $finished_at,
	    r.failed = $failed
	MERGE (r)-[:SCANNED]->(f)
`

const upsertFilesCypher = `
	MATCH (f:Folder {path: $root}), (r:Run {id: $run_id})
	UNWIND $files AS file
	MERGE (d:DataFile {path: file.path})
	SET d.name = file.name,
	    d.namespace = file.namespace,
	    d.format = file.format,
	    d.fingerprint = file.fingerprint,
	    d.updated_at = datetime()
	MERGE (d)-[:IN_FOLDER]->(f)
	MERGE (r)-[c:CLASSIFIED]->(d)
	SET c.class = file.class,
	    c.previous = file.previous
`

// Record implements ingestion.Recorder. Runs rejected before scanning have no
// root and are skipped.
func (l *Lineage) Record(ctx context.Context, report *ingestion.RunReport) error {
	if l == nil || l.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}
	if report == nil || report.Root == "" {
		return nil
	}

	params := runParams(report)

	session := l.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, upsertRunCypher, params); err != nil {
			return nil, fmt.Errorf("upsert run node: %w", err)
		}
		if _, err := tx.Run(ctx, upsertFilesCypher, params); err != nil {
			return nil, fmt.Errorf("upsert data files: %w", err)
		}
		return nil, nil
	})
	return err
}

func runParams(report *ingestion.RunReport) map[string]any {
	files := make([]any, 0, len(report.Decisions))
	for _, d := range report.Decisions {
		files = append(files, map[string]any{
			"path":        d.Path,
			"name":        filepath.Base(d.Path),
			"namespace":   d.Key.Namespace,
			"format":      string(ingestion.DetectFormat(d.Path)),
			"fingerprint": d.Fingerprint.String(),
			"previous":    d.Previous.String(),
			"class":       d.Class.String(),
		})
	}

	return map[string]any{
		"run_id":      report.RunID.String(),
		"source":      report.Source,
		"folder":      report.Folder,
		"root":        report.Root,
		"started_at":  report.StartedAt,
		"finished_at": report.FinishedAt,
		"failed":      len(report.Failures),
		"files":       files,
	}
}
