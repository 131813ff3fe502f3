package knowledge

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/go-ingest/checksum"
	"github.com/fabfab/go-ingest/config"
	"github.com/fabfab/go-ingest/database"
	"github.com/fabfab/go-ingest/ingestion"
)

func sampleReport() *ingestion.RunReport {
	return &ingestion.RunReport{
		RunID:      uuid.New(),
		Source:     "openmrs",
		Folder:     "visits",
		Root:       "/data/openmrs/visits",
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
		Decisions: []ingestion.Decision{{
			Path:        "/data/openmrs/visits/p.xml",
			Key:         checksum.Key{Root: "/data/openmrs_checksum", Namespace: "visits", Name: "p.xml"},
			Fingerprint: "cc",
			Previous:    "c0",
			Class:       ingestion.Changed,
		}},
	}
}

func TestRecordNilDriver(t *testing.T) {
	err := NewLineage(nil).Record(context.Background(), sampleReport())
	assert.Error(t, err)
}

func TestRunParams(t *testing.T) {
	report := sampleReport()
	params := runParams(report)

	assert.Equal(t, report.RunID.String(), params["run_id"])
	assert.Equal(t, "openmrs", params["source"])
	assert.Equal(t, "/data/openmrs/visits", params["root"])
	assert.Equal(t, 0, params["failed"])

	files, ok := params["files"].([]any)
	require.True(t, ok)
	require.Len(t, files, 1)
	assert.Equal(t, map[string]any{
		"path":        "/data/openmrs/visits/p.xml",
		"name":        "p.xml",
		"namespace":   "visits",
		"format":      "xml",
		"fingerprint": "cc",
		"previous":    "c0",
		"class":       "changed",
	}, files[0])
}

func TestLineageAgainstNeo4j(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run graph integration checks")
	}

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	require.NoError(t, err)
	defer driver.Close(ctx)

	report := sampleReport()
	require.NoError(t, NewLineage(driver).Record(ctx, report))

	result, err := neo4j.ExecuteQuery(ctx, driver, `
		MATCH (:Run {id: $run_id})-[c:CLASSIFIED]->(d:DataFile)
		RETURN d.fingerprint AS fingerprint, c.class AS class
	`, map[string]any{"run_id": report.RunID.String()}, neo4j.EagerResultTransformer)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	fp, _ := result.Records[0].Get("fingerprint")
	class, _ := result.Records[0].Get("class")
	assert.Equal(t, "cc", fp)
	assert.Equal(t, "changed", class)

	_, err = neo4j.ExecuteQuery(ctx, driver, `MATCH (r:Run {id: $run_id}) DETACH DELETE r`,
		map[string]any{"run_id": report.RunID.String()}, neo4j.EagerResultTransformer)
	require.NoError(t, err)
}
