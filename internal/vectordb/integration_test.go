// Integration tests run the shared store contract against both backends:
// Postgres with pgvector, and SurrealDB with a native HNSW index.
package vectordb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/raphaelgruber/docindex/internal/db"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testPG      *PGVectorStore
	testSurreal *SurrealStore
	testClient  *db.Client
)

func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start pgvector container: %v", err)
	}

	pgHost, err := pgContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get pgvector host: %v", err)
	}
	if pgHost == "" || pgHost == "null" {
		pgHost = "localhost"
	}
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("Failed to get pgvector port: %v", err)
	}

	testPG = NewPGVectorStore(
		fmt.Sprintf("postgres://test:test@%s:%s/test", pgHost, pgPort.Port()),
		DistanceCosine, quiet,
		WithPGIndexThreshold(8),
	)
	if err := testPG.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect pgvector store: %v", err)
	}

	surrealContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	srHost, err := surrealContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get SurrealDB host: %v", err)
	}
	if srHost == "" || srHost == "null" {
		srHost = "localhost"
	}
	srPort, err := surrealContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get SurrealDB port: %v", err)
	}

	testClient, err = db.NewClient(ctx, db.Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", srHost, srPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, quiet)
	if err != nil {
		log.Fatalf("Failed to connect to SurrealDB: %v", err)
	}

	testSurreal = NewSurrealStore(testClient, DistanceCosine, quiet)
	if err := testSurreal.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect surreal store: %v", err)
	}

	code := m.Run()

	_ = testPG.Disconnect(ctx)
	_ = testSurreal.Disconnect(ctx)
	_ = testClient.Close(ctx)
	_ = pgContainer.Terminate(ctx)
	_ = surrealContainer.Terminate(ctx)

	os.Exit(code)
}

// backends returns both stores under test with distinct collection prefixes
// so runs do not interfere.
func backends() map[string]Store {
	return map[string]Store{
		"pgvector": testPG,
		"surreal":  testSurreal,
	}
}

func axisVector(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestCreateCollectionLifecycle(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends() {
		t.Run(name, func(t *testing.T) {
			coll := "lifecycle_" + name

			created, err := store.CreateCollection(ctx, coll, 4, false)
			if err != nil {
				t.Fatalf("CreateCollection failed: %v", err)
			}
			if !created {
				t.Error("expected first CreateCollection to report creation")
			}

			exists, err := store.CollectionExists(ctx, coll)
			if err != nil {
				t.Fatalf("CollectionExists failed: %v", err)
			}
			if !exists {
				t.Error("expected collection to exist after creation")
			}

			// Second create without reset keeps the collection
			created, err = store.CreateCollection(ctx, coll, 4, false)
			if err != nil {
				t.Fatalf("second CreateCollection failed: %v", err)
			}
			if created {
				t.Error("expected second CreateCollection to keep existing collection")
			}

			if err := store.DeleteCollection(ctx, coll); err != nil {
				t.Fatalf("DeleteCollection failed: %v", err)
			}
			exists, err = store.CollectionExists(ctx, coll)
			if err != nil {
				t.Fatalf("CollectionExists after delete failed: %v", err)
			}
			if exists {
				t.Error("expected collection to be gone after delete")
			}

			// Deleting again is a no-op
			if err := store.DeleteCollection(ctx, coll); err != nil {
				t.Errorf("repeated DeleteCollection should be a no-op, got %v", err)
			}
		})
	}
}

func TestInsertAndSearch(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends() {
		t.Run(name, func(t *testing.T) {
			coll := "search_" + name
			if _, err := store.CreateCollection(ctx, coll, 4, true); err != nil {
				t.Fatalf("CreateCollection failed: %v", err)
			}

			docs := []Document{
				{ID: "chunk:1", Text: "alpha", Vector: axisVector(4, 0), Metadata: map[string]any{"order": 1}},
				{ID: "chunk:2", Text: "beta", Vector: axisVector(4, 1), Metadata: map[string]any{"order": 2}},
				{ID: "chunk:3", Text: "gamma", Vector: axisVector(4, 2), Metadata: map[string]any{"order": 3}},
			}
			written, err := store.InsertMany(ctx, coll, docs, 2)
			if err != nil {
				t.Fatalf("InsertMany failed: %v", err)
			}
			if written != 3 {
				t.Errorf("expected 3 documents written, got %d", written)
			}

			hits, err := store.SearchByVector(ctx, coll, axisVector(4, 1), 2, 0)
			if err != nil {
				t.Fatalf("SearchByVector failed: %v", err)
			}
			if len(hits) == 0 {
				t.Fatal("expected at least one hit")
			}
			if hits[0].ID != "chunk:2" {
				t.Errorf("expected best hit chunk:2, got %q", hits[0].ID)
			}
			if hits[0].Text != "beta" {
				t.Errorf("expected text %q, got %q", "beta", hits[0].Text)
			}
			for i := 1; i < len(hits); i++ {
				if hits[i].Score > hits[i-1].Score {
					t.Error("expected hits ordered by descending score")
				}
			}
		})
	}
}

func TestInsertOverwritesSameID(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends() {
		t.Run(name, func(t *testing.T) {
			coll := "overwrite_" + name
			if _, err := store.CreateCollection(ctx, coll, 4, true); err != nil {
				t.Fatalf("CreateCollection failed: %v", err)
			}

			doc := Document{ID: "chunk:1", Text: "first", Vector: axisVector(4, 0)}
			if err := store.InsertOne(ctx, coll, doc); err != nil {
				t.Fatalf("InsertOne failed: %v", err)
			}

			doc.Text = "second"
			if err := store.InsertOne(ctx, coll, doc); err != nil {
				t.Fatalf("repeated InsertOne failed: %v", err)
			}

			info, err := store.GetCollectionInfo(ctx, coll)
			if err != nil {
				t.Fatalf("GetCollectionInfo failed: %v", err)
			}
			if info.Points != 1 {
				t.Errorf("expected 1 point after overwrite, got %d", info.Points)
			}

			hits, err := store.SearchByVector(ctx, coll, axisVector(4, 0), 1, 0)
			if err != nil {
				t.Fatalf("SearchByVector failed: %v", err)
			}
			if len(hits) != 1 || hits[0].Text != "second" {
				t.Errorf("expected overwritten text %q, got %+v", "second", hits)
			}
		})
	}
}

func TestSearchThresholdFiltersHits(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends() {
		t.Run(name, func(t *testing.T) {
			coll := "threshold_" + name
			if _, err := store.CreateCollection(ctx, coll, 4, true); err != nil {
				t.Fatalf("CreateCollection failed: %v", err)
			}

			docs := []Document{
				{ID: "chunk:1", Text: "match", Vector: axisVector(4, 0)},
				{ID: "chunk:2", Text: "orthogonal", Vector: axisVector(4, 3)},
			}
			if _, err := store.InsertMany(ctx, coll, docs, 0); err != nil {
				t.Fatalf("InsertMany failed: %v", err)
			}

			hits, err := store.SearchByVector(ctx, coll, axisVector(4, 0), 10, 0.9)
			if err != nil {
				t.Fatalf("SearchByVector failed: %v", err)
			}
			if len(hits) != 1 {
				t.Fatalf("expected exactly one hit above threshold, got %d", len(hits))
			}
			if hits[0].ID != "chunk:1" {
				t.Errorf("expected chunk:1, got %q", hits[0].ID)
			}
		})
	}
}

func TestInsertWithoutIDGetsGeneratedID(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends() {
		t.Run(name, func(t *testing.T) {
			coll := "genid_" + name
			if _, err := store.CreateCollection(ctx, coll, 4, true); err != nil {
				t.Fatalf("CreateCollection failed: %v", err)
			}

			docs := []Document{
				{Text: "first", Vector: axisVector(4, 0)},
				{Text: "second", Vector: axisVector(4, 1)},
			}
			written, err := store.InsertMany(ctx, coll, docs, 0)
			if err != nil {
				t.Fatalf("InsertMany without IDs failed: %v", err)
			}
			if written != 2 {
				t.Errorf("expected 2 documents written, got %d", written)
			}

			info, err := store.GetCollectionInfo(ctx, coll)
			if err != nil {
				t.Fatalf("GetCollectionInfo failed: %v", err)
			}
			if info.Points != 2 {
				t.Errorf("expected 2 points, got %d", info.Points)
			}

			hits, err := store.SearchByVector(ctx, coll, axisVector(4, 0), 2, 0)
			if err != nil {
				t.Fatalf("SearchByVector failed: %v", err)
			}
			if len(hits) != 2 {
				t.Fatalf("expected 2 hits, got %d", len(hits))
			}
			if hits[0].ID == "" || hits[1].ID == "" {
				t.Error("expected generated IDs on retrieved documents")
			}
			if hits[0].ID == hits[1].ID {
				t.Errorf("expected distinct generated IDs, both are %q", hits[0].ID)
			}
		})
	}
}

func TestZeroThresholdKeepsNegativeScores(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends() {
		t.Run(name, func(t *testing.T) {
			coll := "negscore_" + name
			if _, err := store.CreateCollection(ctx, coll, 4, true); err != nil {
				t.Fatalf("CreateCollection failed: %v", err)
			}

			// Opposite direction to the query, cosine similarity -1
			opposite := Document{ID: "chunk:1", Text: "opposite", Vector: []float32{-1, 0, 0, 0}}
			if err := store.InsertOne(ctx, coll, opposite); err != nil {
				t.Fatalf("InsertOne failed: %v", err)
			}

			hits, err := store.SearchByVector(ctx, coll, axisVector(4, 0), 5, 0)
			if err != nil {
				t.Fatalf("SearchByVector failed: %v", err)
			}
			if len(hits) != 1 {
				t.Fatalf("expected the negative-score hit with no threshold, got %d hits", len(hits))
			}
			if hits[0].Score >= 0 {
				t.Errorf("expected a negative score, got %f", hits[0].Score)
			}

			hits, err = store.SearchByVector(ctx, coll, axisVector(4, 0), 5, 0.5)
			if err != nil {
				t.Fatalf("SearchByVector with threshold failed: %v", err)
			}
			if len(hits) != 0 {
				t.Errorf("expected a positive threshold to drop the hit, got %d hits", len(hits))
			}
		})
	}
}

func TestInsertManyRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends() {
		t.Run(name, func(t *testing.T) {
			coll := "mismatch_" + name
			if _, err := store.CreateCollection(ctx, coll, 4, true); err != nil {
				t.Fatalf("CreateCollection failed: %v", err)
			}

			docs := []Document{
				{ID: "chunk:1", Text: "ok", Vector: axisVector(4, 0)},
				{ID: "chunk:2", Text: "bad", Vector: axisVector(3, 0)},
			}
			written, err := store.InsertMany(ctx, coll, docs, 10)
			if err == nil {
				t.Fatal("expected dimension mismatch error")
			}
			if written != 0 {
				t.Errorf("expected no documents written before validation, got %d", written)
			}

			info, err := store.GetCollectionInfo(ctx, coll)
			if err != nil {
				t.Fatalf("GetCollectionInfo failed: %v", err)
			}
			if info.Points != 0 {
				t.Errorf("expected empty collection after rejected batch, got %d points", info.Points)
			}
		})
	}
}

func TestResetDropsExistingData(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends() {
		t.Run(name, func(t *testing.T) {
			coll := "reset_" + name
			if _, err := store.CreateCollection(ctx, coll, 4, true); err != nil {
				t.Fatalf("CreateCollection failed: %v", err)
			}
			if err := store.InsertOne(ctx, coll, Document{ID: "chunk:1", Text: "old", Vector: axisVector(4, 0)}); err != nil {
				t.Fatalf("InsertOne failed: %v", err)
			}

			created, err := store.CreateCollection(ctx, coll, 4, true)
			if err != nil {
				t.Fatalf("reset CreateCollection failed: %v", err)
			}
			if !created {
				t.Error("expected reset to report a fresh collection")
			}

			info, err := store.GetCollectionInfo(ctx, coll)
			if err != nil {
				t.Fatalf("GetCollectionInfo failed: %v", err)
			}
			if info.Points != 0 {
				t.Errorf("expected empty collection after reset, got %d points", info.Points)
			}
		})
	}
}

func TestListCollections(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends() {
		t.Run(name, func(t *testing.T) {
			coll := "listed_" + name
			if _, err := store.CreateCollection(ctx, coll, 4, true); err != nil {
				t.Fatalf("CreateCollection failed: %v", err)
			}

			names, err := store.ListCollections(ctx)
			if err != nil {
				t.Fatalf("ListCollections failed: %v", err)
			}
			found := false
			for _, n := range names {
				if n == coll {
					found = true
				}
			}
			if !found {
				t.Errorf("expected %q in collection listing %v", coll, names)
			}
		})
	}
}

func TestMissingCollectionReads(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends() {
		t.Run(name, func(t *testing.T) {
			coll := "does_not_exist_" + name

			hits, err := store.SearchByVector(ctx, coll, axisVector(4, 0), 5, 0)
			if err != nil {
				t.Fatalf("SearchByVector on missing collection failed: %v", err)
			}
			if len(hits) != 0 {
				t.Errorf("expected no hits for missing collection, got %d", len(hits))
			}

			info, err := store.GetCollectionInfo(ctx, coll)
			if err != nil {
				t.Fatalf("GetCollectionInfo on missing collection failed: %v", err)
			}
			if info != nil {
				t.Errorf("expected nil info for missing collection, got %+v", info)
			}

			// Writes still require the collection to exist
			_, err = store.InsertMany(ctx, coll, []Document{{ID: "chunk:1", Vector: axisVector(4, 0)}}, 0)
			if !errors.Is(err, ErrCollectionNotFound) {
				t.Errorf("expected ErrCollectionNotFound on insert, got %v", err)
			}
		})
	}
}

func TestResetIndex(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends() {
		t.Run(name, func(t *testing.T) {
			coll := "resetidx_" + name
			if _, err := store.CreateCollection(ctx, coll, 4, true); err != nil {
				t.Fatalf("CreateCollection failed: %v", err)
			}

			docs := make([]Document, 10)
			for i := range docs {
				docs[i] = Document{
					ID:     fmt.Sprintf("chunk:%d", i),
					Text:   fmt.Sprintf("text %d", i),
					Vector: axisVector(4, i%4),
				}
			}
			if _, err := store.InsertMany(ctx, coll, docs, 0); err != nil {
				t.Fatalf("InsertMany failed: %v", err)
			}

			if err := store.ResetIndex(ctx, coll); err != nil {
				t.Fatalf("ResetIndex failed: %v", err)
			}

			info, err := store.GetCollectionInfo(ctx, coll)
			if err != nil {
				t.Fatalf("GetCollectionInfo failed: %v", err)
			}
			if !info.Indexed {
				t.Error("expected index to exist after reset")
			}

			hits, err := store.SearchByVector(ctx, coll, axisVector(4, 0), 3, 0)
			if err != nil {
				t.Fatalf("SearchByVector after reset failed: %v", err)
			}
			if len(hits) == 0 {
				t.Error("expected hits after index reset")
			}

			if err := store.ResetIndex(ctx, "resetidx_missing_"+name); !errors.Is(err, ErrCollectionNotFound) {
				t.Errorf("expected ErrCollectionNotFound, got %v", err)
			}
		})
	}
}

func TestPGIndexBuiltAtThreshold(t *testing.T) {
	ctx := context.Background()
	coll := "indexed_pg"
	if _, err := testPG.CreateCollection(ctx, coll, 4, true); err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}

	// Threshold is 8 in the test store; insert past it
	docs := make([]Document, 10)
	for i := range docs {
		docs[i] = Document{
			ID:     fmt.Sprintf("chunk:%d", i),
			Text:   fmt.Sprintf("text %d", i),
			Vector: axisVector(4, i%4),
		}
	}
	if _, err := testPG.InsertMany(ctx, coll, docs, 4); err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}

	info, err := testPG.GetCollectionInfo(ctx, coll)
	if err != nil {
		t.Fatalf("GetCollectionInfo failed: %v", err)
	}
	if !info.Indexed {
		t.Error("expected hnsw index to be built past the threshold")
	}
}
