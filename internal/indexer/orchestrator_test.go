package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/raphaelgruber/docindex/internal/models"
	"github.com/raphaelgruber/docindex/internal/vectordb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

type fakeSource struct {
	chunks []models.Chunk
}

func (f *fakeSource) CountChunks(_ context.Context, _ surrealmodels.RecordID) (int, error) {
	return len(f.chunks), nil
}

func (f *fakeSource) GetProjectChunks(_ context.Context, _ surrealmodels.RecordID, pageNo, pageSize int) ([]models.Chunk, error) {
	start := (pageNo - 1) * pageSize
	if start >= len(f.chunks) {
		return nil, nil
	}
	end := min(start+pageSize, len(f.chunks))
	return f.chunks[start:end], nil
}

type fakeEmbedder struct {
	dim   int
	calls int
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	vectors := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = float32(len(texts[i]))
		vectors[i] = v
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

type fakeCollection struct {
	dimension int
	docs      map[string]vectordb.Document
}

type fakeStore struct {
	collections map[string]*fakeCollection
	resets      int

	// failOnInsert makes every InsertMany call fail
	failOnInsert bool
	inserts      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{collections: map[string]*fakeCollection{}}
}

func (f *fakeStore) Connect(context.Context) error    { return nil }
func (f *fakeStore) Disconnect(context.Context) error { return nil }

func (f *fakeStore) CollectionExists(_ context.Context, name string) (bool, error) {
	_, ok := f.collections[name]
	return ok, nil
}

func (f *fakeStore) CreateCollection(_ context.Context, name string, dimension int, reset bool) (bool, error) {
	if _, ok := f.collections[name]; ok && !reset {
		return false, nil
	}
	if _, ok := f.collections[name]; ok && reset {
		f.resets++
	}
	f.collections[name] = &fakeCollection{dimension: dimension, docs: map[string]vectordb.Document{}}
	return true, nil
}

func (f *fakeStore) DeleteCollection(_ context.Context, name string) error {
	delete(f.collections, name)
	return nil
}

func (f *fakeStore) GetCollectionInfo(_ context.Context, name string) (*vectordb.CollectionInfo, error) {
	coll, ok := f.collections[name]
	if !ok {
		return nil, nil
	}
	return &vectordb.CollectionInfo{Name: name, Dimension: coll.dimension, Points: int64(len(coll.docs))}, nil
}

func (f *fakeStore) ListCollections(context.Context) ([]string, error) {
	var names []string
	for name := range f.collections {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeStore) InsertOne(ctx context.Context, collection string, doc vectordb.Document) error {
	_, err := f.InsertMany(ctx, collection, []vectordb.Document{doc}, 1)
	return err
}

func (f *fakeStore) InsertMany(_ context.Context, collection string, docs []vectordb.Document, _ int) (int, error) {
	f.inserts++
	if f.failOnInsert {
		return 0, errors.New("upsert failed")
	}
	coll, ok := f.collections[collection]
	if !ok {
		return 0, vectordb.ErrCollectionNotFound
	}
	for _, doc := range docs {
		coll.docs[doc.ID] = doc
	}
	return len(docs), nil
}

func (f *fakeStore) ResetIndex(context.Context, string) error {
	return nil
}

func (f *fakeStore) SearchByVector(context.Context, string, []float32, int, float64) ([]vectordb.RetrievedDocument, error) {
	return nil, nil
}

func testProject() *models.Project {
	return &models.Project{
		ID:         surrealmodels.RecordID{Table: "project", ID: "proj1"},
		ProjectKey: "docs",
	}
}

func testChunks(n int) []models.Chunk {
	chunks := make([]models.Chunk, n)
	for i := range chunks {
		chunks[i] = models.Chunk{
			ID:    surrealmodels.RecordID{Table: "chunk", ID: fmt.Sprintf("c%d", i)},
			Text:  fmt.Sprintf("chunk text %d", i),
			Order: i,
		}
	}
	return chunks
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIndexProject(t *testing.T) {
	source := &fakeSource{chunks: testChunks(7)}
	embedder := &fakeEmbedder{dim: 4}
	store := newFakeStore()
	o := New(source, embedder, store, discardLogger(), WithPageSize(3), WithBatchSize(2))

	result, err := o.IndexProject(context.Background(), testProject(), false)
	require.NoError(t, err)

	assert.Equal(t, "pproj1_d4", result.Collection)
	assert.True(t, result.CollectionCreated)
	assert.Equal(t, 7, result.TotalChunks)
	assert.Equal(t, 7, result.Indexed)
	assert.Equal(t, 3, result.Pages)
	// One embedding call per page
	assert.Equal(t, 3, embedder.calls)

	info, err := store.GetCollectionInfo(context.Background(), result.Collection)
	require.NoError(t, err)
	assert.EqualValues(t, 7, info.Points)
}

func TestIndexProject_EmptyProject(t *testing.T) {
	source := &fakeSource{}
	store := newFakeStore()
	o := New(source, &fakeEmbedder{dim: 4}, store, discardLogger())

	result, err := o.IndexProject(context.Background(), testProject(), false)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Indexed)
	assert.Equal(t, 0, result.Pages)
	// The collection still gets created so searches have a target
	assert.True(t, result.CollectionCreated)
}

func TestIndexProject_RerunOverwrites(t *testing.T) {
	source := &fakeSource{chunks: testChunks(5)}
	store := newFakeStore()
	o := New(source, &fakeEmbedder{dim: 4}, store, discardLogger())
	ctx := context.Background()

	_, err := o.IndexProject(ctx, testProject(), false)
	require.NoError(t, err)
	result, err := o.IndexProject(ctx, testProject(), false)
	require.NoError(t, err)

	assert.False(t, result.CollectionCreated)
	info, err := store.GetCollectionInfo(ctx, result.Collection)
	require.NoError(t, err)
	// Stable chunk IDs overwrite instead of duplicating
	assert.EqualValues(t, 5, info.Points)
}

func TestIndexProject_ResetRebuildsCollection(t *testing.T) {
	source := &fakeSource{chunks: testChunks(2)}
	store := newFakeStore()
	o := New(source, &fakeEmbedder{dim: 4}, store, discardLogger())
	ctx := context.Background()

	_, err := o.IndexProject(ctx, testProject(), false)
	require.NoError(t, err)
	result, err := o.IndexProject(ctx, testProject(), true)
	require.NoError(t, err)

	assert.True(t, result.CollectionCreated)
	assert.Equal(t, 1, store.resets)
}

func TestIndexProject_AbortsOnUpsertFailure(t *testing.T) {
	source := &fakeSource{chunks: testChunks(5)}
	store := newFakeStore()
	store.failOnInsert = true
	o := New(source, &fakeEmbedder{dim: 4}, store, discardLogger(), WithPageSize(2))

	result, err := o.IndexProject(context.Background(), testProject(), false)
	require.Error(t, err)

	assert.Equal(t, 0, result.Indexed)
	// First page fails, later pages are never attempted
	assert.Equal(t, 1, store.inserts)
}

func TestIndexProject_MetadataCarriesChunkOrder(t *testing.T) {
	chunks := testChunks(1)
	chunks[0].Metadata = map[string]any{"source": "readme.md"}
	source := &fakeSource{chunks: chunks}
	store := newFakeStore()
	o := New(source, &fakeEmbedder{dim: 4}, store, discardLogger())

	result, err := o.IndexProject(context.Background(), testProject(), false)
	require.NoError(t, err)

	doc, ok := store.collections[result.Collection].docs["c0"]
	require.True(t, ok)
	assert.Equal(t, 0, doc.Metadata["chunk_order"])
	assert.Equal(t, "readme.md", doc.Metadata["source"])
}
