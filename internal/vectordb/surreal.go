package vectordb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/raphaelgruber/docindex/internal/db"
	"github.com/surrealdb/surrealdb.go"
)

// tablePrefix separates vector collection tables from the application's own
// tables in the shared database.
const tablePrefix = "vec_"

// SurrealStore implements Store on SurrealDB's native HNSW index. Each
// collection is a table with an embedding field and an HNSW index over it;
// record IDs are derived deterministically from the document ID so repeated
// writes overwrite.
type SurrealStore struct {
	client *db.Client
	metric Distance
	log    *slog.Logger

	// searchEf is the ef parameter of the KNN operator, the candidate pool
	// size during graph traversal.
	searchEf int

	mu        sync.Mutex
	connected bool
}

// SurrealOption configures a SurrealStore.
type SurrealOption func(*SurrealStore)

// WithSurrealSearchEf overrides the KNN candidate pool size.
func WithSurrealSearchEf(ef int) SurrealOption {
	return func(s *SurrealStore) { s.searchEf = ef }
}

// NewSurrealStore creates a store on an existing database client. The client
// lifecycle belongs to the caller; Disconnect only detaches from it.
func NewSurrealStore(client *db.Client, metric Distance, log *slog.Logger, opts ...SurrealOption) *SurrealStore {
	s := &SurrealStore{
		client:   client,
		metric:   metric,
		log:      log,
		searchEf: 64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*SurrealStore)(nil)

type collectionMeta struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
}

// Connect ensures the collection registry table exists. Idempotent.
func (s *SurrealStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}

	_, err := surrealdb.Query[any](ctx, s.client.DB(), `
		DEFINE TABLE IF NOT EXISTS vector_collection SCHEMAFULL;
		DEFINE FIELD IF NOT EXISTS name ON vector_collection TYPE string;
		DEFINE FIELD IF NOT EXISTS dimension ON vector_collection TYPE int;
		DEFINE FIELD IF NOT EXISTS created_at ON vector_collection TYPE datetime DEFAULT time::now();
		DEFINE INDEX IF NOT EXISTS vector_collection_name ON vector_collection FIELDS name UNIQUE;
	`, nil)
	if err != nil {
		return fmt.Errorf("define collection registry: %w", err)
	}

	s.connected = true
	s.log.Debug("surreal vector store connected")
	return nil
}

// Disconnect detaches from the shared client without closing it. Idempotent.
func (s *SurrealStore) Disconnect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *SurrealStore) ensureConnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	return nil
}

func (s *SurrealStore) getMeta(ctx context.Context, name string) (*collectionMeta, error) {
	results, err := surrealdb.Query[[]collectionMeta](ctx, s.client.DB(), `
		SELECT name, dimension FROM vector_collection WHERE name = $name LIMIT 1
	`, map[string]any{"name": name})
	if err != nil {
		return nil, fmt.Errorf("read collection registry: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

func (s *SurrealStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	if err := s.ensureConnected(); err != nil {
		return false, err
	}
	if err := ValidateCollectionName(name); err != nil {
		return false, err
	}
	meta, err := s.getMeta(ctx, name)
	if err != nil {
		return false, err
	}
	return meta != nil, nil
}

func (s *SurrealStore) CreateCollection(ctx context.Context, name string, dimension int, reset bool) (bool, error) {
	if err := s.ensureConnected(); err != nil {
		return false, err
	}
	if err := ValidateCollectionName(name); err != nil {
		return false, err
	}
	if dimension < 1 {
		return false, fmt.Errorf("create collection %s: dimension must be >= 1, got %d", name, dimension)
	}

	meta, err := s.getMeta(ctx, name)
	if err != nil {
		return false, err
	}
	if meta != nil && !reset {
		return false, nil
	}
	if meta != nil && reset {
		if err := s.DeleteCollection(ctx, name); err != nil {
			return false, err
		}
	}

	table := tablePrefix + name
	define := fmt.Sprintf(`
		DEFINE TABLE IF NOT EXISTS %[1]s SCHEMAFULL;
		DEFINE FIELD IF NOT EXISTS doc_id ON %[1]s TYPE string;
		DEFINE FIELD IF NOT EXISTS text ON %[1]s TYPE string;
		DEFINE FIELD IF NOT EXISTS embedding ON %[1]s TYPE array<float>;
		DEFINE FIELD IF NOT EXISTS metadata ON %[1]s TYPE option<object> FLEXIBLE;
		DEFINE INDEX IF NOT EXISTS %[1]s_doc ON %[1]s FIELDS doc_id UNIQUE;
		DEFINE INDEX IF NOT EXISTS %[1]s_hnsw ON %[1]s FIELDS embedding HNSW DIMENSION %[2]d DIST COSINE;
	`, table, dimension)
	if _, err := surrealdb.Query[any](ctx, s.client.DB(), define, nil); err != nil {
		return false, fmt.Errorf("create collection %s: %w", name, err)
	}

	_, err = surrealdb.Query[any](ctx, s.client.DB(), `
		CREATE vector_collection SET name = $name, dimension = $dimension
	`, map[string]any{"name": name, "dimension": dimension})
	if err != nil {
		return false, fmt.Errorf("register collection %s: %w", name, err)
	}

	s.log.Info("vector collection ready", "collection", name, "dimension", dimension, "reset", reset)
	return true, nil
}

func (s *SurrealStore) DeleteCollection(ctx context.Context, name string) error {
	if err := s.ensureConnected(); err != nil {
		return err
	}
	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	remove := fmt.Sprintf(`REMOVE TABLE IF EXISTS %s`, tablePrefix+name)
	if _, err := surrealdb.Query[any](ctx, s.client.DB(), remove, nil); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	_, err := surrealdb.Query[any](ctx, s.client.DB(), `
		DELETE vector_collection WHERE name = $name
	`, map[string]any{"name": name})
	if err != nil {
		return fmt.Errorf("unregister collection %s: %w", name, err)
	}
	return nil
}

func (s *SurrealStore) GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	if err := s.ensureConnected(); err != nil {
		return nil, err
	}
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	meta, err := s.getMeta(ctx, name)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, nil
	}

	count := fmt.Sprintf(`SELECT count() AS total FROM %s GROUP ALL`, tablePrefix+name)
	results, err := surrealdb.Query[[]struct {
		Total int64 `json:"total"`
	}](ctx, s.client.DB(), count, nil)
	if err != nil {
		return nil, fmt.Errorf("count collection %s: %w", name, err)
	}

	info := &CollectionInfo{Name: name, Dimension: meta.Dimension, Indexed: true}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		info.Points = (*results)[0].Result[0].Total
	}
	return info, nil
}

func (s *SurrealStore) ListCollections(ctx context.Context) ([]string, error) {
	if err := s.ensureConnected(); err != nil {
		return nil, err
	}
	results, err := surrealdb.Query[[]collectionMeta](ctx, s.client.DB(), `
		SELECT name, dimension FROM vector_collection ORDER BY name ASC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	var names []string
	if results != nil && len(*results) > 0 {
		for _, meta := range (*results)[0].Result {
			names = append(names, meta.Name)
		}
	}
	return names, nil
}

func (s *SurrealStore) InsertOne(ctx context.Context, collection string, doc Document) error {
	_, err := s.InsertMany(ctx, collection, []Document{doc}, 1)
	return err
}

func (s *SurrealStore) InsertMany(ctx context.Context, collection string, docs []Document, batchSize int) (int, error) {
	if err := s.ensureConnected(); err != nil {
		return 0, err
	}
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	if batchSize < 1 {
		batchSize = len(docs)
	}

	meta, err := s.getMeta(ctx, collection)
	if err != nil {
		return 0, err
	}
	if meta == nil {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	fillDocumentIDs(docs)
	if err := validateVectors(docs, meta.Dimension); err != nil {
		return 0, err
	}

	table := tablePrefix + collection
	upsert := fmt.Sprintf(`
		UPSERT type::record("%s", $id) SET
			doc_id = $doc_id,
			text = $text,
			embedding = $embedding,
			metadata = $metadata
	`, table)

	written := 0
	for start := 0; start < len(docs); start += batchSize {
		end := min(start+batchSize, len(docs))
		for _, doc := range docs[start:end] {
			_, err := surrealdb.Query[any](ctx, s.client.DB(), upsert, map[string]any{
				"id":        recordIDForDoc(collection, doc.ID),
				"doc_id":    doc.ID,
				"text":      doc.Text,
				"embedding": doc.Vector,
				"metadata":  doc.Metadata,
			})
			if err != nil {
				return written, fmt.Errorf("upsert into %s: %w", collection, err)
			}
			written++
		}
	}
	return written, nil
}

// ResetIndex redefines the HNSW index, forcing SurrealDB to rebuild the
// graph from the stored embeddings.
func (s *SurrealStore) ResetIndex(ctx context.Context, collection string) error {
	if err := s.ensureConnected(); err != nil {
		return err
	}
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	meta, err := s.getMeta(ctx, collection)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	table := tablePrefix + collection
	rebuild := fmt.Sprintf(`
		REMOVE INDEX IF EXISTS %[1]s_hnsw ON %[1]s;
		DEFINE INDEX %[1]s_hnsw ON %[1]s FIELDS embedding HNSW DIMENSION %[2]d DIST COSINE;
	`, table, meta.Dimension)
	if _, err := surrealdb.Query[any](ctx, s.client.DB(), rebuild, nil); err != nil {
		return fmt.Errorf("reset index on %s: %w", collection, err)
	}

	s.log.Info("vector index reset", "collection", collection)
	return nil
}

func (s *SurrealStore) SearchByVector(ctx context.Context, collection string, vector []float32, limit int, threshold float64) ([]RetrievedDocument, error) {
	if err := s.ensureConnected(); err != nil {
		return nil, err
	}
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	meta, err := s.getMeta(ctx, collection)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		// Read paths treat a missing collection as empty, not an error
		return []RetrievedDocument{}, nil
	}
	if len(vector) != meta.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection expects %d",
			ErrDimensionMismatch, len(vector), meta.Dimension)
	}
	if limit < 1 {
		limit = 10
	}

	scoreFn := "vector::similarity::cosine"
	if s.metric == DistanceDot {
		scoreFn = "vector::dot"
	}

	// The KNN operator takes its parameters as literals, not bind variables
	query := fmt.Sprintf(`
		SELECT doc_id, text, metadata, %s(embedding, $q) AS score
		FROM %s
		WHERE embedding <|%d,%d|> $q
		ORDER BY score DESC
	`, scoreFn, tablePrefix+collection, limit, s.searchEf)

	results, err := surrealdb.Query[[]struct {
		DocID    string         `json:"doc_id"`
		Text     string         `json:"text"`
		Metadata map[string]any `json:"metadata"`
		Score    float64        `json:"score"`
	}](ctx, s.client.DB(), query, map[string]any{"q": vector})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}

	var hits []RetrievedDocument
	if results != nil && len(*results) > 0 {
		for _, row := range (*results)[0].Result {
			if threshold > 0 && row.Score < threshold {
				continue
			}
			hits = append(hits, RetrievedDocument{
				ID:       row.DocID,
				Text:     row.Text,
				Score:    row.Score,
				Metadata: row.Metadata,
			})
		}
	}
	return hits, nil
}

// recordIDForDoc derives a stable record ID from the collection and document
// ID. Writing the same document twice lands on the same record.
func recordIDForDoc(collection, docID string) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(collection+"/"+docID))
	return strings.ReplaceAll(id.String(), "-", "")
}
