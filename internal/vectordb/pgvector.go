package vectordb

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGVectorStore implements Store on Postgres with the pgvector extension.
// Each collection is a table holding text, the embedding vector and a JSONB
// metadata column. The stable document ID carries a unique constraint, so
// re-indexing a chunk overwrites its row.
type PGVectorStore struct {
	url      string
	metric   Distance
	log      *slog.Logger
	hnswOpts HNSWOptions

	// indexThreshold is the row count at which an HNSW index is built.
	// Below it sequential scan is cheaper than maintaining the graph.
	indexThreshold int64

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// HNSWOptions tunes the approximate-nearest-neighbour index.
type HNSWOptions struct {
	M              int
	EfConstruction int
}

// PGVectorOption configures a PGVectorStore.
type PGVectorOption func(*PGVectorStore)

// WithPGIndexThreshold overrides the row count at which the HNSW index is
// created.
func WithPGIndexThreshold(n int64) PGVectorOption {
	return func(s *PGVectorStore) { s.indexThreshold = n }
}

// WithPGHNSWOptions overrides the HNSW build parameters.
func WithPGHNSWOptions(opts HNSWOptions) PGVectorOption {
	return func(s *PGVectorStore) { s.hnswOpts = opts }
}

// NewPGVectorStore creates a pgvector-backed store. Connect must be called
// before use.
func NewPGVectorStore(url string, metric Distance, log *slog.Logger, opts ...PGVectorOption) *PGVectorStore {
	s := &PGVectorStore{
		url:            url,
		metric:         metric,
		log:            log,
		indexThreshold: 1000,
		hnswOpts:       HNSWOptions{M: 16, EfConstruction: 64},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*PGVectorStore)(nil)

// Connect opens the connection pool and ensures the vector extension is
// installed. Calling Connect on a connected store is a no-op.
func (s *PGVectorStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		return nil
	}

	pool, err := pgxpool.New(ctx, s.url)
	if err != nil {
		return fmt.Errorf("connect pgvector: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping pgvector: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		pool.Close()
		return fmt.Errorf("enable vector extension: %w", err)
	}

	s.pool = pool
	s.log.Debug("pgvector store connected")
	return nil
}

// Disconnect closes the pool. Calling Disconnect on a disconnected store is
// a no-op.
func (s *PGVectorStore) Disconnect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == nil {
		return nil
	}
	s.pool.Close()
	s.pool = nil
	return nil
}

func (s *PGVectorStore) getPool() (*pgxpool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == nil {
		return nil, ErrNotConnected
	}
	return s.pool, nil
}

func (s *PGVectorStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	if err := ValidateCollectionName(name); err != nil {
		return false, err
	}

	var exists bool
	err = pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check collection %s: %w", name, err)
	}
	return exists, nil
}

func (s *PGVectorStore) CreateCollection(ctx context.Context, name string, dimension int, reset bool) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	if err := ValidateCollectionName(name); err != nil {
		return false, err
	}
	if dimension < 1 {
		return false, fmt.Errorf("create collection %s: dimension must be >= 1, got %d", name, dimension)
	}

	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists && !reset {
		return false, nil
	}
	if exists && reset {
		if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS `+quoteIdent(name)); err != nil {
			return false, fmt.Errorf("reset collection %s: %w", name, err)
		}
	}

	table := quoteIdent(name)
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
			id BIGSERIAL PRIMARY KEY,
			doc_id TEXT NOT NULL UNIQUE,
			text TEXT NOT NULL DEFAULT '',
			embedding VECTOR(` + strconv.Itoa(dimension) + `) NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return false, fmt.Errorf("create collection %s: %w", name, err)
		}
	}

	s.log.Info("vector collection ready", "collection", name, "dimension", dimension, "reset", reset)
	return true, nil
}

func (s *PGVectorStore) DeleteCollection(ctx context.Context, name string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS `+quoteIdent(name)); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	return nil
}

func (s *PGVectorStore) GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	info := &CollectionInfo{Name: name}
	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+quoteIdent(name)).Scan(&info.Points)
	if err != nil {
		return nil, fmt.Errorf("count collection %s: %w", name, err)
	}
	err = pool.QueryRow(ctx, `
		SELECT COALESCE(a.atttypmod, 0)
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		WHERE c.relname = $1 AND a.attname = 'embedding'`, name).Scan(&info.Dimension)
	if err != nil {
		return nil, fmt.Errorf("read collection dimension %s: %w", name, err)
	}
	indexed, err := s.hasHNSWIndex(ctx, name)
	if err != nil {
		return nil, err
	}
	info.Indexed = indexed
	return info, nil
}

func (s *PGVectorStore) ListCollections(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, `
		SELECT c.relname
		FROM pg_class c
		JOIN pg_attribute a ON a.attrelid = c.oid
		JOIN pg_type t ON t.oid = a.atttypid
		WHERE c.relkind = 'r' AND t.typname = 'vector' AND a.attname = 'embedding'
		ORDER BY c.relname`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *PGVectorStore) InsertOne(ctx context.Context, collection string, doc Document) error {
	_, err := s.InsertMany(ctx, collection, []Document{doc}, 1)
	return err
}

func (s *PGVectorStore) InsertMany(ctx context.Context, collection string, docs []Document, batchSize int) (int, error) {
	pool, err := s.getPool()
	if err != nil {
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

	info, err := s.GetCollectionInfo(ctx, collection)
	if err != nil {
		return 0, err
	}
	if info == nil {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	fillDocumentIDs(docs)
	if err := validateVectors(docs, info.Dimension); err != nil {
		return 0, err
	}

	table := quoteIdent(collection)
	upsert := `
		INSERT INTO ` + table + ` (doc_id, text, embedding, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (doc_id) DO UPDATE
		SET text = EXCLUDED.text, embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata`

	written := 0
	for start := 0; start < len(docs); start += batchSize {
		end := min(start+batchSize, len(docs))

		batch := &pgx.Batch{}
		for _, doc := range docs[start:end] {
			batch.Queue(upsert, doc.ID, doc.Text, vectorLiteral(doc.Vector), doc.Metadata)
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return written, fmt.Errorf("upsert batch into %s: %w", collection, err)
		}
		written += end - start
	}

	if err := s.maybeBuildIndex(ctx, collection); err != nil {
		// The data is durable; a missing index only costs query speed
		s.log.Warn("deferred index build failed", "collection", collection, "error", err)
	}
	return written, nil
}

// ResetIndex drops the HNSW index and rebuilds it when the collection is
// past the build threshold. Below the threshold the collection goes back to
// sequential scans.
func (s *PGVectorStore) ResetIndex(ctx context.Context, collection string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	if _, err := pool.Exec(ctx, `DROP INDEX IF EXISTS `+quoteIdent(collection+"_hnsw")); err != nil {
		return fmt.Errorf("drop hnsw index on %s: %w", collection, err)
	}
	if err := s.maybeBuildIndex(ctx, collection); err != nil {
		return err
	}
	s.log.Info("vector index reset", "collection", collection)
	return nil
}

func (s *PGVectorStore) SearchByVector(ctx context.Context, collection string, vector []float32, limit int, threshold float64) ([]RetrievedDocument, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		// Read paths treat a missing collection as empty, not an error
		return []RetrievedDocument{}, nil
	}
	if limit < 1 {
		limit = 10
	}

	// Cosine distance runs 0..2; similarity is its complement. Negative
	// inner product sorts ascending, so the similarity is its negation.
	scoreExpr := `1 - (embedding <=> $1)`
	orderExpr := `embedding <=> $1`
	if s.metric == DistanceDot {
		scoreExpr = `-(embedding <#> $1)`
		orderExpr = `embedding <#> $1`
	}

	rows, err := pool.Query(ctx, `
		SELECT doc_id, text, metadata, `+scoreExpr+` AS score
		FROM `+quoteIdent(collection)+`
		ORDER BY `+orderExpr+`
		LIMIT $2`, vectorLiteral(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	defer rows.Close()

	var hits []RetrievedDocument
	for rows.Next() {
		var hit RetrievedDocument
		if err := rows.Scan(&hit.ID, &hit.Text, &hit.Metadata, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		if threshold > 0 && hit.Score < threshold {
			continue
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// maybeBuildIndex creates the HNSW index once the collection crosses the
// threshold. Runs after every insert batch but the work happens at most once
// per collection.
func (s *PGVectorStore) maybeBuildIndex(ctx context.Context, collection string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	indexed, err := s.hasHNSWIndex(ctx, collection)
	if err != nil || indexed {
		return err
	}

	var count int64
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+quoteIdent(collection)).Scan(&count); err != nil {
		return fmt.Errorf("count %s: %w", collection, err)
	}
	if count < s.indexThreshold {
		return nil
	}

	opclass := "vector_cosine_ops"
	if s.metric == DistanceDot {
		opclass = "vector_ip_ops"
	}
	stmt := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding %s) WITH (m = %d, ef_construction = %d)`,
		quoteIdent(collection+"_hnsw"), quoteIdent(collection), opclass,
		s.hnswOpts.M, s.hnswOpts.EfConstruction)
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("build hnsw index on %s: %w", collection, err)
	}

	s.log.Info("hnsw index built", "collection", collection, "points", count)
	return nil
}

func (s *PGVectorStore) hasHNSWIndex(ctx context.Context, collection string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	err = pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_indexes
			WHERE schemaname = 'public' AND tablename = $1 AND indexname = $2
		)`, collection, collection+"_hnsw").Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check hnsw index on %s: %w", collection, err)
	}
	return exists, nil
}

// quoteIdent double-quotes an already-validated identifier so reserved words
// cannot slip through as keywords.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// vectorLiteral renders a vector in pgvector's input syntax, e.g. "[1,2,3]".
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
