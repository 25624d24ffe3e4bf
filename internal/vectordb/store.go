// Package vectordb defines a uniform vector store interface with
// interchangeable backends: Postgres with the pgvector extension, and
// SurrealDB's native HNSW index.
package vectordb

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Distance selects the similarity metric a collection is searched with.
type Distance string

const (
	DistanceCosine Distance = "cosine"
	DistanceDot    Distance = "dot"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotConnected is returned when an operation runs before Connect or
	// after Disconnect.
	ErrNotConnected = errors.New("vector store not connected")

	// ErrCollectionNotFound is returned for operations that require an
	// existing collection.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch is returned when a vector's length does not match
	// the collection's dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidCollectionName rejects names that cannot be used safely as
	// identifiers in backend query text.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Document is one embedded text unit to be written to a collection. ID must
// be stable across re-indexing runs so a rewrite overwrites instead of
// duplicating. A document submitted without an ID is assigned a random one
// on insert.
type Document struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata map[string]any
}

// RetrievedDocument is a search hit, ordered by descending Score.
type RetrievedDocument struct {
	ID       string
	Text     string
	Score    float64
	Metadata map[string]any
}

// CollectionInfo describes a collection's shape and fill level.
type CollectionInfo struct {
	Name      string
	Dimension int
	Points    int64
	Indexed   bool
}

// Store is the backend-independent vector store contract. Connect and
// Disconnect are idempotent; every other method requires a connected store.
type Store interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	CollectionExists(ctx context.Context, name string) (bool, error)

	// CreateCollection ensures a collection with the given dimension exists.
	// With reset it drops any existing data first. Returns true when a new
	// collection was created, false when an existing one was kept.
	CreateCollection(ctx context.Context, name string, dimension int, reset bool) (bool, error)

	// DeleteCollection removes a collection and its data. Deleting a
	// collection that does not exist is a no-op.
	DeleteCollection(ctx context.Context, name string) error

	// GetCollectionInfo returns nil, not an error, for a missing collection.
	GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)

	ListCollections(ctx context.Context) ([]string, error)

	// InsertOne upserts a single document keyed by its ID.
	InsertOne(ctx context.Context, collection string, doc Document) error

	// InsertMany upserts documents in batches of batchSize and returns the
	// number written. Documents without an ID get a random one assigned.
	// Vectors are length-checked against the collection dimension before
	// anything is written.
	InsertMany(ctx context.Context, collection string, docs []Document, batchSize int) (int, error)

	// ResetIndex drops and rebuilds the collection's vector index, for
	// example after bulk loads that degraded the graph. The collection must
	// exist.
	ResetIndex(ctx context.Context, collection string) error

	// SearchByVector returns up to limit documents ordered by descending
	// similarity. A positive threshold drops hits scoring below it; zero or
	// negative means no filter, so negative-similarity hits come through.
	// Searching a missing collection returns an empty list, not an error;
	// only write paths treat a missing collection as a logical error.
	SearchByVector(ctx context.Context, collection string, vector []float32, limit int, threshold float64) ([]RetrievedDocument, error)
}

// CollectionName derives the canonical per-project collection name. The
// dimension is part of the name so a model change lands in a fresh
// collection instead of colliding with stale vectors.
func CollectionName(projectID string, dimension int) string {
	return fmt.Sprintf("p%s_d%d", sanitizeIdentPart(projectID), dimension)
}

var (
	identRe     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
	identPartRe = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// ValidateCollectionName rejects names that are unsafe to interpolate as
// table identifiers.
func ValidateCollectionName(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}
	return nil
}

func sanitizeIdentPart(s string) string {
	return identPartRe.ReplaceAllString(s, "_")
}

// fillDocumentIDs assigns a random identifier to every document submitted
// without one. Runs before validation, so callers with no natural key can
// leave IDs empty.
func fillDocumentIDs(docs []Document) {
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = uuid.NewString()
		}
	}
}

// validateVectors checks every document against the collection dimension and
// rejects documents with empty IDs before any write happens.
func validateVectors(docs []Document, dimension int) error {
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document %d: empty ID", i)
		}
		if len(doc.Vector) != dimension {
			return fmt.Errorf("%w: document %q has %d dimensions, collection expects %d",
				ErrDimensionMismatch, doc.ID, len(doc.Vector), dimension)
		}
	}
	return nil
}
