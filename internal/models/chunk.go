package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Chunk is a durable text segment produced by the splitter and consumed by
// the indexing pipeline. Chunks are only ever read in pages by this core.
type Chunk struct {
	ID surrealmodels.RecordID `json:"id"`

	Project surrealmodels.RecordID  `json:"project"`
	Asset   *surrealmodels.RecordID `json:"asset,omitempty"`

	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Order    int            `json:"chunk_order"` // position within the source document

	CreatedAt time.Time `json:"created_at"`
}

// ChunkInput is the input structure for persisting chunks.
type ChunkInput struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Order    int            `json:"chunk_order"`
}
