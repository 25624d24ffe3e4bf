package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Project is the ownership scope for documents, chunks and collections.
type Project struct {
	ID surrealmodels.RecordID `json:"id"`

	// ProjectKey is the caller-facing identifier; the record ID is internal.
	ProjectKey string `json:"project_key"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Asset tracks a source file or URL ingested into a project.
type Asset struct {
	ID surrealmodels.RecordID `json:"id"`

	Project surrealmodels.RecordID `json:"project"`

	Name string `json:"name"` // file name or URL
	Type string `json:"type"` // "file" or "url"
	Size int64  `json:"size"`

	CreatedAt time.Time `json:"created_at"`
}
