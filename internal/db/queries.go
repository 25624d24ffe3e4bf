// Package db provides SurrealDB query functions for projects, assets and chunks.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/docindex/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// GetProject retrieves a project by its caller-facing key.
// Returns nil if not found.
func (c *Client) GetProject(ctx context.Context, projectKey string) (*models.Project, error) {
	results, err := surrealdb.Query[[]models.Project](ctx, c.db, `
		SELECT * FROM project WHERE project_key = $key LIMIT 1
	`, map[string]any{"key": projectKey})
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// GetOrCreateProject returns the project with the given key, creating it if
// absent. A create race against a concurrent caller is recovered by
// re-reading the winning record.
func (c *Client) GetOrCreateProject(ctx context.Context, projectKey string) (*models.Project, error) {
	existing, err := c.GetProject(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	results, err := surrealdb.Query[[]models.Project](ctx, c.db, `
		CREATE project SET project_key = $key RETURN AFTER
	`, map[string]any{"key": projectKey})
	if err != nil {
		if errors.Is(wrapQueryError(err), ErrAlreadyExists) {
			// Lost the race, the winner's record is authoritative
			return c.GetProject(ctx, projectKey)
		}
		return nil, fmt.Errorf("create project: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create project: no result returned")
	}
	return &(*results)[0].Result[0], nil
}

// CreateAsset records a source file or URL for a project.
func (c *Client) CreateAsset(ctx context.Context, projectID surrealmodels.RecordID, name, assetType string, size int64) (*models.Asset, error) {
	results, err := surrealdb.Query[[]models.Asset](ctx, c.db, `
		CREATE asset SET
			project = $project,
			name = $name,
			type = $type,
			size = $size
		RETURN AFTER
	`, map[string]any{
		"project": projectID,
		"name":    name,
		"type":    assetType,
		"size":    size,
	})
	if err != nil {
		return nil, fmt.Errorf("create asset: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create asset: no result returned")
	}
	return &(*results)[0].Result[0], nil
}

// InsertChunks persists a batch of chunks for a project.
// Returns the created chunks with their store-assigned IDs.
func (c *Client) InsertChunks(ctx context.Context, projectID surrealmodels.RecordID, assetID *surrealmodels.RecordID, chunks []models.ChunkInput) ([]models.Chunk, error) {
	if len(chunks) == 0 {
		return []models.Chunk{}, nil
	}

	rows := make([]map[string]any, len(chunks))
	for i, ch := range chunks {
		row := map[string]any{
			"project":     projectID,
			"text":        ch.Text,
			"chunk_order": ch.Order,
		}
		if ch.Metadata != nil {
			row["metadata"] = ch.Metadata
		}
		if assetID != nil {
			row["asset"] = *assetID
		}
		rows[i] = row
	}

	results, err := surrealdb.Query[[]models.Chunk](ctx, c.db, `
		INSERT INTO chunk $rows
	`, map[string]any{"rows": rows})
	if err != nil {
		return nil, fmt.Errorf("insert chunks: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return nil, fmt.Errorf("insert chunks: no result returned")
	}
	return (*results)[0].Result, nil
}

// CountChunks returns the total number of chunks for a project.
func (c *Client) CountChunks(ctx context.Context, projectID surrealmodels.RecordID) (int, error) {
	results, err := surrealdb.Query[[]struct {
		Total int `json:"total"`
	}](ctx, c.db, `
		SELECT count() AS total FROM chunk WHERE project = $project GROUP ALL
	`, map[string]any{"project": projectID})
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Total, nil
}

// GetProjectChunks fetches one page of chunks for a project in stable order.
// Page numbering starts at 1; an empty slice signals the end of the data set.
func (c *Client) GetProjectChunks(ctx context.Context, projectID surrealmodels.RecordID, pageNo, pageSize int) ([]models.Chunk, error) {
	if pageNo < 1 {
		return nil, fmt.Errorf("get project chunks: page number must be >= 1, got %d", pageNo)
	}
	if pageSize < 1 {
		return nil, fmt.Errorf("get project chunks: page size must be >= 1, got %d", pageSize)
	}

	results, err := surrealdb.Query[[]models.Chunk](ctx, c.db, `
		SELECT * FROM chunk
		WHERE project = $project
		ORDER BY chunk_order ASC, id ASC
		LIMIT $limit START $start
	`, map[string]any{
		"project": projectID,
		"limit":   pageSize,
		"start":   (pageNo - 1) * pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("get project chunks: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Chunk{}, nil
	}
	return (*results)[0].Result, nil
}

// DeleteProjectChunks removes all chunks for a project.
// Returns the number of chunks deleted (0 if none - idempotent).
func (c *Client) DeleteProjectChunks(ctx context.Context, projectID surrealmodels.RecordID) (int, error) {
	results, err := surrealdb.Query[[]models.Chunk](ctx, c.db, `
		DELETE chunk WHERE project = $project RETURN BEFORE
	`, map[string]any{"project": projectID})
	if err != nil {
		return 0, fmt.Errorf("delete project chunks: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}
