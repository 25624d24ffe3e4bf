// Package tasks wires the ingestion pipeline stages together: process
// content into chunks, hand off to indexing, index into the vector store.
// Each stage runs as a broker task guarded by the execution ledger, and each
// stage's result is a typed payload validated at the boundary.
package tasks

import (
	"encoding/json"
	"fmt"
)

// Task names as registered with the worker.
const (
	TaskProcessContent = "process-content"
	TaskPushIndex      = "push-index"
	TaskIndexContent   = "index-content"
	TaskCleanupLedger  = "cleanup-ledger"
)

// ProcessResult is the outcome of the process-content stage and the input to
// push-index.
type ProcessResult struct {
	ProjectKey string `json:"project_key"`
	AssetName  string `json:"asset_name"`
	Chunks     int    `json:"chunks"`
	Reset      bool   `json:"reset"`
}

// Validate rejects results that cannot drive the next stage.
func (r *ProcessResult) Validate() error {
	if r.ProjectKey == "" {
		return fmt.Errorf("process result: missing project key")
	}
	if r.Chunks < 0 {
		return fmt.Errorf("process result: negative chunk count %d", r.Chunks)
	}
	return nil
}

// PushResult is the outcome of the push-index stage and the input to
// index-content.
type PushResult struct {
	ProjectKey  string `json:"project_key"`
	TotalChunks int    `json:"total_chunks"`
	Reset       bool   `json:"reset"`
}

// Validate rejects results that cannot drive the next stage.
func (r *PushResult) Validate() error {
	if r.ProjectKey == "" {
		return fmt.Errorf("push result: missing project key")
	}
	if r.TotalChunks < 0 {
		return fmt.Errorf("push result: negative chunk count %d", r.TotalChunks)
	}
	return nil
}

// IndexResult is the outcome of the index-content stage.
type IndexResult struct {
	ProjectKey  string `json:"project_key"`
	Collection  string `json:"collection"`
	TotalChunks int    `json:"total_chunks"`
	Indexed     int    `json:"indexed"`
}

// Validate checks internal consistency of a finished indexing run.
func (r *IndexResult) Validate() error {
	if r.Collection == "" {
		return fmt.Errorf("index result: missing collection")
	}
	if r.Indexed < 0 || r.Indexed > r.TotalChunks {
		return fmt.Errorf("index result: indexed %d of %d chunks", r.Indexed, r.TotalChunks)
	}
	return nil
}

// toMap converts a typed payload into the map form used for broker payloads
// and ledger results.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return m, nil
}

// fromMap decodes a map payload into a typed struct.
func fromMap(m map[string]any, v any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
