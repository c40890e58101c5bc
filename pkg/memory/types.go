// Package memory implements the semantic memory subsystem: a Weaviate-backed
// vector store for memory records plus the two LLM-driven modules that write
// to it (creator) and read from it (retriever).
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kindred-labs/kindred/pkg/models"
)

// ClassName is the Weaviate collection holding memory records.
const ClassName = "Memory"

// Sentinel errors.
var (
	// ErrNotFound indicates the memory id does not exist.
	ErrNotFound = errors.New("memory: not found")

	// ErrBadVector indicates a vector with the wrong dimensionality.
	ErrBadVector = errors.New("memory: vector must be 768-dim")
)

// Record pairs a memory with its stored embedding vector.
type Record struct {
	models.Memory
	Vector []float32
}

// SearchFilters restrict a search conjunctively. Zero values mean "no
// constraint".
type SearchFilters struct {
	MemoryType    models.MemoryType
	Scope         models.MemoryScope
	AgentID       string
	SessionID     string
	Source        models.MemorySource
	Tags          []string // intersection: any listed tag matches
	MinImportance float64
	MinConfidence float64
	CreatedAfter  time.Time
	CreatedBefore time.Time
	UpdatedAfter  time.Time
	UpdatedBefore time.Time
}

// SearchRequest describes one store query. When Vector is present results are
// ranked by cosine similarity; otherwise they are ordered by SortBy (default
// created_at descending).
type SearchRequest struct {
	Vector        []float32
	Filters       SearchFilters
	Limit         int
	SortBy        string
	SortAscending bool
}

// Store is the typed interface over the vector database.
type Store interface {
	// EnsureSchema creates the Memory class if absent. Idempotent.
	EnsureSchema(ctx context.Context) error

	// Create persists a record with its caller-supplied vector and returns
	// the assigned id.
	Create(ctx context.Context, m models.Memory, vector []float32) (string, error)

	// Search runs a hybrid filter+vector query.
	Search(ctx context.Context, req SearchRequest) ([]Record, error)

	// Get returns one record and bumps access_count / last_accessed_at.
	// The bump is best-effort; its failure does not propagate.
	Get(ctx context.Context, id string) (*Record, error)

	// Update merge-patches a record. A non-nil vector replaces the stored
	// embedding (callers re-embed when patching content).
	Update(ctx context.Context, id string, patch map[string]any, vector []float32) error

	// Delete removes a record.
	Delete(ctx context.Context, id string) error

	// MarkProvided bumps last_accessed_at for each id, recording an explicit
	// handoff to the agent.
	MarkProvided(ctx context.Context, ids []string) error
}

// checkVector enforces the embedding dimensionality contract.
func checkVector(vec []float32) error {
	if len(vec) != models.EmbeddingDim {
		return fmt.Errorf("%w, got %d", ErrBadVector, len(vec))
	}
	return nil
}
