// Package repository defines the domain model and persistence
// interface for query scopes: the per-scope defaults (embedding
// model, generation parameters, gating thresholds) that the
// orchestrator loads before running a pipeline.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Scope represents an isolated document/config namespace that a query
// is evaluated against. A query's optional document scope id selects
// one of these; queries without one run against the default scope.
type Scope struct {
	ID        uuid.UUID
	Name      string
	Config    ScopeConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScopeConfig holds per-scope overrides of the orchestrator's base
// config: a positive numeric field or a non-empty string replaces the
// base value. EmbeddingModel and RerankerEnabled are stored but not
// applied by the orchestrator.
type ScopeConfig struct {
	EmbeddingModel    string  `json:"embedding_model"`
	LLMModel          string  `json:"llm_model"`
	TopK              int     `json:"top_k"`
	MinRetrievalScore float32 `json:"min_retrieval_score"`
	MinFinalScore     float32 `json:"min_final_score"`
	SystemPrompt      string  `json:"system_prompt"`
	RerankerEnabled   bool    `json:"reranker_enabled"`
	NCandidates       int     `json:"n_candidates"`
	ThetaLocal        float64 `json:"theta_local"`
	// HybridSearchEnabled selects RRF-fused dense+sparse retrieval for
	// this scope's collection instead of dense-only search.
	HybridSearchEnabled bool `json:"hybrid_search_enabled"`
}

// ScopeRepository defines persistence operations for scopes.
type ScopeRepository interface {
	Create(ctx context.Context, scope *Scope) error
	GetByID(ctx context.Context, id uuid.UUID) (*Scope, error)
	GetByName(ctx context.Context, name string) (*Scope, error)
	List(ctx context.Context, limit, offset int) ([]*Scope, int, error)
	Update(ctx context.Context, scope *Scope) error
	Delete(ctx context.Context, id uuid.UUID) error
}
