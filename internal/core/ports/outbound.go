package ports

import (
	"context"
	"time"

	"github.com/avolkova/enterprise-search/internal/core/domain"
)

// SearchIndex exposes the external hybrid index. Both query primitives return
// chunks in the index's own ranked order; this layer owns fusion, not ranking.
type SearchIndex interface {
	// LexicalQuery runs a full-text query and returns up to size ranked chunks.
	LexicalQuery(ctx context.Context, text string, size int, filter domain.IndexFilter) ([]domain.RankedChunk, error)
	// VectorQuery runs a nearest-neighbour query over chunk embeddings.
	VectorQuery(ctx context.Context, embedding []float32, size int, filter domain.IndexFilter) ([]domain.RankedChunk, error)
	// DocumentEmbedding returns the embedding representing docID (its first
	// indexed chunk). Returns domain.ErrDocumentNotFound when the document
	// has no indexed chunks.
	DocumentEmbedding(ctx context.Context, docID string) ([]float32, error)
}

// Embedder converts query text into the fixed-dimensionality vector space of
// the index. Embeddings are identity-agnostic, so implementations may cache
// by text across requests.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// AnswerGenerator is the generation backend boundary.
type AnswerGenerator interface {
	// Generate produces a complete answer for the prompt.
	Generate(ctx context.Context, prompt string, opts domain.GenerationOptions) (string, error)
	// StreamGenerate opens a token stream for the prompt. The returned
	// channel is closed after the final delta; cancelling ctx aborts the
	// stream and stops emission.
	StreamGenerate(ctx context.Context, prompt string, opts domain.GenerationOptions) (<-chan domain.TokenDelta, error)
	// Healthy reports whether the backend is reachable.
	Healthy(ctx context.Context) bool
	// ModelID identifies the configured model for answer metadata.
	ModelID() string
}

// ViewStore owns the telemetry history. The recommendation engine only reads
// aggregates; the worker writes raw events.
type ViewStore interface {
	RecordView(ctx context.Context, event domain.ViewEvent) error
	// TrendingStats aggregates per-document usage for views within the window.
	TrendingStats(ctx context.Context, window time.Duration) ([]domain.DocUsage, error)
	// DepartmentStats aggregates usage restricted to one department (and
	// optionally one country), ordered by view count then unique viewers.
	DepartmentStats(ctx context.Context, department, country string, window time.Duration) ([]domain.DocUsage, error)
	// LastViewedDoc returns the most recently viewed doc id for the user,
	// or "" when the user has no view history.
	LastViewedDoc(ctx context.Context, userID string) (string, error)
}

// ViewEventQueue transports view events from the API to the telemetry worker.
type ViewEventQueue interface {
	PublishView(ctx context.Context, event domain.ViewEvent) error
	SubscribeViews(ctx context.Context, handler func(context.Context, domain.ViewEvent) error) error
}
