package ports

import (
	"context"
	"time"

	"github.com/avolkova/enterprise-search/internal/core/domain"
)

// AskService is the inbound contract for grounded question answering.
type AskService interface {
	Ask(ctx context.Context, req domain.AskRequest) (*domain.RAGAnswer, error)
	// AskStream runs the same pipeline but delivers the answer as a stream of
	// tagged events: one sources event, then tokens, then exactly one
	// terminal done or error event, after which the channel is closed.
	AskStream(ctx context.Context, req domain.AskRequest) <-chan domain.StreamEvent
	// GeneratorHealthy reports generation-backend reachability for health
	// endpoints.
	GeneratorHealthy(ctx context.Context) bool
}

// RecommendationService is the inbound contract for the content-discovery feed.
type RecommendationService interface {
	Related(ctx context.Context, docID string, requester domain.Requester, limit int) ([]domain.RecommendationItem, error)
	Trending(ctx context.Context, window time.Duration, limit int) ([]domain.RecommendationItem, error)
	PopularInDepartment(ctx context.Context, department, country string, windowDays, limit int) ([]domain.RecommendationItem, error)
	Personalized(ctx context.Context, requester domain.Requester, limit int) ([]domain.RecommendationItem, error)
}
