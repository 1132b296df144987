package usecase

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/avolkova/enterprise-search/internal/core/domain"
	"github.com/avolkova/enterprise-search/internal/core/ports"
)

// RecommendationConfig tunes the scoring engine. Boost factors mirror the
// fusion config so both surfaces personalize consistently.
type RecommendationConfig struct {
	CountryBoost    float64
	DepartmentBoost float64
	// MinTrendingViews excludes documents below this view count from the
	// trending feed to suppress single-view spikes.
	MinTrendingViews int
	// RelatedHeadroom scales the vector query size to survive ACL trimming
	// and doc-level collapsing.
	RelatedHeadroom int
	// PersonalizedTrendingWindow is the trending window used inside the
	// personalized blend.
	PersonalizedTrendingWindow time.Duration
	// PersonalizedPopularDays is the department-popularity window used
	// inside the personalized blend.
	PersonalizedPopularDays int
}

func (c RecommendationConfig) normalize() RecommendationConfig {
	out := c
	if out.CountryBoost <= 0 {
		out.CountryBoost = 1.3
	}
	if out.DepartmentBoost <= 0 {
		out.DepartmentBoost = 1.2
	}
	if out.MinTrendingViews <= 0 {
		out.MinTrendingViews = 3
	}
	if out.RelatedHeadroom <= 0 {
		out.RelatedHeadroom = 3
	}
	if out.PersonalizedTrendingWindow <= 0 {
		out.PersonalizedTrendingWindow = 48 * time.Hour
	}
	if out.PersonalizedPopularDays <= 0 {
		out.PersonalizedPopularDays = 30
	}
	return out
}

// RecommendationEngine computes content-similarity, time-decayed trending and
// department-popularity feeds from the index and the telemetry history. All
// operations are stateless and idempotent against unchanged backing data.
type RecommendationEngine struct {
	index ports.SearchIndex
	views ports.ViewStore
	cfg   RecommendationConfig
	now   func() time.Time
}

func NewRecommendationEngine(index ports.SearchIndex, views ports.ViewStore, cfg RecommendationConfig) *RecommendationEngine {
	return &RecommendationEngine{
		index: index,
		views: views,
		cfg:   cfg.normalize(),
		now:   time.Now,
	}
}

// Related returns documents similar to docID by embedding proximity, trimmed
// by the same ACL predicate and boosted by the same personalization factors
// as fused retrieval. The source document is always excluded. A document
// without an embedding yields an empty result, not an error.
func (e *RecommendationEngine) Related(ctx context.Context, docID string, requester domain.Requester, limit int) ([]domain.RecommendationItem, error) {
	if limit <= 0 {
		limit = 5
	}

	embedding, err := e.index.DocumentEmbedding(ctx, docID)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			return []domain.RecommendationItem{}, nil
		}
		return nil, err
	}
	if len(embedding) == 0 {
		return []domain.RecommendationItem{}, nil
	}

	groups := requester.EffectiveGroups()
	chunks, err := e.index.VectorQuery(ctx, embedding, limit*e.cfg.RelatedHeadroom, domain.IndexFilter{
		AllowGroups:   groups,
		ExcludeDocID:  docID,
		CollapseByDoc: true,
	})
	if err != nil {
		return nil, err
	}

	items := make([]domain.RecommendationItem, 0, limit)
	seen := make(map[string]struct{}, limit)
	for _, rc := range chunks {
		if rc.Chunk.DocID == docID || !aclPermits(rc.Chunk, groups) {
			continue
		}
		if _, ok := seen[rc.Chunk.DocID]; ok {
			continue
		}
		seen[rc.Chunk.DocID] = struct{}{}

		score := rc.Score
		if requester.Country != "" && containsString(rc.Chunk.CountryTags, requester.Country) {
			score *= e.cfg.CountryBoost
		}
		if requester.Department != "" && requester.Department == rc.Chunk.Department {
			score *= e.cfg.DepartmentBoost
		}

		items = append(items, domain.RecommendationItem{
			DocID:  rc.Chunk.DocID,
			Title:  rc.Chunk.Title,
			Source: rc.Chunk.Source,
			Reason: domain.ReasonSimilarContent,
			Score:  score,
		})
		if len(items) >= limit {
			break
		}
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	return items, nil
}

// Trending scores recent usage with time decay:
//
//	score = view_count / age_hours^0.8 * (1 + avg_dwell_ms/60000)
//
// Documents below the minimum view threshold are excluded.
func (e *RecommendationEngine) Trending(ctx context.Context, window time.Duration, limit int) ([]domain.RecommendationItem, error) {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = 24 * time.Hour
	}

	stats, err := e.views.TrendingStats(ctx, window)
	if err != nil {
		return nil, err
	}

	now := e.now()
	items := make([]domain.RecommendationItem, 0, len(stats))
	for _, usage := range stats {
		if usage.ViewCount < e.cfg.MinTrendingViews {
			continue
		}
		ageHours := now.Sub(usage.FirstViewedAt).Hours()
		if ageHours < 1 {
			ageHours = 1
		}
		score := float64(usage.ViewCount) / math.Pow(ageHours, 0.8) * (1 + usage.AvgDwellMs/60000.0)

		items = append(items, domain.RecommendationItem{
			DocID:         usage.DocID,
			Title:         usage.Title,
			Source:        usage.Source,
			Reason:        domain.ReasonTrending,
			Score:         score,
			ViewCount:     usage.ViewCount,
			UniqueViewers: usage.UniqueViewers,
			AgeHours:      ageHours,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ViewCount > items[j].ViewCount
	})

	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// PopularInDepartment ranks documents by raw engagement inside one department
// (optionally one country): view count first, distinct viewers second.
func (e *RecommendationEngine) PopularInDepartment(ctx context.Context, department, country string, windowDays, limit int) ([]domain.RecommendationItem, error) {
	if limit <= 0 {
		limit = 10
	}
	if windowDays <= 0 {
		windowDays = 30
	}

	stats, err := e.views.DepartmentStats(ctx, department, country, time.Duration(windowDays)*24*time.Hour)
	if err != nil {
		return nil, err
	}

	items := make([]domain.RecommendationItem, 0, len(stats))
	for _, usage := range stats {
		items = append(items, domain.RecommendationItem{
			DocID:         usage.DocID,
			Title:         usage.Title,
			Source:        usage.Source,
			Reason:        domain.ReasonPopularInDepartment,
			Score:         float64(usage.ViewCount),
			ViewCount:     usage.ViewCount,
			UniqueViewers: usage.UniqueViewers,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ViewCount != items[j].ViewCount {
			return items[i].ViewCount > items[j].ViewCount
		}
		return items[i].UniqueViewers > items[j].UniqueViewers
	})

	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Personalized blends department popularity (up to 40% of limit), trending
// (up to 40%) and similarity to the requester's most recent view (remainder),
// deduplicated by doc id in that priority order. A short blend is returned as
// is; there is no backfill.
func (e *RecommendationEngine) Personalized(ctx context.Context, requester domain.Requester, limit int) ([]domain.RecommendationItem, error) {
	if limit <= 0 {
		limit = 10
	}
	share := limit * 2 / 5
	if share < 1 {
		share = 1
	}

	blend := make([]domain.RecommendationItem, 0, limit)

	popular, err := e.PopularInDepartment(ctx, requester.Department, requester.Country, e.cfg.PersonalizedPopularDays, share)
	if err != nil {
		slog.Warn("personalized_popular_leg_failed", "user", requester.Username, "error", err)
	} else {
		blend = append(blend, popular...)
	}

	trending, err := e.Trending(ctx, e.cfg.PersonalizedTrendingWindow, share)
	if err != nil {
		slog.Warn("personalized_trending_leg_failed", "user", requester.Username, "error", err)
	} else {
		blend = append(blend, trending...)
	}

	remaining := limit - share*2
	if remaining < 0 {
		remaining = 0
	}
	if remaining > 0 && requester.Username != "" {
		lastDoc, err := e.views.LastViewedDoc(ctx, requester.Username)
		switch {
		case err != nil:
			slog.Warn("personalized_related_leg_failed", "user", requester.Username, "error", err)
		case lastDoc != "":
			related, err := e.Related(ctx, lastDoc, requester, remaining)
			if err != nil {
				slog.Warn("personalized_related_leg_failed", "user", requester.Username, "error", err)
			} else {
				blend = append(blend, related...)
			}
		}
	}

	seen := make(map[string]struct{}, len(blend))
	unique := make([]domain.RecommendationItem, 0, limit)
	for _, item := range blend {
		if _, ok := seen[item.DocID]; ok {
			continue
		}
		seen[item.DocID] = struct{}{}
		unique = append(unique, item)
		if len(unique) >= limit {
			break
		}
	}
	return unique, nil
}
