package domain

import "time"

// RecommendationReason explains which strategy produced an item.
type RecommendationReason string

const (
	ReasonSimilarContent      RecommendationReason = "similar_content"
	ReasonTrending            RecommendationReason = "trending"
	ReasonPopularInDepartment RecommendationReason = "popular_in_department"
)

// RecommendationItem is one entry of a recommendation feed. Items are
// transient and deduplicated by DocID within a single response.
type RecommendationItem struct {
	DocID         string               `json:"doc_id"`
	Title         string               `json:"title"`
	Source        string               `json:"source"`
	Reason        RecommendationReason `json:"reason"`
	Score         float64              `json:"score"`
	ViewCount     int                  `json:"view_count,omitempty"`
	UniqueViewers int                  `json:"unique_viewers,omitempty"`
	AgeHours      float64              `json:"age_hours,omitempty"`
}

// ViewEvent records one document view. Produced by the tracking endpoint,
// transported over the queue, and persisted by the worker; the recommendation
// engine only ever reads aggregates derived from it.
type ViewEvent struct {
	EventID     string    `json:"event_id"`
	UserID      string    `json:"user_id"`
	DocID       string    `json:"doc_id"`
	Title       string    `json:"title,omitempty"`
	Source      string    `json:"source,omitempty"`
	Department  string    `json:"department,omitempty"`
	Country     string    `json:"country,omitempty"`
	DwellTimeMs int64     `json:"dwell_time_ms"`
	ViewedAt    time.Time `json:"viewed_at"`
}

// DocUsage is an aggregate over view events for one document within a
// time window.
type DocUsage struct {
	DocID         string
	Title         string
	Source        string
	ViewCount     int
	UniqueViewers int
	AvgDwellMs    float64
	FirstViewedAt time.Time
}
