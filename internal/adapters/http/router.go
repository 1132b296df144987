package httpadapter

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avolkova/enterprise-search/internal/core/domain"
	"github.com/avolkova/enterprise-search/internal/core/ports"
	"github.com/avolkova/enterprise-search/internal/observability/metrics"
)

const (
	headerUserName       = "X-User-Name"
	headerUserGroups     = "X-User-Groups"
	headerUserCountry    = "X-User-Country"
	headerUserDepartment = "X-User-Department"
)

// RouterConfig carries the transport-level knobs.
type RouterConfig struct {
	DefaultTemperature  float64
	TrendingWindowHours int
	PopularWindowDays   int
	RateLimitRPS        float64
	RateLimitBurst      int
	MaxConcurrent       int
	BackpressureWait    time.Duration
}

func (c RouterConfig) normalize() RouterConfig {
	out := c
	if out.DefaultTemperature <= 0 {
		out.DefaultTemperature = 0.3
	}
	if out.TrendingWindowHours <= 0 {
		out.TrendingWindowHours = 24
	}
	if out.PopularWindowDays <= 0 {
		out.PopularWindowDays = 30
	}
	if out.BackpressureWait <= 0 {
		out.BackpressureWait = 200 * time.Millisecond
	}
	return out
}

type Router struct {
	ask     ports.AskService
	recs    ports.RecommendationService
	queue   ports.ViewEventQueue
	metrics *metrics.HTTPMetrics
	cfg     RouterConfig
}

func NewRouter(
	ask ports.AskService,
	recs ports.RecommendationService,
	queue ports.ViewEventQueue,
	m *metrics.HTTPMetrics,
	cfg RouterConfig,
) *Router {
	return &Router{
		ask:     ask,
		recs:    recs,
		queue:   queue,
		metrics: m,
		cfg:     cfg.normalize(),
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.Handle("/metrics", rt.metrics.Handler())
	mux.Handle("/v1/rag/ask", rt.route("/v1/rag/ask", rt.askHandler))
	mux.Handle("/v1/rag/health", rt.route("/v1/rag/health", rt.ragHealth))
	mux.Handle("/v1/recommendations/related/", rt.route("/v1/recommendations/related", rt.related))
	mux.Handle("/v1/recommendations/trending", rt.route("/v1/recommendations/trending", rt.trending))
	mux.Handle("/v1/recommendations/popular/", rt.route("/v1/recommendations/popular", rt.popular))
	mux.Handle("/v1/recommendations/for-you", rt.route("/v1/recommendations/for-you", rt.forYou))
	mux.Handle("/v1/analytics/view", rt.route("/v1/analytics/view", rt.trackView))

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.MaxConcurrent, rt.cfg.BackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) route(label string, fn http.HandlerFunc) http.Handler {
	return rt.metrics.Instrument(label, fn)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) ragHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	healthy := rt.ask.GeneratorHealthy(r.Context())
	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":             status,
		"generation_backend": healthy,
	})
}

type askPayload struct {
	Query       string   `json:"query"`
	NumChunks   int      `json:"num_chunks"`
	Temperature *float64 `json:"temperature"`
	Stream      bool     `json:"stream"`
}

func (rt *Router) askHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var payload askPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	temperature := rt.cfg.DefaultTemperature
	if payload.Temperature != nil {
		temperature = *payload.Temperature
	}

	req := domain.AskRequest{
		Query:       strings.TrimSpace(payload.Query),
		NumChunks:   payload.NumChunks,
		Temperature: temperature,
		Stream:      payload.Stream,
		Requester:   requesterFromHeaders(r),
	}

	if payload.Stream {
		rt.askStream(w, r, req)
		return
	}

	answer, err := rt.ask.Ask(r.Context(), req)
	if err != nil {
		rt.metrics.ObserveAsk(outcomeLabel(err), 0, 0)
		if answer != nil {
			writeErrorWithSources(w, r, err, answer.Sources)
			return
		}
		writeError(w, r, err)
		return
	}

	rt.metrics.ObserveAsk("ok", answer.Metadata.RetrievalMs, answer.Metadata.GenerationMs)
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) askStream(w http.ResponseWriter, r *http.Request, req domain.AskRequest) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	outcome := "ok"
	for event := range rt.ask.AskStream(r.Context(), req) {
		if event.Type == domain.StreamEventError {
			outcome = "error"
		}
		if err := sse.WriteEvent(event); err != nil {
			outcome = "client_gone"
			break
		}
	}
	rt.metrics.ObserveAsk("stream_"+outcome, 0, 0)
}

func (rt *Router) related(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	docID := strings.TrimPrefix(r.URL.Path, "/v1/recommendations/related/")
	if docID == "" || strings.Contains(docID, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "doc id is required"})
		return
	}

	items, err := rt.recs.Related(r.Context(), docID, requesterFromHeaders(r), queryInt(r, "limit", 5))
	if err != nil {
		rt.metrics.ObserveRecommendation("related", "error")
		writeError(w, r, err)
		return
	}
	rt.metrics.ObserveRecommendation("related", "ok")
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (rt *Router) trending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	hours := queryInt(r, "hours", rt.cfg.TrendingWindowHours)
	items, err := rt.recs.Trending(r.Context(), time.Duration(hours)*time.Hour, queryInt(r, "limit", 10))
	if err != nil {
		rt.metrics.ObserveRecommendation("trending", "error")
		writeError(w, r, err)
		return
	}
	rt.metrics.ObserveRecommendation("trending", "ok")
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (rt *Router) popular(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	department := strings.TrimPrefix(r.URL.Path, "/v1/recommendations/popular/")
	if department == "" || strings.Contains(department, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "department is required"})
		return
	}

	items, err := rt.recs.PopularInDepartment(
		r.Context(),
		department,
		r.URL.Query().Get("country"),
		queryInt(r, "days", rt.cfg.PopularWindowDays),
		queryInt(r, "limit", 10),
	)
	if err != nil {
		rt.metrics.ObserveRecommendation("popular", "error")
		writeError(w, r, err)
		return
	}
	rt.metrics.ObserveRecommendation("popular", "ok")
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (rt *Router) forYou(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	requester := requesterFromHeaders(r)
	if requester.Username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "X-User-Name header is required"})
		return
	}

	items, err := rt.recs.Personalized(r.Context(), requester, queryInt(r, "limit", 10))
	if err != nil {
		rt.metrics.ObserveRecommendation("for_you", "error")
		writeError(w, r, err)
		return
	}
	rt.metrics.ObserveRecommendation("for_you", "ok")
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type viewPayload struct {
	DocID       string `json:"doc_id"`
	Title       string `json:"title"`
	Source      string `json:"source"`
	DwellTimeMs int64  `json:"dwell_time_ms"`
}

func (rt *Router) trackView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var payload viewPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	requester := requesterFromHeaders(r)
	if payload.DocID == "" || requester.Username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "doc_id and X-User-Name are required"})
		return
	}

	event := domain.ViewEvent{
		EventID:     uuid.NewString(),
		UserID:      requester.Username,
		DocID:       payload.DocID,
		Title:       payload.Title,
		Source:      payload.Source,
		Department:  requester.Department,
		Country:     requester.Country,
		DwellTimeMs: payload.DwellTimeMs,
		ViewedAt:    time.Now().UTC(),
	}
	if err := rt.queue.PublishView(r.Context(), event); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": event.EventID})
}

// requesterFromHeaders trusts the identity headers injected by the gateway;
// identity issuance is out of scope for this service.
func requesterFromHeaders(r *http.Request) domain.Requester {
	var groups []string
	for _, group := range strings.Split(r.Header.Get(headerUserGroups), ",") {
		group = strings.TrimSpace(group)
		if group != "" {
			groups = append(groups, group)
		}
	}
	return domain.Requester{
		Username:   strings.TrimSpace(r.Header.Get(headerUserName)),
		Groups:     groups,
		Country:    strings.TrimSpace(r.Header.Get(headerUserCountry)),
		Department: strings.TrimSpace(r.Header.Get(headerUserDepartment)),
	}
}

func outcomeLabel(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid_input"
	case domain.IsKind(err, domain.ErrGenerationTimeout):
		return "generation_timeout"
	case domain.IsKind(err, domain.ErrGenerationUnavailable):
		return "generation_unavailable"
	case domain.IsKind(err, domain.ErrRetrievalUnavailable):
		return "retrieval_unavailable"
	case domain.IsKind(err, domain.ErrEmbeddingUnavailable):
		return "embedding_unavailable"
	default:
		return "error"
	}
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return def
	}
	return value
}
