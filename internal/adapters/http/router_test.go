package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avolkova/enterprise-search/internal/core/domain"
	"github.com/avolkova/enterprise-search/internal/observability/metrics"
)

type fakeAskService struct {
	answer  *domain.RAGAnswer
	err     error
	events  []domain.StreamEvent
	healthy bool
	gotReq  domain.AskRequest
}

func (f *fakeAskService) Ask(_ context.Context, req domain.AskRequest) (*domain.RAGAnswer, error) {
	f.gotReq = req
	return f.answer, f.err
}

func (f *fakeAskService) AskStream(_ context.Context, req domain.AskRequest) <-chan domain.StreamEvent {
	f.gotReq = req
	out := make(chan domain.StreamEvent, len(f.events))
	for _, event := range f.events {
		out <- event
	}
	close(out)
	return out
}

func (f *fakeAskService) GeneratorHealthy(context.Context) bool {
	return f.healthy
}

type fakeRecommendationService struct {
	items    []domain.RecommendationItem
	err      error
	gotDocID string
	gotReq   domain.Requester
}

func (f *fakeRecommendationService) Related(_ context.Context, docID string, requester domain.Requester, _ int) ([]domain.RecommendationItem, error) {
	f.gotDocID = docID
	f.gotReq = requester
	return f.items, f.err
}

func (f *fakeRecommendationService) Trending(context.Context, time.Duration, int) ([]domain.RecommendationItem, error) {
	return f.items, f.err
}

func (f *fakeRecommendationService) PopularInDepartment(context.Context, string, string, int, int) ([]domain.RecommendationItem, error) {
	return f.items, f.err
}

func (f *fakeRecommendationService) Personalized(_ context.Context, requester domain.Requester, _ int) ([]domain.RecommendationItem, error) {
	f.gotReq = requester
	return f.items, f.err
}

type fakeViewQueue struct {
	published []domain.ViewEvent
	err       error
}

func (f *fakeViewQueue) PublishView(_ context.Context, event domain.ViewEvent) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, event)
	return nil
}

func (f *fakeViewQueue) SubscribeViews(context.Context, func(context.Context, domain.ViewEvent) error) error {
	return nil
}

func newTestRouter(ask *fakeAskService, recs *fakeRecommendationService, queue *fakeViewQueue, cfg RouterConfig) http.Handler {
	if ask == nil {
		ask = &fakeAskService{healthy: true}
	}
	if recs == nil {
		recs = &fakeRecommendationService{}
	}
	if queue == nil {
		queue = &fakeViewQueue{}
	}
	return NewRouter(ask, recs, queue, metrics.NewHTTPMetrics(), cfg).Handler()
}

func TestAskPassesRequesterIdentityFromHeaders(t *testing.T) {
	ask := &fakeAskService{
		answer: &domain.RAGAnswer{
			Query:     "vacation policy",
			Answer:    "Employees accrue 25 days [Document 1].",
			Sources:   []domain.SourceRef{{DocID: "doc-1", Title: "Vacation Policy"}},
			Citations: []domain.Citation{{SourceIndex: 1, DocID: "doc-1", Title: "Vacation Policy"}},
		},
	}
	handler := newTestRouter(ask, nil, nil, RouterConfig{})

	body := bytes.NewBufferString(`{"query":"vacation policy","num_chunks":3}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/rag/ask", body)
	req.Header.Set("X-User-Name", "j.smith")
	req.Header.Set("X-User-Groups", "engineering, all-employees")
	req.Header.Set("X-User-Country", "DE")
	req.Header.Set("X-User-Department", "Engineering")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if ask.gotReq.Requester.Username != "j.smith" {
		t.Fatalf("unexpected requester %+v", ask.gotReq.Requester)
	}
	if len(ask.gotReq.Requester.Groups) != 2 || ask.gotReq.Requester.Groups[0] != "engineering" {
		t.Fatalf("unexpected groups %v", ask.gotReq.Requester.Groups)
	}
	if ask.gotReq.Temperature != 0.3 {
		t.Fatalf("expected default temperature 0.3, got %v", ask.gotReq.Temperature)
	}

	var answer domain.RAGAnswer
	if err := json.NewDecoder(res.Body).Decode(&answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if len(answer.Citations) != 1 {
		t.Fatalf("unexpected citations %+v", answer.Citations)
	}
}

func TestAskInvalidJSONReturns400(t *testing.T) {
	handler := newTestRouter(nil, nil, nil, RouterConfig{})
	req := httptest.NewRequest(http.MethodPost, "/v1/rag/ask", strings.NewReader("{not json"))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestAskGenerationTimeoutKeepsSources(t *testing.T) {
	sources := []domain.SourceRef{{DocID: "doc-1", Title: "Vacation Policy"}}
	ask := &fakeAskService{
		answer: &domain.RAGAnswer{Query: "q", Sources: sources},
		err:    domain.WrapError(domain.ErrGenerationTimeout, "generate answer", context.DeadlineExceeded),
	}
	handler := newTestRouter(ask, nil, nil, RouterConfig{})

	req := httptest.NewRequest(http.MethodPost, "/v1/rag/ask", strings.NewReader(`{"query":"q"}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", res.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].DocID != "doc-1" {
		t.Fatalf("expected retrieved sources in timeout response, got %+v", resp.Sources)
	}
}

func TestAskStreamFramesEventsAsSSE(t *testing.T) {
	ask := &fakeAskService{
		events: []domain.StreamEvent{
			{Type: domain.StreamEventSources, Sources: []domain.SourceRef{{DocID: "doc-1"}}},
			{Type: domain.StreamEventToken, Token: "Employees "},
			{Type: domain.StreamEventToken, Token: "accrue 25 days."},
			{Type: domain.StreamEventDone},
		},
	}
	handler := newTestRouter(ask, nil, nil, RouterConfig{})

	req := httptest.NewRequest(http.MethodPost, "/v1/rag/ask", strings.NewReader(`{"query":"q","stream":true}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if got := res.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", got)
	}

	frames := strings.Split(strings.TrimSpace(res.Body.String()), "\n\n")
	if len(frames) != 4 {
		t.Fatalf("expected 4 SSE frames, got %d: %q", len(frames), res.Body.String())
	}
	var first domain.StreamEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frames[0], "data: ")), &first); err != nil {
		t.Fatalf("decode first frame: %v", err)
	}
	if first.Type != domain.StreamEventSources {
		t.Fatalf("expected sources frame first, got %s", first.Type)
	}
	var last domain.StreamEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frames[3], "data: ")), &last); err != nil {
		t.Fatalf("decode last frame: %v", err)
	}
	if last.Type != domain.StreamEventDone {
		t.Fatalf("expected done frame last, got %s", last.Type)
	}
}

func TestRelatedRequiresDocID(t *testing.T) {
	handler := newTestRouter(nil, nil, nil, RouterConfig{})
	req := httptest.NewRequest(http.MethodGet, "/v1/recommendations/related/", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing doc id, got %d", res.Code)
	}
}

func TestRelatedPassesDocIDAndIdentity(t *testing.T) {
	recs := &fakeRecommendationService{
		items: []domain.RecommendationItem{{DocID: "doc-7", Reason: domain.ReasonSimilarContent}},
	}
	handler := newTestRouter(nil, recs, nil, RouterConfig{})

	req := httptest.NewRequest(http.MethodGet, "/v1/recommendations/related/doc-42?limit=3", nil)
	req.Header.Set("X-User-Name", "j.smith")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if recs.gotDocID != "doc-42" {
		t.Fatalf("unexpected doc id %q", recs.gotDocID)
	}
	if recs.gotReq.Username != "j.smith" {
		t.Fatalf("unexpected requester %+v", recs.gotReq)
	}
}

func TestForYouRequiresUsername(t *testing.T) {
	handler := newTestRouter(nil, nil, nil, RouterConfig{})
	req := httptest.NewRequest(http.MethodGet, "/v1/recommendations/for-you", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without identity, got %d", res.Code)
	}
}

func TestTrackViewPublishesEvent(t *testing.T) {
	queue := &fakeViewQueue{}
	handler := newTestRouter(nil, nil, queue, RouterConfig{})

	body := strings.NewReader(`{"doc_id":"doc-42","title":"Vacation Policy","source":"confluence","dwell_time_ms":45000}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/analytics/view", body)
	req.Header.Set("X-User-Name", "j.smith")
	req.Header.Set("X-User-Department", "Engineering")
	req.Header.Set("X-User-Country", "DE")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if len(queue.published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(queue.published))
	}
	event := queue.published[0]
	if event.UserID != "j.smith" || event.DocID != "doc-42" || event.DwellTimeMs != 45000 {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.EventID == "" || event.ViewedAt.IsZero() {
		t.Fatalf("event must carry id and timestamp, got %+v", event)
	}
}

func TestRagHealthDegradedWhenBackendDown(t *testing.T) {
	handler := newTestRouter(&fakeAskService{healthy: false}, nil, nil, RouterConfig{})
	req := httptest.NewRequest(http.MethodGet, "/v1/rag/health", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when generation backend is down, got %d", res.Code)
	}
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	handler := newTestRouter(nil, nil, nil, RouterConfig{
		RateLimitRPS:   1,
		RateLimitBurst: 1,
	})

	req1 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res1 := httptest.NewRecorder()
	handler.ServeHTTP(res1, req1)
	if res1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", res1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", res2.Code)
	}
	if res2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}
}

func TestBackpressureMiddlewareReturns503WhenSaturated(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 1, 20*time.Millisecond)

	go func() {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		done <- res.Code
	}()

	<-started

	req2 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for saturated backpressure gate, got %d", res2.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(bytes.NewReader(res2.Body.Bytes())).Decode(&resp); err != nil {
		t.Fatalf("decode overload response: %v", err)
	}
	if resp["error"] == "" {
		t.Fatalf("expected overload error message in response")
	}

	close(release)

	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("first request expected 204, got %d", code)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timed out waiting for first request completion")
	}
}
