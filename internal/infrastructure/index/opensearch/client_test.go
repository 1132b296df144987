package opensearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avolkova/enterprise-search/internal/core/domain"
	"github.com/avolkova/enterprise-search/internal/infrastructure/resilience"
)

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Policy{
		RetryMaxAttempts:    1,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})
}

func searchHits(hits ...map[string]any) map[string]any {
	return map[string]any{"hits": map[string]any{"hits": hits}}
}

func TestLexicalQueryPushesDownACLFilter(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chunks/_search" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(searchHits(
			map[string]any{
				"_score": 12.5,
				"_source": map[string]any{
					"chunk_id": "doc-1#0", "doc_id": "doc-1", "title": "Vacation Policy",
					"text": "Employees accrue...", "source": "confluence",
					"acl_allow": []string{"all-employees"},
				},
			},
		))
	}))
	defer server.Close()

	client := NewClient(server.URL, "chunks", server.Client(), testExecutor())
	chunks, err := client.LexicalQuery(context.Background(), "vacation policy", 10, domain.IndexFilter{
		AllowGroups: []string{"hr-team", "all-employees"},
	})
	if err != nil {
		t.Fatalf("lexical query: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Chunk.ChunkID != "doc-1#0" || chunks[0].Score != 12.5 {
		t.Fatalf("unexpected result %+v", chunks)
	}

	raw, _ := json.Marshal(captured)
	body := string(raw)
	for _, want := range []string{`"multi_match"`, `"title^3"`, `"acl_allow":["hr-team","all-employees"]`, `"acl_deny"`} {
		if !jsonContains(body, want) {
			t.Fatalf("request body missing %s: %s", want, body)
		}
	}
}

func TestVectorQuerySendsKNNWithCollapse(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(searchHits())
	}))
	defer server.Close()

	client := NewClient(server.URL, "chunks", server.Client(), testExecutor())
	_, err := client.VectorQuery(context.Background(), []float32{0.1, 0.2}, 15, domain.IndexFilter{
		AllowGroups:   []string{"all-employees"},
		ExcludeDocID:  "doc-9",
		CollapseByDoc: true,
	})
	if err != nil {
		t.Fatalf("vector query: %v", err)
	}

	raw, _ := json.Marshal(captured)
	body := string(raw)
	for _, want := range []string{`"knn"`, `"embedding"`, `"collapse":{"field":"doc_id"}`, `"doc_id":"doc-9"`} {
		if !jsonContains(body, want) {
			t.Fatalf("request body missing %s: %s", want, body)
		}
	}
	if captured["size"].(float64) != 15 {
		t.Fatalf("unexpected size %v", captured["size"])
	}
}

func TestDocumentEmbeddingNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchHits())
	}))
	defer server.Close()

	client := NewClient(server.URL, "chunks", server.Client(), testExecutor())
	_, err := client.DocumentEmbedding(context.Background(), "missing-doc")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestDocumentEmbeddingReturnsVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchHits(
			map[string]any{
				"_score":  1.0,
				"_source": map[string]any{"embedding": []float32{0.5, 0.25}},
			},
		))
	}))
	defer server.Close()

	client := NewClient(server.URL, "chunks", server.Client(), testExecutor())
	vec, err := client.DocumentEmbedding(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("document embedding: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Fatalf("unexpected vector %v", vec)
	}
}

func TestSearchServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "shard failure", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "chunks", server.Client(), testExecutor())
	_, err := client.LexicalQuery(context.Background(), "q", 5, domain.IndexFilter{})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary for 503, got %v", err)
	}
}

func jsonContains(body, fragment string) bool {
	return strings.Contains(body, fragment)
}
