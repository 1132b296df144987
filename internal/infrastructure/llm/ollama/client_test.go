package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avolkova/enterprise-search/internal/core/domain"
	"github.com/avolkova/enterprise-search/internal/infrastructure/resilience"
)

func noRetryExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Policy{
		RetryMaxAttempts:    1,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})
}

func TestGenerateSendsOptionsAndReturnsAnswer(t *testing.T) {
	var captured generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "The policy allows it [Document 1].", Done: true})
	}))
	defer server.Close()

	client := NewClient(server.URL, "llama3.1:8b", server.Client(), noRetryExecutor())
	answer, err := client.Generate(context.Background(), "prompt text", domain.GenerationOptions{
		MaxTokens:   500,
		Temperature: 0.3,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if answer != "The policy allows it [Document 1]." {
		t.Fatalf("unexpected answer %q", answer)
	}
	if captured.Stream {
		t.Fatal("non-streaming generate must set stream=false")
	}
	if captured.Model != "llama3.1:8b" {
		t.Fatalf("unexpected model %q", captured.Model)
	}
	if captured.Options.NumPredict != 500 || captured.Options.Temperature != 0.3 || captured.Options.TopP != 0.9 {
		t.Fatalf("unexpected options %+v", captured.Options)
	}
}

func TestGenerateRetriesOnServerError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "ok", Done: true})
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Policy{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})
	client := NewClient(server.URL, "llama3.1:8b", server.Client(), exec)

	answer, err := client.Generate(context.Background(), "prompt", domain.GenerationOptions{MaxTokens: 100})
	if err != nil {
		t.Fatalf("generate after retry: %v", err)
	}
	if answer != "ok" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestStreamGenerateDeliversTokensInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, token := range []string{"The ", "policy ", "allows."} {
			fmt.Fprintf(w, `{"response":%q,"done":false}`+"\n", token)
			flusher.Flush()
		}
		fmt.Fprintln(w, `{"response":"","done":true}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "llama3.1:8b", server.Client(), noRetryExecutor())
	deltas, err := client.StreamGenerate(context.Background(), "prompt", domain.GenerationOptions{MaxTokens: 100})
	if err != nil {
		t.Fatalf("stream generate: %v", err)
	}

	var got string
	for delta := range deltas {
		if delta.Err != nil {
			t.Fatalf("unexpected stream error: %v", delta.Err)
		}
		got += delta.Token
	}
	if got != "The policy allows." {
		t.Fatalf("unexpected assembled answer %q", got)
	}
}

func TestStreamGenerateSurfacesBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"partial","done":false}`)
		fmt.Fprintln(w, `{"error":"model crashed"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "llama3.1:8b", server.Client(), noRetryExecutor())
	deltas, err := client.StreamGenerate(context.Background(), "prompt", domain.GenerationOptions{})
	if err != nil {
		t.Fatalf("stream generate: %v", err)
	}

	var last domain.TokenDelta
	for delta := range deltas {
		last = delta
	}
	if last.Err == nil {
		t.Fatal("expected terminal delta to carry the backend error")
	}
}

func TestHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(tagsResponse{})
	}))
	defer server.Close()

	client := NewClient(server.URL, "llama3.1:8b", server.Client(), noRetryExecutor())
	if !client.Healthy(context.Background()) {
		t.Fatal("expected healthy backend")
	}

	server.Close()
	if client.Healthy(context.Background()) {
		t.Fatal("expected unhealthy after server shutdown")
	}
}
