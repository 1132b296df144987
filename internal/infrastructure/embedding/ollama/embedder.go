package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/avolkova/enterprise-search/internal/infrastructure/resilience"
)

// Embedder turns query text into vectors through an Ollama embedding model.
// Vectors for repeated queries are served from an in-process ristretto cache
// keyed by the exact text, which keeps the hot autocomplete-style traffic off
// the model.
type Embedder struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
	cache      *ristretto.Cache[string, []float32]
}

func NewEmbedder(baseURL, model string, httpClient *http.Client, executor *resilience.Executor, cacheEntries int64) (*Embedder, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultPolicy())
	}
	if cacheEntries <= 0 {
		cacheEntries = 2048
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: cacheEntries * 10,
		MaxCost:     cacheEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &Embedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httpClient,
		executor:   executor,
		cache:      cache,
	}, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}

	var out embedResponse
	err := e.executor.Execute(ctx, "ollama_embed", func(callCtx context.Context) error {
		out = embedResponse{}
		return e.post(callCtx, embedRequest{Model: e.model, Input: text}, &out)
	}, classifyEmbedError)
	if err != nil {
		return nil, err
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama embed: empty embedding for query")
	}

	vector := out.Embeddings[0]
	e.cache.Set(text, vector, 1)
	return vector, nil
}

// Wait drains the cache's admission buffers. Test hook.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

func (e *Embedder) post(ctx context.Context, payload embedRequest, out *embedResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{status: resp.Status, code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode embed response: %w", err)
	}
	return nil
}

type statusError struct {
	status string
	code   int
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("ollama embed status: %s", e.status)
	}
	return fmt.Sprintf("ollama embed status: %s: %s", e.status, e.body)
}
