package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avolkova/enterprise-search/internal/core/domain"
	"github.com/avolkova/enterprise-search/internal/infrastructure/resilience"
)

const defaultTopP = 0.9

// Client generates answers through an Ollama server. Non-streaming calls go
// through the resilience executor; streams are opened once and never retried
// mid-flight because tokens already delivered cannot be unwound.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func NewClient(baseURL, model string, httpClient *http.Client, executor *resilience.Executor) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultPolicy())
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httpClient,
		executor:   executor,
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumPredict  int     `json:"num_predict"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

func (c *Client) Generate(ctx context.Context, prompt string, opts domain.GenerationOptions) (string, error) {
	payload := generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			NumPredict:  opts.MaxTokens,
			Temperature: opts.Temperature,
			TopP:        defaultTopP,
		},
	}

	var out generateResponse
	err := c.executor.Execute(ctx, "ollama_generate", func(callCtx context.Context) error {
		out = generateResponse{}
		if err := c.postJSON(callCtx, "/api/generate", payload, &out, "generate"); err != nil {
			return err
		}
		if out.Error != "" {
			return fmt.Errorf("ollama generate: %s", out.Error)
		}
		return nil
	}, classifyOllamaError)
	if err != nil {
		return "", wrapTemporaryIfNeeded("ollama generate", err)
	}
	return out.Response, nil
}

// StreamGenerate opens a token stream. The returned channel is closed after
// the final delta; a mid-stream failure is delivered as the last delta's Err.
func (c *Client) StreamGenerate(ctx context.Context, prompt string, opts domain.GenerationOptions) (<-chan domain.TokenDelta, error) {
	payload := generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: true,
		Options: generateOptions{
			NumPredict:  opts.MaxTokens,
			Temperature: opts.Temperature,
			TopP:        defaultTopP,
		},
	}

	body, err := c.postStream(ctx, "/api/generate", payload, "generate stream")
	if err != nil {
		return nil, wrapTemporaryIfNeeded("ollama generate stream", err)
	}

	deltas := make(chan domain.TokenDelta)
	go func() {
		defer close(deltas)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var chunk generateResponse
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				sendDelta(ctx, deltas, domain.TokenDelta{Err: fmt.Errorf("decode stream chunk: %w", err)})
				return
			}
			if chunk.Error != "" {
				sendDelta(ctx, deltas, domain.TokenDelta{Err: fmt.Errorf("ollama generate: %s", chunk.Error)})
				return
			}
			if chunk.Response != "" {
				if !sendDelta(ctx, deltas, domain.TokenDelta{Token: chunk.Response}) {
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			sendDelta(ctx, deltas, domain.TokenDelta{Err: err})
		}
	}()
	return deltas, nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Healthy reports whether the Ollama server responds to a tags listing.
func (c *Client) Healthy(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	return resp.StatusCode < 300
}

func (c *Client) ModelID() string {
	return c.model
}

func sendDelta(ctx context.Context, out chan<- domain.TokenDelta, delta domain.TokenDelta) bool {
	select {
	case out <- delta:
		return true
	case <-ctx.Done():
		return false
	}
}
