package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avolkova/enterprise-search/internal/core/domain"
	"github.com/avolkova/enterprise-search/internal/infrastructure/resilience"
)

// Client queries the chunk index over the OpenSearch HTTP API. Query results
// come back in the index's own relevance order; ACL filters are pushed down
// but the caller re-checks them, so this adapter is not the security boundary.
type Client struct {
	baseURL    string
	index      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func NewClient(baseURL, index string, httpClient *http.Client, executor *resilience.Executor) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultPolicy())
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		index:      index,
		httpClient: httpClient,
		executor:   executor,
	}
}

type chunkDocument struct {
	ChunkID      string    `json:"chunk_id"`
	DocID        string    `json:"doc_id"`
	Title        string    `json:"title"`
	Text         string    `json:"text"`
	Source       string    `json:"source"`
	URL          string    `json:"url"`
	ContentType  string    `json:"content_type"`
	Language     string    `json:"language"`
	ACLAllow     []string  `json:"acl_allow"`
	ACLDeny      []string  `json:"acl_deny"`
	CountryTags  []string  `json:"country_tags"`
	Department   string    `json:"department"`
	LastModified time.Time `json:"last_modified"`
	Embedding    []float32 `json:"embedding"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64       `json:"_score"`
			Source chunkDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (c *Client) LexicalQuery(ctx context.Context, text string, size int, filter domain.IndexFilter) ([]domain.RankedChunk, error) {
	boolQuery := map[string]any{
		"must": []any{
			map[string]any{
				"multi_match": map[string]any{
					"query":  text,
					"fields": []string{"title^3", "text"},
				},
			},
		},
		"filter": aclFilterClauses(filter),
	}
	if filter.ExcludeDocID != "" {
		boolQuery["must_not"] = []any{
			map[string]any{"term": map[string]any{"doc_id": filter.ExcludeDocID}},
		}
	}

	body := map[string]any{
		"size":  size,
		"query": map[string]any{"bool": boolQuery},
	}
	if filter.CollapseByDoc {
		body["collapse"] = map[string]any{"field": "doc_id"}
	}

	return c.search(ctx, "lexical_query", body)
}

func (c *Client) VectorQuery(ctx context.Context, embedding []float32, size int, filter domain.IndexFilter) ([]domain.RankedChunk, error) {
	knnFilter := map[string]any{"filter": aclFilterClauses(filter)}
	if filter.ExcludeDocID != "" {
		knnFilter["must_not"] = []any{
			map[string]any{"term": map[string]any{"doc_id": filter.ExcludeDocID}},
		}
	}

	body := map[string]any{
		"size": size,
		"query": map[string]any{
			"knn": map[string]any{
				"embedding": map[string]any{
					"vector": embedding,
					"k":      size,
					"filter": map[string]any{"bool": knnFilter},
				},
			},
		},
	}
	if filter.CollapseByDoc {
		body["collapse"] = map[string]any{"field": "doc_id"}
	}

	return c.search(ctx, "vector_query", body)
}

// DocumentEmbedding fetches the embedding of the document's first indexed
// chunk, which stands in for the whole document in similarity queries.
func (c *Client) DocumentEmbedding(ctx context.Context, docID string) ([]float32, error) {
	body := map[string]any{
		"size":    1,
		"query":   map[string]any{"term": map[string]any{"doc_id": docID}},
		"_source": []string{"embedding"},
	}

	var resp searchResponse
	err := c.executor.Execute(ctx, "opensearch_doc_embedding", func(callCtx context.Context) error {
		resp = searchResponse{}
		return c.postSearch(callCtx, "document_embedding", body, &resp)
	}, classifySearchError)
	if err != nil {
		return nil, wrapRetrievalError("document embedding", err)
	}

	if len(resp.Hits.Hits) == 0 {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "document embedding", fmt.Errorf("doc %s has no indexed chunks", docID))
	}
	return resp.Hits.Hits[0].Source.Embedding, nil
}

func (c *Client) search(ctx context.Context, operation string, body map[string]any) ([]domain.RankedChunk, error) {
	var resp searchResponse
	err := c.executor.Execute(ctx, "opensearch_"+operation, func(callCtx context.Context) error {
		resp = searchResponse{}
		return c.postSearch(callCtx, operation, body, &resp)
	}, classifySearchError)
	if err != nil {
		return nil, wrapRetrievalError(operation, err)
	}

	chunks := make([]domain.RankedChunk, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		doc := hit.Source
		chunks = append(chunks, domain.RankedChunk{
			Chunk: domain.Chunk{
				ChunkID:      doc.ChunkID,
				DocID:        doc.DocID,
				Title:        doc.Title,
				Text:         doc.Text,
				Source:       doc.Source,
				URL:          doc.URL,
				ContentType:  doc.ContentType,
				Language:     doc.Language,
				ACLAllow:     doc.ACLAllow,
				ACLDeny:      doc.ACLDeny,
				CountryTags:  doc.CountryTags,
				Department:   doc.Department,
				LastModified: doc.LastModified,
			},
			Score: hit.Score,
		})
	}
	return chunks, nil
}

func (c *Client) postSearch(ctx context.Context, operation string, body map[string]any, out *searchResponse) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	url := fmt.Sprintf("%s/%s/_search", c.baseURL, c.index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("opensearch %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &searchStatusError{
			operation: operation,
			code:      resp.StatusCode,
			status:    resp.Status,
			body:      strings.TrimSpace(string(msg)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

// aclFilterClauses builds the pushed-down ACL predicate: the requester must
// share at least one group with acl_allow and none with acl_deny.
func aclFilterClauses(filter domain.IndexFilter) []any {
	groups := filter.AllowGroups
	if len(groups) == 0 {
		groups = []string{domain.DefaultGroup}
	}
	return []any{
		map[string]any{"terms": map[string]any{"acl_allow": groups}},
		map[string]any{
			"bool": map[string]any{
				"must_not": []any{
					map[string]any{"terms": map[string]any{"acl_deny": groups}},
				},
			},
		},
	}
}
