package usecase

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/avolkova/enterprise-search/internal/core/domain"
	"github.com/avolkova/enterprise-search/internal/core/ports"
)

// AskConfig tunes the synthesis pipeline. Timeouts live here rather than in
// the adapters so every transport shares the same budget discipline.
type AskConfig struct {
	DefaultNumChunks int
	MaxNumChunks     int
	MaxContextChars  int
	AnswerMaxTokens  int
	// RetrievalTimeout bounds embedding plus both retrieval legs.
	RetrievalTimeout time.Duration
	// GenerationTimeout bounds the generation backend call.
	GenerationTimeout time.Duration
}

func (c AskConfig) normalize() AskConfig {
	out := c
	if out.DefaultNumChunks <= 0 {
		out.DefaultNumChunks = 5
	}
	if out.MaxNumChunks <= 0 {
		out.MaxNumChunks = 10
	}
	if out.MaxContextChars <= 0 {
		out.MaxContextChars = 6000
	}
	if out.AnswerMaxTokens <= 0 {
		out.AnswerMaxTokens = 500
	}
	if out.RetrievalTimeout <= 0 {
		out.RetrievalTimeout = 800 * time.Millisecond
	}
	if out.GenerationTimeout <= 0 {
		out.GenerationTimeout = 45 * time.Second
	}
	return out
}

// AskUseCase is the answer synthesizer: it orchestrates embed, fuse, pack,
// prompt and generate into a grounded answer with verifiable citations.
type AskUseCase struct {
	embedder  ports.Embedder
	fuser     *RetrievalFuser
	generator ports.AnswerGenerator
	cfg       AskConfig
}

func NewAskUseCase(embedder ports.Embedder, fuser *RetrievalFuser, generator ports.AnswerGenerator, cfg AskConfig) *AskUseCase {
	return &AskUseCase{
		embedder:  embedder,
		fuser:     fuser,
		generator: generator,
		cfg:       cfg.normalize(),
	}
}

// Ask answers the question from indexed documents. A generation failure still
// returns the answer skeleton with retrieved sources attached so callers can
// render them; the error reports what went wrong.
func (uc *AskUseCase) Ask(ctx context.Context, req domain.AskRequest) (*domain.RAGAnswer, error) {
	start := time.Now()

	req, err := uc.validate(req)
	if err != nil {
		return nil, err
	}

	packed, sources, err := uc.retrieve(ctx, req)
	retrievalMs := elapsedMs(start)
	if err != nil {
		return nil, err
	}

	if len(packed) == 0 {
		return &domain.RAGAnswer{
			Query:     req.Query,
			Answer:    domain.NoRelevantDocumentsAnswer,
			Sources:   []domain.SourceRef{},
			Citations: []domain.Citation{},
			Metadata: domain.AnswerMetadata{
				RetrievalMs: retrievalMs,
				TotalMs:     elapsedMs(start),
				Model:       uc.generator.ModelID(),
				Temperature: req.Temperature,
			},
		}, nil
	}

	prompt := buildAnswerPrompt(req.Query, req.Requester, packed)

	genStart := time.Now()
	genCtx, cancel := context.WithTimeout(ctx, uc.cfg.GenerationTimeout)
	defer cancel()
	answerText, genErr := uc.generator.Generate(genCtx, prompt, domain.GenerationOptions{
		MaxTokens:   uc.cfg.AnswerMaxTokens,
		Temperature: req.Temperature,
	})

	answer := &domain.RAGAnswer{
		Query:     req.Query,
		Answer:    answerText,
		Sources:   sources,
		Citations: []domain.Citation{},
		Metadata: domain.AnswerMetadata{
			RetrievalMs:  retrievalMs,
			GenerationMs: elapsedMs(genStart),
			TotalMs:      elapsedMs(start),
			ChunksUsed:   len(sources),
			Model:        uc.generator.ModelID(),
			Temperature:  req.Temperature,
		},
	}

	if genErr != nil {
		// Sources stay attached so the caller can still show them.
		if errors.Is(genErr, context.DeadlineExceeded) && ctx.Err() == nil {
			return answer, domain.WrapError(domain.ErrGenerationTimeout, "generate answer", genErr)
		}
		return answer, domain.WrapError(domain.ErrGenerationUnavailable, "generate answer", genErr)
	}

	answer.Citations = extractCitations(answerText, sources)
	return answer, nil
}

// GeneratorHealthy reports whether the generation backend is reachable.
func (uc *AskUseCase) GeneratorHealthy(ctx context.Context) bool {
	return uc.generator.Healthy(ctx)
}

func (uc *AskUseCase) validate(req domain.AskRequest) (domain.AskRequest, error) {
	if req.Query == "" {
		return req, domain.WrapError(domain.ErrInvalidInput, "ask", errors.New("query is required"))
	}
	if req.NumChunks <= 0 {
		req.NumChunks = uc.cfg.DefaultNumChunks
	}
	if req.NumChunks > uc.cfg.MaxNumChunks {
		req.NumChunks = uc.cfg.MaxNumChunks
	}
	if req.Temperature < 0 {
		req.Temperature = 0
	}
	if req.Temperature > 1 {
		req.Temperature = 1
	}
	return req, nil
}

// retrieve runs embed+fuse+pack under the retrieval budget and projects the
// packed chunks into source references in packed order.
func (uc *AskUseCase) retrieve(ctx context.Context, req domain.AskRequest) ([]domain.Chunk, []domain.SourceRef, error) {
	retrievalCtx, cancel := context.WithTimeout(ctx, uc.cfg.RetrievalTimeout)
	defer cancel()

	embedding, err := uc.embedder.EmbedQuery(retrievalCtx, req.Query)
	if err != nil {
		return nil, nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "embed query", err)
	}

	results, err := uc.fuser.Fuse(retrievalCtx, domain.RetrievalRequest{
		Query:                req.Query,
		Embedding:            embedding,
		Size:                 req.NumChunks,
		Requester:            req.Requester,
		BoostPersonalization: true,
	})
	if err != nil {
		return nil, nil, err
	}

	packed := PackContext(results, uc.cfg.MaxContextChars)

	scores := make(map[string]float64, len(results))
	for _, r := range results {
		scores[r.Chunk.ChunkID] = r.FusedScore
	}

	sources := make([]domain.SourceRef, 0, len(packed))
	for _, chunk := range packed {
		sources = append(sources, domain.SourceRef{
			DocID:   chunk.DocID,
			ChunkID: chunk.ChunkID,
			Title:   chunk.Title,
			Snippet: truncateRunes(chunk.Text, 200),
			Source:  chunk.Source,
			Score:   scores[chunk.ChunkID],
		})
	}
	return packed, sources, nil
}

var citationPattern = regexp.MustCompile(`\[Document (\d+)\]`)

// extractCitations maps [Document N] markers in the answer back to sources.
// Out-of-range references are model noise and are dropped silently; repeated
// references to the same document collapse to the first.
func extractCitations(answer string, sources []domain.SourceRef) []domain.Citation {
	citations := make([]domain.Citation, 0, 4)
	seenDocs := make(map[string]struct{}, 4)

	for _, match := range citationPattern.FindAllStringSubmatch(answer, -1) {
		index, err := strconv.Atoi(match[1])
		if err != nil || index < 1 || index > len(sources) {
			continue
		}
		source := sources[index-1]
		if _, ok := seenDocs[source.DocID]; ok {
			continue
		}
		seenDocs[source.DocID] = struct{}{}
		citations = append(citations, domain.Citation{
			SourceIndex: index,
			DocID:       source.DocID,
			Title:       source.Title,
		})
	}
	return citations
}

func elapsedMs(since time.Time) float64 {
	return float64(time.Since(since).Microseconds()) / 1000.0
}
