package domain

// NoRelevantDocumentsAnswer is the fixed answer returned when retrieval comes
// back empty. This is a defined response, not an error, and the generation
// backend is never invoked for it.
const NoRelevantDocumentsAnswer = "I couldn't find any relevant documents to answer your question. " +
	"Please try rephrasing your query or contact support for assistance."

// AskRequest is one question against the RAG pipeline.
type AskRequest struct {
	Query       string    `json:"query"`
	NumChunks   int       `json:"num_chunks"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
	Requester   Requester `json:"-"`
}

// SourceRef describes one packed chunk as surfaced to the caller. The order
// of sources matches the [Document N] numbering used in the prompt.
type SourceRef struct {
	DocID   string  `json:"doc_id"`
	ChunkID string  `json:"chunk_id,omitempty"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// Citation links answer text back to a source. SourceIndex is 1-based into
// RAGAnswer.Sources; extraction guarantees 1 <= SourceIndex <= len(Sources).
type Citation struct {
	SourceIndex int    `json:"source_index"`
	DocID       string `json:"doc_id"`
	Title       string `json:"title"`
}

// AnswerMetadata carries timing and model information for one ask.
type AnswerMetadata struct {
	RetrievalMs  float64 `json:"retrieval_time_ms"`
	GenerationMs float64 `json:"generation_time_ms"`
	TotalMs      float64 `json:"total_time_ms"`
	ChunksUsed   int     `json:"chunks_used"`
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
}

// RAGAnswer is the final answer payload. Built once per ask, immutable,
// never persisted by this layer.
type RAGAnswer struct {
	Query     string         `json:"query"`
	Answer    string         `json:"answer"`
	Sources   []SourceRef    `json:"sources"`
	Citations []Citation     `json:"citations"`
	Metadata  AnswerMetadata `json:"metadata"`
}

// StreamEventType tags events on the answer stream.
type StreamEventType string

const (
	StreamEventSources StreamEventType = "sources"
	StreamEventToken   StreamEventType = "token"
	StreamEventDone    StreamEventType = "done"
	StreamEventError   StreamEventType = "error"
)

// StreamEvent is one tagged event on the answer stream. The producing side
// guarantees the sources event precedes any token event and that exactly one
// terminal event (done or error) closes the stream.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Sources []SourceRef     `json:"sources,omitempty"`
	Token   string          `json:"token,omitempty"`
	Message string          `json:"message,omitempty"`
}

// GenerationOptions are passed through to the generation backend.
type GenerationOptions struct {
	MaxTokens   int
	Temperature float64
}

// TokenDelta is one element of a backend token stream. A delta carries either
// a token or a terminal error; the channel is closed after the last delta.
type TokenDelta struct {
	Token string
	Err   error
}
