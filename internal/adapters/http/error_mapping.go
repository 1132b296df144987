package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/avolkova/enterprise-search/internal/core/domain"
)

type errorResponse struct {
	Error     string             `json:"error"`
	RequestID string             `json:"request_id,omitempty"`
	Sources   []domain.SourceRef `json:"sources,omitempty"`
}

// statusForError maps domain error kinds onto transport codes. Unclassified
// errors are internal failures.
func statusForError(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrGenerationTimeout):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrGenerationUnavailable):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrRetrievalUnavailable),
		domain.IsKind(err, domain.ErrEmbeddingUnavailable),
		domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorWithSources(w, r, err, nil)
}

// writeErrorWithSources reports a failure while still handing back any
// sources retrieved before the failure, so callers can render them.
func writeErrorWithSources(w http.ResponseWriter, r *http.Request, err error, sources []domain.SourceRef) {
	status := statusForError(err)
	if status >= 500 {
		slog.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		RequestID: requestIDFromContext(r.Context()),
		Sources:   sources,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("response_encode_failed", "error", err)
	}
}
