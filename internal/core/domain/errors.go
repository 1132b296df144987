package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRetrievalUnavailable means both retrieval legs failed; the request
	// cannot produce grounding material.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrEmbeddingUnavailable means the embedding call failed. Vector
	// retrieval cannot proceed without it, and lexical-only degradation is
	// deliberately not offered so ranking semantics stay predictable.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrGenerationTimeout means the generation backend exceeded the
	// caller-imposed deadline.
	ErrGenerationTimeout = errors.New("generation timeout")
	// ErrGenerationUnavailable means the generation backend failed for a
	// reason other than the deadline.
	ErrGenerationUnavailable = errors.New("generation unavailable")
	// ErrDocumentNotFound means the index has no document under the given id.
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
