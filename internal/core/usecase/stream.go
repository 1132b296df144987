package usecase

import (
	"context"
	"errors"

	"github.com/avolkova/enterprise-search/internal/core/domain"
)

// AskStream runs the ask pipeline and delivers the answer as a stream of
// tagged events. Guarantees: the sources event precedes any token event,
// exactly one terminal event (done or error) is emitted, and the channel is
// closed after it. Cancelling ctx aborts the backend stream and stops
// emission immediately.
func (uc *AskUseCase) AskStream(ctx context.Context, req domain.AskRequest) <-chan domain.StreamEvent {
	out := make(chan domain.StreamEvent)

	go func() {
		defer close(out)

		req, err := uc.validate(req)
		if err != nil {
			emit(ctx, out, errorEvent(err))
			return
		}

		packed, sources, err := uc.retrieve(ctx, req)
		if err != nil {
			emit(ctx, out, errorEvent(err))
			return
		}

		if !emit(ctx, out, domain.StreamEvent{Type: domain.StreamEventSources, Sources: sources}) {
			return
		}

		// Empty retrieval is the defined no-documents answer, not a failure;
		// the generation backend is never opened for it.
		if len(packed) == 0 {
			if emit(ctx, out, domain.StreamEvent{Type: domain.StreamEventToken, Token: domain.NoRelevantDocumentsAnswer}) {
				emit(ctx, out, domain.StreamEvent{Type: domain.StreamEventDone})
			}
			return
		}

		prompt := buildAnswerPrompt(req.Query, req.Requester, packed)
		genCtx, cancel := context.WithTimeout(ctx, uc.cfg.GenerationTimeout)
		defer cancel()

		deltas, err := uc.generator.StreamGenerate(genCtx, prompt, domain.GenerationOptions{
			MaxTokens:   uc.cfg.AnswerMaxTokens,
			Temperature: req.Temperature,
		})
		if err != nil {
			emit(ctx, out, errorEvent(classifyGenerationError(err, ctx)))
			return
		}

		for delta := range deltas {
			if delta.Err != nil {
				emit(ctx, out, errorEvent(classifyGenerationError(delta.Err, ctx)))
				return
			}
			if !emit(ctx, out, domain.StreamEvent{Type: domain.StreamEventToken, Token: delta.Token}) {
				return
			}
		}

		emit(ctx, out, domain.StreamEvent{Type: domain.StreamEventDone})
	}()

	return out
}

// emit sends an event unless the caller has gone away. Returns false when the
// context is done, which terminates the producing goroutine.
func emit(ctx context.Context, out chan<- domain.StreamEvent, event domain.StreamEvent) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func errorEvent(err error) domain.StreamEvent {
	return domain.StreamEvent{Type: domain.StreamEventError, Message: err.Error()}
}

func classifyGenerationError(err error, callerCtx context.Context) error {
	if errors.Is(err, context.DeadlineExceeded) && callerCtx.Err() == nil {
		return domain.WrapError(domain.ErrGenerationTimeout, "stream answer", err)
	}
	return domain.WrapError(domain.ErrGenerationUnavailable, "stream answer", err)
}
