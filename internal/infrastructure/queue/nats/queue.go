package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/avolkova/enterprise-search/internal/core/domain"
	"github.com/avolkova/enterprise-search/internal/infrastructure/resilience"
)

const viewWorkerQueueGroup = "telemetry-workers"

// ViewQueue transports view events between the API and the telemetry worker
// over core NATS. Delivery is at-most-once; the event id makes the worker's
// insert idempotent when the publisher retries.
type ViewQueue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

func Connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			slog.Info("nats_reconnected", "url", conn.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

func NewViewQueue(conn *nats.Conn, subject string, executor *resilience.Executor) *ViewQueue {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultPolicy())
	}
	return &ViewQueue{
		conn:     conn,
		subject:  subject,
		executor: executor,
	}
}

func (q *ViewQueue) PublishView(ctx context.Context, event domain.ViewEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal view event: %w", err)
	}

	err = q.executor.Execute(ctx, "nats_publish_view", func(context.Context) error {
		return q.conn.Publish(q.subject, payload)
	}, classifyNATSError)
	return wrapTemporaryIfNeeded(err)
}

// SubscribeViews consumes view events in a queue group so concurrent workers
// share the load. Blocks until ctx is done, then drains the subscription so
// in-flight handlers finish.
func (q *ViewQueue) SubscribeViews(ctx context.Context, handler func(context.Context, domain.ViewEvent) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, viewWorkerQueueGroup, func(msg *nats.Msg) {
		var event domain.ViewEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Error("view_event_decode_failed", "subject", q.subject, "error", err)
			return
		}
		if err := handler(ctx, event); err != nil {
			slog.Error("view_event_handler_failed",
				"subject", q.subject,
				"event_id", event.EventID,
				"doc_id", event.DocID,
				"error", err,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", q.subject, err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("drain %s: %w", q.subject, err)
	}
	return nil
}
