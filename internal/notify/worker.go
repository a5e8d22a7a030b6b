package notify

import (
	"context"
	"log/slog"

	"permitgate/internal/platform/metrics"
)

// Worker drains the emitter queue into the publisher. Publish failures are
// logged and counted; the event is dropped rather than retried so a dead
// broker cannot back the queue up into the request path.
type Worker struct {
	publisher Publisher
	inbox     <-chan Event
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewWorker(publisher Publisher, inbox <-chan Event, logger *slog.Logger, m *metrics.Metrics) *Worker {
	return &Worker{publisher: publisher, inbox: inbox, logger: logger, metrics: m}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.publisher.Publish(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "failed to publish notification",
					"type", event.Type,
					"permit_id", event.PermitID,
					"error", err,
				)
				if w.metrics != nil {
					w.metrics.NotificationsFailed.Inc()
				}
			}
		}
	}
}
