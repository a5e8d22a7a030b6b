package notify

import (
	"context"
	"log/slog"
	"time"
)

// Publisher delivers domain events to an external transport.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Emitter is what services hold. It buffers events on a channel so a slow or
// unavailable broker never adds latency to a state transition. When the
// buffer is full the event is dropped and logged; the permit row remains the
// source of truth.
type Emitter struct {
	events chan Event
	logger *slog.Logger
}

func NewEmitter(buffer int, logger *slog.Logger) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &Emitter{
		events: make(chan Event, buffer),
		logger: logger,
	}
}

// Emit enqueues an event, stamping the time if unset. Never blocks.
func (e *Emitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case e.events <- event:
	default:
		e.logger.Warn("notification buffer full, event dropped",
			"type", event.Type,
			"permit_id", event.PermitID,
		)
	}
}

// Events exposes the queue for the relay worker.
func (e *Emitter) Events() <-chan Event {
	return e.events
}
