package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingPublisher struct {
	mu       sync.Mutex
	events   []Event
	attempts int
	fail     bool
}

func (p *capturingPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *capturingPublisher) collected() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func TestEmitStampsTimestamp(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	emitter := NewEmitter(4, logger)

	emitter.Emit(Event{Type: EventPermitSubmitted, PermitID: uuid.New()})

	got := <-emitter.Events()
	assert.False(t, got.Timestamp.IsZero())
}

func TestEmitNeverBlocksWhenFull(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	emitter := NewEmitter(2, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			emitter.Emit(Event{Type: EventPermitSubmitted, PermitID: uuid.New()})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
}

func TestWorkerDrainsToPublisher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	emitter := NewEmitter(8, logger)
	publisher := &capturingPublisher{}
	worker := NewWorker(publisher, emitter.Events(), logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	first := Event{Type: EventPermitSubmitted, PermitID: uuid.New()}
	second := Event{Type: EventReviewDecided, PermitID: first.PermitID, NewStatus: "MEETS_REQUIREMENTS"}
	emitter.Emit(first)
	emitter.Emit(second)

	require.Eventually(t, func() bool {
		return len(publisher.collected()) == 2
	}, time.Second, 10*time.Millisecond)

	events := publisher.collected()
	assert.Equal(t, EventPermitSubmitted, events[0].Type)
	assert.Equal(t, EventReviewDecided, events[1].Type)
}

func TestWorkerSurvivesPublishFailures(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	emitter := NewEmitter(8, logger)
	publisher := &capturingPublisher{fail: true}
	worker := NewWorker(publisher, emitter.Events(), logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	emitter.Emit(Event{Type: EventPermitSubmitted, PermitID: uuid.New()})
	require.Eventually(t, func() bool {
		return publisher.attemptCount() == 1
	}, time.Second, 10*time.Millisecond)

	// The failed publish dropped the event; later events still flow.
	publisher.mu.Lock()
	publisher.fail = false
	publisher.mu.Unlock()
	emitter.Emit(Event{Type: EventApprovalDecided, PermitID: uuid.New()})

	require.Eventually(t, func() bool {
		events := publisher.collected()
		return len(events) == 1 && events[0].Type == EventApprovalDecided
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	emitter := NewEmitter(1, logger)
	worker := NewWorker(&capturingPublisher{}, emitter.Events(), logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- worker.Run(ctx) }()
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
