package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/transfa/core-banking-service/internal/domain"
	"github.com/transfa/core-banking-service/internal/observability"
	"github.com/transfa/core-banking-service/pkg/rabbitmq"
)

const publishTimeout = 5 * time.Second

type queuedEvent struct {
	topic string
	event domain.Event
}

// EventEmitter publishes events on a bounded queue drained by worker goroutines.
// Publish never blocks and never fails from the caller's point of view; a full
// queue or a broker error is logged and counted.
type EventEmitter struct {
	producer rabbitmq.Publisher
	logger   *slog.Logger
	queue    chan queuedEvent
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewEventEmitter starts workers goroutines draining a queue of queueSize events.
func NewEventEmitter(producer rabbitmq.Publisher, logger *slog.Logger, queueSize, workers int) *EventEmitter {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 2
	}
	e := &EventEmitter{
		producer: producer,
		logger:   logger,
		queue:    make(chan queuedEvent, queueSize),
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Publish enqueues event for topic.
func (e *EventEmitter) Publish(topic string, event domain.Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped(topic, event, "emitter closed")
		return
	}
	select {
	case e.queue <- queuedEvent{topic: topic, event: event}:
	default:
		e.dropped(topic, event, "queue full")
	}
}

func (e *EventEmitter) dropped(topic string, event domain.Event, reason string) {
	observability.EventsPublished.WithLabelValues(topic, "dropped").Inc()
	e.logger.Warn("event dropped", "topic", topic, "event_type", event.Type, "reason", reason)
}

func (e *EventEmitter) worker() {
	defer e.wg.Done()
	for item := range e.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := e.producer.Publish(ctx, item.topic, item.event.Type, item.event)
		cancel()
		if err != nil {
			observability.EventsPublished.WithLabelValues(item.topic, "error").Inc()
			e.logger.Error("event publish failed",
				"topic", item.topic,
				"event_type", item.event.Type,
				"error", fmt.Errorf("%w: %v", domain.ErrEventPublish, err),
			)
			continue
		}
		observability.EventsPublished.WithLabelValues(item.topic, "published").Inc()
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (e *EventEmitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		e.logger.Warn("event emitter closed before the queue drained", "remaining", len(e.queue))
		return ctx.Err()
	}
}
