// Package notify fans out events after the federation engine applies an
// activity. Delivery to downstream consumers is best-effort and decoupled
// from activity processing through a buffered channel worker.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Event describes one applied activity.
type Event struct {
	Activity   string    `json:"activity"`
	ActorApID  string    `json:"actor_ap_id"`
	ObjectApID string    `json:"object_ap_id"`
	At         time.Time `json:"at"`
}

// Publisher delivers events to a downstream consumer.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Notifier accepts events from the dispatcher without blocking it. Events
// are dropped (and counted in logs) when the buffer is full; federation
// correctness never depends on notification delivery.
type Notifier struct {
	inbox  chan Event
	logger *slog.Logger
}

// NewNotifier creates a Notifier with the given buffer size.
func NewNotifier(buffer int, logger *slog.Logger) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}
	return &Notifier{
		inbox:  make(chan Event, buffer),
		logger: logger,
	}
}

// Notify enqueues an event, dropping it when the buffer is full.
func (n *Notifier) Notify(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	select {
	case n.inbox <- event:
	default:
		n.logger.WarnContext(ctx, "notification dropped, buffer full",
			"activity", event.Activity,
			"object", event.ObjectApID,
		)
	}
}

// Events exposes the channel for the worker.
func (n *Notifier) Events() <-chan Event { return n.inbox }

// Worker consumes events from the notifier and publishes them. Publish
// failures are logged and the event discarded; the worker keeps running.
type Worker struct {
	publisher Publisher
	inbox     <-chan Event
	logger    *slog.Logger
}

// NewWorker constructs a Worker over the notifier's channel.
func NewWorker(publisher Publisher, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{publisher: publisher, inbox: inbox, logger: logger}
}

// Run processes events until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.publisher.Publish(ctx, event); err != nil {
				w.logger.WarnContext(ctx, "publish notification failed",
					"activity", event.Activity,
					"object", event.ObjectApID,
					"error", err,
				)
			}
		}
	}
}
