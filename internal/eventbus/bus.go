// Package eventbus is the in-process publish-subscribe fabric for domain
// events. Dispatch is synchronous; Publisher adds the asynchronous
// fire-and-forget path used after commits.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Bus fans one domain event out to its subscribers, one at a time. The
// conflict detector subscribes at a lower priority than the notification
// dispatcher, so derived fields are persisted before recipients are
// resolved. Async delivery is layered on top by Publisher.
type Bus struct {
	handlers []Handler
	mu       sync.RWMutex
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Register subscribes a handler. Priority decides its slot at dispatch
// time, not the order of Register calls.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Dispatch delivers the event to every subscriber of its type, lowest
// priority first. A failing subscriber is logged and skipped; the ones
// after it still run, because detection and notification must not be able
// to suppress each other.
func (b *Bus) Dispatch(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("eventbus: nil event")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	subscribers := b.subscribersTo(event.Type)
	b.mu.RUnlock()

	for _, h := range subscribers {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("eventbus: context cancelled: %w", err)
		}
		if err := h.Handle(ctx, event); err != nil {
			slog.Warn("eventbus handler error",
				"handler", h.ID(), "event", event.Type, "error", err)
		}
	}
	return nil
}

// Handlers snapshots the registered handlers for status reporting.
func (b *Bus) Handlers() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.handlers))
	copy(out, b.handlers)
	return out
}

// subscribersTo filters registrations down to the given event type and
// orders them by priority. Caller holds b.mu.
func (b *Bus) subscribersTo(eventType EventType) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		for _, t := range h.Handles() {
			if t == eventType {
				matched = append(matched, h)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}
