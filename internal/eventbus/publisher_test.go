package eventbus

import (
	"context"
	"sync"
	"testing"

	"github.com/digcoord/digcoord/internal/types"
)

type orderHandler struct {
	mu   sync.Mutex
	byID map[string][]string
}

func (h *orderHandler) ID() string           { return "order" }
func (h *orderHandler) Priority() int        { return 0 }
func (h *orderHandler) Handles() []EventType { return []EventType{EventProjectUpdated} }

func (h *orderHandler) Handle(_ context.Context, event *Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := event.Project.ID
	h.byID[id] = append(h.byID[id], event.Project.Name)
	return nil
}

func TestPublisherPerEntityFIFO(t *testing.T) {
	bus := New()
	h := &orderHandler{byID: map[string][]string{}}
	bus.Register(h)

	p := NewPublisher(bus, 4, 0)
	const perEntity = 50
	entities := []string{"a", "b", "c", "d", "e"}
	for i := 0; i < perEntity; i++ {
		for _, id := range entities {
			p.Publish(&Event{
				Type:    EventProjectUpdated,
				Project: &types.Project{ID: id, Name: name(i)},
			})
		}
	}
	p.Close() // drains before returning

	for _, id := range entities {
		got := h.byID[id]
		if len(got) != perEntity {
			t.Fatalf("entity %s: %d events, want %d", id, len(got), perEntity)
		}
		for i, n := range got {
			if n != name(i) {
				t.Fatalf("entity %s: out of order at %d: %s", id, i, n)
			}
		}
	}
}

func name(i int) string {
	return string(rune('A'+i/26)) + string(rune('a'+i%26))
}

func TestPublishAfterCloseDrops(t *testing.T) {
	bus := New()
	h := &orderHandler{byID: map[string][]string{}}
	bus.Register(h)

	p := NewPublisher(bus, 2, 0)
	p.Close()
	// Must not panic, event is dropped.
	p.Publish(&Event{Type: EventProjectUpdated, Project: &types.Project{ID: "x", Name: "late"}})

	if len(h.byID["x"]) != 0 {
		t.Error("event published after close was delivered")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	p := NewPublisher(New(), 1, 0)
	p.Close()
	p.Close()
}
