package conflict

import (
	"context"
	"fmt"

	"github.com/digcoord/digcoord/internal/eventbus"
	"github.com/digcoord/digcoord/internal/types"
)

// HandlerPriority runs detection before the notification dispatcher so the
// persisted derived fields are current by the dispatcher's slot. The event
// snapshot itself is not rewritten; the dispatcher re-reads from storage.
const HandlerPriority = 50

// EventHandler runs detection when a project enters the system or its
// footprint/window changes.
type EventHandler struct {
	detector *Detector
}

var _ eventbus.Handler = (*EventHandler)(nil)

// NewEventHandler wraps a detector for event bus registration.
func NewEventHandler(detector *Detector) *EventHandler {
	return &EventHandler{detector: detector}
}

func (h *EventHandler) ID() string { return "conflict-detector" }

func (h *EventHandler) Priority() int { return HandlerPriority }

func (h *EventHandler) Handles() []eventbus.EventType {
	return []eventbus.EventType{eventbus.EventProjectCreated, eventbus.EventProjectUpdated}
}

// Handle runs full detection for the project. Updates that leave geometry
// and dates untouched are skipped. Errors bubble to the bus, which logs
// them without blocking other handlers.
func (h *EventHandler) Handle(ctx context.Context, event *eventbus.Event) error {
	if event.Project == nil {
		return nil
	}
	if event.Type == eventbus.EventProjectUpdated && event.OldProject != nil && !footprintChanged(event.OldProject, event.Project) {
		return nil
	}
	if _, err := h.detector.RunForProject(ctx, event.Project.ID); err != nil {
		return fmt.Errorf("detect conflicts for %s: %w", event.Project.ID, err)
	}
	return nil
}

func footprintChanged(old, updated *types.Project) bool {
	return !old.Geometry.Equal(updated.Geometry) ||
		!old.StartDate.Equal(updated.StartDate) ||
		!old.EndDate.Equal(updated.EndDate)
}
