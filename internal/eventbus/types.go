package eventbus

import (
	"context"
	"time"

	"github.com/digcoord/digcoord/internal/types"
)

// EventType identifies a domain event flowing through the bus.
type EventType string

const (
	EventProjectCreated      EventType = "ProjectCreated"
	EventProjectUpdated      EventType = "ProjectUpdated"
	EventProjectStateChanged EventType = "ProjectStateChanged"
	EventCommentAdded        EventType = "CommentAdded"
	EventConflictsDetected   EventType = "ConflictsDetected"
	EventMoratoriumCreated   EventType = "MoratoriumCreated"
	EventUserRegistered      EventType = "UserRegistered"
	EventDeadlineApproaching EventType = "DeadlineApproaching"
)

// DeadlineKind distinguishes the deadline sweep variants carried by
// DeadlineApproaching events.
type DeadlineKind string

const (
	DeadlineStartApproaching DeadlineKind = "start_approaching"
	DeadlineEndingSoon       DeadlineKind = "ending_soon"
	DeadlineOverdueStart     DeadlineKind = "overdue_start"
	DeadlineOverdueEnd       DeadlineKind = "overdue_end"
)

// Event is a single domain event. Which fields are populated depends on
// Type; Project is set for every project-scoped event.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`

	Project    *types.Project    `json:"project,omitempty"`
	OldProject *types.Project    `json:"old_project,omitempty"` // ProjectUpdated
	OldState   types.State       `json:"old_state,omitempty"`   // ProjectStateChanged
	Comment    *types.Comment    `json:"comment,omitempty"`     // CommentAdded
	Conflicts  []*types.Project  `json:"conflicts,omitempty"`   // ConflictsDetected
	Moratorium *types.Moratorium `json:"moratorium,omitempty"`  // MoratoriumCreated
	UserID     string            `json:"user_id,omitempty"`     // UserRegistered

	// DeadlineApproaching payload.
	DeadlineKind DeadlineKind `json:"deadline_kind,omitempty"`
	DaysUntil    int          `json:"days_until,omitempty"`
}

// PartitionKey returns the entity id the event is serialized on. Events
// sharing a key are delivered to async subscribers in publish order; across
// keys the order is unspecified.
func (e *Event) PartitionKey() string {
	switch {
	case e.Project != nil:
		return e.Project.ID
	case e.Moratorium != nil:
		return e.Moratorium.ID
	case e.UserID != "":
		return e.UserID
	}
	return string(e.Type)
}

// Handler consumes events from the bus.
type Handler interface {
	// ID names the handler for logs and introspection.
	ID() string
	// Handles lists the event types this handler wants.
	Handles() []EventType
	// Handle processes one event. Errors are logged by the bus and never
	// stop delivery to other handlers.
	Handle(ctx context.Context, event *Event) error
	// Priority orders handlers within one event; lower runs first.
	Priority() int
}
