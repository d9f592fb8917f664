package conflict

import (
	"context"
	"testing"

	"github.com/digcoord/digcoord/internal/eventbus"
	"github.com/digcoord/digcoord/internal/types"
)

func TestEventHandlerRunsOnCreate(t *testing.T) {
	subject := project("subject", types.StatePendingApproval, "2026-06-01", "2026-06-30")
	peer := project("peer", types.StateApproved, "2026-06-10", "2026-06-20")
	store := newFakeStore(subject, peer)

	h := NewEventHandler(New(store, nil, 20, nil))
	err := h.Handle(context.Background(), &eventbus.Event{Type: eventbus.EventProjectCreated, Project: subject})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.statusUpdates["subject"]; !ok {
		t.Error("detection did not run")
	}
}

func TestEventHandlerSkipsUnchangedFootprint(t *testing.T) {
	subject := project("subject", types.StateApproved, "2026-06-01", "2026-06-30")
	store := newFakeStore(subject)
	h := NewEventHandler(New(store, nil, 20, nil))

	old := *subject
	old.Name = "old name" // attribute-only edit
	err := h.Handle(context.Background(), &eventbus.Event{
		Type:       eventbus.EventProjectUpdated,
		Project:    subject,
		OldProject: &old,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.statusUpdates["subject"]; ok {
		t.Error("attribute-only edit should not re-run detection")
	}
}

func TestEventHandlerRedetectsOnDateChange(t *testing.T) {
	subject := project("subject", types.StateApproved, "2026-06-01", "2026-06-30")
	store := newFakeStore(subject)
	h := NewEventHandler(New(store, nil, 20, nil))

	old := *subject
	old.EndDate = types.MustParseDate("2026-06-15")
	err := h.Handle(context.Background(), &eventbus.Event{
		Type:       eventbus.EventProjectUpdated,
		Project:    subject,
		OldProject: &old,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.statusUpdates["subject"]; !ok {
		t.Error("date change should re-run detection")
	}
}

func TestEventHandlerPriorityBeforeNotification(t *testing.T) {
	h := NewEventHandler(nil)
	if h.Priority() >= 100 {
		t.Errorf("detection must run before notification dispatch (priority %d)", h.Priority())
	}
}
