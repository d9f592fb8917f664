// Package mailqueue is the client contract for the external email queue.
// The queue owns retry, deduplication by message id, and delivery; digcoord
// makes exactly one enqueue attempt per message.
package mailqueue

import (
	"context"

	"github.com/google/uuid"
)

// Message is one notification handed to the queue.
type Message struct {
	// MessageID lets the queue deduplicate; assigned on enqueue when empty.
	MessageID      string         `json:"message_id"`
	RecipientEmail string         `json:"recipient_email"`
	Template       string         `json:"template"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// Queue accepts messages for delivery.
type Queue interface {
	// Enqueue makes a single attempt to hand the message over. Retrying is
	// the queue's job, not the caller's.
	Enqueue(ctx context.Context, msg *Message) error
}

// EnsureID assigns a message id when the caller did not.
func (m *Message) EnsureID() {
	if m.MessageID == "" {
		m.MessageID = uuid.NewString()
	}
}
