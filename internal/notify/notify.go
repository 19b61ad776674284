// Package notify pushes ephemeral progress and error notices to the
// clients watching a conversation.
package notify

import (
	"context"
	"time"
)

// Event types sent to clients.
const (
	TypeAction = "ephemeral_action"
	TypeError  = "error"
)

// Action statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Event is one notification as it appears on the wire.
type Event struct {
	Type           string    `json:"type"`
	ConversationID uint      `json:"conversation_id"`
	ActionID       string    `json:"action_id,omitempty"`
	Action         string    `json:"action,omitempty"`
	Status         string    `json:"status,omitempty"`
	LayerID        string    `json:"layer_id,omitempty"`
	Message        string    `json:"message,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Notifier delivers notices for a conversation. Delivery is best effort:
// nothing here may fail or block a run.
type Notifier interface {
	// Error shows an error notice.
	Error(ctx context.Context, conversationID uint, text string)
	// Action shows a progress notice until done is called.
	Action(ctx context.Context, conversationID uint, text string, opts ...ActionOption) (done func())
}

// ActionOption decorates an action notice.
type ActionOption func(*Event)

// WithLayer ties an action to the layer it works on.
func WithLayer(layerID string) ActionOption {
	return func(e *Event) { e.LayerID = layerID }
}

// Nop discards everything.
type Nop struct{}

func (Nop) Error(context.Context, uint, string) {}

func (Nop) Action(context.Context, uint, string, ...ActionOption) func() {
	return func() {}
}
