// Package notify is the outbound side of the bot: it turns state deltas into
// dashboard notifications, buffers them per dashboard session, and hands
// them to the push channel in FIFO order.
package notify

import (
	"github.com/arachnobot/companion/internal/protocol"
)

// Notification is a tagged {action, payload} record. Payloads are plain
// value structs, so a notification is immutable once queued.
type Notification struct {
	Action  string
	Payload interface{}
}

// Added builds an "add" notification for a viewer that joined.
func Added(p protocol.AddPayload) Notification {
	return Notification{Action: protocol.ActionAdd, Payload: p}
}

// Removed builds a "remove" notification for a viewer that left.
func Removed(name string) Notification {
	return Notification{Action: protocol.ActionRemove, Payload: protocol.RemovePayload{Name: name}}
}

// Event builds an ad-hoc "event" notification.
func Event(eventType, from, input string) Notification {
	return Notification{
		Action:  protocol.ActionEvent,
		Payload: protocol.EventPayload{Type: eventType, From: from, Input: input},
	}
}

// Encode serializes the notification as a dashboard frame.
func (n Notification) Encode() ([]byte, error) {
	return protocol.NewFrame(n.Action, n.Payload)
}
