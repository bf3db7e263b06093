// Package protocol defines the frames exchanged between the bot and its
// browser dashboard. Every frame is a JSON object with an "action"
// discriminator and an action-specific "payload".
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Action constants
// ---------------------------------------------------------------------------

// Server -> Dashboard actions carrying state deltas.
const (
	ActionAdd    = "add"    // viewer joined
	ActionRemove = "remove" // viewer left
	ActionEvent  = "event"  // ad-hoc event (reward, rip, countdown...)
)

// Server -> Dashboard control actions.
const (
	ActionSession = "session"
	ActionPong    = "pong"
	ActionError   = "error"
)

// Dashboard -> Server actions.
const (
	ActionPing = "ping"
	ActionSync = "sync" // request the full roster as a burst of add frames
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the action and the raw payload for deferred parsing into a
// concrete struct.
type Envelope struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UnmarshalJSON extracts the action and keeps the payload bytes for later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var partial struct {
		Action  string          `json:"action"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Action == "" {
		return fmt.Errorf("protocol: missing or empty \"action\" field")
	}
	e.Action = partial.Action
	e.Payload = partial.Payload
	return nil
}

// ---------------------------------------------------------------------------
// Delta payloads
// ---------------------------------------------------------------------------

// Status icon classes rendered next to a viewer on the dashboard.
const (
	IconBroadcaster = "broadcaster"
	IconModerator   = "moderator"
	IconVIP         = "vip"
	IconFounder     = "founder"
	IconSubscriber  = "subscriber"
	IconViewer      = "viewer"
)

// AddPayload announces a viewer that joined the chat.
type AddPayload struct {
	Name   string `json:"name"`
	Icon   string `json:"icon"`
	Color  string `json:"color,omitempty"`
	Gender string `json:"gender,omitempty"` // "f", "m" or empty when unknown
}

// RemovePayload announces a viewer that left the chat.
type RemovePayload struct {
	Name string `json:"name"`
}

// EventPayload carries an ad-hoc dashboard event.
type EventPayload struct {
	Type  string `json:"type"`
	From  string `json:"from"`
	Input string `json:"input,omitempty"`
}

// ---------------------------------------------------------------------------
// Control payloads
// ---------------------------------------------------------------------------

// SessionPayload is sent once when a dashboard connects.
type SessionPayload struct {
	SessionID string `json:"session_id"`
}

// ErrorPayload reports a malformed dashboard frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PingMsg is a dashboard keepalive.
type PingMsg struct{}

// SyncMsg asks for the current roster.
type SyncMsg struct{}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw dashboard bytes into a typed message. It
// returns the action, the decoded struct, and any parse error. Unknown and
// server-only actions are errors.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	switch env.Action {
	case ActionPing:
		return env.Action, PingMsg{}, nil
	case ActionSync:
		return env.Action, SyncMsg{}, nil
	default:
		return env.Action, nil, fmt.Errorf("protocol: unknown client action: %q", env.Action)
	}
}

// NewFrame encodes a server frame with the given action and payload.
func NewFrame(action string, payload interface{}) ([]byte, error) {
	if action == "" {
		return nil, fmt.Errorf("protocol: empty action")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %q payload: %w", action, err)
	}
	out, err := json.Marshal(Envelope{Action: action, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal frame: %w", err)
	}
	return out, nil
}
