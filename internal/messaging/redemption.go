package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arachnobot/companion/internal/router"
)

// ErrNoTitle is returned for a redemption without a reward title.
var ErrNoTitle = errors.New("messaging: redemption has no title")

// redemptionMessage is the wire form of a reward redemption.
type redemptionMessage struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	Requester string    `json:"requester"`
	Input     string    `json:"input,omitempty"`
	At        time.Time `json:"at,omitempty"`
}

// cueMessage is the wire form of an audio cue request.
type cueMessage struct {
	Cue string `json:"cue"`
}

// DecodeRedemption parses a redemption message. Messages without an id get
// a fresh one, so they are never mistaken for duplicates.
func DecodeRedemption(data []byte) (router.RedemptionEvent, error) {
	var m redemptionMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return router.RedemptionEvent{}, fmt.Errorf("messaging: decode redemption: %w", err)
	}
	if strings.TrimSpace(m.Title) == "" {
		return router.RedemptionEvent{}, ErrNoTitle
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.At.IsZero() {
		m.At = time.Now()
	}
	return router.RedemptionEvent{
		ID:        m.ID,
		Title:     m.Title,
		Requester: strings.ToLower(strings.TrimPrefix(m.Requester, "@")),
		Input:     m.Input,
		At:        m.At,
	}, nil
}
