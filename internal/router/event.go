package router

import (
	"time"

	"github.com/arachnobot/companion/internal/commands"
	"github.com/arachnobot/companion/internal/duel"
	"github.com/arachnobot/companion/internal/roster"
)

// Kind tags an inbound event. The set is closed: the router holds exactly
// one handler per kind.
type Kind string

const (
	KindChat       Kind = "chat"
	KindJoin       Kind = "join"
	KindPart       Kind = "part"
	KindRedemption Kind = "redemption"
	KindExpiry     Kind = "expiry"
	KindTask       Kind = "task"
	KindSync       Kind = "sync"
)

// Event is anything delivered into the dispatch loop.
type Event interface {
	Kind() Kind
}

// ChatEvent is one chat line.
type ChatEvent struct {
	Name   string // login
	Attrs  roster.Attributes
	Text   string
	Emotes []roster.EmoteSpan
}

// JoinEvent signals a viewer joined the channel.
type JoinEvent struct {
	Name string
}

// PartEvent signals a viewer left the channel.
type PartEvent struct {
	Name string
}

// RedemptionEvent is a channel-points reward redemption.
type RedemptionEvent struct {
	ID        string
	Title     string
	Requester string
	Input     string
	At        time.Time
}

// ExpiryEvent fires when a duel challenge's TTL timer elapses.
type ExpiryEvent struct {
	Challenge duel.Challenge
}

// TaskEvent carries a finished background task's result back to the loop.
type TaskEvent struct {
	Name     string
	Response commands.Response
}

// SyncEvent asks for the full roster to be sent to one dashboard session.
type SyncEvent struct {
	SessionID string
}

func (ChatEvent) Kind() Kind       { return KindChat }
func (JoinEvent) Kind() Kind       { return KindJoin }
func (PartEvent) Kind() Kind       { return KindPart }
func (RedemptionEvent) Kind() Kind { return KindRedemption }
func (ExpiryEvent) Kind() Kind     { return KindExpiry }
func (TaskEvent) Kind() Kind       { return KindTask }
func (SyncEvent) Kind() Kind       { return KindSync }
