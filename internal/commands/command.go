// Package commands implements the chat commands. Each handler is a function
// of the caller, the raw argument text, and read access to the roster and
// duel registry, returning chat replies, at most one dashboard notification,
// and moderation requests. Anything that blocks (stores, HTTP, audio) is
// returned as a Task for the router to run in the background.
package commands

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/arachnobot/companion/internal/notify"
	"github.com/arachnobot/companion/internal/roster"
)

// ErrMalformedInput marks arguments that could not be parsed.
var ErrMalformedInput = errors.New("commands: malformed input")

// Request is one command invocation.
type Request struct {
	Caller  roster.Viewer
	Command string // case-folded command token without the prefix
	Args    string // raw argument text
	Now     time.Time
}

// Fields splits the argument text on whitespace.
func (r Request) Fields() []string {
	return strings.Fields(r.Args)
}

// Timeout asks the chat transport to suspend a viewer, optionally after a
// delay.
type Timeout struct {
	Name     string
	Duration time.Duration
	Delay    time.Duration
	Reason   string
}

// Task is blocking work run off the dispatch loop. Its Response is applied
// back on the loop.
type Task func(ctx context.Context) Response

// Response is everything a handler wants done.
type Response struct {
	Replies      []string
	Notification *notify.Notification
	Timeouts     []Timeout
	Cue          string // audio cue to play
	Task         Task
	TaskName     string
}

// Say builds a Response with chat replies only.
func Say(lines ...string) Response {
	return Response{Replies: lines}
}

// Handler processes one command invocation.
type Handler func(req Request) Response

// Table maps command names and aliases to handlers.
type Table struct {
	handlers map[string]Handler
	primary  []string
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{handlers: make(map[string]Handler)}
}

// Register binds h to name and its aliases. Later registrations replace
// earlier ones.
func (t *Table) Register(h Handler, name string, aliases ...string) {
	name = strings.ToLower(name)
	if _, ok := t.handlers[name]; !ok {
		t.primary = append(t.primary, name)
	}
	t.handlers[name] = h
	for _, a := range aliases {
		t.handlers[strings.ToLower(a)] = h
	}
}

// Lookup returns the handler for a command token.
func (t *Table) Lookup(name string) (Handler, bool) {
	h, ok := t.handlers[name]
	return h, ok
}

// Names returns the primary command names, sorted.
func (t *Table) Names() []string {
	out := append([]string(nil), t.primary...)
	sort.Strings(out)
	return out
}
