// Package roster tracks the chat participants currently known to the bot:
// their display attributes, their badge-derived privileges, and a short
// history of what they said. Every viewer is reachable under both its
// lowercase login and its lowercase display name.
package roster

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when a name does not resolve to a known viewer.
var ErrNotFound = errors.New("roster: viewer not found")

// Attributes are the badge and profile fields refreshed on every message.
type Attributes struct {
	DisplayName string
	Broadcaster bool
	Moderator   bool
	Subscriber  bool
	VIP         bool
	Founder     bool
	Color       string
}

// Viewer is a read-only snapshot of a roster entry.
type Viewer struct {
	Name string // lowercase login
	Attributes
	JoinedAt time.Time
}

// Label returns the name the viewer prefers to be shown under.
func (v Viewer) Label() string {
	if v.DisplayName != "" {
		return v.DisplayName
	}
	return v.Name
}

// Privileged reports whether the viewer carries a moderator or broadcaster badge.
func (v Viewer) Privileged() bool {
	return v.Moderator || v.Broadcaster
}

// Config holds roster tuning parameters.
type Config struct {
	HistorySize int      // messages remembered per viewer
	Bots        []string // accounts never greeted and never challenged
}

// DefaultConfig returns the roster defaults.
func DefaultConfig() Config {
	return Config{
		HistorySize: DefaultHistorySize,
		Bots:        []string{"nightbot", "streamelements"},
	}
}

type entry struct {
	viewer  Viewer
	history *history
}

// Roster is the authoritative mapping of chat participants. It is safe for
// concurrent use, although the bot only mutates it from the dispatch loop.
type Roster struct {
	mu          sync.RWMutex
	historySize int
	bots        map[string]struct{}
	byKey       map[string]*entry // lowercase login and display name -> entry
	greeted     map[string]struct{}
	onGreet     func(v Viewer)
}

// New creates an empty roster.
func New(config Config) *Roster {
	bots := make(map[string]struct{}, len(config.Bots))
	for _, b := range config.Bots {
		if b = normalize(b); b != "" {
			bots[b] = struct{}{}
		}
	}
	return &Roster{
		historySize: config.HistorySize,
		bots:        bots,
		byKey:       make(map[string]*entry),
		greeted:     make(map[string]struct{}),
	}
}

// SetOnGreet registers the callback fired the first time a non-bot identity
// is upserted. It fires at most once per identity for the roster's lifetime,
// even if the viewer leaves and comes back.
func (r *Roster) SetOnGreet(fn func(v Viewer)) {
	r.mu.Lock()
	r.onGreet = fn
	r.mu.Unlock()
}

// Upsert inserts a viewer or refreshes its attributes. It reports whether the
// viewer was absent before the call.
func (r *Roster) Upsert(name string, attrs Attributes) (Viewer, bool) {
	key := normalize(name)
	if key == "" {
		return Viewer{}, false
	}

	r.mu.Lock()
	e, ok := r.byKey[key]
	created := !ok || e.viewer.Name != key
	if created {
		e = &entry{
			viewer:  Viewer{Name: key, JoinedAt: time.Now()},
			history: newHistory(r.historySize),
		}
	} else {
		// The display name may have changed; drop the stale alias.
		if old := normalize(e.viewer.DisplayName); old != "" && old != key && r.byKey[old] == e {
			delete(r.byKey, old)
		}
	}
	if attrs.DisplayName == "" {
		attrs.DisplayName = e.viewer.DisplayName
	}
	e.viewer.Attributes = attrs
	r.byKey[key] = e
	if alias := normalize(attrs.DisplayName); alias != "" && alias != key {
		// Never shadow another viewer's login.
		if other, taken := r.byKey[alias]; !taken || other.viewer.Name != alias {
			r.byKey[alias] = e
		}
	}

	var greet func(Viewer)
	if _, isBot := r.bots[key]; !isBot {
		if _, done := r.greeted[key]; !done {
			r.greeted[key] = struct{}{}
			greet = r.onGreet
		}
	}
	v := e.viewer
	r.mu.Unlock()

	if greet != nil {
		greet(v)
	}
	return v, created
}

// Remove deletes the viewer reachable under name, purging both lookup keys.
// It is a no-op for unknown names.
func (r *Roster) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byKey[normalize(name)]
	if !ok {
		return
	}
	delete(r.byKey, e.viewer.Name)
	if alias := normalize(e.viewer.DisplayName); alias != "" && r.byKey[alias] == e {
		delete(r.byKey, alias)
	}
}

// Lookup resolves a login or display name, case-insensitively.
func (r *Roster) Lookup(name string) (Viewer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byKey[normalize(name)]
	if !ok {
		return Viewer{}, ErrNotFound
	}
	return e.viewer, nil
}

// Canonical returns the login behind a login or display name. Unknown names
// are returned normalized.
func (r *Roster) Canonical(name string) string {
	key := normalize(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byKey[key]; ok {
		return e.viewer.Name
	}
	return key
}

// Contains reports whether name resolves to a known viewer.
func (r *Roster) Contains(name string) bool {
	_, err := r.Lookup(name)
	return err == nil
}

// RecordMessage appends a chat line to the viewer's bounded history,
// evicting the oldest line once the history is full.
func (r *Roster) RecordMessage(name, text string, emotes []EmoteSpan) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byKey[normalize(name)]
	if !ok {
		return ErrNotFound
	}
	e.history.add(Message{Text: text, Emotes: emotes, Ts: time.Now().Unix()})
	return nil
}

// History returns the viewer's remembered messages, oldest first.
func (r *Roster) History(name string) ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byKey[normalize(name)]
	if !ok {
		return nil, ErrNotFound
	}
	return e.history.snapshot(), nil
}

// IsModerator reports whether name is a known moderator or the broadcaster.
// Unknown names are never moderators.
func (r *Roster) IsModerator(name string) bool {
	v, err := r.Lookup(name)
	return err == nil && v.Privileged()
}

// IsVIP reports whether name is a known VIP.
func (r *Roster) IsVIP(name string) bool {
	v, err := r.Lookup(name)
	return err == nil && v.VIP
}

// IsSubscriber reports whether name is a known subscriber (founders included).
func (r *Roster) IsSubscriber(name string) bool {
	v, err := r.Lookup(name)
	return err == nil && (v.Subscriber || v.Founder)
}

// IsBot reports whether name is one of the configured bot accounts.
func (r *Roster) IsBot(name string) bool {
	_, ok := r.bots[normalize(name)]
	return ok
}

// Len returns the number of distinct viewers.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for key, e := range r.byKey {
		if key == e.viewer.Name {
			n++
		}
	}
	return n
}

// Viewers returns a snapshot of every viewer ordered by login.
func (r *Roster) Viewers() []Viewer {
	r.mu.RLock()
	out := make([]Viewer, 0, len(r.byKey))
	for key, e := range r.byKey {
		if key == e.viewer.Name {
			out = append(out, e.viewer)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}
