package commands

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/arachnobot/companion/internal/duel"
	"github.com/arachnobot/companion/internal/helix"
	"github.com/arachnobot/companion/internal/roster"
)

// Directory is the read side of the roster.
type Directory interface {
	Lookup(name string) (roster.Viewer, error)
	History(name string) ([]roster.Message, error)
	IsBot(name string) bool
}

// Duels is the duel registry.
type Duels interface {
	Challenge(attacker, defender string, now time.Time) (duel.Challenge, error)
	Accept(defender, attacker string, now time.Time) (duel.Outcome, error)
	Deny(defender, attacker string, now time.Time) (duel.Challenge, error)
}

// Counters is the cross-session stats store.
type Counters interface {
	Get(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, delta int64, keys ...string) ([]int64, error)
}

// Quotes is the pearl store.
type Quotes interface {
	Load(ctx context.Context) ([]string, error)
	Append(ctx context.Context, author, text string) (int, error)
}

// Metadata answers questions about the broadcast.
type Metadata interface {
	Stream(ctx context.Context) (helix.Stream, error)
	IsLive(ctx context.Context) (bool, error)
	WaitLive(ctx context.Context) (helix.Stream, error)
	StartCommercial(ctx context.Context, length int) error
}

// Cooldown gates repeated use of a command per caller.
type Cooldown interface {
	Remaining(key string, now time.Time) time.Duration
	Mark(key string, now time.Time)
}

// Config holds handler tuning.
type Config struct {
	Owner            string        // broadcaster login; exempt from cooldowns
	SelfAttack       time.Duration // suspension for attacking yourself
	ModAttack        time.Duration // suspension for attacking a moderator
	ModAttackDelay   time.Duration // delay before that suspension
	BiteBot          time.Duration // suspension for biting a bot
	CommercialLength int           // seconds
}

// DefaultConfig returns the standard handler settings.
func DefaultConfig() Config {
	return Config{
		SelfAttack:       120 * time.Second,
		ModAttack:        time.Second,
		ModAttackDelay:   15 * time.Second,
		BiteBot:          300 * time.Second,
		CommercialLength: 90,
	}
}

// Deps are the collaborators the handlers read from.
type Deps struct {
	Roster   Directory
	Duels    Duels
	Counters Counters
	Quotes   Quotes
	Metadata Metadata
	Bites    Cooldown
}

// Handlers is the static set of chat commands.
type Handlers struct {
	config Config
	deps   Deps
	intn   func(n int) int

	// Only touched from the dispatch loop.
	deaths  int64
	rippers map[string]struct{} // extra rip users granted by the owner
}

// New creates the command set.
func New(config Config, deps Deps) *Handlers {
	return &Handlers{
		config: config,
		deps:   deps,
		intn:    rand.IntN,
		rippers: make(map[string]struct{}),
	}
}

// SetRandom replaces the random source. fn must return a value in [0, n).
func (h *Handlers) SetRandom(fn func(n int) int) {
	h.intn = fn
}

// Table builds the command table.
func (h *Handlers) Table() *Table {
	t := NewTable()
	t.Register(h.roll, "roll", "dice", "кинь")
	t.Register(h.attack, "attack")
	t.Register(h.accept, "accept", "yes", "ok")
	t.Register(h.deny, "deny", "no", "pass")
	t.Register(h.bite, "bite", "кусь")
	t.Register(h.translit, "translit", "translate", "tr")
	t.Register(h.rip, "rip", "смерть")
	t.Register(h.unrip, "unrip")
	t.Register(h.enrip, "enrip")
	t.Register(h.deathCount, "deaths", "смерти")
	t.Register(h.plusch, "plusch", "плющ")
	t.Register(h.eplusch, "eplusch", "экипоплющило")
	t.Register(h.pearl, "pearl", "quote")
	t.Register(h.sos, "sos", "alarm")
	t.Register(h.help, "help", "помощь", "справка")
	t.Register(h.hello, "hello")
	t.Register(h.census, "census")
	t.Register(h.countdown, "countdown", "cd", "preroll", "pr", "св", "зк")
	t.Register(h.commercial, "commercial")
	return t
}

func (h *Handlers) isOwner(v roster.Viewer) bool {
	return v.Broadcaster || (h.config.Owner != "" && strings.EqualFold(v.Name, h.config.Owner))
}

// target strips the mention marker from a name argument.
func target(arg string) string {
	return strings.TrimLeft(arg, "@")
}
