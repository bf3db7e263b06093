// Package duel arbitrates chat duels. A viewer challenges another viewer, the
// challenge stays open for a fixed time-to-live, and the defender either
// accepts (the duel is resolved with two d20 rolls), denies, or lets it expire.
package duel

import (
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrInvalidTarget is matched by every *TargetError.
	ErrInvalidTarget = errors.New("duel: invalid target")

	// ErrNoSuchChallenge is returned by Accept and Deny when no open
	// challenge exists for the (attacker, defender) pair.
	ErrNoSuchChallenge = errors.New("duel: no such challenge")
)

// State is the lifecycle position of a challenge.
type State string

const (
	StateOpen     State = "open"
	StateAccepted State = "accepted"
	StateDenied   State = "denied"
	StateExpired  State = "expired"
)

// Rule names the duel rule a rejected challenge violated.
type Rule string

const (
	RuleEmpty             Rule = "empty"              // attacker or defender missing
	RuleModeratorAttacker Rule = "moderator_attacker" // moderators never duel
	RuleModeratorTarget   Rule = "moderator_target"   // moderators are never challenged
	RuleSelf              Rule = "self"
	RuleBot               Rule = "bot"
)

// TargetError reports a challenge rejected by one of the duel rules.
type TargetError struct {
	Rule     Rule
	Attacker string
	Defender string
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("duel: invalid target %q -> %q: %s", e.Attacker, e.Defender, e.Rule)
}

// Is makes errors.Is(err, ErrInvalidTarget) hold for every TargetError.
func (e *TargetError) Is(target error) bool {
	return target == ErrInvalidTarget
}

// Challenge is a snapshot of a pending or terminated duel.
type Challenge struct {
	Attacker  string
	Defender  string
	CreatedAt time.Time
	ExpiresAt time.Time
	State     State
}

// Suspension asks the chat transport to time a viewer out.
type Suspension struct {
	Name     string
	Duration time.Duration
}

// Outcome is the result of an accepted duel.
type Outcome struct {
	Challenge
	AttackRoll  int
	DefenseRoll int
	Winner      string // empty on a draw
	Suspensions []Suspension
}

// Draw reports whether both fighters rolled the same number.
func (o Outcome) Draw() bool {
	return o.AttackRoll == o.DefenseRoll
}

// Checker answers the status questions the duel rules depend on.
type Checker interface {
	IsModerator(name string) bool
	IsBot(name string) bool
	// Canonical maps a login or display name to the viewer's login. Names
	// it does not know come back normalized.
	Canonical(name string) string
}

// Config holds duel tuning parameters.
type Config struct {
	TTL         time.Duration // how long a challenge stays open
	LossTimeout time.Duration // suspension for the loser
	DrawTimeout time.Duration // suspension for each fighter on a draw
	Sides       int           // die size for both rolls
}

// DefaultConfig returns the standard duel rules.
func DefaultConfig() Config {
	return Config{
		TTL:         90 * time.Second,
		LossTimeout: 60 * time.Second,
		DrawTimeout: 30 * time.Second,
		Sides:       20,
	}
}

type pending struct {
	challenge Challenge
	stop      func() bool
}

// Registry tracks open challenges keyed by defender, then attacker. All
// methods are safe for concurrent use; concurrent Accept and Deny calls on the
// same challenge resolve with exactly one winner.
type Registry struct {
	mu       sync.Mutex
	config   Config
	checker  Checker
	roll     func(n int) int
	schedule func(c Challenge) (stop func() bool)
	open     map[string]map[string]*pending // defender -> attacker -> pending
}

// NewRegistry creates an empty registry.
func NewRegistry(config Config, checker Checker) *Registry {
	if config.Sides < 2 {
		config.Sides = DefaultConfig().Sides
	}
	return &Registry{
		config:  config,
		checker: checker,
		roll:    rand.IntN,
		open:    make(map[string]map[string]*pending),
	}
}

// SetRoller replaces the random source. fn must return a value in [0, n).
func (r *Registry) SetRoller(fn func(n int) int) {
	r.mu.Lock()
	r.roll = fn
	r.mu.Unlock()
}

// SetScheduler registers a hook invoked for every new challenge. The hook
// typically arms a TTL timer; the returned stop function is called the moment
// the challenge is accepted, denied, or replaced.
func (r *Registry) SetScheduler(fn func(c Challenge) (stop func() bool)) {
	r.mu.Lock()
	r.schedule = fn
	r.mu.Unlock()
}

// TTL returns the configured challenge lifetime.
func (r *Registry) TTL() time.Duration {
	return r.config.TTL
}

// Challenge opens a duel from attacker against defender. A prior open
// challenge for the same pair is replaced and its timer canceled.
func (r *Registry) Challenge(attacker, defender string, now time.Time) (Challenge, error) {
	a, d := r.canonical(attacker), r.canonical(defender)
	if err := r.validate(a, d); err != nil {
		return Challenge{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked(now)

	byAttacker, ok := r.open[d]
	if !ok {
		byAttacker = make(map[string]*pending)
		r.open[d] = byAttacker
	}
	if prior, ok := byAttacker[a]; ok && prior.stop != nil {
		prior.stop()
	}

	c := Challenge{
		Attacker:  a,
		Defender:  d,
		CreatedAt: now,
		ExpiresAt: now.Add(r.config.TTL),
		State:     StateOpen,
	}
	p := &pending{challenge: c}
	if r.schedule != nil {
		p.stop = r.schedule(c)
	}
	byAttacker[a] = p

	log.Printf("[duel] %s challenged %s (expires %s)", a, d, c.ExpiresAt.Format(time.TimeOnly))
	return c, nil
}

func (r *Registry) validate(a, d string) error {
	reject := func(rule Rule) error {
		return &TargetError{Rule: rule, Attacker: a, Defender: d}
	}
	switch {
	case a == "" || d == "":
		return reject(RuleEmpty)
	case r.checker != nil && r.checker.IsModerator(a):
		return reject(RuleModeratorAttacker)
	case r.checker != nil && r.checker.IsModerator(d):
		return reject(RuleModeratorTarget)
	case a == d:
		return reject(RuleSelf)
	case r.checker != nil && r.checker.IsBot(d):
		return reject(RuleBot)
	}
	return nil
}

// Accept resolves the open challenge from attacker against defender.
func (r *Registry) Accept(defender, attacker string, now time.Time) (Outcome, error) {
	d, a := r.canonical(defender), r.canonical(attacker)
	r.mu.Lock()
	p, err := r.takeLocked(d, a, now)
	roll := r.roll
	r.mu.Unlock()
	if err != nil {
		return Outcome{}, err
	}

	o := Outcome{
		Challenge:   p.challenge,
		AttackRoll:  roll(r.config.Sides) + 1,
		DefenseRoll: roll(r.config.Sides) + 1,
	}
	o.State = StateAccepted

	switch {
	case o.AttackRoll > o.DefenseRoll:
		o.Winner = o.Attacker
		o.Suspensions = []Suspension{{Name: o.Defender, Duration: r.config.LossTimeout}}
	case o.AttackRoll < o.DefenseRoll:
		o.Winner = o.Defender
		o.Suspensions = []Suspension{{Name: o.Attacker, Duration: r.config.LossTimeout}}
	default:
		o.Suspensions = []Suspension{
			{Name: o.Defender, Duration: r.config.DrawTimeout},
			{Name: o.Attacker, Duration: r.config.DrawTimeout},
		}
	}

	log.Printf("[duel] %s vs %s resolved %d:%d winner=%q", o.Attacker, o.Defender, o.AttackRoll, o.DefenseRoll, o.Winner)
	return o, nil
}

// Deny cancels the open challenge from attacker against defender.
func (r *Registry) Deny(defender, attacker string, now time.Time) (Challenge, error) {
	d, a := r.canonical(defender), r.canonical(attacker)
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.takeLocked(d, a, now)
	if err != nil {
		return Challenge{}, err
	}
	c := p.challenge
	c.State = StateDenied
	log.Printf("[duel] %s denied %s", c.Defender, c.Attacker)
	return c, nil
}

// takeLocked removes and returns an open, unexpired challenge, stopping its
// timer. Callers must hold r.mu.
func (r *Registry) takeLocked(d, a string, now time.Time) (*pending, error) {
	r.sweepLocked(now)

	p, ok := r.open[d][a]
	if !ok {
		return nil, ErrNoSuchChallenge
	}
	r.deleteLocked(d, a)
	if p.stop != nil {
		p.stop()
	}
	return p, nil
}

// Sweep expires every open challenge whose deadline is at or before now and
// returns them. Expiry is silent: callers are not expected to announce it.
func (r *Registry) Sweep(now time.Time) []Challenge {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(now)
}

func (r *Registry) sweepLocked(now time.Time) []Challenge {
	var expired []Challenge
	for d, byAttacker := range r.open {
		for a, p := range byAttacker {
			if p.challenge.ExpiresAt.After(now) {
				continue
			}
			c := p.challenge
			c.State = StateExpired
			expired = append(expired, c)
			r.deleteLocked(d, a)
			if p.stop != nil {
				p.stop()
			}
		}
	}
	if len(expired) > 0 {
		log.Printf("[duel] expired %d challenge(s)", len(expired))
	}
	return expired
}

func (r *Registry) deleteLocked(d, a string) {
	delete(r.open[d], a)
	if len(r.open[d]) == 0 {
		delete(r.open, d)
	}
}

// Open returns the open challenges against defender, oldest first.
func (r *Registry) Open(defender string) []Challenge {
	d := r.canonical(defender)
	r.mu.Lock()
	defer r.mu.Unlock()

	byAttacker := r.open[d]
	out := make([]Challenge, 0, len(byAttacker))
	for _, p := range byAttacker {
		out = append(out, p.challenge)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len returns the number of open challenges.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, byAttacker := range r.open {
		n += len(byAttacker)
	}
	return n
}

// canonical keys challenges by login so a display name and its login are
// the same duelist.
func (r *Registry) canonical(name string) string {
	if r.checker == nil {
		return normalize(name)
	}
	return normalize(r.checker.Canonical(name))
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}
