// Package router is the single dispatch loop of the bot. Every inbound event
// (chat, join, part, reward redemption, duel expiry, background task result,
// dashboard sync) is submitted to one channel and handled in arrival order by
// one goroutine, so the roster and the duel registry are only ever mutated
// from here.
package router

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/arachnobot/companion/internal/commands"
	"github.com/arachnobot/companion/internal/duel"
	"github.com/arachnobot/companion/internal/metrics"
	"github.com/arachnobot/companion/internal/moderation"
	"github.com/arachnobot/companion/internal/notify"
	"github.com/arachnobot/companion/internal/protocol"
	"github.com/arachnobot/companion/internal/roster"
)

// Chat is the outbound side of the chat transport. Implementations must not
// block for long; they are called from the dispatch loop.
type Chat interface {
	Say(text string)
	Timeout(name string, d time.Duration, reason string)
}

// Audio plays named sound cues. Play is always called off the loop.
type Audio interface {
	Play(ctx context.Context, cue string) error
}

// Offenses records spam offenses and returns the extra timeout earned.
// Escalate is always called off the loop.
type Offenses interface {
	Escalate(ctx context.Context, name string) (time.Duration, error)
}

// Config holds router parameters.
type Config struct {
	Prefix    string            // command prefix
	Greeting  string            // first-sighting greeting; {user} is expanded, empty disables
	Genders   map[string]string // lowercase login -> dashboard gender hint
	QueueSize int               // inbound event buffer
	SeenIDs   int               // redemption ids remembered for de-duplication
}

// DefaultConfig returns the router defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:    "!",
		QueueSize: 1024,
		SeenIDs:   256,
	}
}

// Deps are the collaborators the router dispatches to.
type Deps struct {
	Roster   *roster.Roster
	Duels    *duel.Registry
	Hub      *notify.Hub
	Commands *commands.Table
	Rewards  *RewardTable
	Guard    *moderation.Guard // optional
	Offenses Offenses          // optional; repeat offenders get longer timeouts
	Chat     Chat
	Audio    Audio // optional
}

// Router owns the dispatch loop.
type Router struct {
	config   Config
	roster   *roster.Roster
	duels    *duel.Registry
	hub      *notify.Hub
	commands *commands.Table
	rewards  *RewardTable
	guard    *moderation.Guard
	offenses Offenses
	chat     Chat
	audio    Audio

	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
	handlers map[Kind]func(Event)

	// Loop-owned state.
	seen      map[string]struct{}
	seenOrder []string

	tasks   sync.WaitGroup
	taskCtx context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

// New creates a router and registers its callbacks on the roster and the
// duel registry.
func New(config Config, deps Deps) *Router {
	if config.Prefix == "" {
		config.Prefix = "!"
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.SeenIDs <= 0 {
		config.SeenIDs = DefaultConfig().SeenIDs
	}
	if deps.Rewards == nil {
		deps.Rewards = NewRewardTable(DefaultRewards())
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	r := &Router{
		config:   config,
		roster:   deps.Roster,
		duels:    deps.Duels,
		hub:      deps.Hub,
		commands: deps.Commands,
		rewards:  deps.Rewards,
		guard:    deps.Guard,
		offenses: deps.Offenses,
		chat:     deps.Chat,
		audio:    deps.Audio,
		events:   make(chan Event, config.QueueSize),
		done:     make(chan struct{}),
		seen:     make(map[string]struct{}),
		taskCtx:  taskCtx,
		cancel:   cancel,
		now:      time.Now,
	}
	r.handlers = map[Kind]func(Event){
		KindChat:       func(ev Event) { r.handleChat(ev.(ChatEvent)) },
		KindJoin:       func(ev Event) { r.handleJoin(ev.(JoinEvent)) },
		KindPart:       func(ev Event) { r.handlePart(ev.(PartEvent)) },
		KindRedemption: func(ev Event) { r.handleRedemption(ev.(RedemptionEvent)) },
		KindExpiry:     func(ev Event) { r.handleExpiry(ev.(ExpiryEvent)) },
		KindTask:       func(ev Event) { r.apply(ev.(TaskEvent).Response) },
		KindSync:       func(ev Event) { r.handleSync(ev.(SyncEvent)) },
	}

	if config.Greeting != "" {
		r.roster.SetOnGreet(func(v roster.Viewer) {
			r.chat.Say(strings.ReplaceAll(config.Greeting, "{user}", v.Label()))
		})
	}
	r.duels.SetScheduler(func(c duel.Challenge) func() bool {
		t := time.AfterFunc(r.duels.TTL(), func() {
			r.Submit(ExpiryEvent{Challenge: c})
		})
		return t.Stop
	})
	return r
}

// SetClock replaces the time source. Used by tests.
func (r *Router) SetClock(now func() time.Time) {
	r.now = now
}

// Submit hands an event to the loop. It blocks while the inbound buffer is
// full and returns false once the router has stopped.
func (r *Router) Submit(ev Event) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

// Run processes events until ctx is cancelled, then cancels and waits for
// background tasks.
func (r *Router) Run(ctx context.Context) error {
	log.Printf("[router] dispatch loop started (%d commands, %d rewards)",
		len(r.commands.Names()), r.rewards.Len())
	defer r.stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.events:
			r.dispatch(ev)
		}
	}
}

func (r *Router) stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.cancel()
		r.tasks.Wait()
		log.Printf("[router] dispatch loop stopped")
	})
}

// dispatch handles one event. A panicking handler is logged and the loop
// continues with the next event.
func (r *Router) dispatch(ev Event) {
	start := time.Now()
	kind := ev.Kind()
	defer func() {
		if p := recover(); p != nil {
			metrics.EventPanics.Inc()
			log.Printf("[router] panic handling %s event (%s): %v\n%s", kind, describe(ev), p, debug.Stack())
		}
		metrics.DispatchLatency.Observe(time.Since(start).Seconds())
		metrics.RosterSize.Set(float64(r.roster.Len()))
		metrics.OpenChallenges.Set(float64(r.duels.Len()))
	}()

	h, ok := r.handlers[kind]
	if !ok {
		log.Printf("[router] no handler for %s event", kind)
		return
	}
	metrics.EventsTotal.WithLabelValues(string(kind)).Inc()
	h(ev)
}

func (r *Router) handleChat(ev ChatEvent) {
	name := strings.ToLower(strings.TrimSpace(ev.Name))
	if name == "" {
		return
	}
	isBot := r.roster.IsBot(name)

	// A line from someone we have not seen counts as their join. The add
	// notification goes out before anything the line itself triggers.
	v, created := r.roster.Upsert(name, ev.Attrs)
	if created && !isBot {
		r.hub.Publish(notify.Added(r.addPayload(v)))
	}

	if r.guard != nil && !isBot {
		if action, hit := r.guard.Inspect(v, ev.Text, ev.Emotes); hit {
			r.chat.Timeout(action.Name, action.Duration, action.Reason)
			r.escalate(action)
			return
		}
	}

	cmd, args, isCommand := parseCommand(ev.Text, r.config.Prefix)
	if !isCommand {
		if !isBot {
			if err := r.roster.RecordMessage(name, ev.Text, ev.Emotes); err != nil {
				log.Printf("[router] record message from %s: %v", name, err)
			}
		}
		return
	}
	if cmd == "" {
		return
	}
	h, ok := r.commands.Lookup(cmd)
	if !ok {
		return
	}

	metrics.CommandsTotal.WithLabelValues(cmd).Inc()
	r.apply(h(commands.Request{
		Caller:  v,
		Command: cmd,
		Args:    args,
		Now:     r.now(),
	}))
}

func (r *Router) handleJoin(ev JoinEvent) {
	name := strings.ToLower(strings.TrimSpace(ev.Name))
	if name == "" || r.roster.Contains(name) {
		return
	}
	v, created := r.roster.Upsert(name, roster.Attributes{})
	if created && !r.roster.IsBot(name) {
		r.hub.Publish(notify.Added(r.addPayload(v)))
	}
}

func (r *Router) handlePart(ev PartEvent) {
	v, err := r.roster.Lookup(ev.Name)
	if err != nil {
		return
	}
	if !r.roster.IsBot(v.Name) {
		r.hub.Publish(notify.Removed(v.Label()))
	}
	r.roster.Remove(v.Name)
}

func (r *Router) handleRedemption(ev RedemptionEvent) {
	if ev.ID != "" && !r.markSeen(ev.ID) {
		log.Printf("[router] duplicate redemption %s (%q) ignored", ev.ID, ev.Title)
		return
	}
	reward, ok := r.rewards.Lookup(ev.Title)
	if !ok {
		metrics.RedemptionsTotal.WithLabelValues("unknown").Inc()
		log.Printf("[router] no reward bound to %q", ev.Title)
		return
	}
	metrics.RedemptionsTotal.WithLabelValues("handled").Inc()

	from := ev.Requester
	if v, err := r.roster.Lookup(ev.Requester); err == nil {
		from = v.Label()
	}
	if reward.Say != "" {
		r.chat.Say(expand(reward.Say, from, ev.Input))
	}
	if reward.Event != "" {
		r.hub.Publish(notify.Event(reward.Event, from, ev.Input))
	}
	if reward.Cue != "" {
		r.play(reward.Cue)
	}
}

// markSeen records a redemption id and reports whether it was new. Only the
// most recent SeenIDs ids are remembered.
func (r *Router) markSeen(id string) bool {
	if _, dup := r.seen[id]; dup {
		return false
	}
	r.seen[id] = struct{}{}
	r.seenOrder = append(r.seenOrder, id)
	if len(r.seenOrder) > r.config.SeenIDs {
		delete(r.seen, r.seenOrder[0])
		r.seenOrder = r.seenOrder[1:]
	}
	return true
}

func (r *Router) handleExpiry(ev ExpiryEvent) {
	expired := r.duels.Sweep(r.now())
	for _, c := range expired {
		log.Printf("[duel] challenge %s -> %s expired", c.Attacker, c.Defender)
	}
}

func (r *Router) handleSync(ev SyncEvent) {
	q := r.hub.Queue(ev.SessionID)
	if q == nil {
		return
	}
	for _, v := range r.roster.Viewers() {
		if r.roster.IsBot(v.Name) {
			continue
		}
		q.Enqueue(notify.Added(r.addPayload(v)))
	}
}

// apply carries out a handler's response. Chat lines and immediate timeouts
// go out synchronously; everything that may block runs as a background task.
func (r *Router) apply(resp commands.Response) {
	for _, line := range resp.Replies {
		r.chat.Say(line)
	}
	if resp.Notification != nil {
		r.hub.Publish(*resp.Notification)
	}
	for _, t := range resp.Timeouts {
		if t.Delay <= 0 {
			r.chat.Timeout(t.Name, t.Duration, t.Reason)
			continue
		}
		delayed := t
		delayed.Delay = 0
		r.spawn("delayed timeout "+t.Name, func(ctx context.Context) commands.Response {
			timer := time.NewTimer(t.Delay)
			defer timer.Stop()
			select {
			case <-timer.C:
				return commands.Response{Timeouts: []commands.Timeout{delayed}}
			case <-ctx.Done():
				return commands.Response{}
			}
		})
	}
	if resp.Cue != "" {
		r.play(resp.Cue)
	}
	if resp.Task != nil {
		name := resp.TaskName
		if name == "" {
			name = "task"
		}
		r.spawn(name, resp.Task)
	}
}

// escalate records the offense and follows the purge with a longer timeout
// for repeat offenders.
func (r *Router) escalate(a moderation.Action) {
	if r.offenses == nil {
		return
	}
	r.spawn("escalate "+a.Name, func(ctx context.Context) commands.Response {
		d, err := r.offenses.Escalate(ctx, a.Name)
		if err != nil {
			log.Printf("[router] record offense of %s: %v", a.Name, err)
			return commands.Response{}
		}
		if d <= 0 {
			return commands.Response{}
		}
		return commands.Response{Timeouts: []commands.Timeout{{
			Name:     a.Name,
			Duration: d,
			Reason:   "repeat offense: " + a.Reason,
		}}}
	})
}

func (r *Router) play(cue string) {
	if r.audio == nil {
		log.Printf("[router] no audio player, cue %q skipped", cue)
		return
	}
	r.spawn("cue "+cue, func(ctx context.Context) commands.Response {
		if err := r.audio.Play(ctx, cue); err != nil {
			log.Printf("[router] play cue %q: %v", cue, err)
		}
		return commands.Response{}
	})
}

// spawn runs task off the loop and submits its response back as a TaskEvent.
func (r *Router) spawn(name string, task commands.Task) {
	select {
	case <-r.done:
		log.Printf("[router] stopped, %s not started", name)
		return
	default:
	}

	r.tasks.Add(1)
	go func() {
		defer r.tasks.Done()
		defer func() {
			if p := recover(); p != nil {
				metrics.EventPanics.Inc()
				log.Printf("[router] panic in background %s: %v\n%s", name, p, debug.Stack())
			}
		}()
		resp := task(r.taskCtx)
		if isEmpty(resp) {
			return
		}
		if !r.Submit(TaskEvent{Name: name, Response: resp}) {
			log.Printf("[router] stopped, result of %s dropped", name)
		}
	}()
}

func isEmpty(resp commands.Response) bool {
	return len(resp.Replies) == 0 && resp.Notification == nil &&
		len(resp.Timeouts) == 0 && resp.Cue == "" && resp.Task == nil
}

// addPayload renders a viewer for the dashboard.
func (r *Router) addPayload(v roster.Viewer) protocol.AddPayload {
	return protocol.AddPayload{
		Name:   v.Label(),
		Icon:   Icon(v),
		Color:  v.Color,
		Gender: r.config.Genders[v.Name],
	}
}

// Icon picks the dashboard status class of the viewer's highest badge.
func Icon(v roster.Viewer) string {
	switch {
	case v.Broadcaster:
		return protocol.IconBroadcaster
	case v.Moderator:
		return protocol.IconModerator
	case v.VIP:
		return protocol.IconVIP
	case v.Founder:
		return protocol.IconFounder
	case v.Subscriber:
		return protocol.IconSubscriber
	default:
		return protocol.IconViewer
	}
}

// parseCommand splits a chat line into a case-folded command token and the
// remaining argument text. Any run of prefix characters and spaces after
// the leading prefix is skipped, so "! roll" and "!!roll" both name "roll".
func parseCommand(text, prefix string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(text, prefix) {
		return "", "", false
	}
	rest := strings.TrimLeft(text, prefix+" ")
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		cmd, args = rest[:i], strings.TrimSpace(rest[i:])
	} else {
		cmd = rest
	}
	return strings.ToLower(cmd), args, true
}

func describe(ev Event) string {
	switch e := ev.(type) {
	case ChatEvent:
		return fmt.Sprintf("author=%s text=%q", e.Name, e.Text)
	case JoinEvent:
		return "name=" + e.Name
	case PartEvent:
		return "name=" + e.Name
	case RedemptionEvent:
		return fmt.Sprintf("id=%s title=%q requester=%s", e.ID, e.Title, e.Requester)
	case TaskEvent:
		return "task=" + e.Name
	case SyncEvent:
		return "session=" + e.SessionID
	default:
		return fmt.Sprintf("%+v", ev)
	}
}
