package router

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/arachnobot/companion/internal/commands"
	"github.com/arachnobot/companion/internal/duel"
	"github.com/arachnobot/companion/internal/moderation"
	"github.com/arachnobot/companion/internal/notify"
	"github.com/arachnobot/companion/internal/offense"
	"github.com/arachnobot/companion/internal/protocol"
	"github.com/arachnobot/companion/internal/roster"
)

// ---------- Fakes ----------

type timeoutCall struct {
	name   string
	d      time.Duration
	reason string
}

type fakeChat struct {
	mu       sync.Mutex
	lines    []string
	timeouts []timeoutCall
	said     chan string
}

func newFakeChat() *fakeChat {
	return &fakeChat{said: make(chan string, 64)}
}

func (c *fakeChat) Say(text string) {
	c.mu.Lock()
	c.lines = append(c.lines, text)
	c.mu.Unlock()
	c.said <- text
}

func (c *fakeChat) Timeout(name string, d time.Duration, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeouts = append(c.timeouts, timeoutCall{name, d, reason})
}

func (c *fakeChat) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func (c *fakeChat) Timeouts() []timeoutCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]timeoutCall(nil), c.timeouts...)
}

type fakeAudio struct {
	played chan string
}

func (a *fakeAudio) Play(_ context.Context, cue string) error {
	a.played <- cue
	return nil
}

type fixture struct {
	router *Router
	roster *roster.Roster
	duels  *duel.Registry
	hub    *notify.Hub
	table  *commands.Table
	chat   *fakeChat
	audio  *fakeAudio
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	rs := roster.New(roster.DefaultConfig())
	dcfg := duel.DefaultConfig()
	dcfg.TTL = 50 * time.Millisecond
	f := &fixture{
		roster: rs,
		duels:  duel.NewRegistry(dcfg, rs),
		hub:    notify.NewHub(16),
		table:  commands.NewTable(),
		chat:   newFakeChat(),
		audio:  &fakeAudio{played: make(chan string, 8)},
	}
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	f.router = New(cfg, Deps{
		Roster:   f.roster,
		Duels:    f.duels,
		Hub:      f.hub,
		Commands: f.table,
		Guard:    moderation.NewGuard(moderation.NewFilter()),
		Chat:     f.chat,
		Audio:    f.audio,
	})
	return f
}

// start runs the loop until the test ends.
func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.router.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// drain subscribes a dashboard and returns everything it has been sent.
func (f *fixture) drain(id string) []notify.Notification {
	q := f.hub.Subscribe(id)
	var out []notify.Notification
	for n := range q.All() {
		out = append(out, n)
	}
	return out
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

// ---------- Command parsing ----------

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text      string
		cmd, args string
		ok        bool
	}{
		{"!roll 2d6", "roll", "2d6", true},
		{"!ROLL", "roll", "", true},
		{"! roll  d20 ", "roll", "d20", true},
		{"!!attack bob", "attack", "bob", true},
		{"!", "", "", true},
		{"!   ", "", "", true},
		{"hello !roll", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd, args, ok := parseCommand(tt.text, "!")
			if cmd != tt.cmd || args != tt.args || ok != tt.ok {
				t.Errorf("parseCommand(%q) = %q, %q, %v; want %q, %q, %v",
					tt.text, cmd, args, ok, tt.cmd, tt.args, tt.ok)
			}
		})
	}
}

// ---------- Chat ----------

func TestFirstMessageAnnouncesViewerBeforeCommand(t *testing.T) {
	f := newFixture(t, nil)
	f.table.Register(func(req commands.Request) commands.Response {
		n := notify.Event("wave", req.Caller.Label(), "")
		return commands.Response{Replies: []string{"hi " + req.Caller.Label()}, Notification: &n}
	}, "wave")

	f.router.dispatch(ChatEvent{
		Name:  "carol",
		Attrs: roster.Attributes{DisplayName: "Carol", Subscriber: true},
		Text:  "!wave",
	})

	got := f.drain("dash")
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d: %+v", len(got), got)
	}
	if got[0].Action != protocol.ActionAdd {
		t.Fatalf("first notification = %s, want add", got[0].Action)
	}
	add := got[0].Payload.(protocol.AddPayload)
	if add.Name != "Carol" || add.Icon != protocol.IconSubscriber {
		t.Errorf("unexpected add payload: %+v", add)
	}
	if got[1].Action != protocol.ActionEvent {
		t.Errorf("second notification = %s, want event", got[1].Action)
	}
	if lines := f.chat.Lines(); len(lines) != 1 || lines[0] != "hi Carol" {
		t.Errorf("unexpected chat lines: %v", lines)
	}

	// A second line from the same viewer is not a join.
	f.router.dispatch(ChatEvent{Name: "carol", Text: "hello"})
	if q := f.hub.Queue("dash"); q.Len() != 0 {
		t.Errorf("expected no new notification, got %d", q.Len())
	}
}

func TestChatRecordsHistoryForPlainLinesOnly(t *testing.T) {
	f := newFixture(t, nil)
	f.table.Register(func(commands.Request) commands.Response { return commands.Response{} }, "noop")

	f.router.dispatch(ChatEvent{Name: "dave", Text: "ghbdtn"})
	f.router.dispatch(ChatEvent{Name: "dave", Text: "!noop"})
	f.router.dispatch(ChatEvent{Name: "nightbot", Text: "subscribe!"})

	hist, err := f.roster.History("dave")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hist) != 1 || hist[0].Text != "ghbdtn" {
		t.Errorf("unexpected history: %+v", hist)
	}
	if hist, _ := f.roster.History("nightbot"); len(hist) != 0 {
		t.Errorf("bot lines must not be recorded, got %+v", hist)
	}
}

func TestBotsAreNotAnnounced(t *testing.T) {
	f := newFixture(t, nil)
	f.router.dispatch(ChatEvent{Name: "nightbot", Text: "hi"})
	f.router.dispatch(JoinEvent{Name: "streamelements"})

	if f.hub.Backlog() != 0 {
		t.Errorf("bots must not produce notifications, backlog = %d", f.hub.Backlog())
	}
	if !f.roster.Contains("nightbot") {
		t.Error("bots are still tracked in the roster")
	}
}

func TestEmptyAndUnknownCommandsAreIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.router.dispatch(ChatEvent{Name: "erin", Text: "!"})
	f.router.dispatch(ChatEvent{Name: "erin", Text: "!nosuchthing"})

	if lines := f.chat.Lines(); len(lines) != 0 {
		t.Errorf("expected silence, got %v", lines)
	}
}

func TestSpamGuardTimesOutViewer(t *testing.T) {
	f := newFixture(t, nil)
	f.router.dispatch(ChatEvent{Name: "spammer", Text: "best viewers on bigfollows . com"})

	calls := f.chat.Timeouts()
	if len(calls) != 1 || calls[0].name != "spammer" || calls[0].d != moderation.PurgeTimeout {
		t.Fatalf("unexpected timeouts: %+v", calls)
	}
	if hist, _ := f.roster.History("spammer"); len(hist) != 0 {
		t.Error("blocked lines must not be recorded")
	}
}

func TestRepeatOffenderEscalates(t *testing.T) {
	f := newFixture(t, nil)
	f.router.offenses = offense.NewMemory()
	f.start(t)

	spam := ChatEvent{Name: "spammer", Text: "best viewers on bigfollows . com"}
	f.router.Submit(spam)
	f.router.Submit(spam)

	deadline := time.Now().Add(2 * time.Second)
	for len(f.chat.Timeouts()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected two purges and one escalation, got %+v", f.chat.Timeouts())
		}
		time.Sleep(5 * time.Millisecond)
	}
	var escalated []timeoutCall
	for _, c := range f.chat.Timeouts() {
		if c.d != moderation.PurgeTimeout {
			escalated = append(escalated, c)
		}
	}
	if len(escalated) != 1 || escalated[0].name != "spammer" || escalated[0].d != offense.Second {
		t.Errorf("unexpected escalation: %+v", escalated)
	}
}

func TestGreetingOnce(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Greeting = "Welcome, {user}!" })

	f.router.dispatch(JoinEvent{Name: "frank"})
	f.router.dispatch(ChatEvent{Name: "frank", Attrs: roster.Attributes{DisplayName: "Frank"}, Text: "hi"})
	f.router.dispatch(PartEvent{Name: "frank"})
	f.router.dispatch(JoinEvent{Name: "frank"})

	lines := f.chat.Lines()
	if len(lines) != 1 || lines[0] != "Welcome, frank!" {
		t.Errorf("expected one greeting, got %v", lines)
	}
}

// ---------- Join / part ----------

func TestPartAnnouncesRemovalThenForgets(t *testing.T) {
	f := newFixture(t, nil)
	f.router.dispatch(ChatEvent{Name: "gina", Attrs: roster.Attributes{DisplayName: "Gina"}, Text: "bye"})
	f.router.dispatch(PartEvent{Name: "gina"})
	f.router.dispatch(PartEvent{Name: "gina"})

	got := f.drain("dash")
	if len(got) != 2 || got[1].Action != protocol.ActionRemove {
		t.Fatalf("expected add then remove, got %+v", got)
	}
	if rm := got[1].Payload.(protocol.RemovePayload); rm.Name != "Gina" {
		t.Errorf("remove name = %q, want Gina", rm.Name)
	}
	if f.roster.Contains("gina") {
		t.Error("viewer still in roster after part")
	}
}

func TestJoinKeepsExistingAttributes(t *testing.T) {
	f := newFixture(t, nil)
	f.router.dispatch(ChatEvent{Name: "hank", Attrs: roster.Attributes{Moderator: true}, Text: "hi"})
	f.router.dispatch(JoinEvent{Name: "hank"})

	if !f.roster.IsModerator("hank") {
		t.Error("join of a known viewer must not reset badges")
	}
}

// ---------- Redemptions ----------

func TestUnknownRewardDoesNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.router.dispatch(RedemptionEvent{ID: "r1", Title: "Something else", Requester: "ivy"})

	if f.hub.Backlog() != 0 || len(f.chat.Lines()) != 0 {
		t.Error("an unbound reward must be a no-op")
	}
	select {
	case cue := <-f.audio.played:
		t.Errorf("unexpected cue %q", cue)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRewardMatchIgnoresSpaces(t *testing.T) {
	f := newFixture(t, nil)
	f.router.dispatch(RedemptionEvent{ID: "r1", Title: "Смена голоса на1 минуту ", Requester: "ivy"})

	if cue := waitFor[string](t, f.audio.played, "voice cue"); cue != "voicemod" {
		t.Errorf("cue = %q, want voicemod", cue)
	}
	got := f.drain("dash")
	if len(got) != 1 || got[0].Payload.(protocol.EventPayload).Type != "voice" {
		t.Errorf("unexpected notifications: %+v", got)
	}
}

func TestDuplicateRedemptionIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.router.dispatch(RedemptionEvent{ID: "r1", Title: "Hug", Requester: "ivy"})
	f.router.dispatch(RedemptionEvent{ID: "r1", Title: "Hug", Requester: "ivy"})

	if n := f.hub.Backlog(); n != 1 {
		t.Errorf("expected 1 notification, got %d", n)
	}
}

func TestRewardSayExpandsPlaceholders(t *testing.T) {
	f := newFixture(t, nil)
	f.router.dispatch(RedemptionEvent{ID: "r2", Title: "Post", Requester: "ivy", Input: "hello"})

	if line := waitFor[string](t, f.chat.said, "reward line"); line != "ivy sent a letter: hello" {
		t.Errorf("line = %q", line)
	}
}

func TestLoadRewards(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewards.yaml")
	data := "rewards:\n  - title: Dance party\n    cue: dance\n    event: dance\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	rewards, err := LoadRewards(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	table := NewRewardTable(rewards)
	r, ok := table.Lookup("Danceparty")
	if !ok || r.Cue != "dance" {
		t.Errorf("lookup = %+v, %v", r, ok)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("rewards:\n  - cue: x\n"), 0o600)
	if _, err := LoadRewards(bad); err == nil {
		t.Error("expected an error for a reward without a title")
	}
}

// ---------- Loop ----------

func TestPanicInHandlerIsRecovered(t *testing.T) {
	f := newFixture(t, nil)
	f.table.Register(func(commands.Request) commands.Response { panic("boom") }, "crash")
	f.table.Register(func(commands.Request) commands.Response { return commands.Say("still here") }, "ping")
	f.start(t)

	f.router.Submit(ChatEvent{Name: "jack", Text: "!crash"})
	f.router.Submit(ChatEvent{Name: "jack", Text: "!ping"})

	if line := waitFor[string](t, f.chat.said, "reply after panic"); line != "still here" {
		t.Errorf("line = %q", line)
	}
}

func TestTaskResultIsAppliedOnLoop(t *testing.T) {
	f := newFixture(t, nil)
	f.table.Register(func(commands.Request) commands.Response {
		return commands.Response{
			TaskName: "slow",
			Task: func(ctx context.Context) commands.Response {
				return commands.Say("done")
			},
		}
	}, "slow")
	f.start(t)

	f.router.Submit(ChatEvent{Name: "kate", Text: "!slow"})
	if line := waitFor[string](t, f.chat.said, "task reply"); line != "done" {
		t.Errorf("line = %q", line)
	}
}

func TestDelayedTimeout(t *testing.T) {
	f := newFixture(t, nil)
	f.table.Register(func(req commands.Request) commands.Response {
		return commands.Response{
			Replies:  []string{"later"},
			Timeouts: []commands.Timeout{{Name: req.Caller.Name, Duration: time.Second, Delay: 30 * time.Millisecond}},
		}
	}, "later")
	f.start(t)

	f.router.Submit(ChatEvent{Name: "liam", Text: "!later"})
	waitFor[string](t, f.chat.said, "reply")
	if n := len(f.chat.Timeouts()); n != 0 {
		t.Fatalf("timeout applied before its delay")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(f.chat.Timeouts()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("delayed timeout never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := f.chat.Timeouts()[0]; got.name != "liam" || got.d != time.Second {
		t.Errorf("unexpected timeout: %+v", got)
	}
}

func TestChallengeTimerSubmitsExpiry(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.duels.Challenge("alice", "bob", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev := waitFor[Event](t, f.router.events, "expiry event")
	exp, ok := ev.(ExpiryEvent)
	if !ok {
		t.Fatalf("expected ExpiryEvent, got %T", ev)
	}
	if exp.Challenge.Attacker != "alice" || exp.Challenge.Defender != "bob" {
		t.Errorf("unexpected challenge: %+v", exp.Challenge)
	}
	f.router.dispatch(ev)
	if f.duels.Len() != 0 {
		t.Error("challenge still open after expiry")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.router.Run(ctx); err == nil {
		t.Fatal("expected context error")
	}
	if f.router.Submit(JoinEvent{Name: "mia"}) {
		t.Error("Submit must fail once the router stopped")
	}
}

// ---------- Dashboard sync ----------

func TestSyncSendsRosterToSession(t *testing.T) {
	f := newFixture(t, nil)
	f.router.dispatch(ChatEvent{Name: "nina", Attrs: roster.Attributes{Moderator: true}, Text: "hi"})
	f.router.dispatch(ChatEvent{Name: "nightbot", Text: "hi"})
	f.drain("old") // consume the join notifications

	q := f.hub.Subscribe("fresh")
	f.router.dispatch(SyncEvent{SessionID: "fresh"})
	if q.Len() != 1 {
		t.Fatalf("expected 1 add, got %d", q.Len())
	}
	n, _ := q.Drain()
	if add := n.Payload.(protocol.AddPayload); add.Name != "nina" || add.Icon != protocol.IconModerator {
		t.Errorf("unexpected add: %+v", add)
	}

	f.router.dispatch(SyncEvent{SessionID: "missing"})
}

func TestIcon(t *testing.T) {
	tests := []struct {
		attrs roster.Attributes
		want  string
	}{
		{roster.Attributes{Broadcaster: true, Moderator: true}, protocol.IconBroadcaster},
		{roster.Attributes{Moderator: true, VIP: true}, protocol.IconModerator},
		{roster.Attributes{VIP: true, Subscriber: true}, protocol.IconVIP},
		{roster.Attributes{Founder: true, Subscriber: true}, protocol.IconFounder},
		{roster.Attributes{Subscriber: true}, protocol.IconSubscriber},
		{roster.Attributes{}, protocol.IconViewer},
	}
	for _, tt := range tests {
		if got := Icon(roster.Viewer{Attributes: tt.attrs}); got != tt.want {
			t.Errorf("Icon(%+v) = %s, want %s", tt.attrs, got, tt.want)
		}
	}
}
