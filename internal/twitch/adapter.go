// Package twitch is the chat transport: it turns IRC traffic from one
// channel into router events and carries replies and timeouts back.
package twitch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gempir/go-twitch-irc/v4"

	"github.com/arachnobot/companion/internal/ratelimit"
	"github.com/arachnobot/companion/internal/roster"
	"github.com/arachnobot/companion/internal/router"
)

// Submitter accepts inbound events. *router.Router implements it.
type Submitter interface {
	Submit(ev router.Event) bool
}

// Moderator carries out timeouts. Twitch no longer accepts "/timeout" in
// chat, so suspensions go through the API. *helix.Client implements it.
type Moderator interface {
	BanUser(ctx context.Context, login string, d time.Duration, reason string) error
}

// Config holds chat connection parameters.
type Config struct {
	Username string
	Token    string // "oauth:..." IRC password
	Channel  string
	Prefix   string // command prefix, used for throttling
}

// Adapter bridges one Twitch channel to the router.
type Adapter struct {
	config  Config
	client  *twitch.Client
	submit  Submitter
	limiter ratelimit.Allower
	mod     Moderator
	ctx     context.Context
}

// New creates an adapter. Nothing is sent until Run is called.
func New(config Config, submit Submitter) *Adapter {
	config.Channel = strings.ToLower(strings.TrimPrefix(config.Channel, "#"))
	if config.Prefix == "" {
		config.Prefix = "!"
	}
	token := config.Token
	if token != "" && !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}

	a := &Adapter{
		config: config,
		client: twitch.NewClient(config.Username, token),
		submit: submit,
		ctx:    context.Background(),
	}
	a.client.OnPrivateMessage(a.onMessage)
	a.client.OnUserJoinMessage(a.onJoin)
	a.client.OnUserPartMessage(a.onPart)
	a.client.OnConnect(func() {
		log.Printf("[twitch] connected as %s, joining #%s", config.Username, config.Channel)
	})
	a.client.OnReconnectMessage(func(m twitch.ReconnectMessage) {
		log.Printf("[twitch] server asked to reconnect")
	})
	a.client.Join(config.Channel)
	return a
}

// SetLimiter throttles chat commands per viewer before they reach the router.
func (a *Adapter) SetLimiter(l ratelimit.Allower) {
	a.limiter = l
}

// SetModerator sets the API used for timeouts. Without one, timeouts are
// only logged.
func (a *Adapter) SetModerator(m Moderator) {
	a.mod = m
}

// Run connects and blocks until ctx is cancelled or the connection fails
// for good. go-twitch-irc reconnects on its own in between.
func (a *Adapter) Run(ctx context.Context) error {
	a.ctx = ctx
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.client.Connect()
	}()

	select {
	case <-ctx.Done():
		if err := a.client.Disconnect(); err != nil {
			log.Printf("[twitch] disconnect: %v", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return fmt.Errorf("twitch: connect: %w", err)
	}
}

// Say sends a chat line to the channel.
func (a *Adapter) Say(text string) {
	a.client.Say(a.config.Channel, text)
}

// Timeout suspends a viewer. The API call runs in the background so the
// dispatch loop never waits on it.
func (a *Adapter) Timeout(name string, d time.Duration, reason string) {
	if a.mod == nil {
		log.Printf("[twitch] no moderator API, cannot time out %s (%s)", name, reason)
		return
	}
	ctx := a.ctx
	go func() {
		ctx, cancel := context.WithTimeout(ctx, timeoutCallLimit)
		defer cancel()
		if err := a.mod.BanUser(ctx, name, d, reason); err != nil {
			log.Printf("[twitch] timeout %s: %v", name, err)
			return
		}
		log.Printf("[twitch] timed out %s for %s (%s)", name, d, reason)
	}()
}

const timeoutCallLimit = 30 * time.Second

func (a *Adapter) onMessage(m twitch.PrivateMessage) {
	if !strings.EqualFold(strings.TrimPrefix(m.Channel, "#"), a.config.Channel) {
		return
	}
	if a.limiter != nil && strings.HasPrefix(m.Message, a.config.Prefix) {
		ok, err := a.limiter.Allow(a.ctx, m.User.Name, ratelimit.RuleCommand)
		if err == nil && !ok {
			log.Printf("[twitch] %s is over the command limit, dropped %q", m.User.Name, m.Message)
			return
		}
	}
	a.submit.Submit(ChatEvent(m))
}

func (a *Adapter) onJoin(m twitch.UserJoinMessage) {
	if !strings.EqualFold(m.Channel, a.config.Channel) {
		return
	}
	a.submit.Submit(router.JoinEvent{Name: m.User})
}

func (a *Adapter) onPart(m twitch.UserPartMessage) {
	if !strings.EqualFold(m.Channel, a.config.Channel) {
		return
	}
	a.submit.Submit(router.PartEvent{Name: m.User})
}

// ChatEvent converts an IRC message into a router event.
func ChatEvent(m twitch.PrivateMessage) router.ChatEvent {
	return router.ChatEvent{
		Name:   m.User.Name,
		Attrs:  Attributes(m.User),
		Text:   m.Message,
		Emotes: Emotes(m.Emotes),
	}
}

// Attributes derives roster attributes from a user's badges.
func Attributes(u twitch.User) roster.Attributes {
	return roster.Attributes{
		DisplayName: u.DisplayName,
		Broadcaster: u.Badges["broadcaster"] > 0,
		Moderator:   u.Badges["moderator"] > 0,
		Subscriber:  u.Badges["subscriber"] > 0 || u.Badges["founder"] > 0,
		VIP:         u.Badges["vip"] > 0,
		Founder:     u.Badges["founder"] > 0,
		Color:       u.Color,
	}
}

// Emotes flattens emote positions into spans.
func Emotes(emotes []*twitch.Emote) []roster.EmoteSpan {
	var spans []roster.EmoteSpan
	for _, e := range emotes {
		if e == nil {
			continue
		}
		for _, p := range e.Positions {
			spans = append(spans, roster.EmoteSpan{Name: e.Name, Start: p.Start, End: p.End})
		}
	}
	return spans
}
