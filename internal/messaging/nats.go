// Package messaging provides a NATS client wrapper for the bot's side
// channels: reward redemptions arrive on one subject, audio cues and a copy
// of every dashboard notification go out on others.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/arachnobot/companion/internal/notify"
	"github.com/arachnobot/companion/internal/router"
)

// NATS subjects used by the bot.
const (
	SubjectRedemption = "arachnobot.redemption" // inbound reward redemptions
	SubjectAudio      = "arachnobot.audio"      // outbound audio cues (request/reply)
	SubjectNotify     = "arachnobot.notify"     // mirror of dashboard notifications
)

// NATSClient is the bot's NATS connection and the subscriptions it owns.
type NATSClient struct {
	conn   *nats.Conn
	config NATSConfig
	closed chan struct{}

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int           // -1 retries forever
	DrainTimeout  time.Duration // bound on Close
	CueTimeout    time.Duration // how long the audio player may take per cue
}

// DefaultNATSConfig returns the settings used when only NATS_URL is given.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "arachnobot",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
		DrainTimeout:  5 * time.Second,
		CueTimeout:    30 * time.Second,
	}
}

// NewNATSClient connects to NATS. Only the initial connection can fail;
// later outages are retried in the background and logged.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	c := &NATSClient{config: config, closed: make(chan struct{})}

	nc, err := nats.Connect(config.URL,
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DrainTimeout(config.DrainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("[nats] connection lost: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] back on %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) { close(c.closed) }),
	)
	if err != nil {
		return nil, fmt.Errorf("messaging: connect %s: %w", config.URL, err)
	}
	c.conn = nc
	log.Printf("[nats] connected to %s", nc.ConnectedUrl())
	return c, nil
}

// Publish sends data on subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe attaches handler to subject until Close.
func (c *NATSClient) Subscribe(subject string, handler nats.MsgHandler) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subject, err)
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// SubscribeRedemptions decodes every message on the redemption subject and
// submits it to the dispatch loop. Malformed messages are logged and dropped.
func (c *NATSClient) SubscribeRedemptions(submit func(router.Event) bool) error {
	return c.Subscribe(SubjectRedemption, func(msg *nats.Msg) {
		ev, err := DecodeRedemption(msg.Data)
		if err != nil {
			log.Printf("[nats] bad redemption: %v", err)
			return
		}
		if !submit(ev) {
			log.Printf("[nats] router stopped, redemption %s dropped", ev.ID)
		}
	})
}

// Play asks the audio player to play cue and waits for it to report the cue
// finished. It satisfies router.Audio.
func (c *NATSClient) Play(ctx context.Context, cue string) error {
	data, err := json.Marshal(cueMessage{Cue: cue})
	if err != nil {
		return err
	}
	if c.config.CueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CueTimeout)
		defer cancel()
	}
	if _, err := c.conn.RequestWithContext(ctx, SubjectAudio, data); err != nil {
		return fmt.Errorf("nats: play %s: %w", cue, err)
	}
	return nil
}

// MirrorNotification publishes a copy of a dashboard notification. It is
// installed as the hub mirror.
func (c *NATSClient) MirrorNotification(n notify.Notification) {
	data, err := n.Encode()
	if err != nil {
		log.Printf("[nats] encode %s notification: %v", n.Action, err)
		return
	}
	if err := c.Publish(SubjectNotify, data); err != nil {
		log.Printf("[nats] mirror %s notification: %v", n.Action, err)
	}
}

// Close lets in-flight redemptions finish, then closes the connection. It
// returns once the connection is closed or DrainTimeout has passed.
func (c *NATSClient) Close() {
	c.mu.Lock()
	subs := len(c.subs)
	c.subs = nil
	c.mu.Unlock()

	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
	<-c.closed
	log.Printf("[nats] closed (%d subscriptions drained)", subs)
}
