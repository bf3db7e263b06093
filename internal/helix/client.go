// Package helix is the metadata collaborator: a small client for the Twitch
// Helix API answering "is the broadcast live", "what is the title and game",
// and "how many viewers". Transient failures are retried with backoff.
package helix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	// ErrUpstreamUnavailable wraps every transport or HTTP failure.
	ErrUpstreamUnavailable = errors.New("helix: upstream unavailable")

	// ErrNotLive is returned by Stream when the broadcast is offline.
	ErrNotLive = errors.New("helix: broadcast not live")
)

// Config holds Helix client parameters.
type Config struct {
	BaseURL      string
	ClientID     string
	Token        string // OAuth token without the "oauth:" prefix
	Login        string // broadcaster login
	Timeout      time.Duration
	Tries        uint          // attempts per request
	PollInterval time.Duration // delay between "is it live yet" polls
	MaxWait      time.Duration // give up waiting for the broadcast after this
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://api.twitch.tv/helix",
		Timeout:      10 * time.Second,
		Tries:        3,
		PollInterval: 60 * time.Second,
		MaxWait:      2 * time.Hour,
	}
}

// Stream describes a live broadcast.
type Stream struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	GameID      string    `json:"game_id"`
	GameName    string    `json:"game_name"`
	Title       string    `json:"title"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

// Client talks to the Helix API. It is safe for concurrent use.
type Client struct {
	config Config
	http   *http.Client

	mu     sync.Mutex
	userID string
	selfID string // the token owner, who moderates
}

// NewClient creates a client.
func NewClient(config Config) *Client {
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// UserID resolves and caches the broadcaster's user id.
func (c *Client) UserID(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.userID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}

	id, err := c.lookupUser(ctx, c.config.Login)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
	return id, nil
}

// lookupUser resolves a login to a user id. An empty login asks for the
// owner of the token.
func (c *Client) lookupUser(ctx context.Context, login string) (string, error) {
	var query url.Values
	if login != "" {
		query = url.Values{"login": {login}}
	}
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/users", query, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("%w: unknown login %q", ErrUpstreamUnavailable, login)
	}
	return resp.Data[0].ID, nil
}

func (c *Client) moderatorID(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.selfID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}
	id, err := c.lookupUser(ctx, "")
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.selfID = id
	c.mu.Unlock()
	return id, nil
}

// Stream returns the current broadcast, or ErrNotLive.
func (c *Client) Stream(ctx context.Context) (Stream, error) {
	id, err := c.UserID(ctx)
	if err != nil {
		return Stream{}, err
	}

	var resp struct {
		Data []Stream `json:"data"`
	}
	if err := c.get(ctx, "/streams", url.Values{"user_id": {id}}, &resp); err != nil {
		return Stream{}, err
	}
	if len(resp.Data) == 0 {
		return Stream{}, ErrNotLive
	}
	return resp.Data[0], nil
}

// IsLive reports whether the broadcast is live.
func (c *Client) IsLive(ctx context.Context) (bool, error) {
	_, err := c.Stream(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotLive):
		return false, nil
	default:
		return false, err
	}
}

// WaitLive polls until the broadcast goes live, the context ends, or MaxWait
// elapses. Errors other than "not live yet" are logged and polled through.
func (c *Client) WaitLive(ctx context.Context) (Stream, error) {
	op := func() (Stream, error) {
		s, err := c.Stream(ctx)
		if err != nil && !errors.Is(err, ErrNotLive) {
			log.Printf("[helix] stream poll failed: %v", err)
		}
		return s, err
	}
	s, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.config.PollInterval)),
		backoff.WithMaxElapsedTime(c.config.MaxWait),
	)
	if err != nil {
		return Stream{}, fmt.Errorf("helix: wait for live: %w", err)
	}
	log.Printf("[helix] broadcast live: %q (%s)", s.Title, s.GameName)
	return s, nil
}

// StartCommercial runs an ad break of the given length in seconds.
func (c *Client) StartCommercial(ctx context.Context, length int) error {
	id, err := c.UserID(ctx)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]interface{}{"broadcaster_id": id, "length": length})
	return c.do(ctx, http.MethodPost, "/channels/commercial", nil, body, nil)
}

// BanUser times a viewer out in the broadcaster's channel for d, rounded up
// to whole seconds. The token needs the moderator:manage:banned_users scope.
func (c *Client) BanUser(ctx context.Context, login string, d time.Duration, reason string) error {
	channel, err := c.UserID(ctx)
	if err != nil {
		return err
	}
	moderator, err := c.moderatorID(ctx)
	if err != nil {
		return err
	}
	target, err := c.lookupUser(ctx, login)
	if err != nil {
		return err
	}

	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	type ban struct {
		UserID   string `json:"user_id"`
		Duration int    `json:"duration"`
		Reason   string `json:"reason,omitempty"`
	}
	body, _ := json.Marshal(struct {
		Data ban `json:"data"`
	}{ban{UserID: target, Duration: secs, Reason: reason}})

	query := url.Values{"broadcaster_id": {channel}, "moderator_id": {moderator}}
	if err := c.do(ctx, http.MethodPost, "/moderation/bans", query, body, nil); err != nil {
		return fmt.Errorf("helix: timeout %s: %w", login, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// do performs one API call with exponential backoff. Client errors other
// than 429 are not retried.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}) error {
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	op := func() (struct{}, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Client-Id", c.config.ClientID)
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return struct{}{}, backoff.Permanent(fmt.Errorf("decode %s: %w", path, err))
			}
		}
		return struct{}{}, nil
	}

	tries := c.config.Tries
	if tries == 0 {
		tries = 1
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(tries),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}
