// Package config loads the bot's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/arachnobot/companion/internal/router"
)

// Config is the complete runtime configuration. Optional backends (NATS,
// Redis, PostgreSQL) are disabled when their address is empty.
type Config struct {
	TwitchUsername string   `env:"TWITCH_USERNAME" envDefault:"arachnobot"`
	TwitchToken    string   `env:"TWITCH_OAUTH_TOKEN,required"`
	TwitchChannel  string   `env:"TWITCH_CHANNEL,required"`
	TwitchClientID string   `env:"TWITCH_CLIENT_ID"`
	Owner          string   `env:"OWNER"` // defaults to the channel
	Bots           []string `env:"BOTS" envSeparator:"," envDefault:"nightbot,streamelements"`

	Prefix      string            `env:"COMMAND_PREFIX" envDefault:"!"`
	Greeting    string            `env:"GREETING"`
	Genders     map[string]string `env:"GENDERS" envSeparator:"," envKeyValSeparator:":"`
	RewardsFile string            `env:"REWARDS_FILE"`
	SpamGuard   bool              `env:"SPAM_GUARD" envDefault:"true"`

	ListenAddr    string        `env:"LISTEN_ADDR" envDefault:":8080"`
	MaxDashboards int           `env:"MAX_DASHBOARDS" envDefault:"64"`
	DrainInterval time.Duration `env:"DRAIN_INTERVAL" envDefault:"1s"`
	NotifyBuffer  int           `env:"NOTIFY_BUFFER" envDefault:"256"`

	NATSURL     string `env:"NATS_URL"`
	RedisAddr   string `env:"REDIS_ADDR"`
	DatabaseURL string `env:"DATABASE_URL"`

	DuelTTL         time.Duration `env:"DUEL_TTL" envDefault:"90s"`
	HistorySize     int           `env:"HISTORY_SIZE" envDefault:"10"`
	BiteCooldown    time.Duration `env:"BITE_COOLDOWN" envDefault:"90s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return load(env.Options{})
}

func load(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.TwitchUsername = strings.ToLower(strings.TrimSpace(c.TwitchUsername))
	c.TwitchChannel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.TwitchChannel), "#"))
	c.Owner = strings.ToLower(strings.TrimSpace(c.Owner))
	if c.Owner == "" {
		c.Owner = c.TwitchChannel
	}

	bots := make([]string, 0, len(c.Bots)+1)
	for _, b := range append(c.Bots, c.TwitchUsername) {
		b = strings.ToLower(strings.TrimSpace(b))
		if b != "" && !slices.Contains(bots, b) {
			bots = append(bots, b)
		}
	}
	c.Bots = bots

	genders := make(map[string]string, len(c.Genders))
	for name, g := range c.Genders {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			genders[name] = strings.TrimSpace(g)
		}
	}
	c.Genders = genders
}

func (c Config) validate() error {
	var errs []error
	if c.TwitchChannel == "" {
		errs = append(errs, errors.New("TWITCH_CHANNEL is empty"))
	}
	if c.Prefix == "" {
		errs = append(errs, errors.New("COMMAND_PREFIX is empty"))
	}
	if c.DuelTTL <= 0 {
		errs = append(errs, fmt.Errorf("DUEL_TTL must be positive, got %s", c.DuelTTL))
	}
	if c.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("HISTORY_SIZE must be positive, got %d", c.HistorySize))
	}
	if c.NotifyBuffer <= 0 {
		errs = append(errs, fmt.Errorf("NOTIFY_BUFFER must be positive, got %d", c.NotifyBuffer))
	}
	if c.DrainInterval <= 0 {
		errs = append(errs, fmt.Errorf("DRAIN_INTERVAL must be positive, got %s", c.DrainInterval))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Rewards returns the reward table: the built-in set, or the contents of
// REWARDS_FILE when it is set.
func (c Config) Rewards() ([]router.Reward, error) {
	if c.RewardsFile == "" {
		return router.DefaultRewards(), nil
	}
	return router.LoadRewards(c.RewardsFile)
}
