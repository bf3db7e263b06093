package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
)

func loadFrom(vars map[string]string) (Config, error) {
	return load(env.Options{Environment: vars})
}

func TestDefaults(t *testing.T) {
	cfg, err := loadFrom(map[string]string{
		"TWITCH_OAUTH_TOKEN": "secret",
		"TWITCH_CHANNEL":     "#IarSpider",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.TwitchChannel != "iarspider" {
		t.Errorf("channel = %q", cfg.TwitchChannel)
	}
	if cfg.Owner != "iarspider" {
		t.Errorf("owner should default to the channel, got %q", cfg.Owner)
	}
	if cfg.DuelTTL != 90*time.Second || cfg.DrainInterval != time.Second {
		t.Errorf("unexpected durations: ttl=%s drain=%s", cfg.DuelTTL, cfg.DrainInterval)
	}
	if cfg.NotifyBuffer != 256 || cfg.HistorySize != 10 || cfg.Prefix != "!" {
		t.Errorf("unexpected sizes: %+v", cfg)
	}
	want := []string{"nightbot", "streamelements", "arachnobot"}
	if !slices.Equal(cfg.Bots, want) {
		t.Errorf("bots = %v, want %v", cfg.Bots, want)
	}
	if !cfg.SpamGuard {
		t.Error("spam guard should be on by default")
	}
}

func TestBotsAndGenders(t *testing.T) {
	cfg, err := loadFrom(map[string]string{
		"TWITCH_OAUTH_TOKEN": "secret",
		"TWITCH_CHANNEL":     "iarspider",
		"TWITCH_USERNAME":    "ArachnoBot",
		"BOTS":               "Nightbot, arachnobot,moobot",
		"GENDERS":            "Carol:f,DAVE:m",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"nightbot", "arachnobot", "moobot"}; !slices.Equal(cfg.Bots, want) {
		t.Errorf("bots = %v, want %v", cfg.Bots, want)
	}
	if cfg.Genders["carol"] != "f" || cfg.Genders["dave"] != "m" {
		t.Errorf("genders = %v", cfg.Genders)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"missing token", map[string]string{"TWITCH_CHANNEL": "iarspider"}, "TWITCH_OAUTH_TOKEN"},
		{"zero ttl", map[string]string{"TWITCH_OAUTH_TOKEN": "x", "TWITCH_CHANNEL": "c", "DUEL_TTL": "0s"}, "DUEL_TTL"},
		{"zero history", map[string]string{"TWITCH_OAUTH_TOKEN": "x", "TWITCH_CHANNEL": "c", "HISTORY_SIZE": "0"}, "HISTORY_SIZE"},
		{"bad duration", map[string]string{"TWITCH_OAUTH_TOKEN": "x", "TWITCH_CHANNEL": "c", "DRAIN_INTERVAL": "soon"}, "DrainInterval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadFrom(tt.vars)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}

func TestRewards(t *testing.T) {
	cfg := Config{}
	rewards, err := cfg.Rewards()
	if err != nil || len(rewards) == 0 {
		t.Fatalf("expected built-in rewards, got %d (%v)", len(rewards), err)
	}

	path := filepath.Join(t.TempDir(), "rewards.yaml")
	os.WriteFile(path, []byte("rewards:\n  - title: Wave\n    event: wave\n"), 0o600)
	cfg.RewardsFile = path
	rewards, err = cfg.Rewards()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rewards) != 1 || rewards[0].Title != "Wave" {
		t.Errorf("unexpected rewards: %+v", rewards)
	}

	cfg.RewardsFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := cfg.Rewards(); err == nil {
		t.Error("expected an error for a missing file")
	}
}
