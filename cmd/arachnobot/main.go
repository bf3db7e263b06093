package main

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"

	"github.com/arachnobot/companion/internal/commands"
	"github.com/arachnobot/companion/internal/config"
	"github.com/arachnobot/companion/internal/duel"
	"github.com/arachnobot/companion/internal/helix"
	"github.com/arachnobot/companion/internal/messaging"
	"github.com/arachnobot/companion/internal/moderation"
	"github.com/arachnobot/companion/internal/notify"
	"github.com/arachnobot/companion/internal/offense"
	"github.com/arachnobot/companion/internal/protocol"
	"github.com/arachnobot/companion/internal/quotes"
	"github.com/arachnobot/companion/internal/ratelimit"
	"github.com/arachnobot/companion/internal/roster"
	"github.com/arachnobot/companion/internal/router"
	"github.com/arachnobot/companion/internal/stats"
	"github.com/arachnobot/companion/internal/twitch"
	"github.com/arachnobot/companion/internal/ws"
)

// submitFunc lets the chat adapter be built before the router it feeds.
type submitFunc func(router.Event) bool

func (f submitFunc) Submit(ev router.Event) bool { return f(ev) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	log.Printf("arachnobot starting")
	log.Printf("  channel:        #%s (owner %s)", cfg.TwitchChannel, cfg.Owner)
	log.Printf("  listen_addr:    %s", cfg.ListenAddr)
	log.Printf("  duel_ttl:       %s", cfg.DuelTTL)
	log.Printf("  notify_buffer:  %d", cfg.NotifyBuffer)
	log.Printf("  redis_addr:     %s", orNone(cfg.RedisAddr))
	log.Printf("  nats_url:       %s", orNone(cfg.NATSURL))
	log.Printf("  database:       %s", orNone(redactDSN(cfg.DatabaseURL)))

	ops := map[string]gfshutdown.Operation{}

	// --- Redis: counters and rate limits ---
	var counters commands.Counters = stats.NewMemory()
	var offenses router.Offenses = offense.NewMemory()
	var limiter ratelimit.Allower
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		counters = stats.NewStore(rdb)
		offenses = offense.NewStore(rdb)
		limiter = ratelimit.NewLimiter(rdb)
		ops["redis"] = func(context.Context) error { return rdb.Close() }
	} else {
		log.Printf("REDIS_ADDR not set, counters are kept in memory")
	}

	// --- PostgreSQL: pearls ---
	var pearls commands.Quotes = quotes.NewMemory()
	if cfg.DatabaseURL != "" {
		store, err := quotes.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to PostgreSQL: %v", err)
		}
		if err := store.Migrate(); err != nil {
			log.Fatalf("failed to migrate pearls: %v", err)
		}
		pearls = store
		ops["postgres"] = func(context.Context) error { return store.Close() }
	} else {
		log.Printf("DATABASE_URL not set, pearls are kept in memory")
	}

	// --- NATS: redemptions in, audio cues and notification mirror out ---
	var natsClient *messaging.NATSClient
	var audio router.Audio
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		audio = natsClient
		ops["nats"] = func(context.Context) error {
			natsClient.Close()
			return nil
		}
	} else {
		log.Printf("NATS_URL not set, redemptions and audio cues are disabled")
	}

	// --- Domain ---
	helixConfig := helix.DefaultConfig()
	helixConfig.ClientID = cfg.TwitchClientID
	helixConfig.Token = strings.TrimPrefix(cfg.TwitchToken, "oauth:")
	helixConfig.Login = cfg.TwitchChannel
	metadata := helix.NewClient(helixConfig)

	rosterConfig := roster.DefaultConfig()
	rosterConfig.HistorySize = cfg.HistorySize
	rosterConfig.Bots = cfg.Bots
	people := roster.New(rosterConfig)

	duelConfig := duel.DefaultConfig()
	duelConfig.TTL = cfg.DuelTTL
	duels := duel.NewRegistry(duelConfig, people)

	hub := notify.NewHub(cfg.NotifyBuffer)
	if natsClient != nil {
		hub.SetMirror(natsClient.MirrorNotification)
	}

	handlerConfig := commands.DefaultConfig()
	handlerConfig.Owner = cfg.Owner
	handlers := commands.New(handlerConfig, commands.Deps{
		Roster:   people,
		Duels:    duels,
		Counters: counters,
		Quotes:   pearls,
		Metadata: metadata,
		Bites:    ratelimit.NewCooldown(cfg.BiteCooldown, cfg.Owner),
	})

	rewards, err := cfg.Rewards()
	if err != nil {
		log.Fatalf("rewards: %v", err)
	}

	var guard *moderation.Guard
	if cfg.SpamGuard {
		guard = moderation.NewGuard(moderation.NewFilter())
	} else {
		offenses = nil
	}

	// Declare the router early so the chat adapter can capture it.
	var rt *router.Router

	chat := twitch.New(twitch.Config{
		Username: cfg.TwitchUsername,
		Token:    cfg.TwitchToken,
		Channel:  cfg.TwitchChannel,
		Prefix:   cfg.Prefix,
	}, submitFunc(func(ev router.Event) bool { return rt.Submit(ev) }))
	if limiter != nil {
		chat.SetLimiter(limiter)
	}
	if cfg.TwitchClientID != "" {
		chat.SetModerator(metadata)
	} else {
		log.Printf("TWITCH_CLIENT_ID not set, timeouts are disabled")
	}

	routerConfig := router.DefaultConfig()
	routerConfig.Prefix = cfg.Prefix
	routerConfig.Greeting = cfg.Greeting
	routerConfig.Genders = cfg.Genders
	rt = router.New(routerConfig, router.Deps{
		Roster:   people,
		Duels:    duels,
		Hub:      hub,
		Commands: handlers.Table(),
		Rewards:  router.NewRewardTable(rewards),
		Guard:    guard,
		Offenses: offenses,
		Chat:     chat,
		Audio:    audio,
	})

	if natsClient != nil {
		if err := natsClient.SubscribeRedemptions(rt.Submit); err != nil {
			log.Fatalf("failed to subscribe to redemptions: %v", err)
		}
	}

	// --- Dashboards ---
	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = cfg.ListenAddr
	serverConfig.MaxConnections = cfg.MaxDashboards
	serverConfig.DrainInterval = cfg.DrainInterval

	dispatcher := ws.NewMessageDispatcher(nil)
	dispatcher.Register(protocol.ActionSync, func(conn *ws.Connection, _ interface{}) {
		rt.Submit(router.SyncEvent{SessionID: conn.ID})
	})
	server := ws.NewServer(serverConfig, hub, dispatcher.Dispatch)
	dispatcher.SetServer(server)
	if limiter != nil {
		server.SetLimiter(limiter)
	}
	ops["dashboards"] = server.Shutdown

	// --- Run ---
	runCtx, stop := context.WithCancel(ctx)
	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		if err := rt.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("router stopped: %v", err)
		}
	}()
	go func() {
		if err := chat.Run(runCtx); err != nil {
			log.Printf("chat stopped: %v", err)
		}
	}()
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("dashboard server error: %v", err)
		}
	}()

	ops["bot"] = func(ctx context.Context) error {
		stop()
		select {
		case <-routerDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, ops)
	code := <-wait
	log.Printf("arachnobot exited with code %d", code)
	os.Exit(code)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// redactDSN hides the password of a postgres:// URL.
func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, _, _ := strings.Cut(creds, ":")
	return scheme + "://" + user + ":***@" + host
}
