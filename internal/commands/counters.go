package commands

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/arachnobot/companion/internal/notify"
	"github.com/arachnobot/companion/internal/roster"
)

// Stats keys.
const (
	KeyDeaths = "deaths"
	KeyPlusch = "plusch"
)

func (h *Handlers) rip(req Request) Response {
	c := req.Caller
	if !h.mayRip(c) {
		return Say("Don't touch this button!")
	}
	h.deaths++
	session := h.deaths

	n := notify.Event("rip", c.Label(), "")
	return Response{
		Notification: &n,
		TaskName:     "rip",
		Task: func(ctx context.Context) Response {
			total, err := h.bump(ctx, 1, KeyDeaths)
			if err != nil {
				return Say(fmt.Sprintf("riPepperonis %d", session))
			}
			return Say(fmt.Sprintf("riPepperonis %d (%d)", session, total))
		},
	}
}

func (h *Handlers) unrip(req Request) Response {
	if !h.isOwner(req.Caller) {
		return Response{}
	}
	if h.deaths > 0 {
		h.deaths--
	}
	n := notify.Event("unrip", req.Caller.Label(), "")
	return Response{
		Replies:      []string{"MercyWing1 PinkMercy MercyWing2"},
		Notification: &n,
		TaskName:     "unrip",
		Task: func(ctx context.Context) Response {
			h.bump(ctx, -1, KeyDeaths)
			return Response{}
		},
	}
}

// enrip lets one more viewer use rip until the bot restarts.
func (h *Handlers) enrip(req Request) Response {
	if !h.isOwner(req.Caller) {
		return Response{}
	}
	args := req.Fields()
	if len(args) != 1 {
		return Say("Usage: !enrip <who>")
	}
	who := strings.ToLower(target(args[0]))
	if v, err := h.deps.Roster.Lookup(who); err == nil {
		who = v.Name
	}
	h.rippers[who] = struct{}{}
	return Say(fmt.Sprintf("%s may press the button now.", who))
}

func (h *Handlers) mayRip(v roster.Viewer) bool {
	if v.Privileged() || v.VIP || h.isOwner(v) {
		return true
	}
	_, ok := h.rippers[v.Name]
	return ok
}

// deathCount reports the deaths of this stream and of all time.
func (h *Handlers) deathCount(req Request) Response {
	session := h.deaths
	return Response{
		TaskName: "deaths",
		Task: func(ctx context.Context) Response {
			if h.deps.Counters == nil {
				return Say(fmt.Sprintf("riPepperonis %d this stream", session))
			}
			total, err := h.deps.Counters.Get(ctx, KeyDeaths)
			if err != nil {
				log.Printf("[commands] counter %s: %v", KeyDeaths, err)
				return Say(fmt.Sprintf("riPepperonis %d this stream", session))
			}
			return Say(fmt.Sprintf("riPepperonis %d this stream, %d all time", session, total))
		},
	}
}

func (h *Handlers) plusch(req Request) Response {
	who := strings.TrimSpace(req.Args)
	if who == "" {
		who = "someone"
	}
	n := notify.Event("plusch", req.Caller.Label(), who)
	return Response{
		Replies:      []string{fmt.Sprintf("Oof, %s got squished...", who)},
		Notification: &n,
		TaskName:     "plusch",
		Task: func(ctx context.Context) Response {
			h.bump(ctx, 1, KeyPlusch)
			return Response{}
		},
	}
}

// eplusch is plusch without a victim.
func (h *Handlers) eplusch(req Request) Response {
	n := notify.Event("plusch", req.Caller.Label(), "")
	return Response{
		Replies:      []string{"Oof, someone got squished..."},
		Notification: &n,
		TaskName:     "plusch",
		Task: func(ctx context.Context) Response {
			h.bump(ctx, 1, KeyPlusch)
			return Response{}
		},
	}
}

// bump adjusts a counter and returns its new value. Failures are logged.
func (h *Handlers) bump(ctx context.Context, delta int64, key string) (int64, error) {
	if h.deps.Counters == nil {
		return 0, fmt.Errorf("commands: no counter store")
	}
	vals, err := h.deps.Counters.Incr(ctx, delta, key)
	if err != nil {
		log.Printf("[commands] counter %s %+d: %v", key, delta, err)
		return 0, err
	}
	return vals[0], nil
}
