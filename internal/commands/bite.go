package commands

import (
	"fmt"
	"math"
)

var biteManners = []string{"gently", "tenderly"}

func (h *Handlers) bite(req Request) Response {
	args := req.Fields()
	if len(args) != 1 {
		return Say("Usage: !bite <who>")
	}
	caller := req.Caller
	who := target(args[0])

	if h.deps.Bites != nil {
		if left := h.deps.Bites.Remaining(caller.Name, req.Now); left > 0 {
			return Say(fmt.Sprintf("Don't bite so often, @%s! Let my jaws rest for %d more seconds.",
				caller.Label(), int(math.Ceil(left.Seconds()))))
		}
	}

	victim, err := h.deps.Roster.Lookup(who)
	if err != nil {
		return Say(fmt.Sprintf("Who is @%s? I won't bite just anyone!", who))
	}
	if h.deps.Bites != nil {
		h.deps.Bites.Mark(caller.Name, req.Now)
	}

	switch {
	case h.deps.Roster.IsBot(victim.Name):
		return Response{
			Replies:  []string{fmt.Sprintf("@%s tried to bite the bot. @%s SMOrc", caller.Label(), caller.Label())},
			Timeouts: []Timeout{{Name: caller.Name, Duration: h.config.BiteBot, Reason: "tried to bite the bot"}},
		}
	case victim.Name == caller.Name:
		return Say(fmt.Sprintf("@%s bit themselves. How, and more importantly why? A mystery...", caller.Label()))
	}

	manner := biteManners[h.intn(len(biteManners))]
	return Say(fmt.Sprintf("On behalf of %s I %s bite @%s", caller.Label(), manner, victim.Label()))
}
