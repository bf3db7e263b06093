package moderation

import (
	"log"
	"strings"
	"time"

	"github.com/arachnobot/companion/internal/roster"
)

// PurgeTimeout is the timeout used to wipe a viewer's offending lines.
const PurgeTimeout = time.Second

// Guard applies a Filter to chat lines from ordinary viewers. Moderators,
// the broadcaster, and VIPs are never screened.
type Guard struct {
	filter *Filter
}

// NewGuard creates a guard around filter.
func NewGuard(filter *Filter) *Guard {
	return &Guard{filter: filter}
}

// Inspect screens a chat line from v. Emote tokens are removed before the
// flood checks so emote walls pass. It returns the timeout to apply, if any.
func (g *Guard) Inspect(v roster.Viewer, text string, emotes []roster.EmoteSpan) (Action, bool) {
	if v.Privileged() || v.VIP {
		return Action{}, false
	}

	res := g.filter.Check(stripEmotes(text, emotes))
	if !res.Blocked {
		return Action{}, false
	}

	log.Printf("[moderation] %s: %s (%s)", v.Name, res.Reason, res.Term)
	return Action{
		Name:     v.Name,
		Duration: PurgeTimeout,
		Reason:   reasonText(res),
	}, true
}

func reasonText(res FilterResult) string {
	if res.Reason == "blocked_keyword" {
		return "blocked phrase"
	}
	switch res.Term {
	case TermLink:
		return "links are not allowed"
	case TermCharFlood, TermWordFlood:
		return "flooding"
	case TermShouting:
		return "shouting"
	}
	return "spam"
}

// stripEmotes drops every whitespace-delimited token that names an emote
// used in the message.
func stripEmotes(text string, emotes []roster.EmoteSpan) string {
	if len(emotes) == 0 {
		return text
	}
	names := make(map[string]struct{}, len(emotes))
	for _, e := range emotes {
		names[e.Name] = struct{}{}
	}
	fields := strings.Fields(text)
	kept := fields[:0]
	for _, f := range fields {
		if _, ok := names[f]; !ok {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}
