package commands

import (
	"errors"
	"fmt"
	"log"

	"github.com/arachnobot/companion/internal/duel"
	"github.com/arachnobot/companion/internal/notify"
)

func (h *Handlers) attack(req Request) Response {
	args := req.Fields()
	if len(args) != 1 {
		return Say("Usage: !attack <who>")
	}
	attacker := req.Caller
	defender := target(args[0])

	_, err := h.deps.Duels.Challenge(attacker.Name, defender, req.Now)
	var te *duel.TargetError
	switch {
	case err == nil:
		return Say(fmt.Sprintf("@%s, you were challenged to a duel by %s! Type !accept %s to fight or !deny %s to back off.",
			defender, attacker.Label(), attacker.Name, attacker.Name))
	case errors.As(err, &te):
		return h.rejectAttack(req, te)
	default:
		log.Printf("[commands] attack %s -> %s: %v", attacker.Name, defender, err)
		return Response{}
	}
}

func (h *Handlers) rejectAttack(req Request, te *duel.TargetError) Response {
	who := req.Caller.Label()
	switch te.Rule {
	case duel.RuleModeratorAttacker:
		return Say("Mods don't need dice to ban someone :)")
	case duel.RuleModeratorTarget:
		return Response{
			Replies: []string{fmt.Sprintf("Hands off the mods, @%s!", who)},
			Timeouts: []Timeout{{
				Name:     req.Caller.Name,
				Duration: h.config.ModAttack,
				Delay:    h.config.ModAttackDelay,
				Reason:   "attacked a moderator",
			}},
		}
	case duel.RuleSelf:
		return Response{
			Replies:  []string{fmt.Sprintf("Nobody hurts @%s but @%s. Time to cool off.", who, who)},
			Timeouts: []Timeout{{Name: req.Caller.Name, Duration: h.config.SelfAttack, Reason: "attacked themselves"}},
		}
	case duel.RuleBot:
		return Say("Don't touch the bot!")
	default:
		return Say("Usage: !attack <who>")
	}
}

func (h *Handlers) accept(req Request) Response {
	args := req.Fields()
	if len(args) != 1 {
		return Say("Usage: !accept <from whom>")
	}
	attacker := target(args[0])

	out, err := h.deps.Duels.Accept(req.Caller.Name, attacker, req.Now)
	if errors.Is(err, duel.ErrNoSuchChallenge) {
		return Say(fmt.Sprintf("@%s, %s has not challenged you.", req.Caller.Label(), attacker))
	}
	if err != nil {
		log.Printf("[commands] accept %s <- %s: %v", req.Caller.Name, attacker, err)
		return Response{}
	}

	c := out.Challenge
	lines := []string{fmt.Sprintf("Let the battle begin: %s vs %s!", c.Attacker, c.Defender)}
	score := fmt.Sprintf("%d:%d", out.AttackRoll, out.DefenseRoll)
	switch {
	case out.Draw():
		lines = append(lines, fmt.Sprintf("The fighters knocked each other out (%s)!", score))
	case out.Winner == c.Attacker:
		lines = append(lines, fmt.Sprintf("@%s wins with %s!", c.Attacker, score))
	default:
		score = fmt.Sprintf("%d:%d", out.DefenseRoll, out.AttackRoll)
		lines = append(lines, fmt.Sprintf("@%s wins with %s!", c.Defender, score))
	}

	resp := Response{Replies: lines}
	for _, s := range out.Suspensions {
		resp.Timeouts = append(resp.Timeouts, Timeout{Name: s.Name, Duration: s.Duration, Reason: "lost a duel"})
	}
	n := notify.Event("duel", out.Winner, score)
	resp.Notification = &n
	return resp
}

func (h *Handlers) deny(req Request) Response {
	args := req.Fields()
	if len(args) != 1 {
		return Say("Usage: !deny <from whom>")
	}
	attacker := target(args[0])

	c, err := h.deps.Duels.Deny(req.Caller.Name, attacker, req.Now)
	if errors.Is(err, duel.ErrNoSuchChallenge) {
		return Say(fmt.Sprintf("@%s, %s has not challenged you.", req.Caller.Label(), attacker))
	}
	if err != nil {
		log.Printf("[commands] deny %s <- %s: %v", req.Caller.Name, attacker, err)
		return Response{}
	}
	return Say(fmt.Sprintf("The fight between %s and %s is off, move along.", c.Attacker, c.Defender))
}
