package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/arachnobot/companion/internal/roster"
)

// Keyboard layout pairs: a line typed with the English layout active while
// meaning Russian.
const (
	layoutEN = "&qwertyuiop[]asdfghjkl;'zxcvbnm,./QWERTYUIOP{}ASDFGHJKL:\"ZXCVBNM<>?`~"
	layoutRU = "?йцукенгшщзхъфывапролджэячсмитьбю.ЙЦУКЕНГШЩЗХЪФЫВАПРОЛДЖЭЯЧСМИТЬБЮ,ёЁ"
)

var layoutMap = func() map[rune]rune {
	en, ru := []rune(layoutEN), []rune(layoutRU)
	m := make(map[rune]rune, len(en))
	for i, r := range en {
		if _, dup := m[r]; !dup {
			m[r] = ru[i]
		}
	}
	return m
}()

// Translit re-types text as if the Russian layout had been active. Runes
// inside emote spans are left alone.
func Translit(text string, emotes []roster.EmoteSpan) string {
	runes := []rune(text)
	keep := make([]bool, len(runes))
	for _, e := range emotes {
		for i := max(e.Start, 0); i <= e.End && i < len(runes); i++ {
			keep[i] = true
		}
	}
	for i, r := range runes {
		if keep[i] {
			continue
		}
		if to, ok := layoutMap[r]; ok {
			runes[i] = to
		}
	}
	return string(runes)
}

func (h *Handlers) translit(req Request) Response {
	args := req.Fields()
	who, count := req.Caller.Name, 1
	switch len(args) {
	case 0:
	case 1:
		if n, err := strconv.Atoi(args[0]); err == nil {
			count = n
		} else {
			who = target(args[0])
		}
	case 2:
		who = target(args[0])
		if n, err := strconv.Atoi(args[1]); err == nil {
			count = n
		}
	default:
		return Say("Usage: !translit [who] [count]")
	}
	if count < 1 {
		count = 1
	}

	history, err := h.deps.Roster.History(who)
	if errors.Is(err, roster.ErrNotFound) || len(history) == 0 {
		return Say(fmt.Sprintf("%s hasn't sent anything yet!", who))
	}
	if err != nil {
		return Response{}
	}
	count = min(count, len(history))

	label := who
	if v, err := h.deps.Roster.Lookup(who); err == nil {
		label = v.Label()
	}
	noun := "message"
	if count > 1 {
		noun = fmt.Sprintf("%d messages", count)
	}
	lines := []string{fmt.Sprintf("Translating the last %s of @%s:", noun, label)}
	for _, m := range history[len(history)-count:] {
		lines = append(lines, Translit(m.Text, m.Emotes))
	}
	lines = append(lines, "Translation complete")
	return Say(lines...)
}
