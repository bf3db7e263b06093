package commands

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
)

// pearl: "+text" stores a quote, "N" recites quote N, nothing recites a
// random one. Quote numbers shown in chat are 1-based.
func (h *Handlers) pearl(req Request) Response {
	if h.deps.Quotes == nil {
		return Response{}
	}
	args := strings.TrimSpace(req.Args)
	caller := req.Caller

	if text, ok := strings.CutPrefix(args, "+"); ok {
		text = strings.TrimSpace(text)
		if !caller.Privileged() && !caller.VIP && !h.isOwner(caller) {
			return Say(fmt.Sprintf("@%s, only mods and VIPs can collect pearls.", caller.Label()))
		}
		if text == "" {
			return Say("Usage: !pearl +<text>")
		}
		return Response{
			TaskName: "pearl append",
			Task: func(ctx context.Context) Response {
				idx, err := h.deps.Quotes.Append(ctx, caller.Name, text)
				if err != nil {
					log.Printf("[commands] append pearl from %s: %v", caller.Name, err)
					return Say("Could not save that pearl, sorry.")
				}
				return Say(fmt.Sprintf("Pearl #%d saved.", idx+1))
			},
		}
	}

	want := -1
	if args != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(args, "#"))
		if err != nil || n < 1 {
			return Say("Usage: !pearl [number | +text]")
		}
		want = n - 1
	}

	return Response{
		TaskName: "pearl load",
		Task: func(ctx context.Context) Response {
			quotes, err := h.deps.Quotes.Load(ctx)
			if err != nil {
				log.Printf("[commands] load pearls: %v", err)
				return Say("The pearl box is stuck, try again later.")
			}
			if len(quotes) == 0 {
				return Say("No pearls yet.")
			}
			idx := want
			if idx < 0 {
				idx = h.intn(len(quotes))
			}
			if idx >= len(quotes) {
				return Say(fmt.Sprintf("There are only %d pearls.", len(quotes)))
			}
			return Say(fmt.Sprintf("Pearl #%d: %s", idx+1, quotes[idx]))
		},
	}
}
