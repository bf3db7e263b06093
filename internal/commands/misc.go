package commands

import "fmt"

func (h *Handlers) sos(req Request) Response {
	if !req.Caller.Privileged() && !h.isOwner(req.Caller) {
		return Say("This button is not for you. Hands off, NOW!")
	}
	return Response{Cue: "alarm"}
}

func (h *Handlers) help(req Request) Response {
	return Say(fmt.Sprintf("Nobody will help you, %s!", req.Caller.Label()))
}

func (h *Handlers) hello(req Request) Response {
	return Say(fmt.Sprintf("Hello %s!", req.Caller.Label()))
}
