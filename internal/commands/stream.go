package commands

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/arachnobot/companion/internal/notify"
)

func (h *Handlers) census(req Request) Response {
	if h.deps.Metadata == nil {
		return Response{}
	}
	return Response{
		TaskName: "census",
		Task: func(ctx context.Context) Response {
			s, err := h.deps.Metadata.Stream(ctx)
			if err != nil {
				log.Printf("[commands] census: %v", err)
				return Say("The census failed :(")
			}
			return Say(fmt.Sprintf("Census complete! The stream population is %d.", s.ViewerCount))
		},
	}
}

// ParseCountdown resolves "mm:ss" as a delay from now and "hh:mm:ss" as a
// wall-clock time today.
func ParseCountdown(arg string, now time.Time) (time.Time, error) {
	parts := strings.Split(arg, ":")
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return time.Time{}, fmt.Errorf("%w: countdown %q", ErrMalformedInput, arg)
		}
		nums[i] = n
	}
	switch len(nums) {
	case 2:
		return now.Add(time.Duration(nums[0])*time.Minute + time.Duration(nums[1])*time.Second), nil
	case 3:
		if nums[0] > 23 || nums[1] > 59 || nums[2] > 59 {
			return time.Time{}, fmt.Errorf("%w: countdown %q", ErrMalformedInput, arg)
		}
		y, m, d := now.Date()
		return time.Date(y, m, d, nums[0], nums[1], nums[2], 0, now.Location()), nil
	default:
		return time.Time{}, fmt.Errorf("%w: countdown %q", ErrMalformedInput, arg)
	}
}

func (h *Handlers) countdown(req Request) Response {
	if !h.isOwner(req.Caller) || h.deps.Metadata == nil {
		return Response{}
	}
	args := req.Fields()
	if len(args) != 1 {
		return Say("Usage: !countdown <mm:ss | hh:mm:ss>")
	}
	at, err := ParseCountdown(args[0], req.Now)
	if err != nil {
		return Say("Usage: !countdown <mm:ss | hh:mm:ss>")
	}

	return Response{
		TaskName: "countdown",
		Task: func(ctx context.Context) Response {
			live, err := h.deps.Metadata.IsLive(ctx)
			if err != nil {
				log.Printf("[commands] countdown live check: %v", err)
				return Say("Could not reach the platform, countdown not started.")
			}
			if live {
				return Say("Already streaming!")
			}
			n := notify.Event("countdown", req.Caller.Label(), at.Format(time.RFC3339))
			return Response{
				Replies:      []string{fmt.Sprintf("Stream starts at %s!", at.Format("15:04:05"))},
				Notification: &n,
				TaskName:     "wait for live",
				Task:         h.waitLive,
			}
		},
	}
}

// waitLive blocks until the broadcast starts, runs the preroll ad, and
// announces the stream.
func (h *Handlers) waitLive(ctx context.Context) Response {
	s, err := h.deps.Metadata.WaitLive(ctx)
	if err != nil {
		log.Printf("[commands] gave up waiting for the broadcast: %v", err)
		return Response{}
	}
	if err := h.deps.Metadata.StartCommercial(ctx, h.config.CommercialLength); err != nil {
		log.Printf("[commands] preroll: %v", err)
	}
	n := notify.Event("live", s.GameName, s.Title)
	return Response{
		Replies:      []string{fmt.Sprintf("We're live: %s (%s)", s.Title, s.GameName)},
		Notification: &n,
	}
}

func (h *Handlers) commercial(req Request) Response {
	if !h.isOwner(req.Caller) || h.deps.Metadata == nil {
		return Response{}
	}
	length := h.config.CommercialLength
	if args := req.Fields(); len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			length = n
		}
	}
	return Response{
		TaskName: "commercial",
		Task: func(ctx context.Context) Response {
			live, err := h.deps.Metadata.IsLive(ctx)
			if err == nil && !live {
				return Say("Not live, no commercial.")
			}
			if err == nil {
				err = h.deps.Metadata.StartCommercial(ctx, length)
			}
			if err != nil {
				log.Printf("[commands] commercial: %v", err)
				return Say("Could not start the commercial.")
			}
			return Say(fmt.Sprintf("Commercial break for %d seconds, stay tuned!", length))
		},
	}
}
