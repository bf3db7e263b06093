package moderation

import "time"

// FilterResult is the outcome of screening one chat line.
type FilterResult struct {
	Blocked bool
	Reason  string // "blocked_keyword" or "spam_pattern"
	Term    string // matched keyword or the name of the spam check
}

// Action asks the chat transport to time a viewer out.
type Action struct {
	Name     string
	Duration time.Duration
	Reason   string
}
