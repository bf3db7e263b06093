package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

// Spam terms reported in FilterResult.Term.
const (
	TermLink      = "url"
	TermCharFlood = "char_flood"
	TermWordFlood = "word_flood"
	TermShouting  = "caps"
)

// linkPattern finds scheme or www links and bare domains on the TLDs that
// follow-bot spam uses. The TLD must be followed by a non-letter so words
// like "go.metro" do not count.
var linkPattern = regexp.MustCompile(`(?i)(?:https?://\S+|www\.\S+|[a-z0-9-]+(?:\.[a-z0-9-]+)*\.(?:com|net|org|io|co|xyz|info|biz|ru|tk|gg|me|ly|tv|store|shop|live)(?:[^a-z]\S*|$))`)

// defaultAllowedHosts may be linked by anyone; clips and channel links are
// part of normal stream chat.
var defaultAllowedHosts = []string{"twitch.tv"}

const (
	charFloodRun  = 10 // identical characters in a row
	wordFloodRun  = 5  // identical words in a row
	shoutMinCount = 15 // letters before caps are judged
	shoutPercent  = 80 // uppercase share that counts as shouting
)

// checkSpamPatterns runs the spam checks in order; the first hit wins.
func (f *Filter) checkSpamPatterns(text string) FilterResult {
	var term string
	switch {
	case f.hasForeignLink(text):
		term = TermLink
	case hasCharFlood(text):
		term = TermCharFlood
	case hasWordFlood(text):
		term = TermWordFlood
	case isShouting(text):
		term = TermShouting
	default:
		return FilterResult{}
	}
	return FilterResult{Blocked: true, Reason: "spam_pattern", Term: term}
}

// hasForeignLink reports a link to any host outside the allowlist.
func (f *Filter) hasForeignLink(text string) bool {
	for _, m := range linkPattern.FindAllString(text, -1) {
		if !f.allowedHost(linkHost(m)) {
			return true
		}
	}
	return false
}

func (f *Filter) allowedHost(host string) bool {
	for _, allowed := range f.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// linkHost reduces a matched link to its lowercase host name.
func linkHost(link string) string {
	link = strings.ToLower(link)
	if _, rest, ok := strings.Cut(link, "://"); ok {
		link = rest
	}
	end := strings.IndexFunc(link, func(r rune) bool {
		return r != '.' && r != '-' && !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if end >= 0 {
		link = link[:end]
	}
	return strings.TrimPrefix(strings.TrimSuffix(link, "."), "www.")
}

// hasCharFlood reports a run of identical characters. RE2 has no
// backreferences, hence the scan.
func hasCharFlood(text string) bool {
	count := 0
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			count++
		} else {
			count, prev = 1, r
		}
		if count >= charFloodRun && !unicode.IsSpace(r) {
			return true
		}
	}
	return false
}

// hasWordFlood reports the same word repeated in a row, ignoring case.
// Emote names are stripped by the Guard first, so emote walls pass.
func hasWordFlood(text string) bool {
	words := strings.Fields(text)
	if len(words) < wordFloodRun {
		return false
	}
	count := 0
	prev := ""
	for _, w := range words {
		w = strings.ToLower(w)
		if w == prev {
			count++
		} else {
			count, prev = 1, w
		}
		if count >= wordFloodRun {
			return true
		}
	}
	return false
}

// isShouting reports a line that is mostly capital letters.
func isShouting(text string) bool {
	letters, upper := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return letters >= shoutMinCount && upper*100 >= letters*shoutPercent
}
