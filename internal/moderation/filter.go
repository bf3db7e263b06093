// Package moderation screens chat lines from ordinary viewers for links,
// floods, and blocklisted phrases, and turns a hit into a short timeout.
package moderation

import (
	"strings"
	"unicode"
)

// defaultTerms are the follow-bot and scam phrases that show up in small
// channels.
var defaultTerms = []string{
	"free bitcoin",
	"buy followers",
	"cheap viewers",
	"best viewers on",
	"wanna become famous",
	"promote your channel",
	"send nudes",
}

// leet maps common character substitutions back to letters.
var leet = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

// Filter matches chat lines against a keyword and phrase blocklist and a
// fixed set of spam patterns. It is immutable after construction and safe
// for concurrent use.
type Filter struct {
	words        map[string]struct{}
	phrases      [][]string
	allowedHosts []string
}

// NewFilter creates a filter with the built-in blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms creates a filter with the given blocklist. Single words
// match whole tokens; multi-word terms match consecutive tokens.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{
		words:        make(map[string]struct{}),
		allowedHosts: defaultAllowedHosts,
	}
	for _, term := range terms {
		tokens := tokenizePlain(strings.ToLower(term))
		switch len(tokens) {
		case 0:
			continue
		case 1:
			f.words[tokens[0]] = struct{}{}
		default:
			f.phrases = append(f.phrases, tokens)
		}
	}
	return f
}

// AllowHosts returns a copy of f that also lets links to the given hosts
// and their subdomains through.
func (f *Filter) AllowHosts(hosts ...string) *Filter {
	c := *f
	c.allowedHosts = append([]string(nil), f.allowedHosts...)
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			c.allowedHosts = append(c.allowedHosts, strings.TrimPrefix(h, "www."))
		}
	}
	return &c
}

// Check screens text. Blocklist hits take priority over spam patterns.
func (f *Filter) Check(text string) FilterResult {
	if text == "" {
		return FilterResult{}
	}
	lower := strings.ToLower(text)

	plain := tokenizePlain(lower)
	if term, ok := f.matchTokens(plain); ok {
		return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
	}

	normalized := make([]string, 0, len(plain))
	for _, tok := range tokenizeLeet(lower) {
		normalized = append(normalized, tokenizePlain(normalizeLeet(tok))...)
	}
	if term, ok := f.matchTokens(normalized); ok {
		return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
	}

	return f.checkSpamPatterns(text)
}

func (f *Filter) matchTokens(tokens []string) (string, bool) {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return tok, true
		}
	}
	for _, phrase := range f.phrases {
		if containsRun(tokens, phrase) {
			return strings.Join(phrase, " "), true
		}
	}
	return "", false
}

func containsRun(tokens, phrase []string) bool {
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j, p := range phrase {
			if tokens[i+j] != p {
				continue outer
			}
		}
		return true
	}
	return false
}

// normalizeLeet rewrites leetspeak substitutions to plain letters.
func normalizeLeet(s string) string {
	return strings.Map(func(r rune) rune {
		if m, ok := leet[r]; ok {
			return m
		}
		return r
	}, s)
}

// tokenizePlain splits on anything that is not a letter or digit.
func tokenizePlain(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeLeet splits on whitespace and trims surrounding punctuation that
// is not itself a leet substitution.
func tokenizeLeet(s string) []string {
	var out []string
	for _, field := range strings.Fields(s) {
		tok := strings.TrimFunc(field, func(r rune) bool {
			_, isLeet := leet[r]
			return !isLeet && !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
