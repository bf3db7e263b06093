package router

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Reward maps a channel-points reward title to its side effects. Any field
// may be empty.
type Reward struct {
	Title string `yaml:"title"`
	Cue   string `yaml:"cue"`   // audio cue to play
	Event string `yaml:"event"` // dashboard event type
	Say   string `yaml:"say"`   // chat line; {user} and {input} are expanded
}

// DefaultRewards is the built-in reward table.
func DefaultRewards() []Reward {
	return []Reward{
		{Title: "Смена голоса на 1 минуту", Cue: "voicemod", Event: "voice"},
		{Title: "Hydrate", Cue: "hydrate", Say: "@{user} reminds the streamer to drink some water"},
		{Title: "Post", Cue: "pochta", Event: "post", Say: "{user} sent a letter: {input}"},
		{Title: "Hug", Event: "hug"},
	}
}

// LoadRewards reads a YAML reward table of the form
//
//	rewards:
//	  - title: Hydrate
//	    cue: hydrate
func LoadRewards(path string) ([]Reward, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("router: read rewards: %w", err)
	}
	var file struct {
		Rewards []Reward `yaml:"rewards"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("router: parse rewards %s: %w", path, err)
	}
	for i, r := range file.Rewards {
		if strings.TrimSpace(r.Title) == "" {
			return nil, fmt.Errorf("router: reward %d in %s has no title", i, path)
		}
	}
	return file.Rewards, nil
}

// RewardTable looks rewards up by title, ignoring whitespace.
type RewardTable struct {
	byKey map[string]Reward
}

// NewRewardTable indexes rewards. Later entries win on duplicate titles.
func NewRewardTable(rewards []Reward) *RewardTable {
	t := &RewardTable{byKey: make(map[string]Reward, len(rewards))}
	for _, r := range rewards {
		t.byKey[rewardKey(r.Title)] = r
	}
	return t
}

// Lookup finds the reward for a title.
func (t *RewardTable) Lookup(title string) (Reward, bool) {
	r, ok := t.byKey[rewardKey(title)]
	return r, ok
}

// Len returns the number of rewards.
func (t *RewardTable) Len() int {
	return len(t.byKey)
}

func rewardKey(title string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, title)
}

// expand fills the {user} and {input} placeholders of a reward chat line.
func expand(tmpl, user, input string) string {
	return strings.NewReplacer("{user}", user, "{input}", input).Replace(tmpl)
}
