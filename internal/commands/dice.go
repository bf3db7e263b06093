package commands

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	maxDice  = 10
	minSides = 2
	maxSides = 100
)

// Dice is one NdM group.
type Dice struct {
	Count int
	Sides int
}

// ParseDice reads one NdM token. An empty count means one die.
func ParseDice(arg string) (Dice, error) {
	n, m, ok := strings.Cut(strings.ToLower(arg), "d")
	if !ok {
		return Dice{}, fmt.Errorf("%w: %q is not NdM", ErrMalformedInput, arg)
	}
	count := 1
	if n != "" {
		c, err := strconv.Atoi(n)
		if err != nil {
			return Dice{}, fmt.Errorf("%w: dice count %q", ErrMalformedInput, n)
		}
		count = c
	}
	sides, err := strconv.Atoi(m)
	if err != nil {
		return Dice{}, fmt.Errorf("%w: dice sides %q", ErrMalformedInput, m)
	}
	if count <= 0 || count > maxDice || sides < minSides || sides > maxSides {
		return Dice{}, fmt.Errorf("%w: %dd%d out of range", ErrMalformedInput, count, sides)
	}
	return Dice{Count: count, Sides: sides}, nil
}

// Roll throws every valid group in args. Invalid groups are skipped; with
// nothing left a single d6 is thrown.
func Roll(args []string, intn func(n int) int) []int {
	var set []Dice
	for _, arg := range args {
		d, err := ParseDice(arg)
		if err != nil {
			continue
		}
		set = append(set, d)
	}
	if len(set) == 0 {
		set = []Dice{{Count: 1, Sides: 6}}
	}

	var rolls []int
	for _, d := range set {
		for range d.Count {
			rolls = append(rolls, intn(d.Sides)+1)
		}
	}
	return rolls
}

func (h *Handlers) roll(req Request) Response {
	rolls := Roll(req.Fields(), h.intn)
	if len(rolls) == 1 {
		return Say(fmt.Sprintf("Rolled: %d", rolls[0]))
	}
	parts := make([]string, len(rolls))
	sum := 0
	for i, r := range rolls {
		parts[i] = strconv.Itoa(r)
		sum += r
	}
	return Say(fmt.Sprintf("Rolled: %s=%d", strings.Join(parts, "+"), sum))
}
