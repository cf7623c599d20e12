package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/abrezinsky/chanpoll/internal/errors"
)

// Choice is one option on a ballot. Key is the normalized form used for
// matching; Display preserves the casing the poll was started with.
type Choice struct {
	Key     string
	Display string
	Votes   int
}

// Ballot holds a poll's choice set and tallies. It is owned by a single
// session goroutine and needs no locking of its own.
type Ballot struct {
	choices map[string]*Choice
	order   []string
}

// NewBallot validates and normalizes raw choice arguments. Normalization
// trims whitespace, strips trailing commas and case-folds. At least two
// distinct normalized choices are required; duplicates are rejected rather
// than merged, and with forbidPrefixed set a choice starting with the
// command prefix is rejected since nobody could ever vote for it.
func NewBallot(raw []string, prefix string, forbidPrefixed bool) (*Ballot, error) {
	b := &Ballot{choices: make(map[string]*Choice)}

	for _, arg := range raw {
		display := strings.TrimRight(strings.TrimSpace(arg), ",")
		if display == "" {
			continue
		}
		key := strings.ToLower(display)

		if forbidPrefixed && prefix != "" && strings.HasPrefix(key, prefix) {
			return nil, errors.Usagef("Choice %q starts with the command prefix and cannot be voted for.", display)
		}
		if _, dup := b.choices[key]; dup {
			return nil, errors.Usagef("Duplicate choice: %q.", display)
		}

		b.choices[key] = &Choice{Key: key, Display: display}
		b.order = append(b.order, key)
	}

	if len(b.order) < 2 {
		return nil, errors.Usage("Need at least two unique choices to start a poll.")
	}

	return b, nil
}

// Cast increments the tally for the choice with the given normalized key.
// Returns false if the key matches no choice.
func (b *Ballot) Cast(key string) bool {
	c, ok := b.choices[key]
	if !ok {
		return false
	}
	c.Votes++
	return true
}

// Uncount reverses one vote for the given choice key, used when a voter's
// cast vote stops counting (departure with onlyOnlineUsersCount).
func (b *Ballot) Uncount(key string) {
	if c, ok := b.choices[key]; ok && c.Votes > 0 {
		c.Votes--
	}
}

// Total returns the sum of all tallies
func (b *Ballot) Total() int {
	total := 0
	for _, key := range b.order {
		total += b.choices[key].Votes
	}
	return total
}

// Displays returns choice display names in declaration order
func (b *Ballot) Displays() []string {
	names := make([]string, 0, len(b.order))
	for _, key := range b.order {
		names = append(names, b.choices[key].Display)
	}
	return names
}

// Results returns copies of all choices sorted ascending by tally, so the
// most-voted choice comes last. Ties keep declaration order.
func (b *Ballot) Results() []Choice {
	results := make([]Choice, 0, len(b.order))
	for _, key := range b.order {
		results = append(results, *b.choices[key])
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Votes < results[j].Votes
	})
	return results
}

// ReportLines renders the final outcome as channel lines. With no votes at
// all it is a single line; otherwise one line per choice, ascending by
// tally, with percentages to one decimal place. Zero-tally choices get no
// percentage.
func (b *Ballot) ReportLines() []string {
	total := b.Total()
	if total == 0 {
		return []string{"Voting complete, no one voted."}
	}

	lines := []string{"Voting complete, results:"}
	for _, c := range b.Results() {
		if c.Votes == 0 {
			lines = append(lines, fmt.Sprintf("%s : 0 votes", c.Display))
			continue
		}
		percentage := 100 * float64(c.Votes) / float64(total)
		lines = append(lines, fmt.Sprintf("%s : %d %s (%.1f%%)", c.Display, c.Votes, plural("vote", c.Votes), percentage))
	}
	return lines
}

func plural(word string, n int) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
