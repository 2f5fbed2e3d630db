package moderation

import (
	"slices"
	"strings"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Matcher finds forbidden words as case-insensitive substrings.
// It is immutable after construction.
type Matcher struct {
	words   []string       // lowercase, config order, duplicates removed
	order   map[string]int // word -> position in words
	machine *goahocorasick.Machine
}

// NewMatcher builds the automaton. Blank words are ignored; an empty list
// yields a matcher that never matches.
func NewMatcher(words []string) (*Matcher, error) {
	m := &Matcher{order: map[string]int{}}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, dup := m.order[w]; dup {
			continue
		}
		m.order[w] = len(m.words)
		m.words = append(m.words, w)
	}
	if len(m.words) == 0 {
		return m, nil
	}

	sorted := slices.Clone(m.words)
	slices.Sort(sorted)
	patterns := make([][]rune, len(sorted))
	for i, w := range sorted {
		patterns[i] = []rune(w)
	}
	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, err
	}
	m.machine = machine
	return m, nil
}

func (m *Matcher) Words() []string { return slices.Clone(m.words) }

// Match returns the distinct forbidden words contained in text, in list order.
func (m *Matcher) Match(text string) []string {
	if m == nil || m.machine == nil || text == "" {
		return nil
	}
	terms := m.machine.MultiPatternSearch([]rune(strings.ToLower(text)), false)
	if len(terms) == 0 {
		return nil
	}
	hit := make([]bool, len(m.words))
	for _, t := range terms {
		if i, ok := m.order[string(t.Word)]; ok {
			hit[i] = true
		}
	}
	out := make([]string, 0, len(terms))
	for i, w := range m.words {
		if hit[i] {
			out = append(out, w)
		}
	}
	return out
}
