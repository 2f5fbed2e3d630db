package moderation

import (
	"slices"
	"testing"
)

func TestMatcher(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher([]string{"badword1", "BadWord2", " ", "badword1", "spam"})
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	if got := m.Words(); !slices.Equal(got, []string{"badword1", "badword2", "spam"}) {
		t.Fatalf("words = %v", got)
	}

	tests := []struct {
		text string
		want []string
	}{
		{text: "hello there", want: nil},
		{text: "", want: nil},
		{text: "this has BADWORD2 in it", want: []string{"badword2"}},
		{text: "spam and badword1 and badword2", want: []string{"badword1", "badword2", "spam"}},
		{text: "xxbadword1xx badword1 again", want: []string{"badword1"}},
		{text: "nospamhere", want: []string{"spam"}},
	}
	for _, tt := range tests {
		got := m.Match(tt.text)
		if !slices.Equal(got, tt.want) {
			t.Fatalf("Match(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestMatcherOverlapping(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher([]string{"word", "bad"})
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	if got := m.Match("a badword!"); !slices.Equal(got, []string{"word", "bad"}) {
		t.Fatalf("Match = %v", got)
	}
}

func TestMatcherEmpty(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher(nil)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	if got := m.Match("badword1"); got != nil {
		t.Fatalf("empty matcher matched %v", got)
	}
	var nilM *Matcher
	if got := nilM.Match("x"); got != nil {
		t.Fatalf("nil matcher matched %v", got)
	}
}
