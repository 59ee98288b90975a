package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegexScreen(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		terms []string
		want  []string
	}{
		{name: "literal keeps input casing", text: "This is BANNED ok", terms: []string{"banned"}, want: []string{"BANNED"}},
		{name: "spaced out", text: "b a n n e d term here", terms: []string{"banned term"}, want: []string{"b a n n e d term"}},
		{name: "inside another word", text: "a classy move", terms: []string{"ass"}, want: nil},
		{name: "symbol", text: "support 卐 now", terms: []string{"卐"}, want: []string{"卐"}},
		{name: "regex metacharacters", text: "price is $5.00 (cash)", terms: []string{"$5.00"}, want: []string{"$5.00"}},
		{name: "no match", text: "hello world", terms: []string{"secretplace"}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RegexScreen(tt.text, tt.terms))
		})
	}
}

func TestRedactReplacesEveryOccurrence(t *testing.T) {
	got := Redact("Leeds, leeds and LEEDS", []string{"leeds"}, "[REDACTED]")
	assert.Equal(t, "[REDACTED], [REDACTED] and [REDACTED]", got)
}

func TestRedactWhitespaceFlexible(t *testing.T) {
	got := Redact("at 12  Orchard\tStreet today", []string{"12 orchard street"}, "***")
	assert.Equal(t, "at *** today", got)
}

func TestRedactLongestSpanFirst(t *testing.T) {
	got := Redact("Matt Adams said hi", []string{"Matt", "Matt Adams"}, "X")
	assert.Equal(t, "X said hi", got)
}
