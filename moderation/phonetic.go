/*
# Module: moderation/phonetic.go
Phonetic pre-screen scoring message words against banned terms.

## Linked Modules
(None - pure scoring over matchr encodings)

## Tags
moderation, phonetic, soundex, metaphone

## Exports
Thresholds, DefaultThresholds, PhoneticMatch, PhoneticResult, PhoneticScreen

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "moderation/phonetic.go" ;
    code:description "Phonetic pre-screen scoring message words against banned terms" ;
    code:exports :Thresholds, :DefaultThresholds, :PhoneticMatch, :PhoneticResult, :PhoneticScreen ;
    code:tags "moderation", "phonetic", "soundex", "metaphone" .
<!-- End LinkedDoc RDF -->
*/
package moderation

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Scores assigned when a phonetic code matches exactly
const (
	scoreMetaphonePrimary = 95
	scoreMetaphoneAlt     = 93
	scoreSoundex          = 90
)

// Thresholds maps the strictness setting onto score bands. Higher
// strictness lowers the threshold.
type Thresholds struct {
	Strict           int `mapstructure:"strict"`
	Moderate         int `mapstructure:"moderate"`
	Lenient          int `mapstructure:"lenient"`
	DirectMargin     int `mapstructure:"direct_margin"`
	BorderlineMargin int `mapstructure:"borderline_margin"`
	WordFloor        int `mapstructure:"word_floor"`
}

// DefaultThresholds returns the stock 80/60/40 bands
func DefaultThresholds() Thresholds {
	return Thresholds{
		Strict:           80,
		Moderate:         60,
		Lenient:          40,
		DirectMargin:     10,
		BorderlineMargin: 5,
		WordFloor:        50,
	}
}

// Threshold returns the base threshold for a strictness in 0..100
func (t Thresholds) Threshold(strictness int) int {
	switch {
	case strictness <= 30:
		return t.Strict
	case strictness <= 70:
		return t.Moderate
	default:
		return t.Lenient
	}
}

// PhoneticMatch is one banned term scored against the best window of the text
type PhoneticMatch struct {
	Term  string  `json:"term"`
	Span  string  `json:"span"`
	Score float64 `json:"score"`
}

// PhoneticResult splits scored terms into direct and borderline matches
type PhoneticResult struct {
	Direct     []PhoneticMatch `json:"direct"`
	Borderline []PhoneticMatch `json:"borderline"`
	BestScore  float64         `json:"best_score"`
}

type encodedWord struct {
	text    string // as written, edge punctuation trimmed
	norm    string
	primary string
	alt     string
	soundex string
}

func encodeWords(text string) []encodedWord {
	fields := strings.Fields(text)
	words := make([]encodedWord, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if trimmed == "" {
			trimmed = field
		}
		w := encodedWord{text: trimmed, norm: normalizeWord(trimmed)}
		if hasLetter(w.norm) {
			w.primary, w.alt = matchr.DoubleMetaphone(w.norm)
			w.soundex = matchr.Soundex(w.norm)
		}
		words = append(words, w)
	}
	return words
}

func normalizeWord(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return strings.ToLower(s)
	}
	return b.String()
}

func hasLetter(s string) bool {
	for _, r := range s {
		if r <= unicode.MaxASCII && unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// wordScore rates how closely a message word resembles a term word, 0..100
func wordScore(msg, term encodedWord) float64 {
	if msg.norm == term.norm {
		return 100
	}
	if msg.primary != "" && msg.primary == term.primary {
		return scoreMetaphonePrimary
	}
	if msg.primary != "" && (msg.primary == term.alt || msg.alt == term.primary) {
		return scoreMetaphoneAlt
	}
	if msg.soundex != "" && msg.soundex == term.soundex {
		return scoreSoundex
	}
	return similarity(msg.norm, term.norm)
}

// similarity is the normalized Levenshtein similarity, 0..100
func similarity(a, b string) float64 {
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	distance := matchr.Levenshtein(a, b)
	return math.Max(0, 100*(1-float64(distance)/float64(longest)))
}

// scoreTerm slides a window the length of the term across the message.
// Every word in a window must clear the floor; the window score is the
// mean of its word scores.
func scoreTerm(words, term []encodedWord, floor float64) (float64, string) {
	if len(term) == 0 || len(words) < len(term) {
		return 0, ""
	}

	best, span := 0.0, ""
	for i := 0; i+len(term) <= len(words); i++ {
		total := 0.0
		ok := true
		for j := range term {
			s := wordScore(words[i+j], term[j])
			if len(term) > 1 && s <= floor {
				ok = false
				break
			}
			total += s
		}
		if !ok {
			continue
		}
		avg := total / float64(len(term))
		if avg > best {
			best = avg
			parts := make([]string, len(term))
			for j := range term {
				parts[j] = words[i+j].text
			}
			span = strings.Join(parts, " ")
		}
	}
	return best, span
}

// PhoneticScreen scores every term against text and classifies the result
// with the bands derived from strictness
func PhoneticScreen(text string, terms []string, strictness int, t Thresholds) PhoneticResult {
	threshold := t.Threshold(strictness)
	direct := float64(threshold + t.DirectMargin)
	borderline := float64(threshold - t.BorderlineMargin)

	words := encodeWords(text)
	var result PhoneticResult
	for _, term := range terms {
		score, span := scoreTerm(words, encodeWords(term), float64(t.WordFloor))
		if score > result.BestScore {
			result.BestScore = score
		}

		match := PhoneticMatch{Term: term, Span: span, Score: score}
		switch {
		case score >= direct:
			result.Direct = append(result.Direct, match)
		case score >= borderline:
			result.Borderline = append(result.Borderline, match)
		}
	}
	return result
}
