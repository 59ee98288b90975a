/*
# Module: moderation/fallback.go
Regex fallback layer and the redaction routine shared by every layer.

## Linked Modules
(None - regexp only)

## Tags
moderation, regex, redaction

## Exports
RegexScreen, Redact, FallbackConfidence

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "moderation/fallback.go" ;
    code:description "Regex fallback layer and the redaction routine shared by every layer" ;
    code:exports :RegexScreen, :Redact, :FallbackConfidence ;
    code:tags "moderation", "regex", "redaction" .
<!-- End LinkedDoc RDF -->
*/
package moderation

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// FallbackConfidence is reported for every regex-layer match
const FallbackConfidence = 60

var whitespaceRun = regexp.MustCompile(`\s+`)

func isWordRune(r rune) bool {
	return r == '_' || (r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)))
}

// bounded wraps a pattern in \b on each side where the term edge is a word
// character; \b next to a symbol would never match.
func bounded(term, pattern string) string {
	first, _ := utf8.DecodeRuneInString(term)
	last, _ := utf8.DecodeLastRuneInString(term)
	if isWordRune(first) {
		pattern = `\b` + pattern
	}
	if isWordRune(last) {
		pattern += `\b`
	}
	return `(?i)` + pattern
}

func literalPattern(term string) *regexp.Regexp {
	return regexp.MustCompile(bounded(term, regexp.QuoteMeta(term)))
}

// spacedPattern matches the term's characters with any whitespace between them
func spacedPattern(term string) *regexp.Regexp {
	var parts []string
	for _, r := range term {
		if unicode.IsSpace(r) {
			continue
		}
		parts = append(parts, regexp.QuoteMeta(string(r)))
	}
	return regexp.MustCompile(bounded(term, strings.Join(parts, `\s*`)))
}

// RegexScreen returns every literal span of text matching a term either
// verbatim or spaced out
func RegexScreen(text string, terms []string) []string {
	var spans []string
	seen := make(map[string]bool)
	add := func(s string) {
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			return
		}
		seen[key] = true
		spans = append(spans, s)
	}

	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		for _, m := range literalPattern(term).FindAllString(text, -1) {
			add(m)
		}
		for _, m := range spacedPattern(term).FindAllString(text, -1) {
			add(m)
		}
	}
	return spans
}

// Redact replaces every case-insensitive occurrence of each span with token.
// Whitespace inside a span matches any whitespace run. Longer spans go
// first so a span containing another is replaced whole.
func Redact(text string, spans []string, token string) string {
	ordered := make([]string, 0, len(spans))
	for _, s := range spans {
		if strings.TrimSpace(s) != "" {
			ordered = append(ordered, strings.TrimSpace(s))
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })

	for _, span := range ordered {
		pattern := whitespaceRun.ReplaceAllString(regexp.QuoteMeta(span), `\s+`)
		re, err := regexp.Compile(`(?i)` + pattern)
		if err != nil {
			continue
		}
		text = re.ReplaceAllLiteralString(text, token)
	}
	return text
}
