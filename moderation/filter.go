/*
# Module: moderation/filter.go
Layered content filter: phonetic pre-screen, model adjudication, regex fallback.

## Linked Modules
- [moderation/phonetic](./phonetic.go) - Layer 1 scoring
- [moderation/judge](./judge.go) - Layer 2 adjudication
- [moderation/fallback](./fallback.go) - Layer 3 and redaction
- [moderation/cache](./cache.go) - Decision cache

## Tags
moderation, filter, redaction

## Exports
Filter, NewFilter, Options, Decision, Result, Config

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "moderation/filter.go" ;
    code:description "Layered content filter: phonetic pre-screen, model adjudication, regex fallback" ;
    code:linksTo [
        code:name "moderation/phonetic" ;
        code:path "./phonetic.go" ;
        code:relationship "Layer 1 scoring"
    ], [
        code:name "moderation/judge" ;
        code:path "./judge.go" ;
        code:relationship "Layer 2 adjudication"
    ], [
        code:name "moderation/fallback" ;
        code:path "./fallback.go" ;
        code:relationship "Layer 3 and redaction"
    ] ;
    code:exports :Filter, :NewFilter, :Options, :Decision, :Result, :Config ;
    code:tags "moderation", "filter", "redaction" .
<!-- End LinkedDoc RDF -->
*/
package moderation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"donation-alerts/clients"
)

// Decision methods
const (
	MethodNone     = "none"
	MethodPhonetic = "phonetic"
	MethodAI       = "ai"
	MethodRegex    = "regex"
)

// DefaultRedactionToken replaces matched spans unless configured otherwise
const DefaultRedactionToken = "[REDACTED]"

// Options select which layers run for a call
type Options struct {
	AIEnabled    bool
	CacheEnabled bool
	// Phonetic runs the sound-alike pre-screen before escalating
	Phonetic bool
	// DirectAdjudication sends every text to the judge without waiting for
	// a borderline phonetic score
	DirectAdjudication bool
	Strictness         int
}

// Decision is the outcome for one text
type Decision struct {
	ShouldRedact bool     `json:"should_redact"`
	MatchedSpans []string `json:"matched_spans"`
	Confidence   int      `json:"confidence"`
	Reasoning    string   `json:"reasoning"`
	Method       string   `json:"method"`
}

// Result pairs a decision with the redacted text
type Result struct {
	Decision
	Original    string `json:"original"`
	Filtered    string `json:"filtered"`
	WasFiltered bool   `json:"was_filtered"`
	Cached      bool   `json:"cached"`
}

// Config holds the tunables of a Filter
type Config struct {
	RedactionToken string
	Thresholds     Thresholds
}

// Filter decides whether texts contain banned terms. The judge and cache
// are optional.
type Filter struct {
	judge      Judge
	cache      *DecisionCache
	stats      *Stats
	token      string
	thresholds Thresholds
	logger     zerolog.Logger
}

// NewFilter creates a new filter
func NewFilter(judge Judge, cache *DecisionCache, cfg Config, logger zerolog.Logger) *Filter {
	if cfg.RedactionToken == "" {
		cfg.RedactionToken = DefaultRedactionToken
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	return &Filter{
		judge:      judge,
		cache:      cache,
		stats:      &Stats{},
		token:      cfg.RedactionToken,
		thresholds: cfg.Thresholds,
		logger:     logger.With().Str("component", "filter").Logger(),
	}
}

// Token returns the replacement text for matched spans
func (f *Filter) Token() string { return f.token }

// Stats returns a snapshot of the running counters
func (f *Filter) Stats() StatsSnapshot {
	snap := f.stats.Snapshot()
	if f.cache != nil {
		snap.CacheSize = f.cache.Len()
	}
	return snap
}

// ResetStats zeroes the counters
func (f *Filter) ResetStats() { f.stats.Reset() }

// ClearCache drops every cached decision
func (f *Filter) ClearCache() {
	if f.cache != nil {
		f.cache.Clear()
	}
}

// Decide runs the layered pipeline for one text
func (f *Filter) Decide(ctx context.Context, text string, terms []string, opts Options) Decision {
	return f.Check(ctx, text, terms, opts).Decision
}

// Check runs Decide and applies the redaction
func (f *Filter) Check(ctx context.Context, text string, terms []string, opts Options) Result {
	start := time.Now()
	f.stats.totalChecks.Add(1)
	defer func() { f.stats.addLatency(time.Since(start)) }()

	terms = cleanTerms(terms)
	if d, ok := trivial(text, terms); ok {
		return f.result(text, d, false)
	}

	key := Fingerprint(text, terms)
	if d, ok := f.cached(key, opts); ok {
		return f.result(text, d, true)
	}

	d, degraded, judgeTerms := f.screen(text, terms, opts)
	if d == nil && judgeTerms != nil {
		f.stats.aiConsults.Add(1)
		verdict, err := f.judge.Adjudicate(ctx, text, judgeTerms)
		if err != nil {
			f.judgeFailed(err, 1)
			degraded = true
		} else {
			f.stats.aiSuccesses.Add(1)
			d = fromVerdict(verdict)
		}
	}
	if d == nil {
		d = f.fallback(text, terms)
	}

	if opts.CacheEnabled && !degraded {
		f.store(key, *d)
	}
	return f.result(text, *d, false)
}

// CheckBatch runs the pipeline over several texts, sending every text that
// needs adjudication to the judge in a single call
func (f *Filter) CheckBatch(ctx context.Context, texts []string, terms []string, opts Options) []Result {
	start := time.Now()
	f.stats.totalChecks.Add(int64(len(texts)))
	defer func() { f.stats.addLatency(time.Since(start)) }()

	terms = cleanTerms(terms)
	results := make([]Result, len(texts))

	type pendingText struct {
		index int
		key   string
	}
	var pending []pendingText
	var judgeTerms []string
	seenTerm := make(map[string]bool)

	for i, text := range texts {
		if d, ok := trivial(text, terms); ok {
			results[i] = f.result(text, d, false)
			continue
		}

		key := Fingerprint(text, terms)
		if d, ok := f.cached(key, opts); ok {
			results[i] = f.result(text, d, true)
			continue
		}

		d, degraded, jt := f.screen(text, terms, opts)
		switch {
		case d != nil:
		case jt != nil:
			pending = append(pending, pendingText{index: i, key: key})
			for _, t := range jt {
				if !seenTerm[t] {
					seenTerm[t] = true
					judgeTerms = append(judgeTerms, t)
				}
			}
			continue
		default:
			d = f.fallback(text, terms)
		}

		if opts.CacheEnabled && !degraded {
			f.store(key, *d)
		}
		results[i] = f.result(text, *d, false)
	}

	if len(pending) == 0 {
		return results
	}

	batch := make([]string, len(pending))
	for k, p := range pending {
		batch[k] = texts[p.index]
	}

	f.stats.aiConsults.Add(1)
	verdicts, err := f.judge.AdjudicateBatch(ctx, batch, judgeTerms)
	if err != nil {
		f.judgeFailed(err, len(pending))
	} else {
		f.stats.aiSuccesses.Add(1)
	}

	for k, p := range pending {
		text := texts[p.index]
		if err != nil || k >= len(verdicts) || verdicts[k] == nil {
			results[p.index] = f.result(text, *f.fallback(text, terms), false)
			continue
		}
		d := fromVerdict(*verdicts[k])
		if opts.CacheEnabled {
			f.store(p.key, *d)
		}
		results[p.index] = f.result(text, *d, false)
	}
	return results
}

// screen runs layer 1. It returns a decision when layer 1 is conclusive;
// otherwise the terms to hand the judge (nil when the judge should not be
// asked). degraded is set when a layer that should have run could not.
func (f *Filter) screen(text string, terms []string, opts Options) (*Decision, bool, []string) {
	aiReady := opts.AIEnabled && f.judge != nil
	degraded := opts.AIEnabled && f.judge == nil
	if degraded {
		f.logger.Error().Msg("❌ AI filtering enabled but no judge is configured")
	}

	if aiReady && opts.DirectAdjudication {
		return nil, degraded, terms
	}

	if !opts.Phonetic {
		if aiReady {
			return nil, degraded, terms
		}
		return nil, degraded, nil
	}

	p := PhoneticScreen(text, terms, opts.Strictness, f.thresholds)
	if len(p.Direct) > 0 {
		f.stats.phoneticMatches.Add(1)
		return phoneticDecision(p), degraded, nil
	}
	if aiReady && len(p.Borderline) >= 1 && len(p.Borderline) <= 3 {
		borderline := make([]string, len(p.Borderline))
		for i, m := range p.Borderline {
			borderline[i] = m.Term
		}
		return nil, degraded, borderline
	}
	return nil, degraded, nil
}

func (f *Filter) judgeFailed(err error, texts int) {
	f.stats.aiFailures.Add(1)
	event := f.logger.Warn()
	if errors.Is(err, clients.ErrNotConfigured) {
		event = f.logger.Error()
	}
	event.Err(err).Int("texts", texts).Msg("⚠️  judge failed, falling back to regex")
}

func (f *Filter) fallback(text string, terms []string) *Decision {
	f.stats.fallbackActivations.Add(1)
	spans := RegexScreen(text, terms)
	d := &Decision{
		ShouldRedact: len(spans) > 0,
		MatchedSpans: spans,
		Method:       MethodRegex,
		Reasoning:    "regex fallback found no banned terms",
	}
	if d.ShouldRedact {
		d.Confidence = FallbackConfidence
		d.Reasoning = fmt.Sprintf("regex fallback matched %d span(s)", len(spans))
	}
	return d
}

func (f *Filter) cached(key string, opts Options) (Decision, bool) {
	if !opts.CacheEnabled || f.cache == nil {
		return Decision{}, false
	}
	d, ok := f.cache.Get(key)
	if ok {
		f.stats.cacheHits.Add(1)
	} else {
		f.stats.cacheMisses.Add(1)
	}
	return d, ok
}

func (f *Filter) store(key string, d Decision) {
	if f.cache != nil {
		f.cache.Put(key, d)
	}
}

func (f *Filter) result(text string, d Decision, cached bool) Result {
	filtered := text
	if d.ShouldRedact {
		filtered = Redact(text, d.MatchedSpans, f.token)
	}
	return Result{
		Decision:    d,
		Original:    text,
		Filtered:    filtered,
		WasFiltered: filtered != text,
		Cached:      cached,
	}
}

func trivial(text string, terms []string) (Decision, bool) {
	if strings.TrimSpace(text) == "" {
		return Decision{Method: MethodNone, Reasoning: "empty text"}, true
	}
	if len(terms) == 0 {
		return Decision{Method: MethodNone, Reasoning: "no banned terms"}, true
	}
	return Decision{}, false
}

func cleanTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func phoneticDecision(p PhoneticResult) *Decision {
	spans := make([]string, 0, len(p.Direct))
	labels := make([]string, 0, len(p.Direct))
	best := 0.0
	for _, m := range p.Direct {
		spans = append(spans, m.Span)
		labels = append(labels, fmt.Sprintf("%s (%.0f)", m.Term, m.Score))
		best = math.Max(best, m.Score)
	}
	return &Decision{
		ShouldRedact: true,
		MatchedSpans: spans,
		Confidence:   clampConfidence(best),
		Reasoning:    "phonetic match: " + strings.Join(labels, ", "),
		Method:       MethodPhonetic,
	}
}

func fromVerdict(v Verdict) *Decision {
	var spans []string
	for _, w := range v.MatchedWords {
		if strings.TrimSpace(w) != "" {
			spans = append(spans, w)
		}
	}
	return &Decision{
		ShouldRedact: v.ContainsBanned && len(spans) > 0,
		MatchedSpans: spans,
		Confidence:   clampConfidence(v.Confidence),
		Reasoning:    v.Reasoning,
		Method:       MethodAI,
	}
}

func clampConfidence(c float64) int {
	return int(math.Round(math.Max(0, math.Min(100, c))))
}
