package moderation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donation-alerts/clients"
)

type fakeCompleter struct {
	mu       sync.Mutex
	calls    int
	reply    string
	err      error
	lastUser string
}

func (c *fakeCompleter) ChatCompletion(ctx context.Context, messages []clients.ChatMessage) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(messages) > 1 {
		c.lastUser = messages[1].Content
	}
	return c.reply, c.err
}

func (c *fakeCompleter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestFilter(c Completer, withCache bool) *Filter {
	var judge Judge
	if c != nil {
		judge = NewLLMJudge(c, time.Second, nil)
	}
	var cache *DecisionCache
	if withCache {
		cache = NewDecisionCache(time.Hour, 2*time.Minute)
	}
	return NewFilter(judge, cache, Config{}, zerolog.Nop())
}

func TestDecideCleanMessageWithAIDisabled(t *testing.T) {
	f := newTestFilter(nil, false)

	d := f.Decide(context.Background(), "no bad words here", []string{"nastyword"}, Options{
		Phonetic:   true,
		Strictness: 50,
	})

	assert.False(t, d.ShouldRedact)
	assert.Equal(t, MethodRegex, d.Method)
	assert.Empty(t, d.MatchedSpans)
}

func TestDecideSpacedOutTermWithAIDisabled(t *testing.T) {
	f := newTestFilter(nil, false)

	r := f.Check(context.Background(), "b a n n e d term here", []string{"banned term"}, Options{
		Phonetic:   true,
		Strictness: 50,
	})

	require.True(t, r.ShouldRedact)
	assert.Equal(t, MethodRegex, r.Method)
	assert.Equal(t, FallbackConfidence, r.Confidence)
	assert.Equal(t, "[REDACTED] here", r.Filtered)
	assert.True(t, r.WasFiltered)
}

func TestDecideIsDeterministic(t *testing.T) {
	f := newTestFilter(nil, false)
	opts := Options{Phonetic: true, Strictness: 80}
	terms := []string{"London", "secret place", "卐"}

	first := f.Decide(context.Background(), "greetings from Lundun and the s e c r e t place", terms, opts)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, f.Decide(context.Background(), "greetings from Lundun and the s e c r e t place", terms, opts))
	}
}

func TestRedactedTextDoesNotMatchAgain(t *testing.T) {
	f := newTestFilter(nil, false)
	opts := Options{Strictness: 50}
	terms := []string{"banned term", "Bembridge"}

	r := f.Check(context.Background(), "b a n n e d term and BEMBRIDGE", terms, opts)
	require.True(t, r.WasFiltered)

	assert.Equal(t, "[REDACTED] and [REDACTED]", r.Filtered)

	again := f.Check(context.Background(), r.Filtered, terms, opts)
	assert.False(t, again.ShouldRedact)
	assert.Equal(t, r.Filtered, again.Filtered)
}

func TestPhoneticDirectMatchIsConclusive(t *testing.T) {
	c := &fakeCompleter{reply: `{"contains_banned": false}`}
	f := newTestFilter(c, false)

	r := f.Check(context.Background(), "I live in Lundun", []string{"London"}, Options{
		AIEnabled:  true,
		Phonetic:   true,
		Strictness: 50,
	})

	require.True(t, r.ShouldRedact)
	assert.Equal(t, MethodPhonetic, r.Method)
	assert.Equal(t, "I live in [REDACTED]", r.Filtered)
	assert.Zero(t, c.Calls())
}

func TestDirectAdjudicationUsesJudgeSpans(t *testing.T) {
	c := &fakeCompleter{reply: `Sure! Here is my answer:
{"contains_banned": true, "matched_words": ["Bembur Ridge"], "confidence": 88, "reasoning": "sound-alike of Bembridge"}
Hope that helps.`}
	f := newTestFilter(c, false)

	r := f.Check(context.Background(), "greetings from bembur ridge!", []string{"Bembridge"}, Options{
		AIEnabled:          true,
		DirectAdjudication: true,
		Phonetic:           true,
	})

	require.True(t, r.ShouldRedact)
	assert.Equal(t, MethodAI, r.Method)
	assert.Equal(t, 88, r.Confidence)
	assert.Equal(t, "greetings from [REDACTED]!", r.Filtered)
	assert.Equal(t, 1, c.Calls())
	assert.Contains(t, c.lastUser, "Bembridge")
}

func TestJudgeFailureFallsBackToRegex(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{name: "transport error", err: errors.New("connection refused")},
		{name: "no json", reply: "I cannot help with that."},
		{name: "schema mismatch", reply: `{"contains_banned": "yes"}`},
		{name: "empty", reply: "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeCompleter{reply: tt.reply, err: tt.err}
			f := newTestFilter(c, true)

			r := f.Check(context.Background(), "this is Banned", []string{"banned"}, Options{
				AIEnabled:          true,
				CacheEnabled:       true,
				DirectAdjudication: true,
			})

			assert.True(t, r.ShouldRedact)
			assert.Equal(t, MethodRegex, r.Method)
			assert.Equal(t, "this is [REDACTED]", r.Filtered)

			stats := f.Stats()
			assert.Equal(t, int64(1), stats.AIFailures)
			assert.Equal(t, int64(1), stats.FallbackActivations)
			// degraded decisions are not cached
			assert.Zero(t, stats.CacheSize)
		})
	}
}

func TestCacheSkipsSecondJudgeCall(t *testing.T) {
	c := &fakeCompleter{reply: `{"contains_banned": false, "matched_words": [], "confidence": 90, "reasoning": "clean"}`}
	f := newTestFilter(c, true)
	opts := Options{AIEnabled: true, CacheEnabled: true, DirectAdjudication: true}

	first := f.Check(context.Background(), "hello there", []string{"secretplace"}, opts)
	second := f.Check(context.Background(), "hello there", []string{"secretplace"}, opts)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Decision, second.Decision)
	assert.Equal(t, 1, c.Calls())

	stats := f.Stats()
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)

	// bypassing the cache changes latency only
	uncached := f.Check(context.Background(), "hello there", []string{"secretplace"}, Options{AIEnabled: true, DirectAdjudication: true})
	assert.Equal(t, first.Decision, uncached.Decision)
	assert.Equal(t, 2, c.Calls())
}

func TestCheckBatchMakesOneJudgeCall(t *testing.T) {
	c := &fakeCompleter{reply: `Results:
[
  {"text_id": "TEXT0", "contains_banned": false, "matched_words": [], "confidence": 97, "reasoning": "a name"},
  {"text_id": "TEXT1", "contains_banned": false, "matched_words": [], "confidence": 97, "reasoning": "greeting"}
]`}
	f := newTestFilter(c, false)

	results := f.CheckBatch(context.Background(), []string{"Anonymous", "hello world"}, []string{"secretplace"}, Options{
		AIEnabled:          true,
		DirectAdjudication: true,
	})

	require.Len(t, results, 2)
	assert.Equal(t, 1, c.Calls())
	assert.Contains(t, c.lastUser, "[TEXT0]: Anonymous")
	assert.Contains(t, c.lastUser, "[TEXT1]: hello world")
	for i, text := range []string{"Anonymous", "hello world"} {
		assert.False(t, results[i].WasFiltered)
		assert.Equal(t, text, results[i].Filtered)
		assert.Equal(t, MethodAI, results[i].Method)
	}
}

func TestCheckBatchMatchesVerdictsByLabel(t *testing.T) {
	c := &fakeCompleter{reply: `[
  {"text_id": "TEXT1", "contains_banned": true, "matched_words": ["Orchard  Street"], "confidence": 80, "reasoning": "address"}
]`}
	f := newTestFilter(c, false)

	results := f.CheckBatch(context.Background(), []string{"Bob", "see you at 12 orchard street"}, []string{"12 Orchard Street"}, Options{
		AIEnabled:          true,
		DirectAdjudication: true,
	})

	require.Len(t, results, 2)
	assert.Equal(t, 1, c.Calls())
	// no verdict for TEXT0: regex fallback for that text only
	assert.Equal(t, MethodRegex, results[0].Method)
	assert.False(t, results[0].WasFiltered)
	assert.Equal(t, MethodAI, results[1].Method)
	assert.Equal(t, "see you at 12 [REDACTED]", results[1].Filtered)
}

func TestCheckBatchFailureFallsBackPerText(t *testing.T) {
	c := &fakeCompleter{err: errors.New("timeout")}
	f := newTestFilter(c, false)

	results := f.CheckBatch(context.Background(), []string{"Anonymous", "b a d word"}, []string{"bad word"}, Options{
		AIEnabled:          true,
		DirectAdjudication: true,
	})

	require.Len(t, results, 2)
	assert.Equal(t, 1, c.Calls())
	assert.False(t, results[0].WasFiltered)
	assert.Equal(t, "[REDACTED]", results[1].Filtered)
}

func TestMissingJudgeDecisionsAreNotCached(t *testing.T) {
	f := newTestFilter(nil, true)
	opts := Options{AIEnabled: true, CacheEnabled: true}
	terms := []string{"bad word"}

	results := f.CheckBatch(context.Background(), []string{"Anonymous", "b a d word"}, terms, opts)
	require.Len(t, results, 2)
	assert.False(t, results[0].ShouldRedact)
	assert.True(t, results[1].ShouldRedact)
	assert.Equal(t, MethodRegex, results[1].Method)
	assert.Zero(t, f.Stats().CacheSize)

	r := f.Check(context.Background(), "b a d word", terms, opts)
	assert.False(t, r.Cached)
	assert.Zero(t, f.Stats().CacheSize)

	// with AI off the same decision is complete and may be cached
	opts.AIEnabled = false
	f.CheckBatch(context.Background(), []string{"b a d word"}, terms, opts)
	assert.Equal(t, 1, f.Stats().CacheSize)
}

func TestCheckBatchSkipsEmptyTexts(t *testing.T) {
	c := &fakeCompleter{reply: `[]`}
	f := newTestFilter(c, false)

	results := f.CheckBatch(context.Background(), []string{"", "  "}, []string{"x"}, Options{AIEnabled: true, DirectAdjudication: true})

	require.Len(t, results, 2)
	assert.Zero(t, c.Calls())
	assert.Equal(t, MethodNone, results[0].Method)
}

func TestNoTermsShortCircuits(t *testing.T) {
	c := &fakeCompleter{}
	f := newTestFilter(c, false)

	d := f.Decide(context.Background(), "anything", nil, Options{AIEnabled: true, DirectAdjudication: true})
	assert.False(t, d.ShouldRedact)
	assert.Equal(t, MethodNone, d.Method)
	assert.Zero(t, c.Calls())
}

func TestFingerprintIgnoresTermOrder(t *testing.T) {
	assert.Equal(t, Fingerprint("msg", []string{"b", "a"}), Fingerprint("msg", []string{"a", "b"}))
	assert.NotEqual(t, Fingerprint("msg", []string{"a"}), Fingerprint("msg ", []string{"a"}))
}
