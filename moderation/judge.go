/*
# Module: moderation/judge.go
Language-model adjudication of messages against the banned-term policy.

## Linked Modules
- [clients/llm](../clients/llm.go) - Chat-completion transport

## Tags
moderation, llm, ai, json-schema

## Exports
Verdict, Judge, Completer, LLMJudge, NewLLMJudge, ExtractVerdict, ExtractVerdicts

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "moderation/judge.go" ;
    code:description "Language-model adjudication of messages against the banned-term policy" ;
    code:linksTo [
        code:name "clients/llm" ;
        code:path "../clients/llm.go" ;
        code:relationship "Chat-completion transport"
    ] ;
    code:exports :Verdict, :Judge, :Completer, :LLMJudge, :NewLLMJudge, :ExtractVerdict, :ExtractVerdicts ;
    code:tags "moderation", "llm", "ai", "json-schema" .
<!-- End LinkedDoc RDF -->
*/
package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"donation-alerts/clients"
)

// ErrEmptyResponse is returned when the model answers with no content
var ErrEmptyResponse = errors.New("empty response from judge")

// Verdict is the judge's answer for one text
type Verdict struct {
	TextID         string   `json:"text_id,omitempty"`
	ContainsBanned bool     `json:"contains_banned"`
	MatchedWords   []string `json:"matched_words"`
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
}

// Judge adjudicates texts. AdjudicateBatch returns one entry per text in
// order; a nil entry means the judge gave no answer for that text.
type Judge interface {
	Adjudicate(ctx context.Context, text string, terms []string) (Verdict, error)
	AdjudicateBatch(ctx context.Context, texts []string, terms []string) ([]*Verdict, error)
}

// Completer is the chat-completion call the judge depends on
type Completer interface {
	ChatCompletion(ctx context.Context, messages []clients.ChatMessage) (string, error)
}

const verdictSchemaJSON = `{
  "type": "object",
  "required": ["contains_banned"],
  "properties": {
    "text_id": {"type": "string"},
    "contains_banned": {"type": "boolean"},
    "matched_words": {"type": ["array", "null"], "items": {"type": "string"}},
    "confidence": {"type": "number", "minimum": 0, "maximum": 100},
    "reasoning": {"type": "string"}
  }
}`

var (
	verdictSchema      = mustSchema(verdictSchemaJSON)
	verdictArraySchema = mustSchema(`{"type": "array", "items": ` + verdictSchemaJSON + `}`)
)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid verdict schema: %v", err))
	}
	return schema
}

// LLMJudge asks a chat-completion model for verdicts
type LLMJudge struct {
	client    Completer
	timeout   time.Duration
	allowList []string
}

// NewLLMJudge creates a judge bounded by timeout per call. allowList holds
// names that are fine alone but not next to identifying details.
func NewLLMJudge(client Completer, timeout time.Duration, allowList []string) *LLMJudge {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &LLMJudge{
		client:    client,
		timeout:   timeout,
		allowList: allowList,
	}
}

// Adjudicate asks for a verdict on a single text
func (j *LLMJudge) Adjudicate(ctx context.Context, text string, terms []string) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	user := fmt.Sprintf(`Message: %q
Banned: %s

Reply with one JSON object. matched_words must quote the exact text from the message that should be replaced:
{"contains_banned": true|false, "matched_words": ["..."], "confidence": 0-100, "reasoning": "..."}`,
		text, strings.Join(terms, ", "))

	reply, err := j.client.ChatCompletion(ctx, []clients.ChatMessage{
		{Role: "system", Content: j.systemPrompt()},
		{Role: "user", Content: user},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to call judge: %w", err)
	}
	return ExtractVerdict(reply)
}

// AdjudicateBatch sends every text in one labeled prompt
func (j *LLMJudge) AdjudicateBatch(ctx context.Context, texts []string, terms []string) ([]*Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	var labeled strings.Builder
	for i, text := range texts {
		fmt.Fprintf(&labeled, "[TEXT%d]: %s\n", i, text)
	}

	user := fmt.Sprintf(`Texts to check:
%s
Banned: %s

Reply with a JSON array holding one object per text, in order, with text_id set to the label (TEXT0, TEXT1, ...). matched_words must quote the exact text to replace:
[{"text_id": "TEXT0", "contains_banned": true|false, "matched_words": ["..."], "confidence": 0-100, "reasoning": "..."}]`,
		labeled.String(), strings.Join(terms, ", "))

	reply, err := j.client.ChatCompletion(ctx, []clients.ChatMessage{
		{Role: "system", Content: j.systemPrompt()},
		{Role: "user", Content: user},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call judge: %w", err)
	}

	verdicts, err := ExtractVerdicts(reply)
	if err != nil {
		return nil, err
	}
	return alignVerdicts(verdicts, len(texts)), nil
}

// alignVerdicts places verdicts by their TEXTn label, falling back to
// position for unlabeled ones
func alignVerdicts(verdicts []Verdict, n int) []*Verdict {
	out := make([]*Verdict, n)
	for i := range verdicts {
		v := verdicts[i]
		idx := i
		var labeled int
		if _, err := fmt.Sscanf(strings.TrimSpace(v.TextID), "TEXT%d", &labeled); err == nil {
			idx = labeled
		}
		if idx >= 0 && idx < n && out[idx] == nil {
			out[idx] = &v
		}
	}
	return out
}

// ExtractVerdict pulls the outermost JSON object out of a reply that may be
// wrapped in prose and validates it
func ExtractVerdict(reply string) (Verdict, error) {
	raw, err := outermost(reply, '{', '}')
	if err != nil {
		return Verdict{}, err
	}
	if err := validate(verdictSchema, raw); err != nil {
		return Verdict{}, err
	}

	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Verdict{}, fmt.Errorf("failed to parse verdict: %w", err)
	}
	return v, nil
}

// ExtractVerdicts is ExtractVerdict for a batch reply
func ExtractVerdicts(reply string) ([]Verdict, error) {
	raw, err := outermost(reply, '[', ']')
	if err != nil {
		return nil, err
	}
	if err := validate(verdictArraySchema, raw); err != nil {
		return nil, err
	}

	var vs []Verdict
	if err := json.Unmarshal([]byte(raw), &vs); err != nil {
		return nil, fmt.Errorf("failed to parse verdicts: %w", err)
	}
	return vs, nil
}

func outermost(reply string, open, close byte) (string, error) {
	if strings.TrimSpace(reply) == "" {
		return "", ErrEmptyResponse
	}
	start := strings.IndexByte(reply, open)
	end := strings.LastIndexByte(reply, close)
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON %c...%c in judge response", open, close)
	}
	return reply[start : end+1], nil
}

func validate(schema *gojsonschema.Schema, raw string) error {
	result, err := schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return fmt.Errorf("malformed judge JSON: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("judge JSON failed validation: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func (j *LLMJudge) systemPrompt() string {
	var b strings.Builder
	b.WriteString(`You screen donation messages shown live on a stream. Your only job is to find text that matches, or tries to sneak past, a list of banned words, names, places and symbols. Other offensive content is handled by a later stage; ignore it.

Match when:
1. The message reproduces a banned symbol or character sequence exactly (for example a banned glyph).
2. The message spells a banned term so it sounds the same ("Lun Dun" for "London", "Loo Iss" for "Lewis").

Use context:
- Addresses ("12 Orchard Street", "Baldy Cottage") match only when used as an address. A common word that happens to appear in the address ("orchard", "cottage") is not a match on its own.
- Place names match when the message refers to that place, including sound-alike spellings of it.
- Full names match only as a full name or a sound-alike of one. A lone common first name is not a match.

Escalated scrutiny: once one match is confirmed, treat the rest of the message as a possible attempt to identify someone. Flag other personal details in it (full names, addresses, phone numbers) even if they are not on the list.
`)
	if len(j.allowList) > 0 {
		b.WriteString("\nAllowed alone: ")
		b.WriteString(strings.Join(j.allowList, ", "))
		b.WriteString(". These are permitted on their own but must be flagged when combined with a surname, a location or any other identifying detail.\n")
	}
	b.WriteString("\nAlways answer with JSON only, quoting the exact text from the message that should be replaced.")
	return b.String()
}
