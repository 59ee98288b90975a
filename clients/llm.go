/*
# Module: clients/llm.go
Chat-completion client for an OpenAI-compatible model server used as the moderation judge.

## Linked Modules
(None - uses internal types)

## Tags
api-client, openai, ai, llm

## Exports
ChatMessage, LLMClient, NewLLMClient, ChatCompletion, ErrNotConfigured

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "clients/llm.go" ;
    code:description "Chat-completion client for an OpenAI-compatible model server used as the moderation judge" ;
    code:exports :ChatMessage, :LLMClient, :NewLLMClient, :ChatCompletion, :ErrNotConfigured ;
    code:tags "api-client", "openai", "ai", "llm" .
<!-- End LinkedDoc RDF -->
*/
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNotConfigured is returned when a client is called without the
// endpoint or credentials it needs
var ErrNotConfigured = errors.New("client not configured")

// ChatMessage represents a message in chat-completion format
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// LLMClient calls POST {baseURL}/v1/chat/completions. The API key is
// optional for self-hosted servers.
type LLMClient struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewLLMClient creates a new chat-completion client. The request deadline
// comes from the caller's context.
func NewLLMClient(baseURL, apiKey, model string, maxTokens int) *LLMClient {
	return &LLMClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		maxTokens:  maxTokens,
		httpClient: &http.Client{},
	}
}

// Configured reports whether an endpoint and model are set
func (c *LLMClient) Configured() bool {
	return c.baseURL != "" && c.model != ""
}

// ChatCompletion sends a chat completion request and returns the first choice
func (c *LLMClient) ChatCompletion(ctx context.Context, messages []ChatMessage) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("LLM endpoint or model: %w", ErrNotConfigured)
	}

	jsonData, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call LLM server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("LLM server error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in LLM response")
	}
	choice := parsed.Choices[0]
	if strings.TrimSpace(choice.Message.Content) == "" {
		return "", fmt.Errorf("empty LLM content (finish reason %q)", choice.FinishReason)
	}

	return choice.Message.Content, nil
}
