/*
# Module: clients/twitch.go
Twitch identity provider: validates a viewer's bearer token and reads their subscription tier.

## Linked Modules
(None - uses internal types)

## Tags
api-client, twitch, identity, oauth2

## Exports
TwitchClient, NewTwitchClient, TwitchIdentity

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "clients/twitch.go" ;
    code:description "Twitch identity provider: validates a viewer's bearer token and reads their subscription tier" ;
    code:exports :TwitchClient, :NewTwitchClient, :TwitchIdentity ;
    code:tags "api-client", "twitch", "identity", "oauth2" .
<!-- End LinkedDoc RDF -->
*/
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultTwitchAuthURL = "https://id.twitch.tv"
	defaultTwitchAPIURL  = "https://api.twitch.tv"
)

// TwitchIdentity is a validated viewer. Tier is 0 for non-subscribers,
// otherwise 1, 2 or 3.
type TwitchIdentity struct {
	UserID string `json:"user_id"`
	Login  string `json:"login"`
	Tier   int    `json:"tier"`
}

// TwitchClient resolves viewer tokens against one broadcaster's channel
type TwitchClient struct {
	clientID      string
	broadcasterID string
	authURL       string
	apiURL        string
	httpClient    *http.Client
}

// NewTwitchClient creates a new client. Empty URLs use Twitch's endpoints.
func NewTwitchClient(clientID, broadcasterID, authURL, apiURL string) *TwitchClient {
	if authURL == "" {
		authURL = defaultTwitchAuthURL
	}
	if apiURL == "" {
		apiURL = defaultTwitchAPIURL
	}
	return &TwitchClient{
		clientID:      clientID,
		broadcasterID: broadcasterID,
		authURL:       strings.TrimRight(authURL, "/"),
		apiURL:        strings.TrimRight(apiURL, "/"),
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Configured reports whether the client id and broadcaster are set
func (c *TwitchClient) Configured() bool {
	return c.clientID != "" && c.broadcasterID != ""
}

// Resolve validates the bearer token and looks up the viewer's subscription.
// An invalid or expired token yields nil without an error.
func (c *TwitchClient) Resolve(ctx context.Context, bearer string) (*TwitchIdentity, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("Twitch client id or broadcaster: %w", ErrNotConfigured)
	}
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.authURL+"/oauth2/validate", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token validation returned status %d", resp.StatusCode)
	}

	var validated struct {
		UserID string `json:"user_id"`
		Login  string `json:"login"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&validated); err != nil {
		return nil, fmt.Errorf("failed to parse validation response: %w", err)
	}
	if validated.UserID == "" {
		return nil, nil
	}

	tier, err := c.subscriptionTier(ctx, bearer, validated.UserID)
	if err != nil {
		return nil, err
	}
	return &TwitchIdentity{UserID: validated.UserID, Login: validated.Login, Tier: tier}, nil
}

// subscriptionTier calls Helix with the viewer's own token
func (c *TwitchClient) subscriptionTier(ctx context.Context, bearer, userID string) (int, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: bearer,
		TokenType:   "Bearer",
	}))

	params := url.Values{}
	params.Set("broadcaster_id", c.broadcasterID)
	params.Set("user_id", userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/helix/subscriptions/user?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Client-Id", c.clientID)

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to check subscription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("subscription lookup returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Data []struct {
			Tier string `json:"tier"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("failed to parse subscription response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return 0, nil
	}

	// Helix reports tiers as "1000", "2000", "3000"
	raw, err := strconv.Atoi(parsed.Data[0].Tier)
	if err != nil {
		return 0, fmt.Errorf("unexpected tier %q", parsed.Data[0].Tier)
	}
	return raw / 1000, nil
}
