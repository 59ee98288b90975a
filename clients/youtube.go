/*
# Module: clients/youtube.go
YouTube oEmbed lookup for video title, author and thumbnail.

## Linked Modules
- [types/media](../types/media.go) - VideoMetadata

## Tags
api-client, youtube, media

## Exports
YouTubeClient, NewYouTubeClient

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "clients/youtube.go" ;
    code:description "YouTube oEmbed lookup for video title, author and thumbnail" ;
    code:linksTo [
        code:name "types/media" ;
        code:path "../types/media.go" ;
        code:relationship "VideoMetadata"
    ] ;
    code:exports :YouTubeClient, :NewYouTubeClient ;
    code:tags "api-client", "youtube", "media" .
<!-- End LinkedDoc RDF -->
*/
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"donation-alerts/types"
)

const defaultOEmbedURL = "https://www.youtube.com/oembed"

// YouTubeClient resolves video metadata through oEmbed, which needs no API key
type YouTubeClient struct {
	oembedURL  string
	httpClient *http.Client
}

// NewYouTubeClient creates a new client. An empty endpoint uses YouTube's.
func NewYouTubeClient(oembedURL string) *YouTubeClient {
	if oembedURL == "" {
		oembedURL = defaultOEmbedURL
	}
	return &YouTubeClient{
		oembedURL: strings.TrimRight(oembedURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// VideoMetadata fetches title, author and thumbnail for a video id
func (c *YouTubeClient) VideoMetadata(ctx context.Context, videoID string) (types.VideoMetadata, error) {
	params := url.Values{}
	params.Set("url", "https://www.youtube.com/watch?v="+videoID)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.oembedURL+"?"+params.Encode(), nil)
	if err != nil {
		return types.VideoMetadata{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.VideoMetadata{}, fmt.Errorf("failed to call oEmbed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.VideoMetadata{}, fmt.Errorf("oEmbed returned status %d", resp.StatusCode)
	}

	var meta types.VideoMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return types.VideoMetadata{}, fmt.Errorf("failed to parse oEmbed response: %w", err)
	}
	return meta, nil
}
