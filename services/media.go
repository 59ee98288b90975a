/*
# Module: services/media.go
YouTube video id extraction and best-effort metadata with a placeholder fallback.

## Linked Modules
- [clients/youtube](../clients/youtube.go) - oEmbed metadata client
- [types/media](../types/media.go) - VideoMetadata

## Tags
services, media, youtube

## Exports
ExtractVideoID, MetadataFetcher, ResolveMetadata, FallbackMetadata

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "services/media.go" ;
    code:description "YouTube video id extraction and best-effort metadata with a placeholder fallback" ;
    code:linksTo [
        code:name "clients/youtube" ;
        code:path "../clients/youtube.go" ;
        code:relationship "oEmbed metadata client"
    ], [
        code:name "types/media" ;
        code:path "../types/media.go" ;
        code:relationship "VideoMetadata"
    ] ;
    code:exports :ExtractVideoID, :MetadataFetcher, :ResolveMetadata, :FallbackMetadata ;
    code:tags "services", "media", "youtube" .
<!-- End LinkedDoc RDF -->
*/
package services

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"donation-alerts/types"
)

// MetadataFetcher looks up a video's title and thumbnail
type MetadataFetcher interface {
	VideoMetadata(ctx context.Context, videoID string) (types.VideoMetadata, error)
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ExtractVideoID returns the 11 character YouTube id from watch, youtu.be,
// embed and shorts URLs, or "" when none is found
func ExtractVideoID(raw string) string {
	raw = strings.TrimSpace(raw)
	if videoIDPattern.MatchString(raw) {
		return raw
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	path := strings.Trim(u.Path, "/")

	var candidate string
	switch host {
	case "youtu.be":
		candidate = strings.SplitN(path, "/", 2)[0]
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		segments := strings.Split(path, "/")
		switch {
		case path == "watch":
			candidate = u.Query().Get("v")
		case len(segments) >= 2 && (segments[0] == "embed" || segments[0] == "shorts" || segments[0] == "v" || segments[0] == "live"):
			candidate = segments[1]
		}
	}

	if videoIDPattern.MatchString(candidate) {
		return candidate
	}
	return ""
}

// FallbackMetadata is used when the metadata lookup fails
func FallbackMetadata(videoID string) types.VideoMetadata {
	return types.VideoMetadata{
		Title:        fmt.Sprintf("YouTube Video %s", videoID),
		ThumbnailURL: fmt.Sprintf("https://img.youtube.com/vi/%s/default.jpg", videoID),
	}
}

// ResolveMetadata never fails: lookup errors and empty fields fall back to
// placeholders
func ResolveMetadata(ctx context.Context, fetcher MetadataFetcher, videoID string, logger zerolog.Logger) types.VideoMetadata {
	fallback := FallbackMetadata(videoID)
	if fetcher == nil {
		return fallback
	}

	meta, err := fetcher.VideoMetadata(ctx, videoID)
	if err != nil {
		logger.Warn().Err(err).Str("video_id", videoID).Msg("⚠️  video metadata lookup failed, using placeholder")
		return fallback
	}
	if meta.Title == "" {
		meta.Title = fallback.Title
	}
	if meta.ThumbnailURL == "" {
		meta.ThumbnailURL = fallback.ThumbnailURL
	}
	return meta
}
