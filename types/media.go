/*
# Module: types/media.go
Media (video clip) queue item data structures.

## Linked Modules
- [types/donation](./donation.go) - Queue kinds and history outcomes

## Tags
data-types, media, queue

## Exports
MediaItem, VideoMetadata

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "types/media.go" ;
    code:description "Media (video clip) queue item data structures" ;
    code:exports :MediaItem, :VideoMetadata ;
    code:tags "data-types", "media", "queue" .
<!-- End LinkedDoc RDF -->
*/
package types

import (
	"fmt"
	"time"
)

// MediaItem is a queued video request. OrderID is empty for media added by
// an operator without a donation.
type MediaItem struct {
	ID            string     `json:"id" dynamodbav:"id"`
	OrderID       string     `json:"order_id,omitempty" dynamodbav:"order_id,omitempty"`
	RequesterName string     `json:"requester_name" dynamodbav:"requester_name"`
	VideoURL      string     `json:"video_url" dynamodbav:"video_url"`
	VideoID       string     `json:"video_id" dynamodbav:"video_id"`
	StartSeconds  int        `json:"start_seconds" dynamodbav:"start_seconds"`
	Title         string     `json:"title" dynamodbav:"title"`
	ThumbnailURL  string     `json:"thumbnail_url" dynamodbav:"thumbnail_url"`
	Author        string     `json:"author,omitempty" dynamodbav:"author,omitempty"`
	DurationSecs  int        `json:"duration_seconds,omitempty" dynamodbav:"duration_seconds,omitempty"`
	Replay        bool       `json:"replay" dynamodbav:"replay"`
	CreatedAt     time.Time  `json:"created_at" dynamodbav:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" dynamodbav:"completed_at,omitempty"`
	Outcome       string     `json:"outcome,omitempty" dynamodbav:"outcome,omitempty"`
}

// ItemID returns the internal id
func (m MediaItem) ItemID() string { return m.ID }

// ExternalOrderID returns the donation order id the media came with, if any
func (m MediaItem) ExternalOrderID() string { return m.OrderID }

// CreatedTime returns the enqueue timestamp used for FIFO ordering
func (m MediaItem) CreatedTime() time.Time { return m.CreatedAt }

// Validate checks the invariants of a media item before it is enqueued
func (m MediaItem) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("media id is required")
	}
	if m.VideoID == "" {
		return fmt.Errorf("media video id is required")
	}
	if m.StartSeconds < 0 {
		return fmt.Errorf("media start offset must not be negative")
	}
	return nil
}

// VideoMetadata is the best-effort description of a video
type VideoMetadata struct {
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url"`
	Author       string `json:"author_name,omitempty"`
	DurationSecs int    `json:"duration_seconds,omitempty"`
}

// Completed returns a copy stamped as graduated to history
func (m MediaItem) Completed(outcome string, at time.Time) MediaItem {
	m.Outcome = outcome
	m.CompletedAt = &at
	return m
}
