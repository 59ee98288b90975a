/*
# Module: types/processing.go
Typed processing-state record shared by the overlay and operator controls.

## Linked Modules
- [types/donation](./donation.go) - Queue kinds

## Tags
data-types, state-machine, processing

## Exports
ProcessingState, QueueStatus, ChannelSettings, DefaultChannelSettings

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "types/processing.go" ;
    code:description "Typed processing-state record shared by the overlay and operator controls" ;
    code:exports :ProcessingState, :QueueStatus, :ChannelSettings, :DefaultChannelSettings ;
    code:tags "data-types", "state-machine", "processing" .
<!-- End LinkedDoc RDF -->
*/
package types

import "time"

// ProcessingState is the per-queue display state. Version is bumped on
// every successful write and used for compare-and-set.
type ProcessingState struct {
	Queue         QueueKind  `json:"queue" dynamodbav:"-"`
	Paused        bool       `json:"paused" dynamodbav:"paused"`
	CurrentItemID string     `json:"current_item_id,omitempty" dynamodbav:"current_item_id"`
	IsDisplaying  bool       `json:"is_displaying" dynamodbav:"is_displaying"`
	StartedAt     *time.Time `json:"started_at,omitempty" dynamodbav:"started_at,omitempty"`
	Version       int64      `json:"version" dynamodbav:"version"`
	UpdatedAt     time.Time  `json:"updated_at" dynamodbav:"updated_at"`
}

// HasCurrent reports whether an item holds the display slot
func (s ProcessingState) HasCurrent() bool {
	return s.CurrentItemID != ""
}

// Clear drops the current item and display flag, keeping the pause flag
func (s *ProcessingState) Clear() {
	s.CurrentItemID = ""
	s.IsDisplaying = false
	s.StartedAt = nil
}

// QueueStatus is what the overlay pulls on connect or reconnect
type QueueStatus struct {
	Queue   QueueKind       `json:"queue"`
	State   ProcessingState `json:"state"`
	Length  int             `json:"length"`
	Head    interface{}     `json:"head,omitempty"`
	Current interface{}     `json:"current,omitempty"`
}

// ChannelSettings are operator toggles persisted next to the processing state
type ChannelSettings struct {
	DonationsEnabled     bool      `json:"donations_enabled" dynamodbav:"donations_enabled"`
	FilterEnabled        bool      `json:"filter_enabled" dynamodbav:"filter_enabled"`
	AIFilterEnabled      bool      `json:"ai_filter_enabled" dynamodbav:"ai_filter_enabled"`
	FilterCacheEnabled   bool      `json:"filter_cache_enabled" dynamodbav:"filter_cache_enabled"`
	FilterStrictness     int       `json:"filter_strictness" dynamodbav:"filter_strictness"`
	MediaRequestsEnabled bool      `json:"media_requests_enabled" dynamodbav:"media_requests_enabled"`
	UpdatedAt            time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// DefaultChannelSettings is used until an operator saves settings
func DefaultChannelSettings() ChannelSettings {
	return ChannelSettings{
		DonationsEnabled:     true,
		FilterEnabled:        true,
		AIFilterEnabled:      true,
		FilterCacheEnabled:   true,
		FilterStrictness:     50,
		MediaRequestsEnabled: true,
	}
}
