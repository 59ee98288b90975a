/*
# Module: types/event.go
Push notification envelope broadcast to overlay and admin clients.

## Linked Modules
- [types/donation](./donation.go) - Queue kinds

## Tags
data-types, events, websocket

## Exports
Event, NewEvent, event type constants

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "types/event.go" ;
    code:description "Push notification envelope broadcast to overlay and admin clients" ;
    code:exports :Event, :NewEvent ;
    code:tags "data-types", "events", "websocket" .
<!-- End LinkedDoc RDF -->
*/
package types

import "time"

// Event types
const (
	EventQueueUpdated        = "queue-updated"
	EventProcessingStarted   = "processing-started"
	EventProcessingFinished  = "processing-finished"
	EventSkipRequested       = "skip-requested"
	EventPause               = "pause"
	EventResume              = "resume"
	EventProcessingRecovered = "processing-recovered"
	EventError               = "error"
)

// Event is the JSON envelope sent over the push channel
type Event struct {
	Type      string                 `json:"type"`
	Queue     QueueKind              `json:"queue,omitempty"`
	ItemID    string                 `json:"item_id,omitempty"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(eventType string, queue QueueKind, itemID string) Event {
	return Event{
		Type:      eventType,
		Queue:     queue,
		ItemID:    itemID,
		Timestamp: time.Now().UTC(),
	}
}

// With attaches a data field and returns the event
func (e Event) With(key string, value interface{}) Event {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}
