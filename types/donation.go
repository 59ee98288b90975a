/*
# Module: types/donation.go
Donation queue item and pre-capture draft data structures.

## Linked Modules
- [types/amount](./amount.go) - Decimal amount wrapper

## Tags
data-types, donations, queue

## Exports
QueueKind, DonationItem, DonationAlert, ForOverlay, DonationDraft, QueueDonation, QueueMedia

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "types/donation.go" ;
    code:description "Donation queue item and pre-capture draft data structures" ;
    code:linksTo [
        code:name "types/amount" ;
        code:path "./amount.go" ;
        code:relationship "Decimal amount wrapper"
    ] ;
    code:exports :QueueKind, :DonationItem, :DonationAlert, :ForOverlay, :DonationDraft, :QueueDonation, :QueueMedia ;
    code:tags "data-types", "donations", "queue" .
<!-- End LinkedDoc RDF -->
*/
package types

import (
	"fmt"
	"time"
)

// QueueKind identifies one of the independent display queues
type QueueKind string

const (
	QueueDonation QueueKind = "donation"
	QueueMedia    QueueKind = "media"
)

// Valid reports whether k names a known queue
func (k QueueKind) Valid() bool {
	return k == QueueDonation || k == QueueMedia
}

// ParseQueueKind maps a route segment ("donations", "media") to a queue kind
func ParseQueueKind(s string) (QueueKind, error) {
	switch s {
	case "donation", "donations":
		return QueueDonation, nil
	case "media":
		return QueueMedia, nil
	}
	return "", fmt.Errorf("unknown queue %q", s)
}

// History outcomes
const (
	OutcomeFinished = "finished"
	OutcomeSkipped  = "skipped"
)

// DonationItem is a queued on-stream alert derived from a verified payment.
// Name and Message hold the filtered text used for display; the Original*
// fields keep what the donor typed for audit.
type DonationItem struct {
	ID              string     `json:"id" dynamodbav:"id"`
	OrderID         string     `json:"order_id" dynamodbav:"order_id"`
	Name            string     `json:"name" dynamodbav:"name"`
	OriginalName    string     `json:"original_name,omitempty" dynamodbav:"original_name"`
	Amount          Amount     `json:"amount" dynamodbav:"amount"`
	Currency        string     `json:"currency,omitempty" dynamodbav:"currency,omitempty"`
	Message         string     `json:"message" dynamodbav:"message"`
	OriginalMessage string     `json:"original_message,omitempty" dynamodbav:"original_message"`
	PayerToken      string     `json:"-" dynamodbav:"payer_token"`
	Source          string     `json:"source" dynamodbav:"source"` // "paypal" or "twitch"
	Replay          bool       `json:"replay" dynamodbav:"replay"`
	WasFiltered     bool       `json:"was_filtered" dynamodbav:"was_filtered"`
	CreatedAt       time.Time  `json:"created_at" dynamodbav:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" dynamodbav:"completed_at,omitempty"`
	Outcome         string     `json:"outcome,omitempty" dynamodbav:"outcome,omitempty"`
}

// ItemID returns the internal id
func (d DonationItem) ItemID() string { return d.ID }

// ExternalOrderID returns the payment provider order id
func (d DonationItem) ExternalOrderID() string { return d.OrderID }

// CreatedTime returns the enqueue timestamp used for FIFO ordering
func (d DonationItem) CreatedTime() time.Time { return d.CreatedAt }

// Validate checks the invariants of a donation before it is enqueued
func (d DonationItem) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("donation id is required")
	}
	if !d.Amount.IsPositive() {
		return fmt.Errorf("donation amount must be positive, got %s", d.Amount.String())
	}
	return nil
}

// DonationAlert is the display view of a donation sent to the overlay.
// It never carries the unfiltered text.
type DonationAlert struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Amount    Amount    `json:"amount"`
	Currency  string    `json:"currency,omitempty"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	Replay    bool      `json:"replay"`
	CreatedAt time.Time `json:"created_at"`
}

// Alert returns the overlay view of d
func (d DonationItem) Alert() DonationAlert {
	return DonationAlert{
		ID:        d.ID,
		Name:      d.Name,
		Amount:    d.Amount,
		Currency:  d.Currency,
		Message:   d.Message,
		Source:    d.Source,
		Replay:    d.Replay,
		CreatedAt: d.CreatedAt,
	}
}

// ForOverlay converts a queue item into what the on-stream client may see.
// Media items have no audit-only fields and pass through.
func ForOverlay(item interface{}) interface{} {
	switch v := item.(type) {
	case DonationItem:
		return v.Alert()
	case *DonationItem:
		if v == nil {
			return nil
		}
		return v.Alert()
	}
	return item
}

// DonationDraft holds what a donor submitted at order creation until the
// provider confirms the capture
type DonationDraft struct {
	OrderID        string    `json:"order_id" dynamodbav:"order_id"`
	Name           string    `json:"name" dynamodbav:"name"`
	Message        string    `json:"message" dynamodbav:"message"`
	Amount         Amount    `json:"amount" dynamodbav:"amount"`
	Currency       string    `json:"currency" dynamodbav:"currency"`
	MediaURL       string    `json:"media_url,omitempty" dynamodbav:"media_url,omitempty"`
	MediaStartSecs int       `json:"media_start,omitempty" dynamodbav:"media_start,omitempty"`
	CreatedAt      time.Time `json:"created_at" dynamodbav:"created_at"`
	ExpiresAtUnix  int64     `json:"-" dynamodbav:"expires_at"` // DynamoDB TTL attribute
}

// Completed returns a copy stamped as graduated to history
func (d DonationItem) Completed(outcome string, at time.Time) DonationItem {
	d.Outcome = outcome
	d.CompletedAt = &at
	return d
}
