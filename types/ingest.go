/*
# Module: types/ingest.go
Verified payment confirmations and the durable ingestion job wrapping them.

## Linked Modules
- [types/amount](./amount.go) - Decimal amount wrapper

## Tags
data-types, ingestion, jobs, payments

## Exports
PaymentConfirmation, IngestJob, job status constants

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "types/ingest.go" ;
    code:description "Verified payment confirmations and the durable ingestion job wrapping them" ;
    code:exports :PaymentConfirmation, :IngestJob ;
    code:tags "data-types", "ingestion", "jobs", "payments" .
<!-- End LinkedDoc RDF -->
*/
package types

import "time"

// PaymentConfirmation is produced once a payment provider (or the fee-free
// path) has confirmed a donation
type PaymentConfirmation struct {
	OrderID        string    `json:"order_id" dynamodbav:"order_id"`
	PayerToken     string    `json:"payer_token" dynamodbav:"payer_token"`
	Source         string    `json:"source" dynamodbav:"source"`
	Name           string    `json:"name" dynamodbav:"name"`
	Message        string    `json:"message" dynamodbav:"message"`
	Amount         Amount    `json:"amount" dynamodbav:"amount"`
	Currency       string    `json:"currency" dynamodbav:"currency"`
	MediaURL       string    `json:"media_url,omitempty" dynamodbav:"media_url,omitempty"`
	MediaStartSecs int       `json:"media_start,omitempty" dynamodbav:"media_start,omitempty"`
	BypassFilter   bool      `json:"bypass_filter,omitempty" dynamodbav:"bypass_filter,omitempty"` // operator donations only
	CapturedAt     time.Time `json:"captured_at" dynamodbav:"captured_at"`
}

// Job statuses
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobFailed     = "failed"
	JobDone       = "done"
	JobDead       = "dead"
)

// IngestJob is a confirmation waiting for (or retrying) the background
// filter-and-enqueue step. ID equals the order id.
type IngestJob struct {
	ID           string              `json:"id" dynamodbav:"id"`
	Confirmation PaymentConfirmation `json:"confirmation" dynamodbav:"confirmation"`
	Status       string              `json:"status" dynamodbav:"status"`
	Attempts     int                 `json:"attempts" dynamodbav:"attempts"`
	NextRetryAt  time.Time           `json:"next_retry_at" dynamodbav:"next_retry_at"`
	LeaseUntil   *time.Time          `json:"lease_until,omitempty" dynamodbav:"lease_until,omitempty"`
	LastError    string              `json:"last_error,omitempty" dynamodbav:"last_error,omitempty"`
	CreatedAt    time.Time           `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at" dynamodbav:"updated_at"`
}

// Claimable reports whether a worker may take the job at now
func (j IngestJob) Claimable(now time.Time) bool {
	switch j.Status {
	case JobPending, JobFailed:
		return !j.NextRetryAt.After(now)
	case JobProcessing:
		return j.LeaseUntil == nil || j.LeaseUntil.Before(now)
	}
	return false
}
