/*
# Module: storage/repository.go
Repository interfaces for queues, history, processing state and moderation lists.

## Linked Modules
- [types/donation](../types/donation.go) - Donation queue items and drafts
- [types/media](../types/media.go) - Media queue items
- [types/processing](../types/processing.go) - Processing state and channel settings
- [types/ingest](../types/ingest.go) - Ingestion jobs
- [types/ban](../types/ban.go) - Ban entries and banned terms

## Tags
storage, repository, interface, persistence

## Exports
QueueItem, QueueRepository, StateRepository, SettingsRepository, BanRepository, TermRepository, DraftRepository, JobRepository, ErrNotFound, ErrVersionConflict, ErrDuplicate

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "storage/repository.go" ;
    code:description "Repository interfaces for queues, history, processing state and moderation lists" ;
    code:linksTo [
        code:name "types/donation" ;
        code:path "../types/donation.go" ;
        code:relationship "Donation queue items and drafts"
    ], [
        code:name "types/processing" ;
        code:path "../types/processing.go" ;
        code:relationship "Processing state and channel settings"
    ], [
        code:name "types/ingest" ;
        code:path "../types/ingest.go" ;
        code:relationship "Ingestion jobs"
    ] ;
    code:exports :QueueItem, :QueueRepository, :StateRepository, :SettingsRepository, :BanRepository, :TermRepository, :DraftRepository, :JobRepository ;
    code:tags "storage", "repository", "interface", "persistence" .
<!-- End LinkedDoc RDF -->
*/
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"donation-alerts/types"
)

var (
	// ErrNotFound is returned when a keyed lookup has no item
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a compare-and-set lost the race
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicate is returned when a create-only write finds an existing item
	ErrDuplicate = errors.New("duplicate")
)

// QueueItem is implemented by DonationItem and MediaItem
type QueueItem[T any] interface {
	ItemID() string
	ExternalOrderID() string
	CreatedTime() time.Time
	Completed(outcome string, at time.Time) T
}

// QueueRepository is a FIFO queue of pending items plus the history
// collection items graduate into
type QueueRepository[T QueueItem[T]] interface {
	Enqueue(ctx context.Context, item T) error
	// PeekOldest returns nil when the queue is empty
	PeekOldest(ctx context.Context) (*T, error)
	Get(ctx context.Context, id string) (*T, error)
	List(ctx context.Context, limit int) ([]T, error)
	Count(ctx context.Context) (int, error)
	// Remove is a no-op for unknown ids
	Remove(ctx context.Context, id string) error
	// MoveToHistory reports false when the item had already left the queue
	MoveToHistory(ctx context.Context, item T, outcome string, at time.Time) (bool, error)
	GetHistory(ctx context.Context, id string) (*T, error)
	ListHistory(ctx context.Context, limit int) ([]T, error)
	// ExistsOrder checks both the live queue and history
	ExistsOrder(ctx context.Context, orderID string) (bool, error)
	PruneHistory(ctx context.Context, completedBefore time.Time) (int, error)
}

// StateRepository persists the per-queue processing state
type StateRepository interface {
	// LoadProcessingState returns a zero state with Version 0 when nothing is stored
	LoadProcessingState(ctx context.Context, queue types.QueueKind) (types.ProcessingState, error)
	// SwapProcessingState writes next if the stored version still equals
	// expectedVersion and returns the stored record
	SwapProcessingState(ctx context.Context, expectedVersion int64, next types.ProcessingState) (types.ProcessingState, error)
}

// SettingsRepository persists operator channel settings
type SettingsRepository interface {
	LoadChannelSettings(ctx context.Context) (types.ChannelSettings, error)
	SaveChannelSettings(ctx context.Context, settings types.ChannelSettings) error
}

// BanRepository persists payer and video bans
type BanRepository interface {
	PutBan(ctx context.Context, ban types.Ban) error
	DeleteBan(ctx context.Context, kind types.BanKind, value string) error
	ListBans(ctx context.Context, kind types.BanKind) ([]types.Ban, error)
}

// TermRepository persists the banned-term list
type TermRepository interface {
	AddTerm(ctx context.Context, term types.BannedTerm) error
	RemoveTerm(ctx context.Context, term string) error
	ListTerms(ctx context.Context) ([]types.BannedTerm, error)
}

// DraftRepository holds donation drafts between order creation and capture
type DraftRepository interface {
	SaveDraft(ctx context.Context, draft types.DonationDraft) error
	GetDraft(ctx context.Context, orderID string) (*types.DonationDraft, error)
	DeleteDraft(ctx context.Context, orderID string) error
}

// JobRepository persists ingestion jobs for the background worker
type JobRepository interface {
	// CreateJob returns ErrDuplicate when a job with the same id exists
	CreateJob(ctx context.Context, job types.IngestJob) error
	// ClaimJob leases the oldest claimable job; nil when there is none
	ClaimJob(ctx context.Context, now time.Time, lease time.Duration) (*types.IngestJob, error)
	SaveJob(ctx context.Context, job types.IngestJob) error
	GetJob(ctx context.Context, id string) (*types.IngestJob, error)
	ListJobs(ctx context.Context, status string) ([]types.IngestJob, error)
}

// Position is the FIFO sort key: zero-padded nanoseconds then id, so
// lexical order equals (timestamp, id) order
func Position(t time.Time, id string) string {
	return fmt.Sprintf("%020d#%s", t.UnixNano(), id)
}
