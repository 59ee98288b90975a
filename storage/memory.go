/*
# Module: storage/memory.go
In-memory repository implementations used when DynamoDB is disabled and in tests.

## Linked Modules
- [storage/repository](./repository.go) - Repository interfaces

## Tags
storage, memory, repository

## Exports
MemoryQueue, NewMemoryQueue, MemoryStore, NewMemoryStore

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "storage/memory.go" ;
    code:description "In-memory repository implementations used when DynamoDB is disabled and in tests" ;
    code:linksTo [
        code:name "storage/repository" ;
        code:path "./repository.go" ;
        code:relationship "Repository interfaces"
    ] ;
    code:exports :MemoryQueue, :NewMemoryQueue, :MemoryStore, :NewMemoryStore ;
    code:tags "storage", "memory", "repository" .
<!-- End LinkedDoc RDF -->
*/
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"donation-alerts/types"
)

// MemoryQueue implements QueueRepository in process memory
type MemoryQueue[T QueueItem[T]] struct {
	mu      sync.RWMutex
	pending []T
	history []T
}

// NewMemoryQueue creates an empty in-memory queue
func NewMemoryQueue[T QueueItem[T]]() *MemoryQueue[T] {
	return &MemoryQueue[T]{}
}

// Enqueue inserts the item keeping (created_at, id) order
func (q *MemoryQueue[T]) Enqueue(ctx context.Context, item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, existing := range q.pending {
		if existing.ItemID() == item.ItemID() {
			return ErrDuplicate
		}
	}
	pos := Position(item.CreatedTime(), item.ItemID())
	i := sort.Search(len(q.pending), func(i int) bool {
		return Position(q.pending[i].CreatedTime(), q.pending[i].ItemID()) > pos
	})
	q.pending = append(q.pending, item)
	copy(q.pending[i+1:], q.pending[i:])
	q.pending[i] = item
	return nil
}

// PeekOldest returns the head of the queue or nil
func (q *MemoryQueue[T]) PeekOldest(ctx context.Context) (*T, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.pending) == 0 {
		return nil, nil
	}
	head := q.pending[0]
	return &head, nil
}

// Get finds a pending item by id
func (q *MemoryQueue[T]) Get(ctx context.Context, id string) (*T, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, item := range q.pending {
		if item.ItemID() == id {
			found := item
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

// List returns up to limit pending items in FIFO order (0 means all)
func (q *MemoryQueue[T]) List(ctx context.Context, limit int) ([]T, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return headOf(q.pending, limit), nil
}

// Count returns the number of pending items
func (q *MemoryQueue[T]) Count(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.pending), nil
}

// Remove drops a pending item
func (q *MemoryQueue[T]) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(id)
	return nil
}

func (q *MemoryQueue[T]) removeLocked(id string) bool {
	for i, item := range q.pending {
		if item.ItemID() == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

// MoveToHistory removes the item and appends it to history under one lock
func (q *MemoryQueue[T]) MoveToHistory(ctx context.Context, item T, outcome string, at time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.removeLocked(item.ItemID()) {
		return false, nil
	}
	q.history = append(q.history, item.Completed(outcome, at))
	return true, nil
}

// GetHistory finds a history item by id
func (q *MemoryQueue[T]) GetHistory(ctx context.Context, id string) (*T, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, item := range q.history {
		if item.ItemID() == id {
			found := item
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

// ListHistory returns history newest first
func (q *MemoryQueue[T]) ListHistory(ctx context.Context, limit int) ([]T, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]T, 0, len(q.history))
	for i := len(q.history) - 1; i >= 0; i-- {
		out = append(out, q.history[i])
	}
	return headOf(out, limit), nil
}

// ExistsOrder checks pending items and history for an order id
func (q *MemoryQueue[T]) ExistsOrder(ctx context.Context, orderID string) (bool, error) {
	if orderID == "" {
		return false, nil
	}
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, item := range q.pending {
		if item.ExternalOrderID() == orderID {
			return true, nil
		}
	}
	for _, item := range q.history {
		if item.ExternalOrderID() == orderID {
			return true, nil
		}
	}
	return false, nil
}

// PruneHistory deletes history completed before the cutoff
func (q *MemoryQueue[T]) PruneHistory(ctx context.Context, completedBefore time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.history[:0]
	removed := 0
	for _, item := range q.history {
		if completedAt(item).Before(completedBefore) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.history = kept
	return removed, nil
}

func completedAt[T QueueItem[T]](item T) time.Time {
	switch v := any(item).(type) {
	case types.DonationItem:
		if v.CompletedAt != nil {
			return *v.CompletedAt
		}
	case types.MediaItem:
		if v.CompletedAt != nil {
			return *v.CompletedAt
		}
	}
	return item.CreatedTime()
}

func headOf[T any](items []T, limit int) []T {
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}
	out := make([]T, limit)
	copy(out, items[:limit])
	return out
}

// MemoryStore implements the non-queue repositories in process memory
type MemoryStore struct {
	mu       sync.Mutex
	states   map[types.QueueKind]types.ProcessingState
	settings *types.ChannelSettings
	bans     map[types.BanKind]map[string]types.Ban
	terms    map[string]types.BannedTerm
	drafts   map[string]types.DonationDraft
	jobs     map[string]types.IngestJob
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[types.QueueKind]types.ProcessingState),
		bans: map[types.BanKind]map[string]types.Ban{
			types.BanPayer: {},
			types.BanVideo: {},
		},
		terms:  make(map[string]types.BannedTerm),
		drafts: make(map[string]types.DonationDraft),
		jobs:   make(map[string]types.IngestJob),
	}
}

// LoadProcessingState returns the stored state or a zero state
func (s *MemoryStore) LoadProcessingState(ctx context.Context, queue types.QueueKind) (types.ProcessingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[queue]
	if !ok {
		return types.ProcessingState{Queue: queue}, nil
	}
	return state, nil
}

// SwapProcessingState writes next when the stored version matches
func (s *MemoryStore) SwapProcessingState(ctx context.Context, expectedVersion int64, next types.ProcessingState) (types.ProcessingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.states[next.Queue].Version != expectedVersion {
		return types.ProcessingState{}, ErrVersionConflict
	}
	next.Version = expectedVersion + 1
	s.states[next.Queue] = next
	return next, nil
}

// LoadChannelSettings returns saved settings or the defaults
func (s *MemoryStore) LoadChannelSettings(ctx context.Context) (types.ChannelSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings == nil {
		return types.DefaultChannelSettings(), nil
	}
	return *s.settings, nil
}

// SaveChannelSettings replaces the channel settings
func (s *MemoryStore) SaveChannelSettings(ctx context.Context, settings types.ChannelSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &settings
	return nil
}

// PutBan stores or replaces a ban
func (s *MemoryStore) PutBan(ctx context.Context, ban types.Ban) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bans[ban.Kind] == nil {
		s.bans[ban.Kind] = make(map[string]types.Ban)
	}
	s.bans[ban.Kind][ban.Value] = ban
	return nil
}

// DeleteBan removes a ban
func (s *MemoryStore) DeleteBan(ctx context.Context, kind types.BanKind, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bans[kind], value)
	return nil
}

// ListBans returns all bans of a kind
func (s *MemoryStore) ListBans(ctx context.Context, kind types.BanKind) ([]types.Ban, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Ban, 0, len(s.bans[kind]))
	for _, ban := range s.bans[kind] {
		out = append(out, ban)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out, nil
}

// AddTerm stores a banned term
func (s *MemoryStore) AddTerm(ctx context.Context, term types.BannedTerm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terms[term.Term] = term
	return nil
}

// RemoveTerm deletes a banned term
func (s *MemoryStore) RemoveTerm(ctx context.Context, term string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.terms, term)
	return nil
}

// ListTerms returns banned terms sorted alphabetically
func (s *MemoryStore) ListTerms(ctx context.Context) ([]types.BannedTerm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.BannedTerm, 0, len(s.terms))
	for _, term := range s.terms {
		out = append(out, term)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return out, nil
}

// SaveDraft stores a donation draft
func (s *MemoryStore) SaveDraft(ctx context.Context, draft types.DonationDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[draft.OrderID] = draft
	return nil
}

// GetDraft returns a draft or ErrNotFound
func (s *MemoryStore) GetDraft(ctx context.Context, orderID string) (*types.DonationDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, ok := s.drafts[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &draft, nil
}

// DeleteDraft removes a draft
func (s *MemoryStore) DeleteDraft(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, orderID)
	return nil
}

// CreateJob stores a new job unless one with the same id exists
func (s *MemoryStore) CreateJob(ctx context.Context, job types.IngestJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicate
	}
	s.jobs[job.ID] = job
	return nil
}

// ClaimJob leases the oldest claimable job
func (s *MemoryStore) ClaimJob(ctx context.Context, now time.Time, lease time.Duration) (*types.IngestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *types.IngestJob
	for id := range s.jobs {
		job := s.jobs[id]
		if !job.Claimable(now) {
			continue
		}
		if best == nil || job.CreatedAt.Before(best.CreatedAt) {
			candidate := job
			best = &candidate
		}
	}
	if best == nil {
		return nil, nil
	}

	until := now.Add(lease)
	best.Status = types.JobProcessing
	best.LeaseUntil = &until
	best.Attempts++
	best.UpdatedAt = now
	s.jobs[best.ID] = *best
	return best, nil
}

// SaveJob replaces a job
func (s *MemoryStore) SaveJob(ctx context.Context, job types.IngestJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

// GetJob returns a job or ErrNotFound
func (s *MemoryStore) GetJob(ctx context.Context, id string) (*types.IngestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

// ListJobs returns jobs with the given status, or all jobs for ""
func (s *MemoryStore) ListJobs(ctx context.Context, status string) ([]types.IngestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.IngestJob, 0)
	for _, job := range s.jobs {
		if status == "" || job.Status == status {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
