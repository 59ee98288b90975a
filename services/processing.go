/*
# Module: services/processing.go
Per-queue processing state machine coordinating the overlay and operator controls.

## Linked Modules
- [services/queues](./queues.go) - Queue view
- [storage/repository](../storage/repository.go) - Versioned state repository
- [types/processing](../types/processing.go) - ProcessingState

## Tags
services, state-machine, overlay, concurrency

## Exports
Processor, NewProcessor, ConflictError, ErrPaused, RecoveryItemID

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "services/processing.go" ;
    code:description "Per-queue processing state machine coordinating the overlay and operator controls" ;
    code:linksTo [
        code:name "services/queues" ;
        code:path "./queues.go" ;
        code:relationship "Queue view"
    ], [
        code:name "storage/repository" ;
        code:path "../storage/repository.go" ;
        code:relationship "Versioned state repository"
    ], [
        code:name "types/processing" ;
        code:path "../types/processing.go" ;
        code:relationship "ProcessingState"
    ] ;
    code:exports :Processor, :NewProcessor, :ConflictError, :ErrPaused, :RecoveryItemID ;
    code:tags "services", "state-machine", "overlay", "concurrency" .
<!-- End LinkedDoc RDF -->
*/
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"donation-alerts/storage"
	"donation-alerts/types"
)

// RecoveryItemID passed to Finish force-clears the slot instead of completing an item
const RecoveryItemID = "recovery"

const maxSwapAttempts = 8

var (
	// ErrPaused is returned by Start while the queue is paused
	ErrPaused = errors.New("processing is paused")
	// ErrUnknownQueue is returned for a queue kind with no registered queue
	ErrUnknownQueue = errors.New("unknown queue")

	errNoChange = errors.New("no change")
)

// ConflictError is returned by Start when another item holds the slot
type ConflictError struct {
	Queue         types.QueueKind
	CurrentItemID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s queue is busy with item %s", e.Queue, e.CurrentItemID)
}

// Processor owns every transition of the donation and media processing
// states. All writes go through a versioned compare-and-set.
type Processor struct {
	states     storage.StateRepository
	queues     map[types.QueueKind]Queue
	publisher  Publisher
	staleAfter time.Duration
	logger     zerolog.Logger

	// Now is replaceable in tests
	Now func() time.Time
}

// NewProcessor creates a processor over the given queues
func NewProcessor(states storage.StateRepository, publisher Publisher, staleAfter time.Duration, logger zerolog.Logger, queues ...Queue) *Processor {
	p := &Processor{
		states:     states,
		queues:     make(map[types.QueueKind]Queue, len(queues)),
		publisher:  publisher,
		staleAfter: staleAfter,
		logger:     logger.With().Str("component", "processor").Logger(),
		Now:        func() time.Time { return time.Now().UTC() },
	}
	for _, q := range queues {
		p.queues[q.Kind()] = q
	}
	return p
}

// Queue returns the registered queue for kind
func (p *Processor) Queue(kind types.QueueKind) (Queue, error) {
	q, ok := p.queues[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, kind)
	}
	return q, nil
}

// Kinds lists the registered queues in display order
func (p *Processor) Kinds() []types.QueueKind {
	var kinds []types.QueueKind
	for _, kind := range []types.QueueKind{types.QueueDonation, types.QueueMedia} {
		if _, ok := p.queues[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// mutate applies fn to the latest state and writes it back, retrying on
// version conflicts. fn returning errNoChange skips the write.
func (p *Processor) mutate(ctx context.Context, kind types.QueueKind, fn func(state *types.ProcessingState) error) (types.ProcessingState, bool, error) {
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		current, err := p.states.LoadProcessingState(ctx, kind)
		if err != nil {
			return types.ProcessingState{}, false, fmt.Errorf("failed to load processing state: %w", err)
		}
		current.Queue = kind

		next := current
		if err := fn(&next); err != nil {
			if errors.Is(err, errNoChange) {
				return current, false, nil
			}
			return current, false, err
		}
		next.UpdatedAt = p.Now()

		stored, err := p.states.SwapProcessingState(ctx, current.Version, next)
		if errors.Is(err, storage.ErrVersionConflict) {
			p.logger.Debug().
				Str("queue", string(kind)).
				Int("attempt", attempt+1).
				Msg("🔁 processing state changed concurrently, retrying")
			continue
		}
		if err != nil {
			return current, false, fmt.Errorf("failed to save processing state: %w", err)
		}
		stored.Queue = kind
		return stored, true, nil
	}
	return types.ProcessingState{}, false, fmt.Errorf("failed to update processing state: %w", storage.ErrVersionConflict)
}

// abandoned reports whether the item holding the slot can be force-cleared
func (p *Processor) abandoned(ctx context.Context, q Queue, state types.ProcessingState) (bool, error) {
	if state.StartedAt == nil {
		return true, nil
	}
	if p.Now().Sub(*state.StartedAt) > p.staleAfter {
		return true, nil
	}
	pending, err := q.Contains(ctx, state.CurrentItemID)
	if err != nil {
		return false, fmt.Errorf("failed to look up current item: %w", err)
	}
	return !pending, nil
}

// Start marks id as the item being displayed. A different current item is
// a conflict unless it is stale or no longer queued.
func (p *Processor) Start(ctx context.Context, kind types.QueueKind, id string) (types.ProcessingState, error) {
	q, err := p.Queue(kind)
	if err != nil {
		return types.ProcessingState{}, err
	}

	pending, err := q.Contains(ctx, id)
	if err != nil {
		return types.ProcessingState{}, fmt.Errorf("failed to look up item: %w", err)
	}
	if !pending {
		return types.ProcessingState{}, storage.ErrNotFound
	}

	var previous string
	state, _, err := p.mutate(ctx, kind, func(state *types.ProcessingState) error {
		previous = ""
		if state.Paused {
			return ErrPaused
		}
		if state.HasCurrent() && state.CurrentItemID != id {
			stale, err := p.abandoned(ctx, q, *state)
			if err != nil {
				return err
			}
			if !stale {
				return &ConflictError{Queue: kind, CurrentItemID: state.CurrentItemID}
			}
			previous = state.CurrentItemID
			state.Clear()
		}
		now := p.Now()
		state.CurrentItemID = id
		state.IsDisplaying = true
		state.StartedAt = &now
		return nil
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			p.logger.Info().
				Str("queue", string(kind)).
				Str("item_id", id).
				Str("current_item_id", conflict.CurrentItemID).
				Msg("⛔ start rejected, another item is current")
		}
		return state, err
	}

	if previous != "" {
		p.logger.Warn().
			Str("queue", string(kind)).
			Str("abandoned_item_id", previous).
			Str("item_id", id).
			Msg("🩹 recovered abandoned processing state")
		p.publish(types.NewEvent(types.EventProcessingRecovered, kind, previous).With("next_item_id", id))
	}

	p.logger.Info().Str("queue", string(kind)).Str("item_id", id).Msg("▶️  processing started")
	p.publish(types.NewEvent(types.EventProcessingStarted, kind, id))
	return state, nil
}

// Finish moves id to history and frees the slot. Finishing an item that
// already left the queue succeeds without touching history. It reports
// whether this call moved the item.
func (p *Processor) Finish(ctx context.Context, kind types.QueueKind, id string) (bool, error) {
	if id == RecoveryItemID {
		_, err := p.Recover(ctx, kind)
		return false, err
	}
	moved, err := p.complete(ctx, kind, id, types.OutcomeFinished)
	if err != nil {
		return false, err
	}

	p.logger.Info().
		Str("queue", string(kind)).
		Str("item_id", id).
		Bool("moved", moved).
		Msg("✅ processing finished")
	p.publish(types.NewEvent(types.EventProcessingFinished, kind, id).With("moved", moved))
	p.publishQueueUpdated(ctx, kind)
	return moved, nil
}

// Skip completes an item on the operator's behalf. With an empty id the
// current item is skipped, or the queue head when nothing is current.
func (p *Processor) Skip(ctx context.Context, kind types.QueueKind, id string) (string, error) {
	q, err := p.Queue(kind)
	if err != nil {
		return "", err
	}

	if id == "" {
		state, err := p.states.LoadProcessingState(ctx, kind)
		if err != nil {
			return "", fmt.Errorf("failed to load processing state: %w", err)
		}
		id = state.CurrentItemID
	}
	if id == "" {
		head, err := q.Head(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to read queue head: %w", err)
		}
		item, ok := head.(interface{ ItemID() string })
		if !ok {
			return "", storage.ErrNotFound
		}
		id = item.ItemID()
	}

	if _, err := p.complete(ctx, kind, id, types.OutcomeSkipped); err != nil {
		return "", err
	}

	p.logger.Info().Str("queue", string(kind)).Str("item_id", id).Msg("⏭️  item skipped")
	p.publish(types.NewEvent(types.EventSkipRequested, kind, id))
	p.publishQueueUpdated(ctx, kind)
	return id, nil
}

// complete moves the item to history first, then clears the slot if it
// still points at id
func (p *Processor) complete(ctx context.Context, kind types.QueueKind, id, outcome string) (bool, error) {
	q, err := p.Queue(kind)
	if err != nil {
		return false, err
	}
	moved, err := q.Complete(ctx, id, outcome, p.Now())
	if err != nil {
		return false, fmt.Errorf("failed to move item to history: %w", err)
	}

	_, _, err = p.mutate(ctx, kind, func(state *types.ProcessingState) error {
		if state.HasCurrent() && state.CurrentItemID != id {
			return errNoChange
		}
		if !state.HasCurrent() && !state.IsDisplaying {
			return errNoChange
		}
		state.Clear()
		return nil
	})
	if err != nil {
		return moved, err
	}
	return moved, nil
}

// Pause stops display and keeps the current item for a restart on resume
func (p *Processor) Pause(ctx context.Context, kind types.QueueKind) (types.ProcessingState, error) {
	if _, err := p.Queue(kind); err != nil {
		return types.ProcessingState{}, err
	}
	state, changed, err := p.mutate(ctx, kind, func(state *types.ProcessingState) error {
		if state.Paused && !state.IsDisplaying {
			return errNoChange
		}
		state.Paused = true
		state.IsDisplaying = false
		return nil
	})
	if err != nil {
		return state, err
	}
	if changed {
		p.logger.Info().Str("queue", string(kind)).Str("current_item_id", state.CurrentItemID).Msg("⏸️  processing paused")
	}
	p.publish(types.NewEvent(types.EventPause, kind, state.CurrentItemID))
	return state, nil
}

// Resume unpauses. Display stays off so the overlay restarts the retained
// item or pulls the next head.
func (p *Processor) Resume(ctx context.Context, kind types.QueueKind) (types.ProcessingState, error) {
	if _, err := p.Queue(kind); err != nil {
		return types.ProcessingState{}, err
	}
	state, changed, err := p.mutate(ctx, kind, func(state *types.ProcessingState) error {
		if !state.Paused && !state.IsDisplaying {
			return errNoChange
		}
		state.Paused = false
		state.IsDisplaying = false
		if state.HasCurrent() {
			now := p.Now()
			state.StartedAt = &now
		}
		return nil
	})
	if err != nil {
		return state, err
	}
	if changed {
		p.logger.Info().Str("queue", string(kind)).Str("current_item_id", state.CurrentItemID).Msg("▶️  processing resumed")
	}
	p.publish(types.NewEvent(types.EventResume, kind, state.CurrentItemID))
	return state, nil
}

// Recover force-clears the slot, keeping the pause flag
func (p *Processor) Recover(ctx context.Context, kind types.QueueKind) (types.ProcessingState, error) {
	if _, err := p.Queue(kind); err != nil {
		return types.ProcessingState{}, err
	}
	var previous string
	state, _, err := p.mutate(ctx, kind, func(state *types.ProcessingState) error {
		previous = state.CurrentItemID
		if !state.HasCurrent() && !state.IsDisplaying && state.StartedAt == nil {
			return errNoChange
		}
		state.Clear()
		return nil
	})
	if err != nil {
		return state, err
	}

	p.logger.Warn().Str("queue", string(kind)).Str("previous_item_id", previous).Msg("🩹 processing state force-cleared")
	p.publish(types.NewEvent(types.EventProcessingRecovered, kind, previous))
	return state, nil
}

// Next returns the item the overlay should play: the retained current item
// when it is still queued, otherwise the head. Nil while paused or empty.
func (p *Processor) Next(ctx context.Context, kind types.QueueKind) (interface{}, error) {
	q, err := p.Queue(kind)
	if err != nil {
		return nil, err
	}
	state, err := p.states.LoadProcessingState(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load processing state: %w", err)
	}
	if state.Paused {
		return nil, nil
	}
	if state.HasCurrent() {
		pending, err := q.Contains(ctx, state.CurrentItemID)
		if err != nil {
			return nil, err
		}
		if pending {
			return q.Find(ctx, state.CurrentItemID)
		}
	}
	return q.Head(ctx)
}

// Status returns the state, queue length, head and current item of a queue
func (p *Processor) Status(ctx context.Context, kind types.QueueKind) (types.QueueStatus, error) {
	q, err := p.Queue(kind)
	if err != nil {
		return types.QueueStatus{}, err
	}
	state, err := p.states.LoadProcessingState(ctx, kind)
	if err != nil {
		return types.QueueStatus{}, fmt.Errorf("failed to load processing state: %w", err)
	}
	state.Queue = kind

	length, err := q.Length(ctx)
	if err != nil {
		return types.QueueStatus{}, fmt.Errorf("failed to count queue: %w", err)
	}
	head, err := q.Head(ctx)
	if err != nil {
		return types.QueueStatus{}, fmt.Errorf("failed to read queue head: %w", err)
	}

	status := types.QueueStatus{Queue: kind, State: state, Length: length, Head: head}
	if state.HasCurrent() {
		current, err := q.Find(ctx, state.CurrentItemID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return types.QueueStatus{}, fmt.Errorf("failed to read current item: %w", err)
		}
		status.Current = current
	}
	return status, nil
}

// StatusAll returns Status for every registered queue
func (p *Processor) StatusAll(ctx context.Context) ([]types.QueueStatus, error) {
	var out []types.QueueStatus
	for _, kind := range p.Kinds() {
		status, err := p.Status(ctx, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}

func (p *Processor) publishQueueUpdated(ctx context.Context, kind types.QueueKind) {
	event := types.NewEvent(types.EventQueueUpdated, kind, "")
	if q, err := p.Queue(kind); err == nil {
		if length, err := q.Length(ctx); err == nil {
			event = event.With("length", length)
		}
	}
	p.publish(event)
}

func (p *Processor) publish(event types.Event) {
	if p.publisher == nil {
		return
	}
	event.Timestamp = p.Now()
	p.publisher.Broadcast(event)
}
