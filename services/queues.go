/*
# Module: services/queues.go
Type-erased view of a donation or media queue used by the state machine and admin APIs.

## Linked Modules
- [storage/repository](../storage/repository.go) - Generic queue repository

## Tags
services, queue, adapter

## Exports
Queue, NewQueue, Publisher, PublisherFunc

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "services/queues.go" ;
    code:description "Type-erased view of a donation or media queue used by the state machine and admin APIs" ;
    code:linksTo [
        code:name "storage/repository" ;
        code:path "../storage/repository.go" ;
        code:relationship "Generic queue repository"
    ] ;
    code:exports :Queue, :NewQueue, :Publisher, :PublisherFunc ;
    code:tags "services", "queue", "adapter" .
<!-- End LinkedDoc RDF -->
*/
package services

import (
	"context"
	"errors"
	"time"

	"donation-alerts/storage"
	"donation-alerts/types"
)

// Publisher fans events out to connected clients
type Publisher interface {
	Broadcast(event types.Event)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(event types.Event)

// Broadcast calls f(event)
func (f PublisherFunc) Broadcast(event types.Event) { f(event) }

// Queue is the part of a typed queue the processor and handlers need
type Queue interface {
	Kind() types.QueueKind
	// Contains reports whether id is still pending
	Contains(ctx context.Context, id string) (bool, error)
	// Complete moves a pending item to history; false when it was already gone
	Complete(ctx context.Context, id, outcome string, at time.Time) (bool, error)
	Head(ctx context.Context) (interface{}, error)
	Length(ctx context.Context) (int, error)
	Pending(ctx context.Context, limit int) (interface{}, error)
	History(ctx context.Context, limit int) (interface{}, error)
	// Find looks in pending items first, then history
	Find(ctx context.Context, id string) (interface{}, error)
	Prune(ctx context.Context, completedBefore time.Time) (int, error)
}

type queue[T storage.QueueItem[T]] struct {
	kind types.QueueKind
	repo storage.QueueRepository[T]
}

// NewQueue wraps a typed repository
func NewQueue[T storage.QueueItem[T]](kind types.QueueKind, repo storage.QueueRepository[T]) Queue {
	return &queue[T]{kind: kind, repo: repo}
}

func (q *queue[T]) Kind() types.QueueKind { return q.kind }

func (q *queue[T]) Contains(ctx context.Context, id string) (bool, error) {
	_, err := q.repo.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (q *queue[T]) Complete(ctx context.Context, id, outcome string, at time.Time) (bool, error) {
	item, err := q.repo.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return q.repo.MoveToHistory(ctx, *item, outcome, at)
}

func (q *queue[T]) Head(ctx context.Context) (interface{}, error) {
	head, err := q.repo.PeekOldest(ctx)
	if err != nil || head == nil {
		return nil, err
	}
	return *head, nil
}

func (q *queue[T]) Length(ctx context.Context) (int, error) {
	return q.repo.Count(ctx)
}

func (q *queue[T]) Pending(ctx context.Context, limit int) (interface{}, error) {
	items, err := q.repo.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func (q *queue[T]) History(ctx context.Context, limit int) (interface{}, error) {
	items, err := q.repo.ListHistory(ctx, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func (q *queue[T]) Find(ctx context.Context, id string) (interface{}, error) {
	item, err := q.repo.Get(ctx, id)
	if err == nil {
		return *item, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	item, err = q.repo.GetHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	return *item, nil
}

func (q *queue[T]) Prune(ctx context.Context, completedBefore time.Time) (int, error) {
	return q.repo.PruneHistory(ctx, completedBefore)
}
