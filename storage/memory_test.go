package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donation-alerts/types"
)

func donation(id, order string, created time.Time) types.DonationItem {
	return types.DonationItem{
		ID:              id,
		OrderID:         order,
		Name:            "viewer",
		OriginalName:    "viewer",
		Amount:          types.MustAmount("5.00"),
		Message:         "[REDACTED] hi",
		OriginalMessage: "secret hi",
		CreatedAt:       created,
	}
}

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue[types.DonationItem]()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, q.Enqueue(ctx, donation("A", "o1", base)))
	require.NoError(t, q.Enqueue(ctx, donation("B", "o2", base.Add(time.Second))))
	require.NoError(t, q.Enqueue(ctx, donation("C", "o3", base.Add(2*time.Second))))

	var got []string
	for {
		head, err := q.PeekOldest(ctx)
		require.NoError(t, err)
		if head == nil {
			break
		}
		got = append(got, head.ID)
		require.NoError(t, q.Remove(ctx, head.ID))
	}
	assert.Equal(t, []string{"A", "B", "C"}, got)
}

func TestMemoryQueueTiesBrokenByID(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue[types.DonationItem]()
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, q.Enqueue(ctx, donation("b", "o2", at)))
	require.NoError(t, q.Enqueue(ctx, donation("a", "o1", at)))
	require.NoError(t, q.Enqueue(ctx, donation("c", "o0", at.Add(-time.Second))))

	items, err := q.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "c", items[0].ID)
	assert.Equal(t, "a", items[1].ID)
	assert.Equal(t, "b", items[2].ID)
}

func TestMemoryQueueMoveToHistoryOnce(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue[types.DonationItem]()
	item := donation("A", "order-1", time.Now())
	require.NoError(t, q.Enqueue(ctx, item))

	moved, err := q.MoveToHistory(ctx, item, types.OutcomeFinished, time.Now())
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = q.MoveToHistory(ctx, item, types.OutcomeFinished, time.Now())
	require.NoError(t, err)
	assert.False(t, moved)

	history, err := q.ListHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "secret hi", history[0].OriginalMessage)
	assert.Equal(t, "[REDACTED] hi", history[0].Message)
	assert.Equal(t, types.OutcomeFinished, history[0].Outcome)
	assert.NotNil(t, history[0].CompletedAt)

	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryQueueExistsOrderSpansHistory(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue[types.DonationItem]()
	item := donation("A", "X1", time.Now())

	exists, err := q.ExistsOrder(ctx, "X1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, q.Enqueue(ctx, item))
	exists, err = q.ExistsOrder(ctx, "X1")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = q.MoveToHistory(ctx, item, types.OutcomeSkipped, time.Now())
	require.NoError(t, err)
	exists, err = q.ExistsOrder(ctx, "X1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = q.ExistsOrder(ctx, "")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryQueuePruneHistory(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue[types.MediaItem]()
	now := time.Now()

	old := types.MediaItem{ID: "old", VideoID: "v1", CreatedAt: now.Add(-96 * time.Hour)}
	fresh := types.MediaItem{ID: "fresh", VideoID: "v2", CreatedAt: now}
	require.NoError(t, q.Enqueue(ctx, old))
	require.NoError(t, q.Enqueue(ctx, fresh))
	_, err := q.MoveToHistory(ctx, old, types.OutcomeFinished, now.Add(-80*time.Hour))
	require.NoError(t, err)
	_, err = q.MoveToHistory(ctx, fresh, types.OutcomeFinished, now)
	require.NoError(t, err)

	removed, err := q.PruneHistory(ctx, now.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = q.GetHistory(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = q.GetHistory(ctx, "fresh")
	assert.NoError(t, err)
}

func TestMemoryStoreSwapProcessingState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	state, err := store.LoadProcessingState(ctx, types.QueueMedia)
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.Version)

	state.CurrentItemID = "A"
	state.IsDisplaying = true
	saved, err := store.SwapProcessingState(ctx, 0, state)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	// a writer holding the stale version loses
	state.CurrentItemID = "B"
	_, err = store.SwapProcessingState(ctx, 0, state)
	assert.ErrorIs(t, err, ErrVersionConflict)

	loaded, err := store.LoadProcessingState(ctx, types.QueueMedia)
	require.NoError(t, err)
	assert.Equal(t, "A", loaded.CurrentItemID)

	other, err := store.LoadProcessingState(ctx, types.QueueDonation)
	require.NoError(t, err)
	assert.False(t, other.HasCurrent())
}

func TestMemoryStoreClaimJob(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	require.NoError(t, store.CreateJob(ctx, types.IngestJob{ID: "later", Status: types.JobPending, CreatedAt: now, NextRetryAt: now.Add(time.Hour)}))
	require.NoError(t, store.CreateJob(ctx, types.IngestJob{ID: "due", Status: types.JobPending, CreatedAt: now, NextRetryAt: now}))
	assert.ErrorIs(t, store.CreateJob(ctx, types.IngestJob{ID: "due"}), ErrDuplicate)

	job, err := store.ClaimJob(ctx, now, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "due", job.ID)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, types.JobProcessing, job.Status)

	// leased job is not claimable again until the lease runs out
	job, err = store.ClaimJob(ctx, now, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = store.ClaimJob(ctx, now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "due", job.ID)
	assert.Equal(t, 2, job.Attempts)
}

func TestPositionSortsByTimeThenID(t *testing.T) {
	at := time.Unix(100, 0)
	assert.Less(t, Position(at, "a"), Position(at, "b"))
	assert.Less(t, Position(at, "z"), Position(at.Add(time.Nanosecond), "a"))
}
