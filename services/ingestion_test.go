package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donation-alerts/clients"
	"donation-alerts/moderation"
	"donation-alerts/storage"
	"donation-alerts/types"
)

type stubCompleter struct {
	mu    sync.Mutex
	calls int
	reply string
	err   error
}

func (c *stubCompleter) ChatCompletion(ctx context.Context, messages []clients.ChatMessage) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.reply, c.err
}

func (c *stubCompleter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type stubMetadata struct {
	meta types.VideoMetadata
	err  error
}

func (s stubMetadata) VideoMetadata(ctx context.Context, videoID string) (types.VideoMetadata, error) {
	return s.meta, s.err
}

type ingestFixture struct {
	ctx       context.Context
	store     *storage.MemoryStore
	donations *storage.MemoryQueue[types.DonationItem]
	media     *storage.MemoryQueue[types.MediaItem]
	judge     *stubCompleter
	bans      *BanManager
	events    *recordingPublisher
	ingestor  *Ingestor
}

func newIngestFixture(t *testing.T, meta MetadataFetcher) *ingestFixture {
	t.Helper()
	f := &ingestFixture{
		ctx:       context.Background(),
		store:     storage.NewMemoryStore(),
		donations: storage.NewMemoryQueue[types.DonationItem](),
		media:     storage.NewMemoryQueue[types.MediaItem](),
		judge:     &stubCompleter{reply: `[{"text_id":"TEXT0","contains_banned":false,"matched_words":[],"confidence":95,"reasoning":"clean"},{"text_id":"TEXT1","contains_banned":false,"matched_words":[],"confidence":95,"reasoning":"clean"}]`},
		events:    &recordingPublisher{},
	}
	f.bans = NewBanManager(f.store, zerolog.Nop())
	filter := moderation.NewFilter(moderation.NewLLMJudge(f.judge, time.Second, nil), nil, moderation.Config{}, zerolog.Nop())
	f.ingestor = NewIngestor(IngestorDeps{
		Donations:          f.donations,
		Media:              f.media,
		Settings:           f.store,
		Terms:              f.store,
		Filter:             filter,
		Bans:               f.bans,
		Metadata:           meta,
		Publisher:          f.events,
		Phonetic:           true,
		DirectAdjudication: true,
	}, zerolog.Nop())
	return f
}

func (f *ingestFixture) addTerm(t *testing.T, term string) {
	t.Helper()
	require.NoError(t, f.store.AddTerm(f.ctx, types.BannedTerm{Term: term}))
}

func confirmation(orderID string) types.PaymentConfirmation {
	return types.PaymentConfirmation{
		OrderID:    orderID,
		PayerToken: "payer-1",
		Source:     "paypal",
		Name:       "viewer",
		Message:    "hello world",
		Amount:     types.MustAmount("5.00"),
		Currency:   "USD",
		CapturedAt: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC),
	}
}

func TestIngestDuplicateOrderIsNoop(t *testing.T) {
	f := newIngestFixture(t, nil)

	exists, err := f.donations.ExistsOrder(f.ctx, "X1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, f.ingestor.Ingest(f.ctx, confirmation("X1")))
	require.NoError(t, f.ingestor.Ingest(f.ctx, confirmation("X1")))

	exists, err = f.donations.ExistsOrder(f.ctx, "X1")
	require.NoError(t, err)
	assert.True(t, exists)

	count, err := f.donations.Count(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIngestDuplicateAfterHistoryIsNoop(t *testing.T) {
	f := newIngestFixture(t, nil)
	require.NoError(t, f.ingestor.Ingest(f.ctx, confirmation("X1")))

	head, err := f.donations.PeekOldest(f.ctx)
	require.NoError(t, err)
	moved, err := f.donations.MoveToHistory(f.ctx, *head, types.OutcomeFinished, time.Now())
	require.NoError(t, err)
	require.True(t, moved)

	require.NoError(t, f.ingestor.Ingest(f.ctx, confirmation("X1")))
	count, err := f.donations.Count(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestIngestFiltersNameAndMessageInOneCall(t *testing.T) {
	f := newIngestFixture(t, nil)
	f.addTerm(t, "secretplace")
	conf := confirmation("X2")
	conf.Name = ""

	require.NoError(t, f.ingestor.Ingest(f.ctx, conf))

	head, err := f.donations.PeekOldest(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, DefaultDisplayName, head.Name)
	assert.Equal(t, "hello world", head.Message)
	assert.False(t, head.WasFiltered)
	assert.Equal(t, 1, f.judge.Calls())
}

func TestIngestRedactsAndKeepsOriginal(t *testing.T) {
	f := newIngestFixture(t, nil)
	f.judge.err = errors.New("judge offline")
	f.addTerm(t, "banned term")
	conf := confirmation("X3")
	conf.Message = "b a n n e d term here"

	require.NoError(t, f.ingestor.Ingest(f.ctx, conf))

	head, err := f.donations.PeekOldest(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.True(t, head.WasFiltered)
	assert.Equal(t, "[REDACTED] here", head.Message)
	assert.Equal(t, "b a n n e d term here", head.OriginalMessage)
}

func TestIngestBypassFilterKeepsText(t *testing.T) {
	f := newIngestFixture(t, nil)
	f.judge.err = errors.New("judge offline")
	f.addTerm(t, "banned term")
	conf := confirmation("ADMIN-1")
	conf.Message = "b a n n e d term here"
	conf.BypassFilter = true

	require.NoError(t, f.ingestor.Ingest(f.ctx, conf))

	head, err := f.donations.PeekOldest(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.False(t, head.WasFiltered)
	assert.Equal(t, "b a n n e d term here", head.Message)
	assert.Equal(t, 0, f.judge.Calls())
}

func TestIngestRejectsBannedPayer(t *testing.T) {
	f := newIngestFixture(t, nil)
	_, err := f.bans.Ban(f.ctx, types.BanPayer, "payer-1", 0, "spam", "admin")
	require.NoError(t, err)

	err = f.ingestor.Ingest(f.ctx, confirmation("X4"))
	assert.ErrorIs(t, err, ErrBanned)

	count, err := f.donations.Count(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Zero(t, f.judge.Calls())
}

func TestIngestEnqueuesMediaWithMetadata(t *testing.T) {
	f := newIngestFixture(t, stubMetadata{meta: types.VideoMetadata{Title: "Song", ThumbnailURL: "https://thumb", Author: "Band"}})
	conf := confirmation("X5")
	conf.MediaURL = "https://youtu.be/dQw4w9WgXcQ"
	conf.MediaStartSecs = 42

	require.NoError(t, f.ingestor.Ingest(f.ctx, conf))

	head, err := f.media.PeekOldest(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "X5", head.OrderID)
	assert.Equal(t, "dQw4w9WgXcQ", head.VideoID)
	assert.Equal(t, 42, head.StartSeconds)
	assert.Equal(t, "Song", head.Title)
	assert.Equal(t, "viewer", head.RequesterName)

	var queues []types.QueueKind
	for _, e := range f.events.events {
		if e.Type == types.EventQueueUpdated {
			queues = append(queues, e.Queue)
		}
	}
	assert.Equal(t, []types.QueueKind{types.QueueDonation, types.QueueMedia}, queues)
}

func TestIngestMediaMetadataFallback(t *testing.T) {
	f := newIngestFixture(t, stubMetadata{err: errors.New("oembed down")})
	conf := confirmation("X6")
	conf.MediaURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

	require.NoError(t, f.ingestor.Ingest(f.ctx, conf))

	head, err := f.media.PeekOldest(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "YouTube Video dQw4w9WgXcQ", head.Title)
	assert.Equal(t, "https://img.youtube.com/vi/dQw4w9WgXcQ/default.jpg", head.ThumbnailURL)
}

func TestIngestSkipsMediaWhenDisabledOrBanned(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *ingestFixture)
		url   string
	}{
		{
			name: "media requests disabled",
			setup: func(t *testing.T, f *ingestFixture) {
				settings := types.DefaultChannelSettings()
				settings.MediaRequestsEnabled = false
				require.NoError(t, f.store.SaveChannelSettings(f.ctx, settings))
			},
			url: "https://youtu.be/dQw4w9WgXcQ",
		},
		{
			name: "banned video",
			setup: func(t *testing.T, f *ingestFixture) {
				_, err := f.bans.Ban(f.ctx, types.BanVideo, "dQw4w9WgXcQ", 0, "", "admin")
				require.NoError(t, err)
			},
			url: "https://youtu.be/dQw4w9WgXcQ",
		},
		{
			name:  "unrecognized url",
			setup: func(t *testing.T, f *ingestFixture) {},
			url:   "https://example.com/video",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newIngestFixture(t, nil)
			tt.setup(t, f)
			conf := confirmation("X7")
			conf.MediaURL = tt.url

			require.NoError(t, f.ingestor.Ingest(f.ctx, conf))

			donations, err := f.donations.Count(f.ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, donations)
			media, err := f.media.Count(f.ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, media)
		})
	}
}

func TestIngestRetryAddsOnlyMissingMedia(t *testing.T) {
	f := newIngestFixture(t, nil)
	conf := confirmation("X8")
	conf.MediaURL = "https://youtu.be/dQw4w9WgXcQ"

	plain := conf
	plain.MediaURL = ""
	require.NoError(t, f.ingestor.Ingest(f.ctx, plain))
	require.NoError(t, f.ingestor.Ingest(f.ctx, conf))

	donations, err := f.donations.Count(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, donations)
	media, err := f.media.Count(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, media)
}

func TestEnqueueManualMedia(t *testing.T) {
	f := newIngestFixture(t, nil)

	item, err := f.ingestor.EnqueueMedia(f.ctx, ManualMedia{VideoURL: "https://youtube.com/shorts/dQw4w9WgXcQ", StartSeconds: -5})
	require.NoError(t, err)
	assert.Empty(t, item.OrderID)
	assert.Equal(t, DefaultDisplayName, item.RequesterName)
	assert.Equal(t, 0, item.StartSeconds)

	_, err = f.ingestor.EnqueueMedia(f.ctx, ManualMedia{VideoURL: "not a video"})
	assert.ErrorIs(t, err, ErrInvalidMedia)
}

func TestReplayCreatesNewFlaggedItem(t *testing.T) {
	f := newIngestFixture(t, nil)
	require.NoError(t, f.ingestor.Ingest(f.ctx, confirmation("X9")))

	head, err := f.donations.PeekOldest(f.ctx)
	require.NoError(t, err)
	_, err = f.donations.MoveToHistory(f.ctx, *head, types.OutcomeFinished, time.Now())
	require.NoError(t, err)

	replayed, err := f.ingestor.Replay(f.ctx, types.QueueDonation, head.ID)
	require.NoError(t, err)
	item := replayed.(types.DonationItem)
	assert.NotEqual(t, head.ID, item.ID)
	assert.True(t, item.Replay)
	assert.Nil(t, item.CompletedAt)

	queued, err := f.donations.Get(f.ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "X9", queued.OrderID)

	_, err = f.ingestor.Replay(f.ctx, types.QueueDonation, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
