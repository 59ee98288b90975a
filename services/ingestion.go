/*
# Module: services/ingestion.go
Turns a confirmed payment into filtered queue items: idempotency, bans, content filter, enqueue, notify.

## Linked Modules
- [moderation/filter](../moderation/filter.go) - Content filter
- [services/bans](./bans.go) - Payer and video bans
- [services/media](./media.go) - Video id and metadata
- [storage/repository](../storage/repository.go) - Queues, settings and terms

## Tags
services, ingestion, pipeline

## Exports
Ingestor, IngestorDeps, NewIngestor, ManualMedia, DefaultDisplayName

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "services/ingestion.go" ;
    code:description "Turns a confirmed payment into filtered queue items" ;
    code:linksTo [
        code:name "moderation/filter" ;
        code:path "../moderation/filter.go" ;
        code:relationship "Content filter"
    ], [
        code:name "services/bans" ;
        code:path "./bans.go" ;
        code:relationship "Payer and video bans"
    ], [
        code:name "services/media" ;
        code:path "./media.go" ;
        code:relationship "Video id and metadata"
    ], [
        code:name "storage/repository" ;
        code:path "../storage/repository.go" ;
        code:relationship "Queues, settings and terms"
    ] ;
    code:exports :Ingestor, :IngestorDeps, :NewIngestor, :ManualMedia, :DefaultDisplayName ;
    code:tags "services", "ingestion", "pipeline" .
<!-- End LinkedDoc RDF -->
*/
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"donation-alerts/moderation"
	"donation-alerts/storage"
	"donation-alerts/types"
)

// DefaultDisplayName is shown for donations without a name
const DefaultDisplayName = "Anonymous"

// ErrInvalidMedia is returned when a media URL has no recognizable video id
var ErrInvalidMedia = errors.New("invalid media url")

// IngestorDeps are the collaborators of an Ingestor
type IngestorDeps struct {
	Donations storage.QueueRepository[types.DonationItem]
	Media     storage.QueueRepository[types.MediaItem]
	Settings  storage.SettingsRepository
	Terms     storage.TermRepository
	Filter    *moderation.Filter
	Bans      *BanManager
	Metadata  MetadataFetcher
	Publisher Publisher

	// Phonetic and DirectAdjudication are deployment-level filter choices
	Phonetic           bool
	DirectAdjudication bool
}

// Ingestor runs the post-capture pipeline
type Ingestor struct {
	deps   IngestorDeps
	logger zerolog.Logger

	Now   func() time.Time
	NewID func() string
}

// NewIngestor creates a new ingestor
func NewIngestor(deps IngestorDeps, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		deps:   deps,
		logger: logger.With().Str("component", "ingestor").Logger(),
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  func() string { return uuid.New().String() },
	}
}

// FilterOptions maps channel settings onto filter options
func (in *Ingestor) FilterOptions(settings types.ChannelSettings) moderation.Options {
	return moderation.Options{
		AIEnabled:          settings.AIFilterEnabled,
		CacheEnabled:       settings.FilterCacheEnabled,
		Phonetic:           in.deps.Phonetic,
		DirectAdjudication: in.deps.DirectAdjudication,
		Strictness:         settings.FilterStrictness,
	}
}

// TermList returns the banned terms as plain strings
func (in *Ingestor) TermList(ctx context.Context) ([]string, error) {
	terms, err := in.deps.Terms.ListTerms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list banned terms: %w", err)
	}
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		out = append(out, t.Term)
	}
	return out, nil
}

// Ingest filters and enqueues a confirmed payment. It is safe to call again
// for the same order: parts that already reached a queue are skipped.
func (in *Ingestor) Ingest(ctx context.Context, conf types.PaymentConfirmation) error {
	logger := in.logger.With().Str("order_id", conf.OrderID).Logger()

	if conf.OrderID == "" {
		return fmt.Errorf("order id is required")
	}

	donationExists, err := in.deps.Donations.ExistsOrder(ctx, conf.OrderID)
	if err != nil {
		return fmt.Errorf("failed to check donation order: %w", err)
	}
	wantsMedia := strings.TrimSpace(conf.MediaURL) != ""
	mediaExists := false
	if wantsMedia {
		mediaExists, err = in.deps.Media.ExistsOrder(ctx, conf.OrderID)
		if err != nil {
			return fmt.Errorf("failed to check media order: %w", err)
		}
	}
	if donationExists && (!wantsMedia || mediaExists) {
		logger.Info().Msg("♻️  order already ingested, skipping")
		return nil
	}

	if in.deps.Bans != nil {
		if banned, _ := in.deps.Bans.IsBanned(types.BanPayer, conf.PayerToken); banned {
			logger.Warn().Msg("🚫 banned payer, donation dropped")
			return ErrBanned
		}
	}

	settings, err := in.deps.Settings.LoadChannelSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load channel settings: %w", err)
	}

	name := strings.TrimSpace(conf.Name)
	if name == "" {
		name = DefaultDisplayName
	}
	displayName, displayMessage, filtered := name, conf.Message, false
	if conf.BypassFilter {
		logger.Info().Msg("⏭️  filter bypassed by operator")
	} else {
		displayName, displayMessage, filtered, err = in.filterTexts(ctx, settings, name, conf.Message)
		if err != nil {
			return err
		}
	}

	if !donationExists {
		createdAt := conf.CapturedAt
		if createdAt.IsZero() {
			createdAt = in.Now()
		}
		item := types.DonationItem{
			ID:              in.NewID(),
			OrderID:         conf.OrderID,
			Name:            displayName,
			OriginalName:    name,
			Amount:          conf.Amount,
			Currency:        conf.Currency,
			Message:         displayMessage,
			OriginalMessage: conf.Message,
			PayerToken:      conf.PayerToken,
			Source:          conf.Source,
			WasFiltered:     filtered,
			CreatedAt:       createdAt,
		}
		if err := item.Validate(); err != nil {
			return fmt.Errorf("invalid donation: %w", err)
		}
		if err := in.deps.Donations.Enqueue(ctx, item); err != nil {
			return fmt.Errorf("failed to enqueue donation: %w", err)
		}
		logger.Info().
			Str("item_id", item.ID).
			Str("amount", item.Amount.Display()).
			Bool("was_filtered", filtered).
			Msg("💾 donation enqueued")
		in.publishQueueUpdated(ctx, types.QueueDonation)
	}

	if wantsMedia && !mediaExists {
		if !settings.MediaRequestsEnabled {
			logger.Info().Msg("📼 media requests disabled, media dropped")
			return nil
		}
		item, err := in.buildMedia(ctx, conf.OrderID, displayName, conf.MediaURL, conf.MediaStartSecs)
		if errors.Is(err, ErrInvalidMedia) || errors.Is(err, ErrBanned) {
			logger.Warn().Err(err).Str("media_url", conf.MediaURL).Msg("📼 media dropped")
			return nil
		}
		if err != nil {
			return err
		}
		if err := in.deps.Media.Enqueue(ctx, item); err != nil {
			return fmt.Errorf("failed to enqueue media: %w", err)
		}
		logger.Info().Str("item_id", item.ID).Str("video_id", item.VideoID).Msg("💾 media enqueued")
		in.publishQueueUpdated(ctx, types.QueueMedia)
	}
	return nil
}

// filterTexts runs name and message through the filter as one batch
func (in *Ingestor) filterTexts(ctx context.Context, settings types.ChannelSettings, name, message string) (string, string, bool, error) {
	if !settings.FilterEnabled || in.deps.Filter == nil {
		return name, message, false, nil
	}
	terms, err := in.TermList(ctx)
	if err != nil {
		return "", "", false, err
	}
	results := in.deps.Filter.CheckBatch(ctx, []string{name, message}, terms, in.FilterOptions(settings))
	if len(results) != 2 {
		return name, message, false, nil
	}
	return results[0].Filtered, results[1].Filtered, results[0].WasFiltered || results[1].WasFiltered, nil
}

func (in *Ingestor) buildMedia(ctx context.Context, orderID, requester, mediaURL string, start int) (types.MediaItem, error) {
	videoID := ExtractVideoID(mediaURL)
	if videoID == "" {
		return types.MediaItem{}, ErrInvalidMedia
	}
	if in.deps.Bans != nil {
		if banned, _ := in.deps.Bans.IsBanned(types.BanVideo, videoID); banned {
			return types.MediaItem{}, fmt.Errorf("video %s: %w", videoID, ErrBanned)
		}
	}
	if start < 0 {
		start = 0
	}

	meta := ResolveMetadata(ctx, in.deps.Metadata, videoID, in.logger)
	item := types.MediaItem{
		ID:            in.NewID(),
		OrderID:       orderID,
		RequesterName: requester,
		VideoURL:      mediaURL,
		VideoID:       videoID,
		StartSeconds:  start,
		Title:         meta.Title,
		ThumbnailURL:  meta.ThumbnailURL,
		Author:        meta.Author,
		DurationSecs:  meta.DurationSecs,
		CreatedAt:     in.Now(),
	}
	if err := item.Validate(); err != nil {
		return types.MediaItem{}, fmt.Errorf("invalid media: %w", err)
	}
	return item, nil
}

// ManualMedia is an operator-added media request
type ManualMedia struct {
	RequesterName string `json:"requester_name"`
	VideoURL      string `json:"video_url"`
	StartSeconds  int    `json:"start_seconds"`
}

// EnqueueMedia adds a media item without a donation
func (in *Ingestor) EnqueueMedia(ctx context.Context, req ManualMedia) (types.MediaItem, error) {
	requester := strings.TrimSpace(req.RequesterName)
	if requester == "" {
		requester = DefaultDisplayName
	}
	item, err := in.buildMedia(ctx, "", requester, req.VideoURL, req.StartSeconds)
	if err != nil {
		return types.MediaItem{}, err
	}
	if err := in.deps.Media.Enqueue(ctx, item); err != nil {
		return types.MediaItem{}, fmt.Errorf("failed to enqueue media: %w", err)
	}
	in.logger.Info().Str("item_id", item.ID).Str("video_id", item.VideoID).Msg("💾 manual media enqueued")
	in.publishQueueUpdated(ctx, types.QueueMedia)
	return item, nil
}

// Replay re-enqueues a history item as a new item flagged as a replay
func (in *Ingestor) Replay(ctx context.Context, kind types.QueueKind, historyID string) (interface{}, error) {
	now := in.Now()
	var replayed interface{}

	switch kind {
	case types.QueueDonation:
		item, err := in.deps.Donations.GetHistory(ctx, historyID)
		if err != nil {
			return nil, err
		}
		next := *item
		next.ID = in.NewID()
		next.Replay = true
		next.CreatedAt = now
		next.CompletedAt = nil
		next.Outcome = ""
		if err := in.deps.Donations.Enqueue(ctx, next); err != nil {
			return nil, fmt.Errorf("failed to enqueue replay: %w", err)
		}
		replayed = next
	case types.QueueMedia:
		item, err := in.deps.Media.GetHistory(ctx, historyID)
		if err != nil {
			return nil, err
		}
		next := *item
		next.ID = in.NewID()
		next.Replay = true
		next.CreatedAt = now
		next.CompletedAt = nil
		next.Outcome = ""
		if err := in.deps.Media.Enqueue(ctx, next); err != nil {
			return nil, fmt.Errorf("failed to enqueue replay: %w", err)
		}
		replayed = next
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, kind)
	}

	in.logger.Info().Str("queue", string(kind)).Str("history_id", historyID).Msg("🔁 history item replayed")
	in.publishQueueUpdated(ctx, kind)
	return replayed, nil
}

func (in *Ingestor) publishQueueUpdated(ctx context.Context, kind types.QueueKind) {
	if in.deps.Publisher == nil {
		return
	}
	event := types.NewEvent(types.EventQueueUpdated, kind, "")
	var (
		length int
		err    error
	)
	if kind == types.QueueDonation {
		length, err = in.deps.Donations.Count(ctx)
	} else {
		length, err = in.deps.Media.Count(ctx)
	}
	if err == nil {
		event = event.With("length", length)
	}
	in.deps.Publisher.Broadcast(event)
}
