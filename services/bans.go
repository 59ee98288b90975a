/*
# Module: services/bans.go
In-memory ban list for payers and videos, backed by a BanRepository.

## Linked Modules
- [storage/repository](../storage/repository.go) - Ban persistence
- [types/ban](../types/ban.go) - Ban model

## Tags
services, moderation, bans

## Exports
BanManager, NewBanManager, ErrBanned

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "services/bans.go" ;
    code:description "In-memory ban list for payers and videos, backed by a BanRepository" ;
    code:linksTo [
        code:name "storage/repository" ;
        code:path "../storage/repository.go" ;
        code:relationship "Ban persistence"
    ], [
        code:name "types/ban" ;
        code:path "../types/ban.go" ;
        code:relationship "Ban model"
    ] ;
    code:exports :BanManager, :NewBanManager, :ErrBanned ;
    code:tags "services", "moderation", "bans" .
<!-- End LinkedDoc RDF -->
*/
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"donation-alerts/storage"
	"donation-alerts/types"
)

// ErrBanned is returned when a payer or video is on a ban list
var ErrBanned = errors.New("banned")

type banKey struct {
	kind  types.BanKind
	value string
}

// BanManager manages banned payers and videos
type BanManager struct {
	bans   map[banKey]types.Ban
	mutex  sync.RWMutex
	repo   storage.BanRepository
	logger zerolog.Logger

	Now func() time.Time
}

// NewBanManager creates a new ban manager. Call Load before serving.
func NewBanManager(repo storage.BanRepository, logger zerolog.Logger) *BanManager {
	return &BanManager{
		bans:   make(map[banKey]types.Ban),
		repo:   repo,
		logger: logger.With().Str("component", "bans").Logger(),
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

func normalizeBanValue(value string) string {
	return strings.TrimSpace(value)
}

// Load replaces the in-memory list with the persisted active bans
func (bm *BanManager) Load(ctx context.Context) error {
	loaded := make(map[banKey]types.Ban)
	now := bm.Now()
	for _, kind := range []types.BanKind{types.BanPayer, types.BanVideo} {
		bans, err := bm.repo.ListBans(ctx, kind)
		if err != nil {
			return fmt.Errorf("failed to load %s bans: %w", kind, err)
		}
		for _, ban := range bans {
			if ban.Active(now) {
				loaded[banKey{ban.Kind, ban.Value}] = ban
			}
		}
	}

	bm.mutex.Lock()
	bm.bans = loaded
	bm.mutex.Unlock()

	bm.logger.Info().Int("count", len(loaded)).Msg("📋 loaded active bans")
	return nil
}

// IsBanned checks whether value is currently banned
func (bm *BanManager) IsBanned(kind types.BanKind, value string) (bool, *types.Ban) {
	value = normalizeBanValue(value)
	if value == "" {
		return false, nil
	}

	bm.mutex.RLock()
	ban, exists := bm.bans[banKey{kind, value}]
	bm.mutex.RUnlock()

	if !exists || !ban.Active(bm.Now()) {
		return false, nil
	}
	return true, &ban
}

// Ban adds value to the ban list. A zero duration never expires.
func (bm *BanManager) Ban(ctx context.Context, kind types.BanKind, value string, duration time.Duration, reason, bannedBy string) (types.Ban, error) {
	value = normalizeBanValue(value)
	if value == "" {
		return types.Ban{}, fmt.Errorf("ban value is required")
	}

	now := bm.Now()
	ban := types.Ban{
		Kind:     kind,
		Value:    value,
		Reason:   reason,
		BannedAt: now,
		BannedBy: bannedBy,
	}
	if duration > 0 {
		expiry := now.Add(duration)
		ban.ExpiresAt = &expiry
	}

	if err := bm.repo.PutBan(ctx, ban); err != nil {
		return types.Ban{}, fmt.Errorf("failed to save ban: %w", err)
	}

	bm.mutex.Lock()
	bm.bans[banKey{kind, value}] = ban
	bm.mutex.Unlock()

	bm.logger.Info().Str("kind", string(kind)).Str("value", value).Str("reason", reason).Msg("🚫 ban added")
	return ban, nil
}

// Unban removes value from the ban list
func (bm *BanManager) Unban(ctx context.Context, kind types.BanKind, value string) error {
	value = normalizeBanValue(value)

	bm.mutex.Lock()
	delete(bm.bans, banKey{kind, value})
	bm.mutex.Unlock()

	if err := bm.repo.DeleteBan(ctx, kind, value); err != nil {
		return fmt.Errorf("failed to remove ban: %w", err)
	}
	bm.logger.Info().Str("kind", string(kind)).Str("value", value).Msg("✅ ban removed")
	return nil
}

// List returns the active bans of kind, newest first
func (bm *BanManager) List(kind types.BanKind) []types.Ban {
	now := bm.Now()

	bm.mutex.RLock()
	out := []types.Ban{}
	for key, ban := range bm.bans {
		if key.kind == kind && ban.Active(now) {
			out = append(out, ban)
		}
	}
	bm.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].BannedAt.After(out[j].BannedAt) })
	return out
}

// cleanupExpired drops expired bans from memory
func (bm *BanManager) cleanupExpired() int {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	now := bm.Now()
	removed := 0
	for key, ban := range bm.bans {
		if !ban.Active(now) {
			delete(bm.bans, key)
			removed++
		}
	}
	return removed
}

// RunCleanup removes expired bans from memory every interval until ctx ends
func (bm *BanManager) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := bm.cleanupExpired(); removed > 0 {
				bm.logger.Debug().Int("removed", removed).Msg("🧹 expired bans removed")
			}
		}
	}
}
