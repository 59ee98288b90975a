package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donation-alerts/storage"
	"donation-alerts/types"
)

func TestBanManagerBanAndUnban(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	bm := NewBanManager(store, zerolog.Nop())

	banned, _ := bm.IsBanned(types.BanPayer, "payer-1")
	assert.False(t, banned)

	_, err := bm.Ban(ctx, types.BanPayer, " payer-1 ", 0, "chargeback", "admin")
	require.NoError(t, err)

	banned, ban := bm.IsBanned(types.BanPayer, "payer-1")
	assert.True(t, banned)
	require.NotNil(t, ban)
	assert.Equal(t, "chargeback", ban.Reason)

	banned, _ = bm.IsBanned(types.BanVideo, "payer-1")
	assert.False(t, banned, "kinds are separate lists")

	require.NoError(t, bm.Unban(ctx, types.BanPayer, "payer-1"))
	banned, _ = bm.IsBanned(types.BanPayer, "payer-1")
	assert.False(t, banned)

	stored, err := store.ListBans(ctx, types.BanPayer)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestBanManagerExpiry(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	bm := NewBanManager(storage.NewMemoryStore(), zerolog.Nop())
	bm.Now = clk.Now

	_, err := bm.Ban(ctx, types.BanVideo, "dQw4w9WgXcQ", time.Hour, "", "admin")
	require.NoError(t, err)
	assert.Len(t, bm.List(types.BanVideo), 1)

	clk.Advance(2 * time.Hour)
	banned, _ := bm.IsBanned(types.BanVideo, "dQw4w9WgXcQ")
	assert.False(t, banned)
	assert.Empty(t, bm.List(types.BanVideo))
	assert.Equal(t, 1, bm.cleanupExpired())
}

func TestBanManagerLoadSkipsExpired(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	require.NoError(t, store.PutBan(ctx, types.Ban{Kind: types.BanPayer, Value: "active", BannedAt: now}))
	require.NoError(t, store.PutBan(ctx, types.Ban{Kind: types.BanPayer, Value: "expired", BannedAt: now, ExpiresAt: &past}))

	bm := NewBanManager(store, zerolog.Nop())
	bm.Now = func() time.Time { return now }
	require.NoError(t, bm.Load(ctx))

	banned, _ := bm.IsBanned(types.BanPayer, "active")
	assert.True(t, banned)
	banned, _ = bm.IsBanned(types.BanPayer, "expired")
	assert.False(t, banned)
}

func TestBanRequiresValue(t *testing.T) {
	bm := NewBanManager(storage.NewMemoryStore(), zerolog.Nop())
	_, err := bm.Ban(context.Background(), types.BanPayer, "  ", 0, "", "admin")
	assert.Error(t, err)
}
