package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.False(t, cfg.DynamoDB.Enabled)
	assert.Equal(t, "donation-alerts-queue", cfg.DynamoDB.Tables.Queue)
	assert.Equal(t, 300*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 10000, cfg.LLM.MaxTokens)
	assert.Equal(t, "[REDACTED]", cfg.Filter.RedactionToken)
	assert.Equal(t, time.Hour, cfg.Filter.CacheTTL)
	assert.Equal(t, 2*time.Minute, cfg.Filter.CacheSweep)
	assert.True(t, cfg.Filter.Phonetic)
	assert.Equal(t, 80, cfg.Filter.Thresholds.Strict)
	assert.Equal(t, 60, cfg.Filter.Thresholds.Moderate)
	assert.Equal(t, 40, cfg.Filter.Thresholds.Lenient)
	assert.Equal(t, 5*time.Minute, cfg.Processing.StaleAfter)
	assert.Equal(t, 8, cfg.Ingest.MaxAttempts)
	assert.Equal(t, 72*time.Hour, cfg.Retention.HistoryMaxAge)
	assert.Equal(t, "1.00", cfg.Twitch.CreditAmount)
	assert.Equal(t, 2.0, cfg.RateLimit.RPS)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
origins:
  overlay:
    - https://overlay.example.com
  admin:
    - https://admin.example.com
filter:
  thresholds:
    strict: 90
processing:
  stale_after: 2m
`), 0o600))

	t.Setenv("DONATIONS_SERVER_PORT", "7070")
	t.Setenv("DONATIONS_DYNAMODB_ENABLED", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.True(t, cfg.DynamoDB.Enabled)
	assert.Equal(t, []string{"https://overlay.example.com"}, cfg.Origins.Overlay)
	assert.Equal(t, []string{"https://admin.example.com"}, cfg.Origins.Admin)
	assert.Equal(t, 90, cfg.Filter.Thresholds.Strict)
	assert.Equal(t, 60, cfg.Filter.Thresholds.Moderate)
	assert.Equal(t, 2*time.Minute, cfg.Processing.StaleAfter)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("DONATIONS_ADMIN_PASSWORD", "hunter2")

	_, err := LoadConfig("")
	assert.Error(t, err)

	t.Setenv("DONATIONS_ADMIN_JWT_SECRET", "secret")
	_, err = LoadConfig("")
	assert.NoError(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMemoryRepositories(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	repos, err := newRepositories(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "memory", repos.backend)
	assert.Len(t, repos.queues(), 2)
}
