package moderation

import (
	"sync/atomic"
	"time"
)

// Stats are running counters for observability; nothing reads them to make
// a decision
type Stats struct {
	totalChecks         atomic.Int64
	cacheHits           atomic.Int64
	cacheMisses         atomic.Int64
	aiConsults          atomic.Int64
	aiSuccesses         atomic.Int64
	aiFailures          atomic.Int64
	phoneticMatches     atomic.Int64
	fallbackActivations atomic.Int64
	totalLatencyMicros  atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	TotalChecks         int64   `json:"total_checks"`
	CacheHits           int64   `json:"cache_hits"`
	CacheMisses         int64   `json:"cache_misses"`
	CacheHitRate        float64 `json:"cache_hit_rate"`
	AIConsults          int64   `json:"ai_consults"`
	AISuccesses         int64   `json:"ai_successes"`
	AIFailures          int64   `json:"ai_failures"`
	PhoneticMatches     int64   `json:"phonetic_matches"`
	FallbackActivations int64   `json:"fallback_activations"`
	AvgLatencyMillis    float64 `json:"avg_latency_ms"`
	CacheSize           int     `json:"cache_size"`
}

func (s *Stats) addLatency(d time.Duration) {
	s.totalLatencyMicros.Add(d.Microseconds())
}

// Snapshot copies the counters
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		TotalChecks:         s.totalChecks.Load(),
		CacheHits:           s.cacheHits.Load(),
		CacheMisses:         s.cacheMisses.Load(),
		AIConsults:          s.aiConsults.Load(),
		AISuccesses:         s.aiSuccesses.Load(),
		AIFailures:          s.aiFailures.Load(),
		PhoneticMatches:     s.phoneticMatches.Load(),
		FallbackActivations: s.fallbackActivations.Load(),
	}
	if lookups := snap.CacheHits + snap.CacheMisses; lookups > 0 {
		snap.CacheHitRate = float64(snap.CacheHits) / float64(lookups)
	}
	if snap.TotalChecks > 0 {
		snap.AvgLatencyMillis = float64(s.totalLatencyMicros.Load()) / 1000 / float64(snap.TotalChecks)
	}
	return snap
}

// Reset zeroes every counter
func (s *Stats) Reset() {
	for _, c := range []*atomic.Int64{
		&s.totalChecks, &s.cacheHits, &s.cacheMisses, &s.aiConsults, &s.aiSuccesses,
		&s.aiFailures, &s.phoneticMatches, &s.fallbackActivations, &s.totalLatencyMicros,
	} {
		c.Store(0)
	}
}
