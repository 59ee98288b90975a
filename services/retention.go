/*
# Module: services/retention.go
Deletes history entries older than the retention window.

## Linked Modules
- [services/queues](./queues.go) - Queue view with Prune

## Tags
services, retention, background

## Exports
Janitor, NewJanitor

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "services/retention.go" ;
    code:description "Deletes history entries older than the retention window" ;
    code:linksTo [
        code:name "services/queues" ;
        code:path "./queues.go" ;
        code:relationship "Queue view with Prune"
    ] ;
    code:exports :Janitor, :NewJanitor ;
    code:tags "services", "retention", "background" .
<!-- End LinkedDoc RDF -->
*/
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Janitor prunes history on a schedule
type Janitor struct {
	queues []Queue
	maxAge time.Duration
	logger zerolog.Logger

	Now func() time.Time
}

// NewJanitor creates a janitor for the given queues
func NewJanitor(maxAge time.Duration, logger zerolog.Logger, queues ...Queue) *Janitor {
	return &Janitor{
		queues: queues,
		maxAge: maxAge,
		logger: logger.With().Str("component", "retention").Logger(),
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce prunes every queue's history and returns the number of entries removed
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	cutoff := j.Now().Add(-j.maxAge)
	total := 0
	for _, q := range j.queues {
		removed, err := q.Prune(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to prune %s history: %w", q.Kind(), err)
		}
		total += removed
		if removed > 0 {
			j.logger.Info().Str("queue", string(q.Kind())).Int("removed", removed).Msg("🧹 pruned history")
		}
	}
	return total, nil
}

// Run prunes once immediately and then every interval until ctx ends
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.Error().Err(err).Msg("❌ retention pass failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Error().Err(err).Msg("❌ retention pass failed")
			}
		}
	}
}
