/*
# Module: services/worker.go
Durable ingestion jobs: submission, lease-based claiming, retries with backoff and dead-lettering.

## Linked Modules
- [services/ingestion](./ingestion.go) - The step each job runs
- [storage/repository](../storage/repository.go) - Job persistence

## Tags
services, worker, retry, background

## Exports
Worker, WorkerConfig, BackoffConfig, NewWorker, RetryCeiling, NextRetryAt, ErrNoWork, Ingester

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "services/worker.go" ;
    code:description "Durable ingestion jobs with lease-based claiming, retries and dead-lettering" ;
    code:linksTo [
        code:name "services/ingestion" ;
        code:path "./ingestion.go" ;
        code:relationship "The step each job runs"
    ], [
        code:name "storage/repository" ;
        code:path "../storage/repository.go" ;
        code:relationship "Job persistence"
    ] ;
    code:exports :Worker, :WorkerConfig, :BackoffConfig, :NewWorker, :RetryCeiling, :NextRetryAt, :ErrNoWork, :Ingester ;
    code:tags "services", "worker", "retry", "background" .
<!-- End LinkedDoc RDF -->
*/
package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"donation-alerts/storage"
	"donation-alerts/types"
)

// ErrNoWork is returned by ProcessOnce when no job is due
var ErrNoWork = errors.New("no due jobs")

// Ingester runs the background step of a job
type Ingester interface {
	Ingest(ctx context.Context, conf types.PaymentConfirmation) error
}

// BackoffConfig bounds the delay between ingestion attempts
type BackoffConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultBackoff waits up to 1s after the first failure and never more than 5m
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay: time.Second,
		MaxDelay:  5 * time.Minute,
	}
}

// RetryCeiling is the longest wait before retry number attempt (1-based).
// It doubles from BaseDelay per failed attempt and stops at MaxDelay.
func RetryCeiling(attempt int, cfg BackoffConfig) time.Duration {
	def := DefaultBackoff()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	ceiling := cfg.BaseDelay
	for n := 1; n < attempt && ceiling < cfg.MaxDelay; n++ {
		ceiling *= 2
	}
	if ceiling > cfg.MaxDelay {
		ceiling = cfg.MaxDelay
	}
	return ceiling
}

// NextRetryAt picks a uniformly random time in [now, now+RetryCeiling] so
// jobs that failed together do not retry together. rng may be nil.
func NextRetryAt(now time.Time, attempt int, cfg BackoffConfig, rng *rand.Rand) time.Time {
	ceiling := RetryCeiling(attempt, cfg)
	if rng == nil {
		rng = rand.New(rand.NewSource(now.UnixNano()))
	}
	wait := time.Duration(rng.Int63n(int64(ceiling) + 1))
	return now.Add(wait).UTC()
}

// WorkerConfig controls polling and retry limits of the ingestion worker.
// Zero fields take the DefaultWorkerConfig values.
type WorkerConfig struct {
	Interval    time.Duration // poll period
	Burst       int           // jobs per poll
	IdleDelay   time.Duration // pause after a nudge finds nothing
	Lease       time.Duration // claim reservation
	MaxAttempts int           // attempts before a job is dead
	Backoff     BackoffConfig
}

// DefaultWorkerConfig matches the ingest.* config defaults
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Interval:    2 * time.Second,
		Burst:       5,
		IdleDelay:   800 * time.Millisecond,
		Lease:       2 * time.Minute,
		MaxAttempts: 8,
		Backoff:     DefaultBackoff(),
	}
}

// Worker records confirmations as jobs and runs them in the background so
// the payer-facing response never waits on filtering
type Worker struct {
	repo     storage.JobRepository
	ingester Ingester
	cfg      WorkerConfig
	logger   zerolog.Logger
	nudge    chan struct{}

	rngMu sync.Mutex
	rng   *rand.Rand

	Now func() time.Time
}

// NewWorker creates a new worker
func NewWorker(repo storage.JobRepository, ingester Ingester, cfg WorkerConfig, logger zerolog.Logger) *Worker {
	def := DefaultWorkerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = def.IdleDelay
	}
	if cfg.Lease <= 0 {
		cfg.Lease = def.Lease
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff.BaseDelay == 0 && cfg.Backoff.MaxDelay == 0 {
		cfg.Backoff = def.Backoff
	}
	return &Worker{
		repo:     repo,
		ingester: ingester,
		cfg:      cfg,
		logger:   logger.With().Str("component", "ingest-worker").Logger(),
		nudge:    make(chan struct{}, 1),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit records a confirmation as a pending job and wakes the worker.
// It reports false when a job for the order already exists.
func (w *Worker) Submit(ctx context.Context, conf types.PaymentConfirmation) (bool, error) {
	now := w.Now()
	job := types.IngestJob{
		ID:           conf.OrderID,
		Confirmation: conf,
		Status:       types.JobPending,
		NextRetryAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := w.repo.CreateJob(ctx, job); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record ingestion job: %w", err)
	}

	w.logger.Debug().Str("order_id", conf.OrderID).Msg("📥 ingestion job recorded")
	select {
	case w.nudge <- struct{}{}:
	default:
	}
	return true, nil
}

func (w *Worker) nextRetryAt(attempt int) time.Time {
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	return NextRetryAt(w.Now(), attempt, w.cfg.Backoff, w.rng)
}

// ProcessOnce claims one due job and runs it. The returned bool reports
// whether a job was claimed.
func (w *Worker) ProcessOnce(ctx context.Context) (bool, error) {
	job, err := w.repo.ClaimJob(ctx, w.Now(), w.cfg.Lease)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, ErrNoWork
	}

	logger := w.logger.With().Str("order_id", job.ID).Int("attempt", job.Attempts).Logger()
	runErr := w.ingester.Ingest(ctx, job.Confirmation)

	job.LeaseUntil = nil
	job.UpdatedAt = w.Now()
	switch {
	case runErr == nil:
		job.Status = types.JobDone
		job.LastError = ""
	case errors.Is(runErr, ErrBanned):
		job.Status = types.JobDead
		job.LastError = runErr.Error()
		logger.Warn().Msg("🚫 ingestion rejected for banned payer")
	case job.Attempts >= w.cfg.MaxAttempts:
		job.Status = types.JobDead
		job.LastError = runErr.Error()
		logger.Error().Err(runErr).Msg("💀 ingestion job exhausted its retries")
	default:
		job.Status = types.JobFailed
		job.LastError = runErr.Error()
		job.NextRetryAt = w.nextRetryAt(job.Attempts)
		logger.Warn().Err(runErr).Time("next_retry_at", job.NextRetryAt).Msg("⚠️  ingestion failed, will retry")
	}

	if err := w.repo.SaveJob(ctx, *job); err != nil {
		return true, fmt.Errorf("failed to save ingestion job: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, ErrBanned) {
		return true, runErr
	}
	return true, nil
}

// drain processes up to Burst jobs and reports whether any was claimed
func (w *Worker) drain(ctx context.Context) bool {
	processedAny := false
	for i := 0; i < w.cfg.Burst; i++ {
		claimed, err := w.ProcessOnce(ctx)
		if err != nil {
			if errors.Is(err, ErrNoWork) {
				break
			}
			if !claimed {
				w.logger.Error().Err(err).Msg("❌ failed to claim ingestion job")
				break
			}
			continue
		}
		if claimed {
			processedAny = true
		}
	}
	return processedAny
}

// Run processes jobs until ctx is canceled
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.logger.Info().
		Dur("interval", w.cfg.Interval).
		Int("burst", w.cfg.Burst).
		Int("max_attempts", w.cfg.MaxAttempts).
		Msg("🚀 ingestion worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Err(ctx.Err()).Msg("🛑 ingestion worker stopping")
			return

		case <-w.nudge:
			w.drain(ctx)

		case <-ticker.C:
			if !w.drain(ctx) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.cfg.IdleDelay):
				}
			}
		}
	}
}
