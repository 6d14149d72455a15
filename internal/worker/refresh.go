// Package worker runs background jobs for the preview server.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SnapshotRefresher replaces the cached snapshot with a fresh one.
type SnapshotRefresher interface {
	RefreshSnapshot(ctx context.Context) error
}

// RefreshConfig holds configuration for a RefreshJob.
type RefreshConfig struct {
	// Target is refreshed on every tick.
	Target SnapshotRefresher

	// Interval between refreshes. Zero runs a single warm-up refresh.
	Interval time.Duration

	// Timeout bounds each refresh (default: 2 minutes).
	Timeout time.Duration

	Logger zerolog.Logger
}

// RefreshMetrics tracks refresh job statistics.
type RefreshMetrics struct {
	TotalRefreshes      int64
	SuccessfulRefreshes int64
	FailedRefreshes     int64

	LastRefreshAt       time.Time
	LastRefreshDuration time.Duration
	LastError           string
}

// RefreshJob keeps the station snapshot warm.
type RefreshJob struct {
	target   SnapshotRefresher
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	mu      sync.RWMutex
	metrics RefreshMetrics
}

// NewRefreshJob creates a new refresh job.
func NewRefreshJob(cfg RefreshConfig) *RefreshJob {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	return &RefreshJob{
		target:   cfg.Target,
		interval: cfg.Interval,
		timeout:  timeout,
		logger:   cfg.Logger,
	}
}

// Start refreshes once immediately, then on every interval until ctx is done.
// It blocks; run it in its own goroutine.
func (j *RefreshJob) Start(ctx context.Context) {
	_ = j.RunOnce(ctx) // logged by RunOnce
	if j.interval <= 0 {
		return
	}

	j.logger.Info().Dur("interval", j.interval).Msg("snapshot refresh worker started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("snapshot refresh worker stopped")
			return
		case <-ticker.C:
			_ = j.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single refresh and records the outcome.
func (j *RefreshJob) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := time.Now()
	err := j.target.RefreshSnapshot(ctx)
	duration := time.Since(start)

	j.mu.Lock()
	j.metrics.TotalRefreshes++
	j.metrics.LastRefreshAt = start
	j.metrics.LastRefreshDuration = duration
	if err != nil {
		j.metrics.FailedRefreshes++
		j.metrics.LastError = err.Error()
	} else {
		j.metrics.SuccessfulRefreshes++
		j.metrics.LastError = ""
	}
	j.mu.Unlock()

	if err != nil {
		j.logger.Warn().Err(err).Dur("duration", duration).Msg("snapshot refresh failed")
		return err
	}

	j.logger.Debug().Dur("duration", duration).Msg("snapshot refreshed")
	return nil
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshMetrics {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.metrics
}
