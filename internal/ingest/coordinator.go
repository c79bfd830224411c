package ingest

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// DefaultPollInterval is the base interval between staleness checks.
const DefaultPollInterval = 60 * time.Second

// Coordinator runs the pipeline in the background: one seed attempt at
// startup, then periodic staleness checks.
type Coordinator interface {
	// Start begins the background sync loop. Blocks until the context is
	// cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully stops the loop and waits for it to finish.
	Stop() error
}

type defaultCoordinator struct {
	pipeline *Pipeline
	interval time.Duration

	cancelFunc context.CancelFunc
	done       chan struct{}
}

// NewCoordinator creates a background coordinator around a pipeline. A
// non-positive interval falls back to DefaultPollInterval.
func NewCoordinator(pipeline *Pipeline, interval time.Duration) Coordinator {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &defaultCoordinator{
		pipeline: pipeline,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// pollInterval returns the base interval with a random ±25% jitter applied,
// so replicas started together do not hit the database in lockstep.
func (c *defaultCoordinator) pollInterval() time.Duration {
	jitter := c.interval / 4
	//nolint:gosec // G404: non-cryptographic randomness is fine for polling jitter
	offset := time.Duration(rand.Int63n(int64(2*jitter))) - jitter
	return c.interval + offset
}

// Start begins the background sync loop.
func (c *defaultCoordinator) Start(ctx context.Context) error {
	coordCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer func() {
		close(c.done)
		slog.Info("Background sync coordinator shutting down")
	}()

	interval := c.pollInterval()
	slog.Info("Starting background sync coordinator",
		"base_interval", c.interval,
		"actual_interval", interval)

	if _, err := c.pipeline.SeedIfEmpty(coordCtx); err != nil {
		// The store may simply be unreachable yet; the refresh loop retries.
		slog.Error("Initial seed failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.pipeline.RefreshIfStale(coordCtx); err != nil {
				slog.Error("Background refresh failed", "error", err)
			}
			ticker.Reset(c.pollInterval())
		case <-coordCtx.Done():
			slog.Info("Sync coordinator stopping")
			return nil
		}
	}
}

// Stop gracefully stops the coordinator.
func (c *defaultCoordinator) Stop() error {
	if c.cancelFunc != nil {
		slog.Info("Stopping sync coordinator")
		c.cancelFunc()
		<-c.done
	}
	return nil
}
