// Package ingest coordinates pulling characters from the upstream API into
// the store. Cross-instance coordination uses Postgres advisory locks so
// that with many replicas at most one performs a given sync at a time; lock
// acquisition fails open, trading duplicate idempotent work for liveness.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/darianhuotari/rickmorty-sre-demo/internal/store"
	"github.com/darianhuotari/rickmorty-sre-demo/internal/upstream"
)

// Advisory lock keys. Seeding and refreshing are coordinated independently.
const (
	seedLockKey    int64 = 0xC0FFEE
	refreshLockKey int64 = 0xBEEFED
)

// DefaultRefreshTTL is how long a completed sync is considered fresh.
const DefaultRefreshTTL = 600 * time.Second

// Invalidator is the slice of the page cache the pipeline needs: once new
// data lands, every cached page is suspect.
type Invalidator interface {
	InvalidateAll()
}

// Pipeline drives seed and refresh syncs against one store.
type Pipeline struct {
	store      store.Store
	locker     store.AdvisoryLocker
	client     upstream.Client
	cache      Invalidator
	refreshTTL time.Duration

	now func() time.Time

	mu          sync.Mutex
	lastRefresh time.Time
}

// NewPipeline wires a pipeline. cache may be nil when no response cache is
// attached. A non-positive ttl falls back to DefaultRefreshTTL.
func NewPipeline(st store.Store, locker store.AdvisoryLocker, client upstream.Client, cache Invalidator, ttl time.Duration) *Pipeline {
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	return &Pipeline{
		store:      st,
		locker:     locker,
		client:     client,
		cache:      cache,
		refreshTTL: ttl,
		now:        time.Now,
	}
}

// SeedIfEmpty populates an empty store from upstream. It returns the number
// of characters ingested, zero when the store already has data or another
// instance holds the seed lock. The emptiness check happens after the lock
// is acquired, so a concurrent seeder that won the race makes this one a
// no-op instead of a duplicate ingest.
func (p *Pipeline) SeedIfEmpty(ctx context.Context) (int, error) {
	if !p.locker.TryLock(ctx, seedLockKey) {
		slog.Debug("seed lock held elsewhere, skipping")
		return 0, nil
	}
	defer p.locker.Unlock(ctx, seedLockKey)

	count, err := p.store.CountCharacters(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count characters: %w", err)
	}
	if count > 0 {
		slog.Debug("store already seeded", "count", count)
		return 0, nil
	}

	slog.Info("store empty, seeding from upstream")
	n, err := p.ingest(ctx)
	if err != nil {
		return 0, err
	}
	slog.Info("seed complete", "ingested", n)
	return n, nil
}

// RefreshIfStale re-syncs from upstream when the last completed sync is
// older than the refresh TTL. The staleness fast path runs before touching
// the lock, so steady-state calls cost one mutex acquisition and a clock
// read. Returns the number of characters ingested, zero on the fast path or
// when the refresh lock is held elsewhere.
func (p *Pipeline) RefreshIfStale(ctx context.Context) (int, error) {
	if p.fresh() {
		return 0, nil
	}

	if !p.locker.TryLock(ctx, refreshLockKey) {
		slog.Debug("refresh lock held elsewhere, skipping")
		return 0, nil
	}
	defer p.locker.Unlock(ctx, refreshLockKey)

	// Re-check under the lock: a concurrent refresher may have finished
	// while this one was waiting its turn.
	if p.fresh() {
		return 0, nil
	}

	slog.Info("data stale, refreshing from upstream")
	n, err := p.ingest(ctx)
	if err != nil {
		return 0, err
	}
	slog.Info("refresh complete", "ingested", n)
	return n, nil
}

// ingest performs one full fetch-and-upsert cycle. The refresh timestamp
// only advances after the whole cycle succeeds; a failed sync leaves the
// pipeline stale so the next caller retries.
func (p *Pipeline) ingest(ctx context.Context) (int, error) {
	characters, err := p.client.FetchAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch characters: %w", err)
	}

	n, err := p.store.UpsertCharacters(ctx, characters)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert characters: %w", err)
	}

	p.mu.Lock()
	p.lastRefresh = p.now()
	p.mu.Unlock()

	if n > 0 && p.cache != nil {
		p.cache.InvalidateAll()
	}
	return n, nil
}

func (p *Pipeline) fresh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastRefresh.IsZero() {
		return false
	}
	return p.now().Sub(p.lastRefresh) < p.refreshTTL
}

// LastRefreshAge reports the seconds since the last successful sync,
// rounded to two decimals, and whether a sync has ever completed.
func (p *Pipeline) LastRefreshAge() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastRefresh.IsZero() {
		return 0, false
	}
	age := p.now().Sub(p.lastRefresh).Seconds()
	return math.Round(age*100) / 100, true
}
