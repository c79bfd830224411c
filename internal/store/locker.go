package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGAdvisoryLocker implements AdvisoryLocker with Postgres session advisory
// locks (pg_try_advisory_lock / pg_advisory_unlock). Because the lock lives
// in the database it is visible to every process sharing that database,
// which makes it the coordination point across replicas.
//
// A lock call that errors is treated the same as a granted lock: the caller
// proceeds. Upserts are idempotent, so duplicate work across instances is
// wasteful but safe, while failing closed could wedge ingestion entirely on
// a transient database hiccup.
type PGAdvisoryLocker struct {
	pool *pgxpool.Pool

	// held pins each TryLock to one connection so Unlock releases the lock
	// on the session that owns it. Seed and refresh use distinct keys and
	// may run concurrently, hence the mutex.
	mu   sync.Mutex
	held map[int64]*pgxpool.Conn
}

var _ AdvisoryLocker = (*PGAdvisoryLocker)(nil)

// NewPGAdvisoryLocker creates an advisory locker over the given pool.
func NewPGAdvisoryLocker(pool *pgxpool.Pool) *PGAdvisoryLocker {
	return &PGAdvisoryLocker{
		pool: pool,
		held: make(map[int64]*pgxpool.Conn),
	}
}

// TryLock attempts a non-blocking advisory lock acquisition.
func (l *PGAdvisoryLocker) TryLock(ctx context.Context, key int64) bool {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		slog.Warn("Advisory lock acquisition errored, proceeding unlocked", "key", key, "error", err)
		return true
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Release()
		slog.Warn("Advisory lock acquisition errored, proceeding unlocked", "key", key, "error", err)
		return true
	}

	if !acquired {
		conn.Release()
		return false
	}

	l.mu.Lock()
	l.held[key] = conn
	l.mu.Unlock()
	return true
}

// Unlock releases the advisory lock if this locker holds it. Errors are
// logged and swallowed; release must not fail the surrounding operation.
func (l *PGAdvisoryLocker) Unlock(ctx context.Context, key int64) {
	l.mu.Lock()
	conn, ok := l.held[key]
	delete(l.held, key)
	l.mu.Unlock()
	if !ok {
		// Acquisition failed open, nothing to release.
		return
	}

	// Release must run even when the caller's context has been cancelled,
	// otherwise a failed sync would leave the lock held.
	unlockCtx := context.WithoutCancel(ctx)
	if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
		slog.Warn("Advisory lock release errored", "key", key, "error", err)
	}
	conn.Release()
}

// NoopLocker implements AdvisoryLocker for storage backends without an
// advisory-lock primitive (the in-memory store, single-writer deployments).
// Every acquisition succeeds; correctness in these deployments comes from
// the single-writer assumption, not from locking.
type NoopLocker struct{}

var _ AdvisoryLocker = NoopLocker{}

// NewNoopLocker creates an always-succeeding locker.
func NewNoopLocker() NoopLocker {
	return NoopLocker{}
}

// TryLock always grants the lock.
func (NoopLocker) TryLock(context.Context, int64) bool {
	return true
}

// Unlock does nothing.
func (NoopLocker) Unlock(context.Context, int64) {}
