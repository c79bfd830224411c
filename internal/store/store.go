// Package store contains the character storage collaborators: a Postgres
// implementation used in deployments and an in-memory implementation used in
// tests and database-less development, plus the advisory-lock providers the
// ingest pipeline coordinates through.
package store

import "context"

// Store is the storage interface consumed by the ingest pipeline and the
// character service. Listing is sorted and paginated at the storage layer.
type Store interface {
	// CountCharacters returns the total number of character rows.
	CountCharacters(ctx context.Context) (int, error)

	// UpsertCharacters inserts or overwrites characters keyed by ID and
	// returns the number of rows processed. The operation is idempotent:
	// repeated IDs never create duplicates.
	UpsertCharacters(ctx context.Context, characters []Character) (int, error)

	// ListCharacters returns one page of characters sorted by the given
	// field and order, along with the total row count across all pages.
	// Pages are 1-based; a page past the end returns an empty slice and
	// the true total.
	ListCharacters(ctx context.Context, sort SortField, order SortOrder, page, pageSize int) ([]Character, int, error)

	// Ping reports whether the storage backend is reachable.
	Ping(ctx context.Context) error
}

// AdvisoryLocker provides cross-process mutual exclusion keyed by an integer.
// TryLock never blocks; Unlock is best-effort and must tolerate a lock that
// was never actually held (a backend without the primitive).
type AdvisoryLocker interface {
	// TryLock attempts to acquire the named lock and reports whether the
	// caller should proceed. Implementations for backends that cannot
	// provide the primitive fail open and always return true.
	TryLock(ctx context.Context, key int64) bool

	// Unlock releases the named lock. Errors are swallowed: an unsupported
	// lock has nothing to release.
	Unlock(ctx context.Context, key int64)
}
