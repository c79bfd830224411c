package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore implements Store with an in-process map. Used by tests and by
// database-less development; pair it with NoopLocker since there is nothing
// to coordinate across processes.
type MemoryStore struct {
	mu         sync.RWMutex
	characters map[int]Character
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory character store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		characters: make(map[int]Character),
	}
}

// CountCharacters returns the number of stored characters.
func (s *MemoryStore) CountCharacters(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.characters), nil
}

// UpsertCharacters inserts or overwrites characters keyed by ID.
func (s *MemoryStore) UpsertCharacters(_ context.Context, characters []Character) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range characters {
		s.characters[c.ID] = c
	}
	return len(characters), nil
}

// ListCharacters returns one sorted page of characters plus the total count.
func (s *MemoryStore) ListCharacters(
	_ context.Context,
	sortField SortField,
	order SortOrder,
	page, pageSize int,
) ([]Character, int, error) {
	if page < 1 || pageSize < 1 {
		return nil, 0, fmt.Errorf("invalid page %d or page size %d", page, pageSize)
	}

	s.mu.RLock()
	all := make([]Character, 0, len(s.characters))
	for _, c := range s.characters {
		all = append(all, c)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		// Names can collide; IDs are unique, so ties fall through to a
		// strict ordering either way.
		less := a.ID < b.ID
		if sortField == SortByName && a.Name != b.Name {
			less = a.Name < b.Name
		}
		if order == OrderDesc {
			return !less
		}
		return less
	})

	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return []Character{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	// Copy the page so callers cannot mutate the backing slice.
	rows := make([]Character, end-start)
	copy(rows, all[start:end])
	return rows, total, nil
}

// Ping always succeeds for the in-memory store.
func (*MemoryStore) Ping(context.Context) error {
	return nil
}
