// Package service implements the cached read path between the HTTP routes
// and the store.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/darianhuotari/rickmorty-sre-demo/internal/pagecache"
	"github.com/darianhuotari/rickmorty-sre-demo/internal/store"
)

// CharactersPage is the response shape for one page of characters. An
// out-of-range page carries empty results but real totals, so clients can
// recover by re-requesting a valid page.
type CharactersPage struct {
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalCount int               `json:"total_count"`
	TotalPages int               `json:"total_pages"`
	HasPrev    bool              `json:"has_prev"`
	HasNext    bool              `json:"has_next"`
	OutOfRange bool              `json:"out_of_range"`
	Results    []store.Character `json:"results"`
}

// CharacterService serves paginated character reads through the page cache.
type CharacterService struct {
	store store.Store
	cache *pagecache.Cache[*CharactersPage]
}

// NewCharacterService wires the read path. cache may be nil, in which case
// every read goes to the store.
func NewCharacterService(st store.Store, cache *pagecache.Cache[*CharactersPage]) *CharacterService {
	return &CharacterService{store: st, cache: cache}
}

// ListPage returns one page of characters, serving from the cache when it
// can. Concurrent misses for the same query shape collapse into a single
// store read: check, lock, re-check, then read and fill.
func (s *CharacterService) ListPage(ctx context.Context, sort store.SortField, order store.SortOrder, page, pageSize int) (*CharactersPage, error) {
	if s.cache == nil {
		return s.readPage(ctx, sort, order, page, pageSize)
	}

	key := pagecache.PageKey{Sort: sort, Order: order, Page: page, PageSize: pageSize}
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	mu := s.cache.LockFor(key)
	mu.Lock()
	defer mu.Unlock()

	// Another caller may have filled the entry while this one waited.
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	result, err := s.readPage(ctx, sort, order, page, pageSize)
	if err != nil {
		return nil, err
	}
	s.cache.Put(key, result)
	slog.Debug("page cache fill", "sort", sort, "order", order, "page", page, "page_size", pageSize)
	return result, nil
}

func (s *CharacterService) readPage(ctx context.Context, sort store.SortField, order store.SortOrder, page, pageSize int) (*CharactersPage, error) {
	rows, total, err := s.store.ListCharacters(ctx, sort, order, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}

	totalPages := int(math.Ceil(float64(total) / float64(pageSize)))
	if totalPages < 1 {
		totalPages = 1
	}
	if rows == nil {
		rows = []store.Character{}
	}

	return &CharactersPage{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: totalPages,
		HasPrev:    page > 1,
		HasNext:    page < totalPages,
		OutOfRange: page > totalPages,
		Results:    rows,
	}, nil
}
