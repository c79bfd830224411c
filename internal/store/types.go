package store

import "fmt"

// Character is a single character row persisted locally. The ID is the
// stable identity assigned by the upstream API, so upserts key on it.
type Character struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Species string `json:"species"`
	Origin  string `json:"origin"`
	Image   string `json:"image,omitempty"`
	URL     string `json:"url,omitempty"`
}

// SortField selects the column a character listing is ordered by.
type SortField string

// Supported sort fields.
const (
	SortByID   SortField = "id"
	SortByName SortField = "name"
)

// SortOrder selects the direction a character listing is ordered in.
type SortOrder string

// Supported sort orders.
const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// ParseSortField validates a sort field coming from an untrusted caller.
func ParseSortField(s string) (SortField, error) {
	switch SortField(s) {
	case SortByID, SortByName:
		return SortField(s), nil
	default:
		return "", fmt.Errorf("invalid sort field %q: must be one of %q, %q", s, SortByID, SortByName)
	}
}

// ParseSortOrder validates a sort order coming from an untrusted caller.
func ParseSortOrder(s string) (SortOrder, error) {
	switch SortOrder(s) {
	case OrderAsc, OrderDesc:
		return SortOrder(s), nil
	default:
		return "", fmt.Errorf("invalid sort order %q: must be one of %q, %q", s, OrderAsc, OrderDesc)
	}
}
