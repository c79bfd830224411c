package upstream

import (
	"strings"

	"github.com/darianhuotari/rickmorty-sre-demo/internal/store"
)

// Ingest filters: only living human characters originating from any Earth
// variant are persisted locally.
const (
	filterSpecies      = "Human"
	filterStatus       = "Alive"
	filterOriginPrefix = "Earth"
)

// characterPage is the wire shape of one page of the upstream character
// listing: a results array plus a pagination cursor in info.next.
type characterPage struct {
	Info    pageInfo       `json:"info"`
	Results []rawCharacter `json:"results"`
}

type pageInfo struct {
	Next *string `json:"next"`
}

// rawCharacter is the upstream character shape before filtering and
// projection. The origin name is nested one level down.
type rawCharacter struct {
	ID      int       `json:"id"`
	Name    string    `json:"name"`
	Status  string    `json:"status"`
	Species string    `json:"species"`
	Origin  originRef `json:"origin"`
	Image   string    `json:"image"`
	URL     string    `json:"url"`
}

type originRef struct {
	Name string `json:"name"`
}

// hasNext reports whether the pagination cursor points at a further page.
func (p *characterPage) hasNext() bool {
	return p.Info.Next != nil && *p.Info.Next != ""
}

// filterCharacters keeps the rows matching the ingest filters and projects
// them down to the flat store shape.
func filterCharacters(raw []rawCharacter) []store.Character {
	out := make([]store.Character, 0, len(raw))
	for _, c := range raw {
		if c.Species != filterSpecies || c.Status != filterStatus {
			continue
		}
		if !strings.HasPrefix(c.Origin.Name, filterOriginPrefix) {
			continue
		}
		out = append(out, store.Character{
			ID:      c.ID,
			Name:    c.Name,
			Status:  c.Status,
			Species: c.Species,
			Origin:  c.Origin.Name,
			Image:   c.Image,
			URL:     c.URL,
		})
	}
	return out
}
