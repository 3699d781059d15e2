// Package explore loads the bundled catalog of suggested feeds.
package explore

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"rss_reader/internal/model"
)

//go:embed feeds.json
var bundled []byte

// Suggestion is a catalog entry annotated with whether the user already has it.
type Suggestion struct {
	model.ExploreFeed
	Added bool `json:"added"`
}

// Catalog is an ordered list of suggested feeds.
type Catalog struct {
	feeds []model.ExploreFeed
}

// Load parses the bundled feeds.json.
func Load() (*Catalog, error) {
	return Parse(bytes.NewReader(bundled))
}

// Parse reads a catalog from r. Entries without a name or URL are rejected.
func Parse(r io.Reader) (*Catalog, error) {
	var feeds []model.ExploreFeed
	if err := json.NewDecoder(r).Decode(&feeds); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for i, f := range feeds {
		if strings.TrimSpace(f.Name) == "" || strings.TrimSpace(f.URL) == "" {
			return nil, fmt.Errorf("catalog entry %d: name and url are required", i)
		}
	}
	return &Catalog{feeds: feeds}, nil
}

// Feeds returns all catalog entries.
func (c *Catalog) Feeds() []model.ExploreFeed {
	out := make([]model.ExploreFeed, len(c.feeds))
	copy(out, c.feeds)
	return out
}

// Categories returns the distinct categories in first-seen order.
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range c.feeds {
		if !seen[f.Category] {
			seen[f.Category] = true
			out = append(out, f.Category)
		}
	}
	return out
}

// Suggestions cross-references the catalog with the saved feeds. An empty
// category returns every entry; matching is case-insensitive.
func (c *Catalog) Suggestions(category string, saved []model.Feed) []Suggestion {
	added := make(map[string]bool, len(saved))
	for _, f := range saved {
		added[f.URL] = true
	}

	var out []Suggestion
	for _, f := range c.feeds {
		if category != "" && !strings.EqualFold(category, f.Category) {
			continue
		}
		out = append(out, Suggestion{ExploreFeed: f, Added: added[f.URL]})
	}
	return out
}
