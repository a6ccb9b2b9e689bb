package internal

import (
	"slices"
	"sync"
)

// SitemapItem is one named page. Routes registered as "#id" use its URL.
type SitemapItem struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	Parent string `json:"parent,omitempty"`
}

// Sitemap is the tree of named pages.
type Sitemap struct {
	items map[string]SitemapItem
	mu    sync.RWMutex
}

func newSitemap() *Sitemap {
	return &Sitemap{items: make(map[string]SitemapItem)}
}

// Add registers or replaces an item.
func (s *Sitemap) Add(item SitemapItem) {
	s.mu.Lock()
	s.items[item.ID] = item
	s.mu.Unlock()
}

func (s *Sitemap) Get(id string) (SitemapItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok
}

// Navigation returns the path from the root item down to id. Parent cycles
// end the walk.
func (s *Sitemap) Navigation(id string) []SitemapItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SitemapItem
	seen := make(map[string]bool)
	for id != "" && !seen[id] {
		item, ok := s.items[id]
		if !ok {
			break
		}
		seen[id] = true
		out = append(out, item)
		id = item.Parent
	}
	slices.Reverse(out)
	return out
}

func (s *Sitemap) resolve(id string) (string, bool) {
	item, ok := s.Get(id)
	return item.URL, ok
}
