package enrichment

import (
	"strings"
)

// Entry is what is known about one merchant from earlier enrichment runs.
type Entry struct {
	Key                 string   `json:"key"`
	BusinessName        string   `json:"businessName,omitempty"`
	MerchantType        string   `json:"merchantType"`
	MerchantDescription string   `json:"merchantDescription"`
	Category            string   `json:"category"`
	Location            string   `json:"location,omitempty"`
	Latitude            *float64 `json:"latitude,omitempty"`
	Longitude           *float64 `json:"longitude,omitempty"`
}

// Cache answers exact lookups by lowercased merchant key and exposes its
// keys for fuzzy matching.
type Cache interface {
	Lookup(key string) (Entry, bool)
	Keys() []string
}

// MemoryCache is a Cache rebuilt from stored transactions on every run.
type MemoryCache struct {
	entries map[string]Entry
	keys    []string
}

// NewMemoryCache indexes entries by lowercased key. The first entry for a key wins.
func NewMemoryCache(entries []Entry) *MemoryCache {
	c := &MemoryCache{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		key := normalizeKey(e.Key)
		if key == "" {
			continue
		}
		if _, ok := c.entries[key]; ok {
			continue
		}
		e.Key = key
		c.entries[key] = e
		c.keys = append(c.keys, key)
	}
	return c
}

// Lookup returns the entry stored under key.
func (c *MemoryCache) Lookup(key string) (Entry, bool) {
	e, ok := c.entries[normalizeKey(key)]
	return e, ok
}

// Keys returns the cached keys in insertion order.
func (c *MemoryCache) Keys() []string {
	return c.keys
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
