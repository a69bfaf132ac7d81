package model

import (
	"encoding/json"
	"time"
)

// DefaultProfileTTL is how long a fetched provider profile stays fresh.
const DefaultProfileTTL = 24 * time.Hour

// DataCache keys. Each field has its own fetch time.
const (
	ProfileField = "profile"
	PagesField   = "pages"
)

// CacheEntry is one cached value together with the time it was fetched.
type CacheEntry struct {
	Value     json.RawMessage `json:"value"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// DataCache holds per-field cache entries for a provider account.
// It is persisted as a single JSON column.
type DataCache map[string]CacheEntry

// IsStale reports whether entry must be refetched at time now.
// An entry that was never fetched is always stale.
func IsStale(entry CacheEntry, now time.Time, ttl time.Duration) bool {
	if entry.FetchedAt.IsZero() || len(entry.Value) == 0 {
		return true
	}
	return entry.FetchedAt.Before(now.Add(-ttl))
}

// Lookup returns the entry for field, if any.
func (c DataCache) Lookup(field string) (CacheEntry, bool) {
	if c == nil {
		return CacheEntry{}, false
	}
	e, ok := c[field]
	return e, ok
}

// Store encodes value as the entry for field, stamped with fetchedAt.
// A nil map is allocated on first use, so callers must keep the result.
func (c DataCache) Store(field string, value any, fetchedAt time.Time) (DataCache, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return c, err
	}
	if c == nil {
		c = make(DataCache)
	}
	c[field] = CacheEntry{Value: raw, FetchedAt: fetchedAt}
	return c, nil
}
