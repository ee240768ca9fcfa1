// Package trackcache memoizes resolver output keyed by the user's input.
// Search results live for a fixed TTL; resolved tracks live until the signed
// audio URL of any contained track expires. Track lists resolved without
// stream URLs (playlist enumerations, Spotify mappings) age like search
// results instead.
package trackcache

import (
	"context"
	"log"
	"sync"
	"time"

	"jukebird/internal/music/track"
)

type Kind int

const (
	KindSearch Kind = iota
	KindTracks
)

// Entry is what Get and Put exchange. Exactly one of Tracks/Search is set,
// according to Kind.
type Entry struct {
	Kind    Kind
	Tracks  []track.Track
	Search  []track.SearchResult
	Written time.Time
}

type Cache struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	searchTTL time.Duration
	now       func() time.Time
}

func New(searchTTL time.Duration) *Cache {
	return &Cache{
		entries:   make(map[string]Entry),
		searchTTL: searchTTL,
		now:       time.Now,
	}
}

// Get returns the cached entry for key. An expired entry is reported as a
// miss; the caller re-resolves.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.expired(e, c.now()) {
		return Entry{}, false
	}
	return e, true
}

// Put stores resolver output under key, stamping the write time.
func (c *Cache) Put(key string, e Entry) {
	e.Written = c.now()

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// Invalidate drops the entry for key, if any.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Run sweeps on a fixed cadence until ctx is done. Sweep frequency is a
// tunable, not a correctness knob: Get already treats expired entries as
// misses.
func (c *Cache) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				log.Printf("[TrackCache] Sweep removed %d expired entr(y/ies), %d left", n, c.Len())
			}
		}
	}
}

func (c *Cache) expired(e Entry, now time.Time) bool {
	switch e.Kind {
	case KindSearch:
		return now.Sub(e.Written) >= c.searchTTL
	default:
		signed := false
		for _, t := range e.Tracks {
			if t.AudioStreamURL == "" {
				continue
			}
			signed = true
			if t.Expired(now) {
				return true
			}
		}
		if !signed {
			// metadata-only lists; the worker re-validates the stream
			// URL before playback regardless
			return now.Sub(e.Written) >= c.searchTTL
		}
		return false
	}
}
