package storage

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultKeyTTL is how long key lookups are served from memory.
const DefaultKeyTTL = 5 * time.Minute

type keyEntry struct {
	key     APIKey
	missing bool
	fetched time.Time
}

// CachedKeyStore wraps a KeyStore with a small in-process cache so the
// hot request path does not hit the database for every call. Both
// existing keys and confirmed misses are cached; database errors are
// not.
type CachedKeyStore struct {
	store KeyStore
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]keyEntry
}

// NewCachedKeyStore wraps store. A non-positive ttl falls back to
// DefaultKeyTTL.
func NewCachedKeyStore(store KeyStore, ttl time.Duration) *CachedKeyStore {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	return &CachedKeyStore{
		store:   store,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]keyEntry),
	}
}

// Get implements KeyStore.
func (c *CachedKeyStore) Get(ctx context.Context, key string) (APIKey, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.fetched) < c.ttl {
		if entry.missing {
			return APIKey{}, ErrKeyNotFound
		}
		return entry.key, nil
	}

	record, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		c.put(key, keyEntry{key: record, fetched: c.now()})
		return record, nil
	case errors.Is(err, ErrKeyNotFound):
		c.put(key, keyEntry{missing: true, fetched: c.now()})
		return APIKey{}, ErrKeyNotFound
	default:
		return APIKey{}, err
	}
}

func (c *CachedKeyStore) put(key string, entry keyEntry) {
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}
