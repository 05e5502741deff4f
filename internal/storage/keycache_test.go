package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

// countingKeyStore fails or answers on demand and counts lookups.
type countingKeyStore struct {
	keys  map[string]APIKey
	err   error
	calls int
}

func (s *countingKeyStore) Get(ctx context.Context, key string) (APIKey, error) {
	s.calls++
	if s.err != nil {
		return APIKey{}, s.err
	}
	record, ok := s.keys[key]
	if !ok {
		return APIKey{}, ErrKeyNotFound
	}
	return record, nil
}

func TestCachedKeyStoreServesFromCache(t *testing.T) {
	backend := &countingKeyStore{keys: map[string]APIKey{
		"k1": {Key: "k1", Name: "app", AllowLocate: true},
	}}
	cache := NewCachedKeyStore(backend, time.Minute)

	for i := 0; i < 3; i++ {
		key, err := cache.Get(context.Background(), "k1")
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if key.Name != "app" {
			t.Fatalf("get %d: unexpected key %+v", i, key)
		}
	}

	if backend.calls != 1 {
		t.Errorf("expected 1 backend lookup, got %d", backend.calls)
	}
}

func TestCachedKeyStoreCachesMisses(t *testing.T) {
	backend := &countingKeyStore{keys: map[string]APIKey{}}
	cache := NewCachedKeyStore(backend, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := cache.Get(context.Background(), "nope")
		if !errors.Is(err, ErrKeyNotFound) {
			t.Fatalf("get %d: expected ErrKeyNotFound, got %v", i, err)
		}
	}

	if backend.calls != 1 {
		t.Errorf("expected 1 backend lookup for a cached miss, got %d", backend.calls)
	}
}

func TestCachedKeyStoreDoesNotCacheErrors(t *testing.T) {
	backend := &countingKeyStore{err: errors.New("connection refused")}
	cache := NewCachedKeyStore(backend, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := cache.Get(context.Background(), "k1")
		if err == nil {
			t.Fatalf("get %d: expected error", i)
		}
		if errors.Is(err, ErrKeyNotFound) {
			t.Fatalf("get %d: outage must not look like a missing key", i)
		}
	}

	// Every call hits the backend again so recovery is immediate
	if backend.calls != 2 {
		t.Errorf("expected 2 backend lookups, got %d", backend.calls)
	}

	// Once the database recovers the key is served and cached
	backend.err = nil
	backend.keys = map[string]APIKey{"k1": {Key: "k1"}}
	if _, err := cache.Get(context.Background(), "k1"); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
}

func TestCachedKeyStoreExpiry(t *testing.T) {
	backend := &countingKeyStore{keys: map[string]APIKey{
		"k1": {Key: "k1", Name: "old"},
	}}
	cache := NewCachedKeyStore(backend, time.Minute)

	now := time.Now()
	cache.now = func() time.Time { return now }

	if _, err := cache.Get(context.Background(), "k1"); err != nil {
		t.Fatal(err)
	}

	// Change the backing record, then move past the TTL
	backend.keys["k1"] = APIKey{Key: "k1", Name: "new"}
	now = now.Add(2 * time.Minute)

	key, err := cache.Get(context.Background(), "k1")
	if err != nil {
		t.Fatal(err)
	}
	if key.Name != "new" {
		t.Errorf("expected refreshed record after TTL, got %q", key.Name)
	}
	if backend.calls != 2 {
		t.Errorf("expected 2 backend lookups, got %d", backend.calls)
	}
}

func TestCachedKeyStoreDefaultTTL(t *testing.T) {
	cache := NewCachedKeyStore(&countingKeyStore{}, 0)
	if cache.ttl != DefaultKeyTTL {
		t.Errorf("expected default TTL %v, got %v", DefaultKeyTTL, cache.ttl)
	}
}
