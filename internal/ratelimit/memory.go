package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore keeps counters in process memory. Counters expire once they
// can no longer be weighted in, so the cache never grows beyond the set of
// active identities.
type MemoryStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, *int]
}

// NewMemoryStore creates a MemoryStore and starts its expiration loop.
func NewMemoryStore() *MemoryStore {
	c := ttlcache.New[string, *int](
		ttlcache.WithDisableTouchOnHit[string, *int](),
	)
	go c.Start()
	return &MemoryStore{cache: c}
}

// Take implements Store.
func (m *MemoryStore) Take(_ context.Context, w Window, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var previous int
	if item := m.cache.Get(w.Previous); item != nil {
		previous = weighted(*item.Value(), w.Weight)
	}

	item := m.cache.Get(w.Current)
	if item == nil {
		if previous >= limit {
			return previous, false, nil
		}
		n := 1
		ttl := w.TTL
		if ttl <= 0 {
			ttl = time.Millisecond
		}
		m.cache.Set(w.Current, &n, ttl)
		return previous + n, true, nil
	}

	count := item.Value()
	if previous+*count >= limit {
		return previous + *count, false, nil
	}
	*count++
	return previous + *count, true, nil
}

// Len returns the number of live counters.
func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

// Close stops the expiration loop.
func (m *MemoryStore) Close() {
	m.cache.Stop()
}
