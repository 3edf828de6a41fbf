package availability

import (
	"sync"
	"time"

	"meetcal/internal/metrics"
)

const defaultMaxEntries = 1024

// MemoryBackend is the default in-process Backend.
type MemoryBackend struct {
	mu         sync.RWMutex
	maxEntries int
	entries    map[Key]Entry
}

func NewMemoryBackend(maxEntries int) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &MemoryBackend{
		maxEntries: maxEntries,
		entries:    make(map[Key]Entry),
	}
}

func (b *MemoryBackend) Get(key Key) (Entry, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[key]
	return e, ok, nil
}

func (b *MemoryBackend) Put(key Key, e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.entries[key]; !exists && len(b.entries) >= b.maxEntries {
		b.evictOneLocked()
	}
	b.entries[key] = e
	metrics.CacheEntries.Set(float64(len(b.entries)))
	return nil
}

func (b *MemoryBackend) DeleteUser(userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for k := range b.entries {
		if k.UserID == userID {
			delete(b.entries, k)
		}
	}
	metrics.CacheEntries.Set(float64(len(b.entries)))
	return nil
}

func (b *MemoryBackend) Sweep(now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for k, e := range b.entries {
		if !now.Before(e.ExpiresAt) {
			delete(b.entries, k)
			n++
		}
	}
	metrics.CacheEntries.Set(float64(len(b.entries)))
	return n, nil
}

func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// evictOneLocked drops the entry closest to expiry.
func (b *MemoryBackend) evictOneLocked() {
	var (
		victim Key
		soon   time.Time
		found  bool
	)
	for k, e := range b.entries {
		if !found || e.ExpiresAt.Before(soon) {
			victim, soon, found = k, e.ExpiresAt, true
		}
	}
	if found {
		delete(b.entries, victim)
	}
}
