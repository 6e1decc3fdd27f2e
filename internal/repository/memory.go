package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryRateLimitStore is the single-process fallback for the Redis store.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	windows map[string]*rateLimitEntry
	now     func() time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{windows: make(map[string]*rateLimitEntry), now: time.Now}
}

func (r *MemoryRateLimitStore) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.windows[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.windows[key] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}

// Cleanup drops expired windows.
func (r *MemoryRateLimitStore) Cleanup() {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.windows {
		if now.After(entry.expiresAt) {
			delete(r.windows, key)
		}
	}
}
