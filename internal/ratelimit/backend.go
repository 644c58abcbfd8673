package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Backend is a shared counter store. Incr must increment key and, when the
// key is new, set its expiry to window, as one atomic step.
type Backend interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

const sweepInterval = time.Minute

type memEntry struct {
	count   int64
	expires time.Time
}

// MemoryBackend keeps counters in process memory. It is exact for a single
// replica only.
type MemoryBackend struct {
	mu        sync.Mutex
	entries   map[string]*memEntry
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]*memEntry), now: time.Now}
}

// WithClock overrides the time source; used in tests.
func (b *MemoryBackend) WithClock(fn func() time.Time) *MemoryBackend {
	if fn != nil {
		b.now = fn
	}
	return b
}

func (b *MemoryBackend) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.lastSweep) >= sweepInterval {
		for k, e := range b.entries {
			if !now.Before(e.expires) {
				delete(b.entries, k)
			}
		}
		b.lastSweep = now
	}

	e, ok := b.entries[key]
	if !ok || !now.Before(e.expires) {
		e = &memEntry{expires: now.Add(window)}
		b.entries[key] = e
	}
	e.count++
	return e.count, nil
}

// Len returns the number of live counters.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
