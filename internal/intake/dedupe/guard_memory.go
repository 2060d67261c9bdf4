package dedupe

import (
	"context"
	"sync"
	"time"
)

// InMemoryGuard is the single-process variant used without Redis.
type InMemoryGuard struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

type MemoryOption func(*InMemoryGuard)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(g *InMemoryGuard) {
		g.now = now
	}
}

func NewInMemory(opts ...MemoryOption) *InMemoryGuard {
	g := &InMemoryGuard{expires: make(map[string]time.Time), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *InMemoryGuard) Claim(_ context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.sweepLocked(now)
	if exp, ok := g.expires[fingerprint]; ok && now.Before(exp) {
		return false, nil
	}
	g.expires[fingerprint] = now.Add(ttl)
	return true, nil
}

func (g *InMemoryGuard) Release(_ context.Context, fingerprint string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.expires, fingerprint)
	return nil
}

func (g *InMemoryGuard) sweepLocked(now time.Time) {
	for fp, exp := range g.expires {
		if !now.Before(exp) {
			delete(g.expires, fp)
		}
	}
}
