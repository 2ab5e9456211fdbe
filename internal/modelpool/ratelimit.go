package modelpool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// RateLimiter admits or rejects one call on an API key. Acquire returns
// false, not an error, when the key is at its limit for the current window.
type RateLimiter interface {
	Acquire(ctx context.Context, keyID string, limit int) (bool, error)
}

// KeyID identifies an API key in limiter state. The key itself never appears
// in the id, only a truncated SHA-256 fingerprint of it.
func KeyID(model, apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return model + ":" + hex.EncodeToString(sum[:])[:16]
}

type keyState struct {
	mu       sync.Mutex
	count    int
	lastCall time.Time
}

// MemoryLimiter keeps per-key counters in process. Each key has its own
// mutex so unrelated keys never contend.
//
// A key's counter resets once more than the window has passed since its
// last admitted call.
type MemoryLimiter struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	keys map[string]*keyState
}

// NewMemoryLimiter creates a limiter with the given window (60s when zero).
func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &MemoryLimiter{
		window: window,
		now:    time.Now,
		keys:   make(map[string]*keyState),
	}
}

func (l *MemoryLimiter) state(keyID string) *keyState {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.keys[keyID]
	if !ok {
		s = &keyState{}
		l.keys[keyID] = s
	}
	return s
}

// Acquire implements RateLimiter.
func (l *MemoryLimiter) Acquire(_ context.Context, keyID string, limit int) (bool, error) {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	s := l.state(keyID)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(s.lastCall)
	if elapsed > l.window {
		s.count = 0
	}
	if s.count >= limit {
		return false, nil
	}
	s.count++
	s.lastCall = now
	return true, nil
}

// Count returns the current call count for keyID.
func (l *MemoryLimiter) Count(keyID string) int {
	s := l.state(keyID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
