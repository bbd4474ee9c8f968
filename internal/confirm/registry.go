package confirm

import (
	"context"
	"sync"
	"time"
)

// Registry records which confirmation nonces have been consumed.
//
// MarkConsumed must be atomic: when two callers race to consume the same
// nonce, exactly one succeeds and the other gets ErrTokenAlreadyUsed.
type Registry interface {
	IsConsumed(ctx context.Context, nonce string) (bool, error)
	MarkConsumed(ctx context.Context, nonce string, issuedAt time.Time) error
	// EvictExpired drops entries whose issuedAt+retention is before now and
	// returns how many were removed.
	EvictExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error)
	// Len reports the number of tracked nonces, or -1 when unknown.
	Len(ctx context.Context) int
}

// MemoryRegistry is a process-local Registry. Its contents are lost on
// restart, which invalidates every outstanding confirmation token.
type MemoryRegistry struct {
	mu       sync.Mutex
	consumed map[string]time.Time
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{consumed: make(map[string]time.Time)}
}

func (r *MemoryRegistry) IsConsumed(_ context.Context, nonce string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.consumed[nonce]
	return ok, nil
}

func (r *MemoryRegistry) MarkConsumed(_ context.Context, nonce string, issuedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.consumed[nonce]; ok {
		return ErrTokenAlreadyUsed
	}
	r.consumed[nonce] = issuedAt
	return nil
}

func (r *MemoryRegistry) EvictExpired(_ context.Context, now time.Time, retention time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for nonce, issuedAt := range r.consumed {
		if issuedAt.Add(retention).Before(now) {
			delete(r.consumed, nonce)
			removed++
		}
	}
	return removed, nil
}

func (r *MemoryRegistry) Len(context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.consumed)
}
