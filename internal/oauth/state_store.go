package oauth

import (
	"sync"
	"time"

	"cway-mcp/pkg/logging"
)

// DefaultLoginExpiry bounds how long a started login can be completed.
const DefaultLoginExpiry = 10 * time.Minute

// PendingLogin is the server-side half of a login in progress.
type PendingLogin struct {
	Username     string
	CodeVerifier RedactedToken
	State        string
	CreatedAt    time.Time
}

// StateStore keeps pending logins keyed by their state value between the
// authorization redirect and the callback.
type StateStore struct {
	mu      sync.Mutex
	pending map[string]*PendingLogin
	clock   Clock

	expiry      time.Duration
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewStateStore creates a store and starts its cleanup loop. Call Stop when
// done.
func NewStateStore(expiry time.Duration, clock Clock) *StateStore {
	if expiry <= 0 {
		expiry = DefaultLoginExpiry
	}
	if clock == nil {
		clock = realClock{}
	}
	ss := &StateStore{
		pending:     make(map[string]*PendingLogin),
		clock:       clock,
		expiry:      expiry,
		stopCleanup: make(chan struct{}),
	}
	go ss.cleanupLoop()
	return ss
}

// Put records the pending half of req.
func (ss *StateStore) Put(req *AuthorizationRequest) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.pending[req.State] = &PendingLogin{
		Username:     req.Username,
		CodeVerifier: req.CodeVerifier,
		State:        req.State,
		CreatedAt:    req.CreatedAt,
	}
	logging.Debug("OAuth", "Started login for %s", logging.RedactUser(req.Username))
}

// Take removes and returns the login for state. It returns nil for unknown
// or expired states, so each state can be redeemed once.
func (ss *StateStore) Take(state string) *PendingLogin {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	p, ok := ss.pending[state]
	if !ok {
		return nil
	}
	delete(ss.pending, state)
	if ss.clock.Now().Sub(p.CreatedAt) > ss.expiry {
		logging.Warn("OAuth", "Login for %s expired before completion", logging.RedactUser(p.Username))
		return nil
	}
	return p
}

// Len returns the number of pending logins.
func (ss *StateStore) Len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.pending)
}

// Stop stops the background cleanup goroutine.
func (ss *StateStore) Stop() {
	ss.stopOnce.Do(func() { close(ss.stopCleanup) })
}

func (ss *StateStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ss.cleanup()
		case <-ss.stopCleanup:
			return
		}
	}
}

func (ss *StateStore) cleanup() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := ss.clock.Now()
	count := 0
	for state, p := range ss.pending {
		if now.Sub(p.CreatedAt) > ss.expiry {
			delete(ss.pending, state)
			count++
		}
	}
	if count > 0 {
		logging.Debug("OAuth", "Cleaned up %d expired logins", count)
	}
}
