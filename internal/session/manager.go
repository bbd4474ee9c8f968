package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cway-mcp/internal/metrics"
	"cway-mcp/internal/oauth"
	"cway-mcp/internal/tokenstore"
	"cway-mcp/pkg/logging"
)

// DefaultRefreshThreshold is how close to expiry a token is refreshed.
const DefaultRefreshThreshold = 5 * time.Minute

// Store is the persistence the manager needs.
type Store interface {
	Load(username string) (*tokenstore.Session, error)
	Save(username string, sess *tokenstore.Session) error
	Delete(username string) error
	Usernames() ([]string, error)
}

// Refresher exchanges a refresh token for new tokens.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth.Tokens, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager hands out valid access tokens per user, refreshing them when they
// are close to expiry. Work for one user is serialized by a per-user lock;
// different users never wait on each other.
type Manager struct {
	store     Store
	refresher Refresher
	clock     Clock
	threshold time.Duration
	metrics   *metrics.Recorder

	locks *lockTable

	cacheMu sync.RWMutex
	cache   map[string]*tokenstore.Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithRefreshThreshold sets how early tokens are refreshed.
func WithRefreshThreshold(d time.Duration) Option {
	return func(m *Manager) { m.threshold = d }
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithMetrics records refresh outcomes on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// NewManager creates a manager.
func NewManager(store Store, refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		refresher: refresher,
		clock:     realClock{},
		threshold: DefaultRefreshThreshold,
		locks:     newLockTable(),
		cache:     make(map[string]*tokenstore.Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetValidToken returns an access token for username that is valid for at
// least the refresh threshold, refreshing it first if needed.
//
// It returns ErrNotAuthenticated when there is no session and an error
// wrapping ErrReauthenticationRequired when the refresh token was rejected;
// in that case the session is deleted. Transient provider failures are
// returned as is (see oauth.IsRetryable). A stale token is never returned.
func (m *Manager) GetValidToken(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", ErrNotAuthenticated
	}
	release, err := m.locks.acquire(ctx, username)
	if err != nil {
		return "", err
	}
	defer release()

	sess, err := m.loadLocked(username)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", ErrNotAuthenticated
	}

	if sess.ExpiresAt.Sub(m.clock.Now()) >= m.threshold {
		return sess.AccessToken, nil
	}

	refreshed, err := m.refreshLocked(ctx, username, sess)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Token implements TokenSource.
func (m *Manager) Token(ctx context.Context, username string) (string, error) {
	return m.GetValidToken(ctx, username)
}

// ForceRefresh refreshes the user's token regardless of its expiry.
func (m *Manager) ForceRefresh(ctx context.Context, username string) (*Info, error) {
	release, err := m.locks.acquire(ctx, username)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := m.loadLocked(username)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotAuthenticated
	}
	refreshed, err := m.refreshLocked(ctx, username, sess)
	if err != nil {
		return nil, err
	}
	return m.info(username, refreshed), nil
}

// SaveSession stores tokens from a completed login for username.
func (m *Manager) SaveSession(ctx context.Context, username string, tokens *oauth.Tokens) error {
	if tokens == nil || tokens.AccessToken.IsEmpty() {
		return errors.New("login returned no access token")
	}
	release, err := m.locks.acquire(ctx, username)
	if err != nil {
		return err
	}
	defer release()

	now := m.clock.Now()
	sess := &tokenstore.Session{
		Username:     username,
		AccessToken:  tokens.AccessToken.Value(),
		RefreshToken: tokens.RefreshToken.Value(),
		TokenType:    tokens.TokenType,
		ExpiresAt:    tokens.ExpiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.Save(username, sess); err != nil {
		return err
	}
	m.setCached(username, sess)
	logging.Info("Session", "Stored session for %s, expires %s", logging.RedactUser(username), sess.ExpiresAt.Format(time.RFC3339))
	return nil
}

// Logout deletes the user's session and reports whether one existed.
func (m *Manager) Logout(ctx context.Context, username string) (bool, error) {
	release, err := m.locks.acquire(ctx, username)
	if err != nil {
		return false, err
	}
	defer release()

	sess, err := m.loadLocked(username)
	if err != nil {
		return false, err
	}
	m.dropCached(username)
	if err := m.store.Delete(username); err != nil {
		return false, err
	}
	logging.Info("Session", "Logged out %s", logging.RedactUser(username))
	return sess != nil, nil
}

// Info describes a user's session without exposing credentials.
type Info struct {
	Username         string    `json:"username"`
	Authenticated    bool      `json:"authenticated"`
	Valid            bool      `json:"is_valid"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExpiresInSeconds int64     `json:"expires_in_seconds"`
	ExpiringSoon     bool      `json:"expiring_soon"`
	HasRefreshToken  bool      `json:"has_refresh_token"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Info reports the state of username's session. It never refreshes.
func (m *Manager) Info(ctx context.Context, username string) (*Info, error) {
	release, err := m.locks.acquire(ctx, username)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := m.loadLocked(username)
	if err != nil {
		return nil, err
	}
	return m.info(username, sess), nil
}

// ListUsers returns the usernames with a stored session.
func (m *Manager) ListUsers() ([]string, error) {
	return m.store.Usernames()
}

// Invalidate drops any cached session whose storage key is key. It is wired
// to the token store watcher.
func (m *Manager) Invalidate(key string) {
	m.cacheMu.Lock()
	for username := range m.cache {
		if tokenstore.Key(username) == key {
			delete(m.cache, username)
			logging.Debug("Session", "Dropped cached session for %s after on-disk change", logging.RedactUser(username))
		}
	}
	n := len(m.cache)
	m.cacheMu.Unlock()
	m.metrics.SetCachedSessions(n)
}

func (m *Manager) info(username string, sess *tokenstore.Session) *Info {
	if sess == nil {
		return &Info{Username: username}
	}
	remaining := sess.ExpiresAt.Sub(m.clock.Now())
	return &Info{
		Username:         username,
		Authenticated:    true,
		Valid:            remaining > 0,
		ExpiresAt:        sess.ExpiresAt,
		ExpiresInSeconds: int64(remaining.Seconds()),
		ExpiringSoon:     remaining < m.threshold,
		HasRefreshToken:  sess.RefreshToken != "",
		UpdatedAt:        sess.UpdatedAt,
	}
}

// refreshLocked must be called with the user's lock held.
func (m *Manager) refreshLocked(ctx context.Context, username string, sess *tokenstore.Session) (*tokenstore.Session, error) {
	start := time.Now()
	tokens, err := m.refresher.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		if oauth.IsRejected(err) {
			m.metrics.ObserveRefresh(metrics.OutcomeReauth, time.Since(start))
			logging.Audit("token_refresh_rejected", "user", logging.RedactUser(username))
			m.dropCached(username)
			if delErr := m.store.Delete(username); delErr != nil {
				logging.Error("Session", delErr, "Failed to delete rejected session")
			}
			return nil, fmt.Errorf("%w: %w", ErrReauthenticationRequired, err)
		}
		m.metrics.ObserveRefresh(metrics.OutcomeFailure, time.Since(start))
		logging.Warn("Session", "Token refresh for %s failed: %v", logging.RedactUser(username), err)
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	m.metrics.ObserveRefresh(metrics.OutcomeSuccess, time.Since(start))

	updated := sess.Clone()
	updated.AccessToken = tokens.AccessToken.Value()
	if !tokens.RefreshToken.IsEmpty() {
		updated.RefreshToken = tokens.RefreshToken.Value()
	}
	if tokens.TokenType != "" {
		updated.TokenType = tokens.TokenType
	}
	updated.ExpiresAt = tokens.ExpiresAt
	updated.UpdatedAt = m.clock.Now()

	// The old refresh token may already be spent, so the new session is
	// cached even if it cannot be written.
	m.setCached(username, updated)
	if err := m.store.Save(username, updated); err != nil {
		logging.Error("Session", err, "Refreshed session for %s could not be persisted", logging.RedactUser(username))
	}
	logging.Audit("token_refreshed", "user", logging.RedactUser(username), "expires_at", updated.ExpiresAt.Format(time.RFC3339))
	return updated, nil
}

// loadLocked must be called with the user's lock held.
func (m *Manager) loadLocked(username string) (*tokenstore.Session, error) {
	m.cacheMu.RLock()
	sess, ok := m.cache[username]
	m.cacheMu.RUnlock()
	if ok {
		return sess, nil
	}

	sess, err := m.store.Load(username)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		m.setCached(username, sess)
	}
	return sess, nil
}

func (m *Manager) setCached(username string, sess *tokenstore.Session) {
	m.cacheMu.Lock()
	m.cache[username] = sess
	n := len(m.cache)
	m.cacheMu.Unlock()
	m.metrics.SetCachedSessions(n)
}

func (m *Manager) dropCached(username string) {
	m.cacheMu.Lock()
	delete(m.cache, username)
	n := len(m.cache)
	m.cacheMu.Unlock()
	m.metrics.SetCachedSessions(n)
}
