package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cway-mcp/internal/metrics"
	"cway-mcp/pkg/logging"
)

const (
	// DefaultTTL is how long a confirmation token stays valid.
	DefaultTTL = 5 * time.Minute

	// DefaultRetention is how long a consumed nonce is remembered after issuance.
	DefaultRetention = time.Hour
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Service issues and redeems confirmation tokens for destructive operations.
// It never performs the operation itself: Confirm hands the original data back
// to the caller, which runs the mutation.
type Service struct {
	codec     *Codec
	registry  Registry
	clock     Clock
	ttl       time.Duration
	retention time.Duration
	newNonce  func() string
	metrics   *metrics.Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithRetention sets how long consumed nonces are remembered.
func WithRetention(retention time.Duration) Option {
	return func(s *Service) { s.retention = retention }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithMetrics records issue and confirm outcomes on m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a confirmation service.
func NewService(codec *Codec, registry Registry, opts ...Option) (*Service, error) {
	if codec == nil || registry == nil {
		return nil, errors.New("confirmation service requires a codec and a registry")
	}
	s := &Service{
		codec:     codec,
		registry:  registry,
		clock:     realClock{},
		ttl:       DefaultTTL,
		retention: DefaultRetention,
		newNonce:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl <= 0 {
		return nil, fmt.Errorf("confirmation ttl must be positive, got %s", s.ttl)
	}
	// A nonce evicted while its token is still unexpired could be replayed.
	if s.retention < s.ttl {
		return nil, fmt.Errorf("confirmation retention %s is shorter than ttl %s", s.retention, s.ttl)
	}
	return s, nil
}

// Prepared is the result of Prepare.
type Prepared struct {
	Action    Action
	Token     string
	ExpiresAt time.Time
	TTL       time.Duration
	Items     []any
	Warnings  []string
}

// Prepare issues a token authorizing action with data. items and warnings are
// returned untouched for display; they are not part of the token.
func (s *Service) Prepare(action Action, data any, items []any, warnings []string) (*Prepared, error) {
	if action == "" {
		return nil, errors.New("confirmation action must not be empty")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s parameters: %w", action, err)
	}

	now := s.clock.Now().UTC()
	payload := Payload{
		Action:    action,
		Data:      raw,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
		Nonce:     s.newNonce(),
	}
	token, err := s.codec.Encode(payload)
	if err != nil {
		return nil, err
	}

	s.metrics.TokenIssued(string(action))
	logging.Debug("Confirm", "Issued %s confirmation token, expires %s", action, payload.ExpiresAt.Format(time.RFC3339))

	if items == nil {
		items = []any{}
	}
	if warnings == nil {
		warnings = []string{}
	}
	return &Prepared{
		Action:    action,
		Token:     token,
		ExpiresAt: payload.ExpiresAt,
		TTL:       s.ttl,
		Items:     items,
		Warnings:  warnings,
	}, nil
}

// Confirm validates token for expected and consumes it, returning the data
// passed to Prepare. Checks run in this order: signature, action, expiry,
// single use. An action mismatch is reported even for expired or spent
// tokens so that programming errors are never masked.
func (s *Service) Confirm(ctx context.Context, token string, expected Action) (json.RawMessage, error) {
	payload, err := s.codec.Decode(token)
	if err != nil {
		s.metrics.ConfirmResult(string(expected), "invalid")
		return nil, err
	}

	if payload.Action != expected {
		s.metrics.ConfirmResult(string(expected), "mismatch")
		return nil, &ActionMismatchError{Expected: expected, Actual: payload.Action}
	}

	now := s.clock.Now()
	if now.After(payload.ExpiresAt) {
		s.metrics.ConfirmResult(string(expected), "expired")
		return nil, ErrTokenExpired
	}

	used, err := s.registry.IsConsumed(ctx, payload.Nonce)
	if err != nil {
		return nil, err
	}
	if used {
		s.metrics.ConfirmResult(string(expected), "used")
		return nil, ErrTokenAlreadyUsed
	}
	if err := s.registry.MarkConsumed(ctx, payload.Nonce, payload.IssuedAt); err != nil {
		if errors.Is(err, ErrTokenAlreadyUsed) {
			s.metrics.ConfirmResult(string(expected), "used")
		}
		return nil, err
	}

	s.metrics.ConfirmResult(string(expected), "confirmed")
	logging.Audit("confirmation_consumed", "action", string(expected))

	if _, err := s.registry.EvictExpired(ctx, now, s.retention); err != nil {
		logging.Warn("Confirm", "Failed to evict consumed nonces: %v", err)
	}
	return payload.Data, nil
}

// ConfirmInto is Confirm followed by decoding the data into out.
func (s *Service) ConfirmInto(ctx context.Context, token string, expected Action, out any) error {
	raw, err := s.Confirm(ctx, token, expected)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s parameters: %w", expected, err)
	}
	return nil
}

// Stats describes the service configuration and registry size.
type Stats struct {
	TTLSeconds       int `json:"ttl_seconds"`
	RetentionSeconds int `json:"retention_seconds"`
	ConsumedTracked  int `json:"consumed_tracked"`
}

// Stats reports current service statistics.
func (s *Service) Stats(ctx context.Context) Stats {
	return Stats{
		TTLSeconds:       int(s.ttl.Seconds()),
		RetentionSeconds: int(s.retention.Seconds()),
		ConsumedTracked:  s.registry.Len(ctx),
	}
}

// RunJanitor evicts old nonces every interval until ctx is cancelled.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.registry.EvictExpired(ctx, s.clock.Now(), s.retention)
			if err != nil {
				logging.Warn("Confirm", "Nonce eviction failed: %v", err)
				continue
			}
			if n > 0 {
				logging.Debug("Confirm", "Evicted %d consumed nonces", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// PreviewResponse is the tool-facing shape of a prepared destructive operation.
type PreviewResponse struct {
	Action                string    `json:"action"`
	Operation             string    `json:"operation"`
	ItemType              string    `json:"item_type"`
	Items                 []any     `json:"items"`
	ItemCount             int       `json:"item_count"`
	Warnings              []string  `json:"warnings"`
	ConfirmationRequired  bool      `json:"confirmation_required"`
	ConfirmationToken     string    `json:"confirmation_token"`
	TokenExpiresAt        time.Time `json:"token_expires_at"`
	TokenExpiresInSeconds int       `json:"token_expires_in_seconds"`
	NextStep              string    `json:"next_step"`
}

// Preview renders p for display. confirmTool names the tool that redeems the token.
func (p *Prepared) Preview(operation, itemType, confirmTool string) PreviewResponse {
	return PreviewResponse{
		Action:                "preview",
		Operation:             operation,
		ItemType:              itemType,
		Items:                 p.Items,
		ItemCount:             len(p.Items),
		Warnings:              p.Warnings,
		ConfirmationRequired:  true,
		ConfirmationToken:     p.Token,
		TokenExpiresAt:        p.ExpiresAt,
		TokenExpiresInSeconds: int(p.TTL.Seconds()),
		NextStep:              fmt.Sprintf("To proceed, call %s with the confirmation_token", confirmTool),
	}
}
