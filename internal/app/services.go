package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"cway-mcp/internal/config"
	"cway-mcp/internal/confirm"
	"cway-mcp/internal/cway"
	"cway-mcp/internal/metrics"
	"cway-mcp/internal/oauth"
	"cway-mcp/internal/server"
	"cway-mcp/internal/session"
	"cway-mcp/internal/tokenstore"
	"cway-mcp/pkg/logging"
)

// Services holds the initialized components of a running cway-mcp.
//
// In static token mode the session components (Store, OAuth, Pending,
// Sessions, Login) are nil.
type Services struct {
	Config config.Config

	Metrics *metrics.Recorder

	Store    *tokenstore.Store
	OAuth    *oauth.Client
	Pending  *oauth.StateStore
	Sessions *session.Manager
	Login    *session.LoginFlow

	Confirm *confirm.Service
	Cway    *cway.Client
	Server  *server.Server

	redis *redis.Client
}

// InitializeServices creates every component from cfg.Cway in dependency
// order: metrics, sessions, confirmation, Cway client, MCP server.
func InitializeServices(ctx context.Context, cfg *Config, version string) (*Services, error) {
	if cfg.Cway == nil {
		return nil, errors.New("configuration is not loaded")
	}
	c := *cfg.Cway
	s := &Services{Config: c, Metrics: metrics.New()}

	var tokens session.TokenSource
	if c.Auth.Method == config.AuthMethodStatic {
		logging.Info("Bootstrap", "Using static API token; per-user login is disabled")
		tokens = session.StaticToken(c.Auth.APIToken)
	} else {
		if err := s.initSessions(); err != nil {
			return nil, err
		}
		tokens = s.Sessions
	}

	if err := s.initConfirm(ctx); err != nil {
		s.Close()
		return nil, err
	}

	var err error
	s.Cway, err = cway.NewClient(cway.Config{
		Endpoint: c.API.URL,
		Timeout:  c.API.Timeout,
		MaxTries: c.API.MaxRetries,
	}, tokens, cway.WithMetrics(s.Metrics))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create cway client: %w", err)
	}

	s.Server, err = server.New(server.Deps{
		AuthMethod:  c.Auth.Method,
		DefaultUser: c.Username,
		LoginExpiry: c.Auth.LoginExpiry,
		Sessions:    s.Sessions,
		Login:       s.Login,
		Confirm:     s.Confirm,
		Cway:        s.Cway,
		Metrics:     s.Metrics,
	}, version)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create MCP server: %w", err)
	}
	return s, nil
}

func (s *Services) initSessions() error {
	c := s.Config
	store, err := tokenstore.New(tokenstore.Config{
		Dir:     c.Storage.TokenDir,
		KeyFile: c.Storage.KeyFile,
	})
	if err != nil {
		return fmt.Errorf("failed to open token store: %w", err)
	}
	s.Store = store

	s.OAuth, err = oauth.NewClient(oauth.Config{
		ClientID:     c.Auth.ClientID,
		TenantID:     c.Auth.TenantID,
		AuthorizeURL: c.Auth.AuthorizeURL,
		IDPTokenURL:  c.Auth.IDPTokenURL,
		TokenURL:     c.Auth.TokenURL,
		RedirectURL:  c.Auth.RedirectURL,
		Scopes:       c.Auth.Scopes,
		HTTPTimeout:  c.Auth.HTTPTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create oauth client: %w", err)
	}

	s.Pending = oauth.NewStateStore(c.Auth.LoginExpiry, nil)
	s.Sessions = session.NewManager(store, s.OAuth,
		session.WithRefreshThreshold(c.Auth.RefreshThreshold),
		session.WithMetrics(s.Metrics),
	)
	s.Login = session.NewLoginFlow(s.OAuth, s.Pending, s.Sessions, s.Metrics)
	logging.Info("Bootstrap", "Sessions stored in %s", store.Dir())
	return nil
}

func (s *Services) initConfirm(ctx context.Context) error {
	c := s.Config.Confirmation

	secret := c.Secret
	if secret == "" {
		var err error
		if secret, err = ephemeralSecret(); err != nil {
			return err
		}
		logging.Info("Bootstrap", "No confirmation secret configured; pending confirmations will not survive a restart")
	}
	codec, err := confirm.NewCodec(secret)
	if err != nil {
		return fmt.Errorf("failed to create confirmation codec: %w", err)
	}

	var registry confirm.Registry = confirm.NewMemoryRegistry()
	if c.RedisAddr != "" {
		s.redis, err = confirm.DialRedis(ctx, confirm.RedisOptions{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		if err != nil {
			return err
		}
		registry = confirm.NewRedisRegistry(s.redis, c.Retention, nil)
		logging.Info("Bootstrap", "Consumed confirmation tokens are tracked in Redis at %s", c.RedisAddr)
	}

	s.Confirm, err = confirm.NewService(codec, registry,
		confirm.WithTTL(c.TTL),
		confirm.WithRetention(c.Retention),
		confirm.WithMetrics(s.Metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create confirmation service: %w", err)
	}
	return nil
}

// Close releases background resources. It is safe to call more than once.
func (s *Services) Close() {
	if s.Pending != nil {
		s.Pending.Stop()
		s.Pending = nil
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logging.Warn("Bootstrap", "Failed to close redis client: %v", err)
		}
		s.redis = nil
	}
}

func ephemeralSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate confirmation secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
