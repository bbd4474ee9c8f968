package cway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"cway-mcp/internal/metrics"
	"cway-mcp/internal/oauth"
	"cway-mcp/internal/session"
	"cway-mcp/pkg/logging"
)

const maxResponseSize = 4 << 20

// Config configures a Client.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	MaxTries uint
}

// Client is a minimal Cway GraphQL client. Every call is made on behalf of a
// user whose bearer token comes from a session.TokenSource.
type Client struct {
	endpoint   string
	httpClient *http.Client
	tokens     session.TokenSource
	metrics    *metrics.Recorder
	maxTries   uint
	newBackOff func() backoff.BackOff

	// lookups de-duplicates identical concurrent preview queries.
	lookups singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics records upstream call outcomes on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Client) { c.metrics = r }
}

// WithBackOff sets the retry schedule. f is called once per request.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

// NewClient creates a client for cfg.Endpoint.
func NewClient(cfg Config, tokens session.TokenSource, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if u, err := url.Parse(cfg.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid cway api url %q", cfg.Endpoint)
	}
	if tokens == nil {
		return nil, errors.New("cway client requires a token source")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = DefaultMaxTries
	}

	c := &Client{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     tokens,
		maxTries:   cfg.MaxTries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetProject looks up a project by id. It returns nil if the project does not
// exist.
func (c *Client) GetProject(ctx context.Context, username, id string) (*Project, error) {
	v, err := c.shared(ctx, "project\x00"+username+"\x00"+id, func(ctx context.Context) (any, error) {
		var out struct {
			Project *Project `json:"project"`
		}
		if err := c.query(ctx, username, "GetProject", getProjectQuery, map[string]any{"id": id}, &out); err != nil {
			return nil, err
		}
		return out.Project, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Project), nil
}

// GetProjects looks up each id and returns the projects found plus the ids
// that do not exist.
func (c *Client) GetProjects(ctx context.Context, username string, ids []string) ([]Project, []string, error) {
	var found []Project
	var missing []string
	for _, id := range ids {
		p, err := c.GetProject(ctx, username, id)
		if err != nil {
			return nil, nil, err
		}
		if p == nil {
			missing = append(missing, id)
			continue
		}
		found = append(found, *p)
	}
	return found, missing, nil
}

// FindUser returns the user with exactly the given username, or nil.
func (c *Client) FindUser(ctx context.Context, username, target string) (*User, error) {
	v, err := c.shared(ctx, "user\x00"+username+"\x00"+target, func(ctx context.Context) (any, error) {
		var out struct {
			FindUsers []User `json:"findUsers"`
		}
		if err := c.query(ctx, username, "FindUsers", findUsersQuery, map[string]any{"username": target}, &out); err != nil {
			return nil, err
		}
		for i := range out.FindUsers {
			if out.FindUsers[i].Username == target {
				return &out.FindUsers[i], nil
			}
		}
		return (*User)(nil), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*User), nil
}

// shared runs fn once for all concurrent callers with the same key. The
// lookup itself is not tied to any one caller's cancellation; each caller
// stops waiting when its own ctx ends.
func (c *Client) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.lookups.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DeleteProjects deletes the given projects.
func (c *Client) DeleteProjects(ctx context.Context, username string, ids []string, force bool) (bool, error) {
	var out struct {
		DeleteProjects bool `json:"deleteProjects"`
	}
	err := c.mutate(ctx, username, "DeleteProjects", deleteProjectsMutation,
		map[string]any{"projectIds": ids, "force": force}, &out)
	return out.DeleteProjects, err
}

// CloseProjects closes the given projects.
func (c *Client) CloseProjects(ctx context.Context, username string, ids []string, force bool) (bool, error) {
	var out struct {
		CloseProjects bool `json:"closeProjects"`
	}
	err := c.mutate(ctx, username, "CloseProjects", closeProjectsMutation,
		map[string]any{"projectIds": ids, "force": force}, &out)
	return out.CloseProjects, err
}

// DeleteUser deletes the user named target.
func (c *Client) DeleteUser(ctx context.Context, username, target string) (bool, error) {
	var out struct {
		DeleteUsers bool `json:"deleteUsers"`
	}
	err := c.mutate(ctx, username, "DeleteUser", deleteUserMutation,
		map[string]any{"usernames": []string{target}}, &out)
	return out.DeleteUsers, err
}

// query runs a read-only operation, retrying transient failures.
func (c *Client) query(ctx context.Context, username, op, query string, vars map[string]any, out any) error {
	return c.do(ctx, username, op, query, vars, out, c.maxTries)
}

// mutate sends a mutation exactly once. A transient failure leaves the
// outcome unknown and is reported as ErrOutcomeUnknown.
func (c *Client) mutate(ctx context.Context, username, op, query string, vars map[string]any, out any) error {
	err := c.do(ctx, username, op, query, vars, out, 1)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.OutcomeUnknown() {
		return fmt.Errorf("%w: %w", ErrOutcomeUnknown, err)
	}
	return err
}

// do runs one GraphQL operation in at most maxTries attempts. Token lookup
// errors are returned unchanged so callers can tell a missing login apart
// from an API failure.
func (c *Client) do(ctx context.Context, username, op, query string, vars map[string]any, out any, maxTries uint) error {
	token, err := c.tokens.Token(ctx, username)
	if err != nil {
		return err
	}

	body, err := json.Marshal(graphQLRequest{Query: query, OperationName: op, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	attempt := 0
	data, err := backoff.Retry(ctx, func() (json.RawMessage, error) {
		attempt++
		data, err := c.post(ctx, op, token, body)
		if err == nil {
			return data, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Retryable() {
			logging.Debug("Cway", "%s attempt %d failed: %v", op, attempt, err)
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(maxTries))
	if err != nil {
		c.metrics.UpstreamCall(op, metrics.OutcomeFailure)
		logging.Warn("Cway", "%s failed after %d attempt(s): %v", op, attempt, err)
		return err
	}
	c.metrics.UpstreamCall(op, metrics.OutcomeSuccess)

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{Op: op, StatusCode: http.StatusOK, Err: fmt.Errorf("unexpected response shape: %w", err)}
	}
	return nil
}

func (c *Client) post(ctx context.Context, op, token string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &APIError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Challenge:  oauth.ParseChallenge(resp.Header.Get("WWW-Authenticate")),
			Err:        ErrUnauthorized,
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode}
	}

	var gr graphQLResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("invalid response: %w", err)}
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, 0, len(gr.Errors))
		for _, e := range gr.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Messages: msgs}
	}
	return gr.Data, nil
}
