package mock

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OAuthServerConfig configures the mock OAuth server behavior.
type OAuthServerConfig struct {
	// ClientID is the expected OAuth client ID. Empty accepts any client.
	ClientID string

	// TokenLifetime is how long issued access tokens remain valid.
	TokenLifetime time.Duration

	// OmitExpiresIn drops expires_in from Cway token responses so clients
	// must fall back to the access token's exp claim.
	OmitExpiresIn bool

	// KeepRefreshToken makes the refresh grant omit refresh_token from the
	// response, modelling a provider that does not rotate.
	KeepRefreshToken bool

	// Clock is used for token timestamps. Defaults to RealClock.
	Clock Clock
}

// OAuthServer is a fake identity provider plus Cway token endpoint backed
// by httptest.
type OAuthServer struct {
	config OAuthServerConfig
	clock  Clock
	server *httptest.Server
	signer []byte

	mu            sync.Mutex
	authCodes     map[string]*authCodeEntry
	idpTokens     map[string]string // idp credential -> username
	refreshTokens map[string]string // refresh token -> username
	refreshStatus int
	refreshError  string
	refreshBody   string
	refreshDelay  time.Duration

	refreshCalls  atomic.Int64
	exchangeCalls atomic.Int64
}

type authCodeEntry struct {
	Username      string
	ClientID      string
	RedirectURI   string
	CodeChallenge string
	IssuedAt      time.Time
}

// NewOAuthServer starts a mock server listening on a loopback port.
func NewOAuthServer(config OAuthServerConfig) *OAuthServer {
	if config.TokenLifetime == 0 {
		config.TokenLifetime = time.Hour
	}
	clock := config.Clock
	if clock == nil {
		clock = RealClock{}
	}

	s := &OAuthServer{
		config:        config,
		clock:         clock,
		signer:        []byte(generateOpaqueToken()),
		authCodes:     make(map[string]*authCodeEntry),
		idpTokens:     make(map[string]string),
		refreshTokens: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", s.handleAuthorize)
	mux.HandleFunc("/idp/token", s.handleIDPToken)
	mux.HandleFunc("/oauth/token", s.handleCwayToken)
	s.server = httptest.NewServer(mux)
	return s
}

// Close shuts the server down.
func (s *OAuthServer) Close() {
	s.server.Close()
}

// URL returns the server base URL.
func (s *OAuthServer) URL() string { return s.server.URL }

// AuthorizeURL returns the identity provider authorize endpoint.
func (s *OAuthServer) AuthorizeURL() string { return s.server.URL + "/authorize" }

// IDPTokenURL returns the identity provider token endpoint.
func (s *OAuthServer) IDPTokenURL() string { return s.server.URL + "/idp/token" }

// TokenURL returns the Cway token endpoint.
func (s *OAuthServer) TokenURL() string { return s.server.URL + "/oauth/token" }

// RefreshCount reports how many refresh grants reached the server.
func (s *OAuthServer) RefreshCount() int { return int(s.refreshCalls.Load()) }

// ExchangeCount reports how many azure exchange grants reached the server.
func (s *OAuthServer) ExchangeCount() int { return int(s.exchangeCalls.Load()) }

// IssueAuthCode registers an authorization code for username, as if the user
// had completed the interactive login.
func (s *OAuthServer) IssueAuthCode(username, redirectURI, codeChallenge string) string {
	code := generateOpaqueToken()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCodes[code] = &authCodeEntry{
		Username:      username,
		ClientID:      s.config.ClientID,
		RedirectURI:   redirectURI,
		CodeChallenge: codeChallenge,
		IssuedAt:      s.clock.Now(),
	}
	return code
}

// SeedSession registers a refresh token for username and returns it.
func (s *OAuthServer) SeedSession(username string) string {
	refresh := generateOpaqueToken()
	s.mu.Lock()
	s.refreshTokens[refresh] = username
	s.mu.Unlock()
	return refresh
}

// FailRefresh makes every refresh grant fail with the given status and OAuth
// error code until ClearFailures is called.
func (s *OAuthServer) FailRefresh(status int, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshStatus = status
	s.refreshError = code
}

// FailRefreshWithBody makes every refresh grant answer with status and the
// raw body, modelling a proxy or misrouted endpoint in front of the provider.
func (s *OAuthServer) FailRefreshWithBody(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshStatus = status
	s.refreshBody = body
}

// SetRefreshDelay delays every refresh response.
func (s *OAuthServer) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// ClearFailures removes injected refresh failures and delays.
func (s *OAuthServer) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshStatus = 0
	s.refreshError = ""
	s.refreshBody = ""
	s.refreshDelay = 0
}

// RevokeAll invalidates every refresh token the server has issued.
func (s *OAuthServer) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = make(map[string]string)
}

func (s *OAuthServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("response_type") != "code" {
		http.Error(w, "unsupported response_type", http.StatusBadRequest)
		return
	}
	if s.config.ClientID != "" && q.Get("client_id") != s.config.ClientID {
		http.Error(w, "unknown client", http.StatusBadRequest)
		return
	}
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		http.Error(w, "PKCE required", http.StatusBadRequest)
		return
	}
	redirectURI := q.Get("redirect_uri")
	target, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	code := s.IssueAuthCode(q.Get("login_hint"), redirectURI, q.Get("code_challenge"))

	params := target.Query()
	params.Set("code", code)
	params.Set("state", q.Get("state"))
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *OAuthServer) handleIDPToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if r.FormValue("grant_type") != "authorization_code" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	s.mu.Lock()
	entry, ok := s.authCodes[r.FormValue("code")]
	delete(s.authCodes, r.FormValue("code"))
	s.mu.Unlock()

	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	if entry.RedirectURI != r.FormValue("redirect_uri") {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	if entry.ClientID != "" && entry.ClientID != r.FormValue("client_id") {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}
	if !verifyPKCE(entry.CodeChallenge, r.FormValue("code_verifier")) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	idToken := s.signJWT(entry.Username, s.config.TokenLifetime)
	s.mu.Lock()
	s.idpTokens[idToken] = entry.Username
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"access_token": generateOpaqueToken(),
		"id_token":     idToken,
		"token_type":   "Bearer",
		"expires_in":   int(s.config.TokenLifetime.Seconds()),
	})
}

func (s *OAuthServer) handleCwayToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	switch grant := r.FormValue("grant_type"); grant {
	case "azure":
		s.exchangeCalls.Add(1)
		s.mu.Lock()
		username, ok := s.idpTokens[r.FormValue("token")]
		delete(s.idpTokens, r.FormValue("token"))
		s.mu.Unlock()
		if !ok {
			writeOAuthError(w, http.StatusUnauthorized, "invalid_grant")
			return
		}
		s.writeSession(w, username, true)
	case "refresh_token":
		s.refreshCalls.Add(1)
		s.mu.Lock()
		status, code, body, delay := s.refreshStatus, s.refreshError, s.refreshBody, s.refreshDelay
		s.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if body != "" {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
			return
		}
		if status != 0 {
			writeOAuthError(w, status, code)
			return
		}

		presented := r.FormValue("refresh_token")
		s.mu.Lock()
		username, ok := s.refreshTokens[presented]
		if ok && !s.config.KeepRefreshToken {
			delete(s.refreshTokens, presented)
		}
		s.mu.Unlock()
		if !ok {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		s.writeSession(w, username, !s.config.KeepRefreshToken)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
	}
}

func (s *OAuthServer) writeSession(w http.ResponseWriter, username string, rotate bool) {
	resp := map[string]any{
		"access_token": s.signJWT(username, s.config.TokenLifetime),
		"token_type":   "Bearer",
	}
	if !s.config.OmitExpiresIn {
		resp["expires_in"] = int(s.config.TokenLifetime.Seconds())
	}
	if rotate {
		refresh := generateOpaqueToken()
		s.mu.Lock()
		s.refreshTokens[refresh] = username
		s.mu.Unlock()
		resp["refresh_token"] = refresh
	}
	writeJSON(w, resp)
}

func (s *OAuthServer) signJWT(subject string, lifetime time.Duration) string {
	now := s.clock.Now()
	claims := jwt.MapClaims{
		"sub":                subject,
		"preferred_username": subject,
		"iat":                now.Unix(),
		"exp":                now.Add(lifetime).Unix(),
		"jti":                generateOpaqueToken(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signer)
	if err != nil {
		panic(fmt.Sprintf("mock: failed to sign token: %v", err))
	}
	return signed
}

func verifyPKCE(challenge, verifier string) bool {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:]) == challenge
}

func generateOpaqueToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("mock: crypto/rand failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": "mock: " + code,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
