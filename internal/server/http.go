package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"cway-mcp/internal/config"
	"cway-mcp/internal/oauth"
)

const (
	// MCPEndpointPath serves the streamable HTTP transport.
	MCPEndpointPath = "/mcp"
	// DefaultCallbackPath is used when the redirect URL has no path.
	DefaultCallbackPath = "/callback"
)

// RouterOptions selects what the HTTP router serves.
type RouterOptions struct {
	// CallbackPath is the path of the configured redirect URL.
	CallbackPath string
	// ServeMCP mounts the streamable HTTP transport at MCPEndpointPath.
	ServeMCP bool
	// ServeMetrics mounts the Prometheus handler at /metrics.
	ServeMetrics bool
}

// Router returns the HTTP routes of the server: the OAuth callback, a
// health check, metrics and the MCP endpoint.
func (s *Server) Router(opts RouterOptions) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)

	if s.deps.AuthMethod == config.AuthMethodOAuth {
		path := opts.CallbackPath
		if path == "" || path == "/" {
			path = DefaultCallbackPath
		}
		r.HandleFunc(path, oauth.NewHandler(s.deps.Login).HandleCallback).Methods(http.MethodGet)
	}

	if opts.ServeMetrics && s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	if opts.ServeMCP {
		r.PathPrefix(MCPEndpointPath).Handler(s.StreamableHTTPHandler(MCPEndpointPath))
	}
	return r
}
