package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"cway-mcp/internal/config"
	"cway-mcp/internal/confirm"
	"cway-mcp/internal/cway"
	"cway-mcp/internal/metrics"
	"cway-mcp/internal/session"
	"cway-mcp/pkg/logging"
)

const serverName = "cway-mcp"

// CwayAPI is the part of the Cway client the destructive tools use.
type CwayAPI interface {
	GetProjects(ctx context.Context, username string, ids []string) ([]cway.Project, []string, error)
	FindUser(ctx context.Context, username, target string) (*cway.User, error)
	DeleteProjects(ctx context.Context, username string, ids []string, force bool) (bool, error)
	CloseProjects(ctx context.Context, username string, ids []string, force bool) (bool, error)
	DeleteUser(ctx context.Context, username, target string) (bool, error)
}

// Deps are the components the MCP server exposes.
type Deps struct {
	// AuthMethod is config.AuthMethodOAuth or config.AuthMethodStatic.
	AuthMethod string
	// DefaultUser acts for requests that do not name a user.
	DefaultUser string
	// LoginExpiry is reported to the assistant with each login URL.
	LoginExpiry time.Duration

	Sessions *session.Manager
	Login    *session.LoginFlow
	Confirm  *confirm.Service
	Cway     CwayAPI
	Metrics  *metrics.Recorder
}

// Server exposes the authentication tools, the destructive prepare/confirm
// tools and the auth status resource over MCP.
type Server struct {
	deps Deps
	mcp  *server.MCPServer
}

// New creates the MCP server and registers its tools and resources.
func New(deps Deps, version string) (*Server, error) {
	if deps.Confirm == nil {
		return nil, errors.New("confirmation service is required")
	}
	if deps.Cway == nil {
		return nil, errors.New("cway client is required")
	}
	if deps.AuthMethod == "" {
		deps.AuthMethod = config.AuthMethodOAuth
	}
	if deps.AuthMethod == config.AuthMethodOAuth && (deps.Sessions == nil || deps.Login == nil) {
		return nil, errors.New("oauth mode requires a session manager and login flow")
	}

	s := &Server{
		deps: deps,
		mcp: server.NewMCPServer(
			serverName,
			version,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithRecovery(),
		),
	}
	s.registerAuthTools()
	s.registerDestructiveTools()
	s.registerStatusResource()
	return s, nil
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ServeStdio serves MCP over in and out until ctx is cancelled or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	logging.Info("MCP", "Serving MCP over stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// StreamableHTTPHandler returns the streamable HTTP transport mounted at
// endpointPath. Requests may name their acting user with UserHeader.
func (s *Server) StreamableHTTPHandler(endpointPath string) http.Handler {
	return server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath(endpointPath),
		server.WithHTTPContextFunc(userFromRequest),
	)
}

// usernameArg declares the optional argument read by actingUser.
func usernameArg() mcp.ToolOption {
	return mcp.WithString("username",
		mcp.Description("Cway username (email) to act as. Defaults to the user named by the request, then the configured user."),
	)
}

// actingUser picks the user a call acts for: the username argument, then
// the request context, then the configured default.
func (s *Server) actingUser(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	if u := req.GetString("username", ""); u != "" {
		return u, nil
	}
	if u, ok := UserFromContext(ctx); ok {
		return u, nil
	}
	if s.deps.DefaultUser != "" {
		return s.deps.DefaultUser, nil
	}
	if s.deps.AuthMethod == config.AuthMethodStatic {
		// A shared API token does not need a user.
		return "static", nil
	}
	return "", errNoUser
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("Failed to format result: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
