package server

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"cway-mcp/internal/config"
	"cway-mcp/internal/confirm"
	"cway-mcp/internal/session"
	"cway-mcp/pkg/logging"
)

// AuthStatusResourceURI is the URI of the auth status resource.
const AuthStatusResourceURI = "auth://status"

// AuthStatusResponse is the body of the auth://status resource.
type AuthStatusResponse struct {
	Method       string          `json:"method"`
	DefaultUser  string          `json:"default_user,omitempty"`
	Sessions     []*session.Info `json:"sessions"`
	Confirmation confirm.Stats   `json:"confirmation"`
}

func (s *Server) registerStatusResource() {
	resource := mcp.NewResource(
		AuthStatusResourceURI,
		"Cway authentication status",
		mcp.WithResourceDescription("Stored sessions with their expiry, and the confirmation token settings. Contains no credentials."),
		mcp.WithMIMEType("application/json"),
	)
	s.mcp.AddResource(resource, s.handleStatusResource)
	logging.Debug("MCP", "Registered %s resource", AuthStatusResourceURI)
}

func (s *Server) handleStatusResource(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	status, err := s.authStatus(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(status)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      AuthStatusResourceURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) authStatus(ctx context.Context) (*AuthStatusResponse, error) {
	status := &AuthStatusResponse{
		Method:       s.deps.AuthMethod,
		DefaultUser:  s.deps.DefaultUser,
		Sessions:     []*session.Info{},
		Confirmation: s.deps.Confirm.Stats(ctx),
	}
	if s.deps.AuthMethod == config.AuthMethodStatic {
		return status, nil
	}

	users, err := s.deps.Sessions.ListUsers()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		info, err := s.deps.Sessions.Info(ctx, u)
		if err != nil {
			return nil, err
		}
		status.Sessions = append(status.Sessions, info)
	}
	return status, nil
}
