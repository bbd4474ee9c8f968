package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"cway-mcp/internal/config"
	"cway-mcp/internal/oauth"
)

// expiringSoonMinutes is when auth_whoami starts warning about expiry.
const expiringSoonMinutes = 5

var errStaticMode = errors.New("the server uses a static API token; per-user login is disabled")

func (s *Server) registerAuthTools() {
	s.mcp.AddTool(mcp.NewTool("auth_login",
		mcp.WithDescription("Start a browser login to Cway. Returns the URL the user must open; the login completes through the callback or auth_complete_login."),
		usernameArg(),
	), s.handleLogin)

	s.mcp.AddTool(mcp.NewTool("auth_complete_login",
		mcp.WithDescription("Complete a login with the code and state from the redirect URL, when the callback could not be reached."),
		mcp.WithString("code", mcp.Required(), mcp.Description("Authorization code from the redirect URL")),
		mcp.WithString("state", mcp.Required(), mcp.Description("State value from the redirect URL")),
		usernameArg(),
	), s.handleCompleteLogin)

	s.mcp.AddTool(mcp.NewTool("auth_logout",
		mcp.WithDescription("Delete the stored Cway session for a user"),
		usernameArg(),
	), s.handleLogout)

	s.mcp.AddTool(mcp.NewTool("auth_whoami",
		mcp.WithDescription("Show whether a user is logged in and when the session expires"),
		usernameArg(),
	), s.handleWhoami)

	s.mcp.AddTool(mcp.NewTool("auth_list_users",
		mcp.WithDescription("List users with a stored Cway session"),
	), s.handleListUsers)
}

func (s *Server) handleLogin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.AuthMethod == config.AuthMethodStatic {
		return toolError("auth_login", errStaticMode), nil
	}
	// Without a user the login proceeds without a hint and the user is
	// taken from the returned identity.
	username, _ := s.actingUser(ctx, req)

	authReq, err := s.deps.Login.Begin(username)
	if err != nil {
		return toolError("auth_login", err), nil
	}

	expiry := s.deps.LoginExpiry
	if expiry <= 0 {
		expiry = oauth.DefaultLoginExpiry
	}
	return jsonResult(map[string]any{
		"authorization_url":  authReq.URL,
		"state":              authReq.State,
		"username":           username,
		"expires_in_seconds": int(expiry.Seconds()),
		"instructions":       "Open the authorization_url in a browser and sign in. If the redirect page cannot be reached, copy the code and state from its URL and call auth_complete_login.",
	})
}

func (s *Server) handleCompleteLogin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.AuthMethod == config.AuthMethodStatic {
		return toolError("auth_complete_login", errStaticMode), nil
	}
	code, err := req.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError("code argument is required"), nil
	}
	state, err := req.RequireString("state")
	if err != nil {
		return mcp.NewToolResultError("state argument is required"), nil
	}

	var username string
	if u := req.GetString("username", ""); u != "" {
		username, err = s.deps.Login.CompleteLoginAs(ctx, u, code, state)
	} else {
		username, err = s.deps.Login.CompleteLogin(ctx, code, state)
	}
	if err != nil {
		return toolError("auth_complete_login", err), nil
	}

	info, err := s.deps.Sessions.Info(ctx, username)
	if err != nil {
		return toolError("auth_complete_login", err), nil
	}
	return jsonResult(map[string]any{
		"success":    true,
		"username":   username,
		"expires_at": info.ExpiresAt.Format(time.RFC3339),
		"message":    fmt.Sprintf("Logged in as %s", username),
	})
}

func (s *Server) handleLogout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.AuthMethod == config.AuthMethodStatic {
		return toolError("auth_logout", errStaticMode), nil
	}
	username, err := s.actingUser(ctx, req)
	if err != nil {
		return toolError("auth_logout", err), nil
	}

	existed, err := s.deps.Sessions.Logout(ctx, username)
	if err != nil {
		return toolError("auth_logout", err), nil
	}
	msg := fmt.Sprintf("Logged out %s", username)
	if !existed {
		msg = fmt.Sprintf("No session was stored for %s", username)
	}
	return jsonResult(map[string]any{
		"success":     true,
		"username":    username,
		"had_session": existed,
		"message":     msg,
	})
}

func (s *Server) handleWhoami(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.AuthMethod == config.AuthMethodStatic {
		return jsonResult(map[string]any{
			"authenticated": true,
			"method":        config.AuthMethodStatic,
		})
	}
	username, err := s.actingUser(ctx, req)
	if err != nil {
		return toolError("auth_whoami", err), nil
	}

	info, err := s.deps.Sessions.Info(ctx, username)
	if err != nil {
		return toolError("auth_whoami", err), nil
	}
	if !info.Authenticated {
		return jsonResult(map[string]any{
			"authenticated": false,
			"username":      username,
			"message":       "Not logged in. Call auth_login to start a login.",
		})
	}

	result := map[string]any{
		"authenticated":      true,
		"username":           username,
		"method":             config.AuthMethodOAuth,
		"is_valid":           info.Valid,
		"expires_at":         info.ExpiresAt.Format(time.RFC3339),
		"expires_in_minutes": info.ExpiresInSeconds / 60,
		"has_refresh_token":  info.HasRefreshToken,
	}
	if info.ExpiresInSeconds < expiringSoonMinutes*60 {
		if info.HasRefreshToken {
			result["warning"] = "Access token expires soon and will be refreshed on the next request"
		} else {
			result["warning"] = "Session expires soon; log in again with auth_login"
		}
	}
	return jsonResult(result)
}

func (s *Server) handleListUsers(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.AuthMethod == config.AuthMethodStatic {
		return toolError("auth_list_users", errStaticMode), nil
	}
	users, err := s.deps.Sessions.ListUsers()
	if err != nil {
		return toolError("auth_list_users", err), nil
	}
	if users == nil {
		users = []string{}
	}
	return jsonResult(map[string]any{
		"users": users,
		"count": len(users),
	})
}
