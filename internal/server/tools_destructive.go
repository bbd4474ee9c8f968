package server

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"cway-mcp/internal/confirm"
	"cway-mcp/pkg/logging"
)

// projectsParams is the data bound into delete_projects and close_projects
// tokens.
type projectsParams struct {
	Username   string   `json:"username"`
	ProjectIDs []string `json:"project_ids"`
	Force      bool     `json:"force"`
}

// deleteUserParams is the data bound into delete_user tokens.
type deleteUserParams struct {
	Username string `json:"username"`
	Target   string `json:"target_username"`
}

const irreversibleWarning = "This action cannot be undone"

func (s *Server) registerDestructiveTools() {
	projectIDs := mcp.WithArray("project_ids",
		mcp.Required(),
		mcp.Description("Project UUIDs"),
		mcp.WithStringItems(),
	)
	tokenArg := mcp.WithString("confirmation_token",
		mcp.Required(),
		mcp.Description("Token returned by the matching prepare_* tool"),
	)

	s.mcp.AddTool(mcp.NewTool("prepare_delete_projects",
		mcp.WithDescription("Preview deleting projects. Nothing is deleted; the result lists the projects and a confirmation token for confirm_delete_projects."),
		projectIDs,
		mcp.WithBoolean("force", mcp.Description("Delete even if projects are not empty")),
		usernameArg(),
	), s.handlePrepareDeleteProjects)

	s.mcp.AddTool(mcp.NewTool("confirm_delete_projects",
		mcp.WithDescription("Delete the projects previewed by prepare_delete_projects"),
		tokenArg,
		usernameArg(),
	), s.handleConfirmDeleteProjects)

	s.mcp.AddTool(mcp.NewTool("prepare_close_projects",
		mcp.WithDescription("Preview closing projects. Nothing is closed; the result lists the projects and a confirmation token for confirm_close_projects."),
		projectIDs,
		mcp.WithBoolean("force", mcp.Description("Close even if artworks are incomplete")),
		usernameArg(),
	), s.handlePrepareCloseProjects)

	s.mcp.AddTool(mcp.NewTool("confirm_close_projects",
		mcp.WithDescription("Close the projects previewed by prepare_close_projects"),
		tokenArg,
		usernameArg(),
	), s.handleConfirmCloseProjects)

	s.mcp.AddTool(mcp.NewTool("prepare_delete_user",
		mcp.WithDescription("Preview deleting a Cway user. Nothing is deleted; the result shows the user and a confirmation token for confirm_delete_user."),
		mcp.WithString("target_username", mcp.Required(), mcp.Description("Username of the user to delete")),
		usernameArg(),
	), s.handlePrepareDeleteUser)

	s.mcp.AddTool(mcp.NewTool("confirm_delete_user",
		mcp.WithDescription("Delete the user previewed by prepare_delete_user"),
		tokenArg,
		usernameArg(),
	), s.handleConfirmDeleteUser)
}

func (s *Server) handlePrepareDeleteProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.prepareProjects(ctx, req, confirm.ActionDeleteProjects, "delete", "confirm_delete_projects")
}

func (s *Server) handlePrepareCloseProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.prepareProjects(ctx, req, confirm.ActionCloseProjects, "close", "confirm_close_projects")
}

func (s *Server) prepareProjects(ctx context.Context, req mcp.CallToolRequest, action confirm.Action, operation, confirmTool string) (*mcp.CallToolResult, error) {
	op := "prepare_" + string(action)
	ids, err := req.RequireStringSlice("project_ids")
	if err != nil || len(ids) == 0 {
		return mcp.NewToolResultError("project_ids must be a non-empty list of project ids"), nil
	}
	force := req.GetBool("force", false)

	username, err := s.actingUser(ctx, req)
	if err != nil {
		return toolError(op, err), nil
	}

	projects, missing, err := s.deps.Cway.GetProjects(ctx, username, ids)
	if err != nil {
		return toolError(op, err), nil
	}
	if len(projects) == 0 {
		return mcp.NewToolResultError("None of the given projects exist"), nil
	}

	var warnings []string
	items := make([]any, 0, len(projects))
	found := make([]string, 0, len(projects))
	for _, p := range projects {
		items = append(items, map[string]any{"id": p.ID, "name": p.Name, "state": p.State})
		found = append(found, p.ID)
		if action == confirm.ActionCloseProjects && p.IsClosed() {
			warnings = append(warnings, fmt.Sprintf("Project %q is already closed", p.Name))
		}
	}
	for _, id := range missing {
		warnings = append(warnings, fmt.Sprintf("Project %s was not found and will be skipped", id))
	}
	if force {
		warnings = append(warnings, fmt.Sprintf("force is set: projects will be %sd regardless of their content", operation))
	}
	if action == confirm.ActionDeleteProjects {
		warnings = append(warnings, irreversibleWarning)
	}

	prepared, err := s.deps.Confirm.Prepare(action, projectsParams{
		Username:   username,
		ProjectIDs: found,
		Force:      force,
	}, items, warnings)
	if err != nil {
		return toolError(op, err), nil
	}
	return jsonResult(prepared.Preview(operation, "projects", confirmTool))
}

func (s *Server) handleConfirmDeleteProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.confirmProjects(ctx, req, confirm.ActionDeleteProjects, "deleted", s.deps.Cway.DeleteProjects)
}

func (s *Server) handleConfirmCloseProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.confirmProjects(ctx, req, confirm.ActionCloseProjects, "closed", s.deps.Cway.CloseProjects)
}

type projectMutation func(ctx context.Context, username string, ids []string, force bool) (bool, error)

func (s *Server) confirmProjects(ctx context.Context, req mcp.CallToolRequest, action confirm.Action, verb string, mutate projectMutation) (*mcp.CallToolResult, error) {
	op := "confirm_" + string(action)
	token, err := req.RequireString("confirmation_token")
	if err != nil {
		return mcp.NewToolResultError("confirmation_token argument is required"), nil
	}
	username, err := s.actingUser(ctx, req)
	if err != nil {
		return toolError(op, err), nil
	}

	var params projectsParams
	if err := s.deps.Confirm.ConfirmInto(ctx, token, action, &params); err != nil {
		return toolError(op, err), nil
	}
	if err := checkOwner(params.Username, username); err != nil {
		return toolError(op, err), nil
	}

	ok, err := mutate(ctx, username, params.ProjectIDs, params.Force)
	if err != nil {
		return toolError(op, err), nil
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("Cway reported that the projects were not %s", verb)), nil
	}

	logging.Audit("destructive_operation_executed",
		"action", string(action),
		"user", logging.RedactUser(username),
		"count", len(params.ProjectIDs))
	return jsonResult(map[string]any{
		"success":     true,
		"action":      string(action),
		"project_ids": params.ProjectIDs,
		"message":     fmt.Sprintf("%d project(s) %s", len(params.ProjectIDs), verb),
	})
}

func (s *Server) handlePrepareDeleteUser(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const op = "prepare_delete_user"
	target, err := req.RequireString("target_username")
	if err != nil || target == "" {
		return mcp.NewToolResultError("target_username argument is required"), nil
	}
	username, err := s.actingUser(ctx, req)
	if err != nil {
		return toolError(op, err), nil
	}

	user, err := s.deps.Cway.FindUser(ctx, username, target)
	if err != nil {
		return toolError(op, err), nil
	}
	if user == nil {
		return mcp.NewToolResultError(fmt.Sprintf("User %s does not exist", target)), nil
	}

	warnings := []string{irreversibleWarning}
	if target == username {
		warnings = append(warnings, "You are about to delete your own account")
	}
	items := []any{map[string]any{
		"username": user.Username,
		"name":     user.Name,
		"email":    user.Email,
		"enabled":  user.Enabled,
	}}

	prepared, err := s.deps.Confirm.Prepare(confirm.ActionDeleteUser, deleteUserParams{
		Username: username,
		Target:   user.Username,
	}, items, warnings)
	if err != nil {
		return toolError(op, err), nil
	}
	return jsonResult(prepared.Preview("delete", "user", "confirm_delete_user"))
}

func (s *Server) handleConfirmDeleteUser(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const op = "confirm_delete_user"
	token, err := req.RequireString("confirmation_token")
	if err != nil {
		return mcp.NewToolResultError("confirmation_token argument is required"), nil
	}
	username, err := s.actingUser(ctx, req)
	if err != nil {
		return toolError(op, err), nil
	}

	var params deleteUserParams
	if err := s.deps.Confirm.ConfirmInto(ctx, token, confirm.ActionDeleteUser, &params); err != nil {
		return toolError(op, err), nil
	}
	if err := checkOwner(params.Username, username); err != nil {
		return toolError(op, err), nil
	}

	ok, err := s.deps.Cway.DeleteUser(ctx, username, params.Target)
	if err != nil {
		return toolError(op, err), nil
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("Cway reported that user %s was not deleted", params.Target)), nil
	}

	logging.Audit("destructive_operation_executed",
		"action", string(confirm.ActionDeleteUser),
		"user", logging.RedactUser(username),
		"target", logging.RedactUser(params.Target))
	return jsonResult(map[string]any{
		"success":         true,
		"action":          string(confirm.ActionDeleteUser),
		"target_username": params.Target,
		"message":         fmt.Sprintf("User %s deleted", params.Target),
	})
}

// checkOwner rejects a token prepared by a different user.
func checkOwner(preparedBy, confirmingUser string) error {
	if preparedBy != confirmingUser {
		return errWrongUser
	}
	return nil
}
