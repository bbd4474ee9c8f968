package server

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cway-mcp/internal/testing/mock"
)

func projectIDs(ids ...string) map[string]any {
	list := make([]any, 0, len(ids))
	for _, id := range ids {
		list = append(list, id)
	}
	return map[string]any{"project_ids": list}
}

func prepareToken(t *testing.T, h toolHandler, args map[string]any) (string, map[string]any) {
	t.Helper()
	text, isErr := call(t, h, args)
	require.False(t, isErr, text)
	preview := decode(t, text)
	token, _ := preview["confirmation_token"].(string)
	require.NotEmpty(t, token)
	return token, preview
}

func TestDeleteProjects_PrepareThenConfirm(t *testing.T) {
	f := newStaticFixture(t)
	s := f.server
	f.api.AddProject(mock.GraphQLProject{ID: "p1", Name: "Spring campaign"})
	f.api.AddProject(mock.GraphQLProject{ID: "p2", Name: "Packaging"})

	token, preview := prepareToken(t, s.handlePrepareDeleteProjects, projectIDs("p1", "p2", "p3"))
	assert.Equal(t, "preview", preview["action"])
	assert.Equal(t, "delete", preview["operation"])
	assert.Equal(t, "projects", preview["item_type"])
	assert.Equal(t, float64(2), preview["item_count"])
	assert.Equal(t, true, preview["confirmation_required"])
	assert.Contains(t, preview["next_step"], "confirm_delete_projects")

	warnings := strings.Join(toStrings(preview["warnings"]), "\n")
	assert.Contains(t, warnings, "p3 was not found")
	assert.Contains(t, warnings, "cannot be undone")

	// Preparing never mutates.
	assert.Zero(t, f.api.CallCount("DeleteProjects"))
	assert.NotNil(t, f.api.Project("p1"))

	text, isErr := call(t, s.handleConfirmDeleteProjects, map[string]any{"confirmation_token": token})
	require.False(t, isErr, text)
	result := decode(t, text)
	assert.Equal(t, true, result["success"])
	assert.Equal(t, []string{"p1", "p2"}, toStrings(result["project_ids"]))
	assert.Nil(t, f.api.Project("p1"))
	assert.Nil(t, f.api.Project("p2"))

	calls := f.api.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "DeleteProjects", last.Operation)
	assert.Equal(t, "api-token", last.Token)

	n, err := testutil.GatherAndCount(f.rec.Registry(), "cway_mcp_confirmations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConfirm_Replay(t *testing.T) {
	f := newStaticFixture(t)
	f.api.AddProject(mock.GraphQLProject{ID: "p1", Name: "Spring campaign"})

	token, _ := prepareToken(t, f.server.handlePrepareCloseProjects, projectIDs("p1"))

	_, isErr := call(t, f.server.handleConfirmCloseProjects, map[string]any{"confirmation_token": token})
	require.False(t, isErr)

	text, isErr := call(t, f.server.handleConfirmCloseProjects, map[string]any{"confirmation_token": token})
	assert.True(t, isErr)
	assert.Contains(t, text, "already been used")
	assert.Equal(t, 1, f.api.CallCount("CloseProjects"))
}

func TestConfirm_WrongActionLeavesTokenUsable(t *testing.T) {
	f := newStaticFixture(t)
	f.api.AddProject(mock.GraphQLProject{ID: "p1", Name: "Spring campaign"})

	token, _ := prepareToken(t, f.server.handlePrepareCloseProjects, projectIDs("p1"))

	text, isErr := call(t, f.server.handleConfirmDeleteProjects, map[string]any{"confirmation_token": token})
	assert.True(t, isErr)
	assert.Contains(t, text, "different operation")
	assert.Zero(t, f.api.CallCount("DeleteProjects"))
	assert.NotNil(t, f.api.Project("p1"))

	_, isErr = call(t, f.server.handleConfirmCloseProjects, map[string]any{"confirmation_token": token})
	assert.False(t, isErr)
	assert.Equal(t, "CLOSED", f.api.Project("p1").State)
}

func TestConfirm_WrongUser(t *testing.T) {
	f := newStaticFixture(t)
	f.api.AddProject(mock.GraphQLProject{ID: "p1", Name: "Spring campaign"})

	token, _ := prepareToken(t, f.server.handlePrepareDeleteProjects, projectIDs("p1"))

	text, isErr := call(t, f.server.handleConfirmDeleteProjects, map[string]any{
		"confirmation_token": token,
		"username":           "mallory",
	})
	assert.True(t, isErr)
	assert.Contains(t, text, "different user")
	assert.NotNil(t, f.api.Project("p1"))
	assert.Zero(t, f.api.CallCount("DeleteProjects"))
}

func TestConfirm_Expired(t *testing.T) {
	f := newStaticFixture(t)
	f.api.AddProject(mock.GraphQLProject{ID: "p1", Name: "Spring campaign"})

	token, preview := prepareToken(t, f.server.handlePrepareDeleteProjects, projectIDs("p1"))
	expiresAt, err := time.Parse(time.RFC3339Nano, preview["token_expires_at"].(string))
	require.NoError(t, err)

	f.clock.AdvancePast(expiresAt)

	text, isErr := call(t, f.server.handleConfirmDeleteProjects, map[string]any{"confirmation_token": token})
	assert.True(t, isErr)
	assert.Contains(t, text, "expired")
	assert.NotNil(t, f.api.Project("p1"))
}

func TestConfirm_InvalidTokens(t *testing.T) {
	f := newStaticFixture(t)
	f.api.AddProject(mock.GraphQLProject{ID: "p1", Name: "Spring campaign"})
	token, _ := prepareToken(t, f.server.handlePrepareDeleteProjects, projectIDs("p1"))
	require.True(t, strings.HasPrefix(token, "e"))

	tests := map[string]string{
		"garbage":          "not-a-token",
		"no signature":     strings.SplitN(token, ".", 2)[0],
		"tampered payload": "f" + token[1:],
	}
	for name, bad := range tests {
		t.Run(name, func(t *testing.T) {
			text, isErr := call(t, f.server.handleConfirmDeleteProjects, map[string]any{"confirmation_token": bad})
			assert.True(t, isErr)
			assert.Contains(t, text, "invalid confirmation token")
		})
	}
	assert.NotNil(t, f.api.Project("p1"))

	text, isErr := call(t, f.server.handleConfirmDeleteProjects, map[string]any{})
	assert.True(t, isErr)
	assert.Contains(t, text, "confirmation_token")
}

func TestPrepareProjects_Validation(t *testing.T) {
	f := newStaticFixture(t)

	text, isErr := call(t, f.server.handlePrepareDeleteProjects, map[string]any{})
	assert.True(t, isErr)
	assert.Contains(t, text, "project_ids")

	text, isErr = call(t, f.server.handlePrepareDeleteProjects, projectIDs())
	assert.True(t, isErr)
	assert.Contains(t, text, "project_ids")

	text, isErr = call(t, f.server.handlePrepareDeleteProjects, projectIDs("missing"))
	assert.True(t, isErr)
	assert.Contains(t, text, "None of the given projects exist")
	assert.NotContains(t, text, "confirmation_token")
}

func TestPrepareCloseProjects_Warnings(t *testing.T) {
	f := newStaticFixture(t)
	f.api.AddProject(mock.GraphQLProject{ID: "p1", Name: "Archive", State: "CLOSED"})

	args := projectIDs("p1")
	args["force"] = true
	token, preview := prepareToken(t, f.server.handlePrepareCloseProjects, args)

	warnings := strings.Join(toStrings(preview["warnings"]), "\n")
	assert.Contains(t, warnings, `"Archive" is already closed`)
	assert.Contains(t, warnings, "force is set")
	assert.NotContains(t, warnings, "cannot be undone")

	_, isErr := call(t, f.server.handleConfirmCloseProjects, map[string]any{"confirmation_token": token})
	require.False(t, isErr)
	calls := f.api.Calls()
	assert.Equal(t, true, calls[len(calls)-1].Variables["force"])
}

func TestDeleteUser_PrepareThenConfirm(t *testing.T) {
	f := newStaticFixture(t)
	f.api.AddUser(mock.GraphQLUser{ID: "u1", Name: "Bob", Email: "bob@example.com", Username: "bob@example.com", Enabled: true})

	token, preview := prepareToken(t, f.server.handlePrepareDeleteUser, map[string]any{"target_username": "bob@example.com"})
	assert.Equal(t, "user", preview["item_type"])
	assert.Contains(t, preview["next_step"], "confirm_delete_user")
	assert.True(t, f.api.HasUser("bob@example.com"))

	text, isErr := call(t, f.server.handleConfirmDeleteUser, map[string]any{"confirmation_token": token})
	require.False(t, isErr, text)
	assert.Equal(t, "bob@example.com", decode(t, text)["target_username"])
	assert.False(t, f.api.HasUser("bob@example.com"))
}

func TestPrepareDeleteUser_Errors(t *testing.T) {
	f := newStaticFixture(t)

	text, isErr := call(t, f.server.handlePrepareDeleteUser, map[string]any{})
	assert.True(t, isErr)
	assert.Contains(t, text, "target_username")

	text, isErr = call(t, f.server.handlePrepareDeleteUser, map[string]any{"target_username": "ghost@example.com"})
	assert.True(t, isErr)
	assert.Contains(t, text, "does not exist")
}

func TestPrepare_UpstreamErrors(t *testing.T) {
	f := newStaticFixture(t)
	f.api.AddProject(mock.GraphQLProject{ID: "p1", Name: "Spring campaign"})

	f.api.FailNext(http.StatusUnauthorized)
	text, isErr := call(t, f.server.handlePrepareDeleteProjects, projectIDs("p1"))
	assert.True(t, isErr)
	assert.Contains(t, text, "Cway rejected the access token")

	f.api.FailNext(http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusServiceUnavailable)
	text, isErr = call(t, f.server.handlePrepareDeleteProjects, projectIDs("p1"))
	assert.True(t, isErr)
	assert.Contains(t, text, "retry shortly")
}

func TestConfirm_GatewayFailureIsNotResent(t *testing.T) {
	f := newStaticFixture(t)
	f.api.AddProject(mock.GraphQLProject{ID: "p1", Name: "Spring campaign"})

	token, _ := prepareToken(t, f.server.handlePrepareDeleteProjects, projectIDs("p1"))
	f.api.FailNext(http.StatusBadGateway)

	text, isErr := call(t, f.server.handleConfirmDeleteProjects, map[string]any{"confirmation_token": token})
	assert.True(t, isErr)
	assert.Contains(t, text, "check the current state")
	assert.Equal(t, 1, f.api.CallCount("DeleteProjects"))

	text, isErr = call(t, f.server.handleConfirmDeleteProjects, map[string]any{"confirmation_token": token})
	assert.True(t, isErr)
	assert.Contains(t, text, "already been used")
	assert.Equal(t, 1, f.api.CallCount("DeleteProjects"))
}

func TestDestructive_OAuthSessionRequired(t *testing.T) {
	f := newOAuthFixture(t)
	f.api.AddProject(mock.GraphQLProject{ID: "p1", Name: "Spring campaign"})

	args := projectIDs("p1")
	args["username"] = "alice@example.com"
	text, isErr := call(t, f.server.handlePrepareDeleteProjects, args)
	assert.True(t, isErr)
	assert.Contains(t, text, "auth_login")
	assert.Empty(t, f.api.Calls())

	f.seed(t, "alice@example.com", time.Hour)
	ctx := ContextWithUser(context.Background(), "alice@example.com")
	text, isErr = callWithContext(t, ctx, f.server.handlePrepareDeleteProjects, projectIDs("p1"))
	require.False(t, isErr, text)
	token := decode(t, text)["confirmation_token"].(string)

	// The header identifies a different user than the one who prepared.
	ctx = ContextWithUser(context.Background(), "bob@example.com")
	text, isErr = callWithContext(t, ctx, f.server.handleConfirmDeleteProjects, map[string]any{"confirmation_token": token})
	assert.True(t, isErr)
	assert.Contains(t, text, "different user")
	assert.NotNil(t, f.api.Project("p1"))
}

func toStrings(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
