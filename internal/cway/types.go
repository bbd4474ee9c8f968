package cway

import (
	"encoding/json"
	"time"
)

const (
	// DefaultEndpoint is the Cway GraphQL API.
	DefaultEndpoint = "https://app.cway.se/graphql"

	// DefaultTimeout bounds a single GraphQL request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxTries is how many times a transient failure is attempted.
	DefaultMaxTries = 3

	userAgent = "cway-mcp"
)

// Project is the subset of a Cway project used in previews.
type Project struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	State        string `json:"state"`
	Status       string `json:"status,omitempty"`
	LastActivity string `json:"lastActivity,omitempty"`
}

// IsClosed reports whether the project is already closed.
func (p Project) IsClosed() bool {
	return p.State == "CLOSED"
}

// User is the subset of a Cway user used in previews.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Enabled  bool   `json:"enabled"`
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

const (
	getProjectQuery = `query GetProject($id: UUID!) {
  project(id: $id) { id name description state status lastActivity }
}`

	findUsersQuery = `query FindUsers($username: String) {
  findUsers(username: $username) { id name email username enabled }
}`

	deleteProjectsMutation = `mutation DeleteProjects($projectIds: [UUID!]!, $force: Boolean) {
  deleteProjects(projectIds: $projectIds, force: $force)
}`

	closeProjectsMutation = `mutation CloseProjects($projectIds: [UUID!]!, $force: Boolean) {
  closeProjects(projectIds: $projectIds, force: $force)
}`

	deleteUserMutation = `mutation DeleteUser($usernames: [String!]!) {
  deleteUsers(usernames: $usernames)
}`
)
