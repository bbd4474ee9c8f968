// Package cway is a small GraphQL client for the Cway API.
//
// It only covers what the destructive tools need: the project and user
// lookups used to build previews, and the deleteProjects, closeProjects and
// deleteUsers mutations. Bearer tokens are obtained per call from a
// session.TokenSource, so a token refreshed by the session manager is used
// on the next request.
//
// Transient failures (network errors, HTTP 429 and 5xx) are retried with
// exponential backoff. GraphQL errors and authorization failures are not. A 401 keeps the
// server's Bearer challenge in APIError.Challenge.
package cway
