// Package oauth talks to the identity provider in front of Cway.
//
// Login is an Authorization Code flow with PKCE and no client secret:
//
//  1. BuildAuthorizationRequest creates a verifier, a random state and the
//     authorization URL. The caller keeps the verifier and state in a
//     StateStore keyed by state.
//  2. The user signs in and the provider redirects back with code and state.
//  3. ExchangeCode checks the state, redeems the code at the provider, then
//     trades the provider credential for Cway tokens at the Cway token
//     endpoint.
//
// Refresh posts a refresh token to the Cway token endpoint. All token results
// carry an absolute expiry.
//
// Failures are reported as *ProviderError. Retryable separates transient
// failures (network, timeouts, 429, 5xx) from definitive rejections that
// require the user to log in again.
//
// Credential values are wrapped in RedactedToken so they cannot reach logs.
//
// Handler serves the browser redirect for logins started by the MCP server
// or the CLI. ParseChallenge reads the WWW-Authenticate header of resources
// that reject a bearer token.
package oauth
