// Package mock provides test doubles shared by the cway-mcp packages.
//
// Clock and MockClock let tests drive token and confirmation expiry
// deterministically. OAuthServer is an in-process fake that plays both
// the upstream identity provider (authorize and token endpoints with PKCE
// verification) and the Cway token endpoint (the azure exchange grant and
// refresh-token rotation). Failures, latency and refresh counting can be
// injected to exercise the session manager's refresh and re-authentication
// paths. GraphQLServer is a minimal fake of the Cway GraphQL API that
// records the operations it receives and checks bearer tokens.
//
// Example:
//
//	srv := mock.NewOAuthServer(mock.OAuthServerConfig{ClientID: "cway-mcp"})
//	defer srv.Close()
//	refresh := srv.SeedSession("alice@example.com")
//	// point the oauth client at srv.TokenURL() and refresh with it
package mock
