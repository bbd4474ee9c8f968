package oauth

import (
	"regexp"
	"strings"
)

// Challenge is a parsed WWW-Authenticate header as sent by a bearer-token
// protected resource.
//
// Example header:
//
//	Bearer realm="cway", error="invalid_token",
//	       error_description="The access token expired"
type Challenge struct {
	Scheme           string
	Realm            string
	Scope            string
	Error            string
	ErrorDescription string
}

var challengeParam = regexp.MustCompile(`(\w+)="([^"]*)"`)

// ParseChallenge parses a WWW-Authenticate header value. It returns nil for
// an empty header.
func ParseChallenge(header string) *Challenge {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}

	scheme, rest, _ := strings.Cut(header, " ")
	c := &Challenge{Scheme: scheme}

	for _, m := range challengeParam.FindAllStringSubmatch(rest, -1) {
		switch strings.ToLower(m[1]) {
		case "realm":
			c.Realm = m[2]
		case "scope":
			c.Scope = m[2]
		case "error":
			c.Error = m[2]
		case "error_description":
			c.ErrorDescription = m[2]
		}
	}
	return c
}

// IsBearer reports whether the challenge uses the Bearer scheme.
func (c *Challenge) IsBearer() bool {
	return c != nil && strings.EqualFold(c.Scheme, "Bearer")
}

// InvalidToken reports whether the server rejected the token itself, as
// opposed to its scope.
func (c *Challenge) InvalidToken() bool {
	return c.IsBearer() && c.Error == "invalid_token"
}

// String renders the error code and description, or "" when the challenge
// carries neither.
func (c *Challenge) String() string {
	if c == nil {
		return ""
	}
	switch {
	case c.Error != "" && c.ErrorDescription != "":
		return c.Error + ": " + c.ErrorDescription
	case c.Error != "":
		return c.Error
	default:
		return c.ErrorDescription
	}
}
