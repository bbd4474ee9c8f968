package oauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the identity fields read from a token.
type Claims struct {
	Subject   string
	Email     string
	Name      string
	ExpiresAt time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Email             string `json:"email,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	UPN               string `json:"upn,omitempty"`
	Name              string `json:"name,omitempty"`
}

// ParseClaims reads claims from a JWT without verifying its signature. It is
// only used for display and expiry hints on tokens this process received
// directly from the token endpoint over TLS. ok is false for opaque tokens.
func ParseClaims(token string) (Claims, bool) {
	var tc tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &tc); err != nil {
		return Claims{}, false
	}

	c := Claims{Subject: tc.Subject, Name: tc.Name}
	switch {
	case tc.Email != "":
		c.Email = tc.Email
	case tc.PreferredUsername != "":
		c.Email = tc.PreferredUsername
	default:
		c.Email = tc.UPN
	}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}
	return c, true
}
