package confirm

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// tokenSeparator never occurs in base64url output.
	tokenSeparator = "."

	pbkdf2Iterations = 100_000
	keyLength        = 32
)

// signatureLength is the encoded length of an HMAC-SHA256 digest.
var signatureLength = base64.RawURLEncoding.EncodedLen(sha256.Size)

// keySalt is fixed so that every process sharing a secret derives the same key.
var keySalt = []byte("cway-mcp/confirmation-token/v1")

// Action identifies the class of destructive operation a token authorizes.
type Action string

// Destructive actions guarded by confirmation.
const (
	ActionDeleteProjects Action = "delete_projects"
	ActionCloseProjects  Action = "close_projects"
	ActionDeleteUser     Action = "delete_user"
)

// Payload is the signed content of a confirmation token. Data is carried
// through from prepare to confirm byte for byte.
type Payload struct {
	Action    Action          `json:"action"`
	Data      json.RawMessage `json:"data"`
	IssuedAt  time.Time       `json:"issued_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	Nonce     string          `json:"nonce"`
}

// Codec turns payloads into self-contained signed strings and back.
//
// A token is base64url(JSON payload) "." base64url(HMAC-SHA256). The HMAC
// covers the encoded payload segment exactly as transmitted, so any change to
// either segment is reported as ErrInvalidSignature.
type Codec struct {
	key []byte
}

// NewCodec derives the signing key from secret once, with PBKDF2-SHA256.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("confirmation secret must not be empty")
	}
	return &Codec{key: pbkdf2.Key([]byte(secret), keySalt, pbkdf2Iterations, keyLength, sha256.New)}, nil
}

// Encode serializes and signs p.
func (c *Codec) Encode(p Payload) (string, error) {
	if len(p.Data) == 0 {
		p.Data = json.RawMessage("null")
	}
	p.IssuedAt = p.IssuedAt.UTC()
	p.ExpiresAt = p.ExpiresAt.UTC()

	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode confirmation payload: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(raw)
	return body + tokenSeparator + c.sign(body), nil
}

// Decode verifies token and returns its payload. Expiry is not checked here.
func (c *Codec) Decode(token string) (*Payload, error) {
	parts := strings.Split(token, tokenSeparator)
	if len(parts) != 2 || parts[0] == "" || len(parts[1]) != signatureLength {
		return nil, ErrMalformedToken
	}
	if !isBase64URL(parts[0]) || !isBase64URL(parts[1]) {
		return nil, ErrMalformedToken
	}

	if !hmac.Equal([]byte(parts[1]), []byte(c.sign(parts[0]))) {
		return nil, ErrInvalidSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return &p, nil
}

func (c *Codec) sign(body string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func isBase64URL(s string) bool {
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'A' && ch <= 'Z', ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
		default:
			return false
		}
	}
	return true
}
