package confirm

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec("test-secret")
	require.NoError(t, err)
	return c
}

func samplePayload() Payload {
	issued := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	return Payload{
		Action:    ActionDeleteProjects,
		Data:      json.RawMessage(`{"project_ids":["p1","p2"],"force":true}`),
		IssuedAt:  issued,
		ExpiresAt: issued.Add(DefaultTTL),
		Nonce:     "nonce-1",
	}
}

func assertPayloadEqual(t *testing.T, want Payload, got *Payload) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, want.Action, got.Action)
	assert.JSONEq(t, string(want.Data), string(got.Data))
	assert.True(t, want.IssuedAt.Equal(got.IssuedAt), "issued_at %v != %v", want.IssuedAt, got.IssuedAt)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt), "expires_at %v != %v", want.ExpiresAt, got.ExpiresAt)
	assert.Equal(t, want.Nonce, got.Nonce)
}

func TestNewCodec_RejectsEmptySecret(t *testing.T) {
	_, err := NewCodec("")
	assert.Error(t, err)
}

func TestCodec_RoundTrip(t *testing.T) {
	c := newTestCodec(t)
	rng := rand.New(rand.NewSource(42))
	actions := []Action{ActionDeleteProjects, ActionCloseProjects, ActionDeleteUser}

	for i := 0; i < 50; i++ {
		ids := make([]string, rng.Intn(5))
		for j := range ids {
			ids[j] = fmt.Sprintf("id-%d-%d", i, rng.Int63())
		}
		data, err := json.Marshal(map[string]any{"ids": ids, "force": rng.Intn(2) == 1})
		require.NoError(t, err)

		issued := time.Unix(rng.Int63n(2_000_000_000), rng.Int63n(1e9)).UTC()
		p := Payload{
			Action:    actions[rng.Intn(len(actions))],
			Data:      data,
			IssuedAt:  issued,
			ExpiresAt: issued.Add(time.Duration(rng.Intn(600)) * time.Second),
			Nonce:     fmt.Sprintf("n-%d", rng.Int63()),
		}

		token, err := c.Encode(p)
		require.NoError(t, err)
		got, err := c.Decode(token)
		require.NoError(t, err)
		assertPayloadEqual(t, p, got)
	}
}

func TestCodec_TamperedTokenFailsSignature(t *testing.T) {
	c := newTestCodec(t)
	token, err := c.Encode(samplePayload())
	require.NoError(t, err)

	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			continue
		}
		replacement := byte('A')
		if token[i] == 'A' {
			replacement = 'B'
		}
		tampered := token[:i] + string(replacement) + token[i+1:]

		_, err := c.Decode(tampered)
		require.ErrorIs(t, err, ErrInvalidSignature, "position %d", i)
	}
}

func TestCodec_DifferentSecretFailsSignature(t *testing.T) {
	token, err := newTestCodec(t).Encode(samplePayload())
	require.NoError(t, err)

	other, err := NewCodec("another-secret")
	require.NoError(t, err)
	_, err = other.Decode(token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestCodec_Malformed(t *testing.T) {
	c := newTestCodec(t)
	token, err := c.Encode(samplePayload())
	require.NoError(t, err)
	body, sig, _ := strings.Cut(token, ".")

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no separator", body + sig},
		{"extra separator", body + "." + sig + ".x"},
		{"empty payload", "." + sig},
		{"truncated signature", body + "." + sig[:len(sig)-3]},
		{"non-base64 payload", "!!" + body[2:] + "." + sig},
		{"non-base64 signature", body + "." + "*" + sig[1:]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(tt.token)
			assert.ErrorIs(t, err, ErrMalformedToken)
			assert.True(t, IsInvalidToken(err))
		})
	}
}

func TestCodec_EncodeNilData(t *testing.T) {
	c := newTestCodec(t)
	p := samplePayload()
	p.Data = nil

	token, err := c.Encode(p)
	require.NoError(t, err)
	got, err := c.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "null", string(got.Data))
}
