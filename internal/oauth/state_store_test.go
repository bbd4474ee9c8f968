package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cway-mcp/internal/testing/mock"
)

func newPendingRequest(t *testing.T, clock Clock, username string) *AuthorizationRequest {
	t.Helper()
	c, err := NewClient(Config{ClientID: "id"}, WithClock(clock))
	require.NoError(t, err)
	req, err := c.BuildAuthorizationRequest(username)
	require.NoError(t, err)
	return req
}

func TestStateStore_PutTake(t *testing.T) {
	clock := mock.NewMockClock(testEpoch)
	ss := NewStateStore(0, clock)
	defer ss.Stop()

	req := newPendingRequest(t, clock, "alice")
	ss.Put(req)
	assert.Equal(t, 1, ss.Len())

	p := ss.Take(req.State)
	require.NotNil(t, p)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, req.CodeVerifier.Value(), p.CodeVerifier.Value())

	// A state can be redeemed once.
	assert.Nil(t, ss.Take(req.State))
	assert.Nil(t, ss.Take("unknown"))
}

func TestStateStore_Expiry(t *testing.T) {
	clock := mock.NewMockClock(testEpoch)
	ss := NewStateStore(10*time.Minute, clock)
	defer ss.Stop()

	req := newPendingRequest(t, clock, "alice")
	ss.Put(req)
	clock.Advance(11 * time.Minute)

	assert.Nil(t, ss.Take(req.State))
	assert.Equal(t, 0, ss.Len())
}

func TestStateStore_Cleanup(t *testing.T) {
	clock := mock.NewMockClock(testEpoch)
	ss := NewStateStore(10*time.Minute, clock)
	defer ss.Stop()

	old := newPendingRequest(t, clock, "old")
	ss.Put(old)
	clock.Advance(9 * time.Minute)
	fresh := newPendingRequest(t, clock, "fresh")
	ss.Put(fresh)
	clock.Advance(2 * time.Minute)

	ss.cleanup()
	assert.Equal(t, 1, ss.Len())
	assert.NotNil(t, ss.Take(fresh.State))
}

func TestStateStore_StopIsIdempotent(t *testing.T) {
	ss := NewStateStore(0, nil)
	ss.Stop()
	ss.Stop()
}
