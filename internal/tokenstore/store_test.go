package tokenstore

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := New(Config{
		Dir:     filepath.Join(root, "tokens"),
		KeyFile: filepath.Join(root, ".token_key"),
	})
	require.NoError(t, err)
	return s
}

func testSession(suffix string) *Session {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Session{
		AccessToken:  "access-" + suffix,
		RefreshToken: "refresh-" + suffix,
		TokenType:    "Bearer",
		ExpiresAt:    now.Add(time.Hour),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save("alice@example.com", testSession("a")))

	got, err := s.Load("alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice@example.com", got.Username)
	assert.Equal(t, "access-a", got.AccessToken)
	assert.Equal(t, "refresh-a", got.RefreshToken)
	assert.True(t, got.ExpiresAt.Equal(testSession("a").ExpiresAt))
}

func TestStore_LoadMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Load("nobody")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_UserIsolation(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save("alice", testSession("a")))
	require.NoError(t, s.Save("bob", testSession("b")))

	alice, err := s.Load("alice")
	require.NoError(t, err)
	bob, err := s.Load("bob")
	require.NoError(t, err)
	assert.Equal(t, "access-a", alice.AccessToken)
	assert.Equal(t, "access-b", bob.AccessToken)

	require.NoError(t, s.Save("bob", testSession("b2")))
	alice, err = s.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, "access-a", alice.AccessToken)

	require.NoError(t, s.Delete("bob"))
	alice, err = s.Load("alice")
	require.NoError(t, err)
	assert.NotNil(t, alice)
}

func TestStore_NoPlaintextOnDisk(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save("alice@example.com", testSession("secret-value")))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.NotContains(t, entries[0].Name(), "alice")
	assert.Equal(t, Key("alice@example.com")+fileExt, entries[0].Name())

	data, err := os.ReadFile(filepath.Join(s.Dir(), entries[0].Name()))
	require.NoError(t, err)
	assert.False(t, bytes.Contains(data, []byte("secret-value")))
	assert.False(t, bytes.Contains(data, []byte("alice@example.com")))
}

func TestStore_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permissions only")
	}
	root := t.TempDir()
	keyFile := filepath.Join(root, ".token_key")
	s, err := New(Config{Dir: filepath.Join(root, "tokens"), KeyFile: keyFile})
	require.NoError(t, err)
	require.NoError(t, s.Save("alice", testSession("a")))

	dirInfo, err := os.Stat(s.Dir())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())

	fileInfo, err := os.Stat(filepath.Join(s.Dir(), Key("alice")+fileExt))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fileInfo.Mode().Perm())

	keyInfo, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), keyInfo.Mode().Perm())
}

func TestStore_CorruptFileTreatedAsAbsent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save("alice", testSession("a")))

	path := filepath.Join(s.Dir(), Key("alice")+fileExt)
	require.NoError(t, os.WriteFile(path, []byte("definitely not ciphertext, just garbage bytes"), 0600))

	got, err := s.Load("alice")
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "corrupt record should be removed")
}

func TestStore_TruncatedFileTreatedAsAbsent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save("alice", testSession("a")))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), Key("alice")+fileExt), []byte{1, 2, 3}, 0600))

	got, err := s.Load("alice")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_RecordMovedToAnotherUserIsRejected(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save("alice", testSession("a")))

	src := filepath.Join(s.Dir(), Key("alice")+fileExt)
	dst := filepath.Join(s.Dir(), Key("mallory")+fileExt)
	require.NoError(t, os.Rename(src, dst))

	got, err := s.Load("mallory")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_DifferentKeyCannotDecrypt(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "tokens")

	first, err := New(Config{Dir: dir, KeyFile: filepath.Join(root, "key1")})
	require.NoError(t, err)
	require.NoError(t, first.Save("alice", testSession("a")))

	second, err := New(Config{Dir: dir, KeyFile: filepath.Join(root, "key2")})
	require.NoError(t, err)
	got, err := second.Load("alice")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_KeyFileReused(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Dir: filepath.Join(root, "tokens"), KeyFile: filepath.Join(root, ".token_key")}

	first, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, first.Save("alice", testSession("a")))

	second, err := New(cfg)
	require.NoError(t, err)
	got, err := second.Load("alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "access-a", got.AccessToken)
}

func TestLoadOrCreateKey_ConcurrentCreatorsAgree(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, ".token_key")

	const creators = 16
	keys := make([][]byte, creators)
	var wg sync.WaitGroup
	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, err := loadOrCreateKey(keyFile)
			assert.NoError(t, err)
			keys[i] = key
		}(i)
	}
	wg.Wait()

	onDisk, err := os.ReadFile(keyFile)
	require.NoError(t, err)
	require.Len(t, onDisk, keyMaterialSize)
	for i, key := range keys {
		assert.Equal(t, onDisk, key, "creator %d saw a different key", i)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestInstallKey_KeepsExistingKey(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), ".token_key")
	original := bytes.Repeat([]byte{1}, keyMaterialSize)
	require.NoError(t, os.WriteFile(keyFile, original, 0600))

	installed, err := installKey(keyFile, bytes.Repeat([]byte{2}, keyMaterialSize))
	require.NoError(t, err)
	assert.False(t, installed)

	got, err := loadOrCreateKey(keyFile)
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestStore_BadKeyFileRejected(t *testing.T) {
	root := t.TempDir()
	keyFile := filepath.Join(root, ".token_key")
	require.NoError(t, os.WriteFile(keyFile, []byte("short"), 0600))

	_, err := New(Config{Dir: filepath.Join(root, "tokens"), KeyFile: keyFile})
	assert.Error(t, err)
}

func TestStore_DeleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save("alice", testSession("a")))

	require.NoError(t, s.Delete("alice"))
	require.NoError(t, s.Delete("alice"))

	got, err := s.Load("alice")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_InvalidUsername(t *testing.T) {
	s := newTestStore(t)

	assert.ErrorIs(t, s.Save("  ", testSession("a")), ErrInvalidUsername)
	_, err := s.Load("")
	assert.ErrorIs(t, err, ErrInvalidUsername)
	assert.ErrorIs(t, s.Delete(strings.Repeat("x", 400)), ErrInvalidUsername)
}

func TestStore_ListAndUsernames(t *testing.T) {
	s := newTestStore(t)
	for _, u := range []string{"carol", "alice", "bob"} {
		require.NoError(t, s.Save(u, testSession(u)))
	}
	// Stray files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "README"), []byte("x"), 0600))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	keys := map[string]bool{}
	for _, e := range entries {
		keys[e.Key] = true
	}
	assert.True(t, keys[Key("alice")])
	assert.True(t, keys[Key("bob")])

	names, err := s.Usernames()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, names)

	n, err := s.Clear()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	entries, err = s.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_ConcurrentUsers(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := "user-" + string(rune('a'+i))
			assert.NoError(t, s.Save(u, testSession(u)))
			got, err := s.Load(u)
			assert.NoError(t, err)
			if assert.NotNil(t, got) {
				assert.Equal(t, "access-"+u, got.AccessToken)
			}
		}(i)
	}
	wg.Wait()
}
