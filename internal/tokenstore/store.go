package tokenstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cway-mcp/pkg/logging"
)

const fileExt = ".enc"

// ErrInvalidUsername is returned for usernames that cannot identify a session.
var ErrInvalidUsername = errors.New("invalid username")

// Session is the persisted credential record for one user.
type Session struct {
	Username     string    `json:"username"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Config configures the store.
type Config struct {
	// Dir holds one encrypted file per user. Created with 0700.
	Dir string
	// KeyFile holds the encryption key material. Created with 0600 if missing.
	// Keep it outside Dir.
	KeyFile string
}

// Store persists sessions encrypted at rest. Files are named by a hash of the
// username and written with owner-only permissions. Store does no locking of
// its own; callers serialize writers per user.
type Store struct {
	dir    string
	sealer *sealer
}

// New opens (or initializes) a store.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" || cfg.KeyFile == "" {
		return nil, errors.New("token store requires a directory and a key file")
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create token storage directory: %w", err)
	}
	material, err := loadOrCreateKey(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	s, err := newSealer(material)
	if err != nil {
		return nil, err
	}
	return &Store{dir: cfg.Dir, sealer: s}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// Key returns the file key for username: the hex of the first 16 bytes of
// its SHA-256.
func Key(username string) string {
	hash := sha256.Sum256([]byte(username))
	return hex.EncodeToString(hash[:16])
}

// KeyFor is Key as a method, for callers holding a store interface.
func (s *Store) KeyFor(username string) string { return Key(username) }

// Save encrypts and writes sess for username, replacing any previous record.
func (s *Store) Save(username string, sess *Session) error {
	if err := validateUsername(username); err != nil {
		return err
	}
	if sess == nil {
		return errors.New("session must not be nil")
	}

	record := sess.Clone()
	record.Username = username
	plaintext, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := Key(username)
	ciphertext, err := s.sealer.seal(plaintext, []byte(key))
	if err != nil {
		return err
	}
	if err := s.writeFile(key, ciphertext); err != nil {
		logging.Audit("token_store_failed", "user", logging.RedactUser(username), "error", err.Error())
		return fmt.Errorf("failed to persist session: %w", err)
	}

	logging.Audit("token_stored",
		"user", logging.RedactUser(username),
		"expires_at", record.ExpiresAt.Format(time.RFC3339),
		"has_refresh_token", record.RefreshToken != "",
	)
	return nil
}

// Load returns the session for username, or nil if there is none. A record
// that cannot be decrypted or parsed is removed and reported as absent, as is
// a record belonging to a different username.
func (s *Store) Load(username string) (*Session, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	key := Key(username)
	path := s.path(key)

	// #nosec G304 -- path is built from a hash, not user input
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	plaintext, err := s.sealer.open(data, []byte(key))
	if err != nil {
		s.discard(path, username, "decrypt")
		return nil, nil
	}
	var sess Session
	if err := json.Unmarshal(plaintext, &sess); err != nil {
		s.discard(path, username, "parse")
		return nil, nil
	}
	if sess.Username != username {
		logging.Warn("TokenStore", "Session record for %s belongs to another user, ignoring", logging.RedactUser(username))
		return nil, nil
	}
	return &sess, nil
}

// Delete removes the session for username. Deleting a missing session is not
// an error.
func (s *Store) Delete(username string) error {
	if err := validateUsername(username); err != nil {
		return err
	}
	err := os.Remove(s.path(Key(username)))
	if err != nil && !os.IsNotExist(err) {
		logging.Audit("token_delete_failed", "user", logging.RedactUser(username), "error", err.Error())
		return fmt.Errorf("failed to delete session: %w", err)
	}
	logging.Audit("token_deleted", "user", logging.RedactUser(username))
	return nil
}

// Entry describes a stored session without decrypting it.
type Entry struct {
	Key       string
	UpdatedAt time.Time
}

// List returns the stored session keys, sorted by key. Nothing is decrypted.
func (s *Store) List() ([]Entry, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token directory: %w", err)
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != fileExt {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Key: strings.TrimSuffix(f.Name(), fileExt), UpdatedAt: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Usernames decrypts every record to recover the usernames it belongs to.
// Unreadable records are skipped.
func (s *Store) Usernames() ([]string, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		// #nosec G304 -- path is built from a directory listing
		data, err := os.ReadFile(s.path(e.Key))
		if err != nil {
			continue
		}
		plaintext, err := s.sealer.open(data, []byte(e.Key))
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(plaintext, &sess); err != nil || Key(sess.Username) != e.Key {
			continue
		}
		names = append(names, sess.Username)
	}
	sort.Strings(names)
	return names, nil
}

// Clear removes every stored session and returns how many were removed.
func (s *Store) Clear() (int, error) {
	entries, err := s.List()
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if err := os.Remove(s.path(e.Key)); err != nil && !os.IsNotExist(err) {
			return i, fmt.Errorf("failed to remove session %s: %w", e.Key, err)
		}
	}
	logging.Audit("tokens_cleared", "count", len(entries))
	return len(entries), nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

// writeFile writes through a temp file and rename so readers never observe a
// partial record.
func (s *Store) writeFile(key string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+key+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path(key))
}

func (s *Store) discard(path, username, stage string) {
	logging.Warn("TokenStore", "Discarding unreadable session for %s (%s failed)", logging.RedactUser(username), stage)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Error("TokenStore", err, "Failed to remove unreadable session")
	}
}

func validateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUsername)
	}
	if len(username) > 320 {
		return fmt.Errorf("%w: too long", ErrInvalidUsername)
	}
	return nil
}
