package tokenstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

const (
	keyMaterialSize = 32
	hkdfInfo        = "cway-mcp token store v1"
)

var errCiphertextTooShort = errors.New("ciphertext too short")

// sealer encrypts records with AES-256-GCM. The key is derived with HKDF from
// the random material in the key file.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(material []byte) (*sealer, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, material, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive token store key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

// seal returns nonce || ciphertext. aad binds the ciphertext to its file.
func (s *sealer) seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, aad), nil
}

func (s *sealer) open(data, aad []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(data) < n+s.aead.Overhead() {
		return nil, errCiphertextTooShort
	}
	return s.aead.Open(nil, data[:n], data[n:], aad)
}

// loadOrCreateKey reads the key file, creating it with fresh random material
// and 0600 permissions if it does not exist.
func loadOrCreateKey(path string) ([]byte, error) {
	// #nosec G304 -- path comes from configuration, not user input
	material, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(material) != keyMaterialSize {
			return nil, fmt.Errorf("token key file %s has unexpected size %d", path, len(material))
		}
		return material, nil
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read token key file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	material = make([]byte, keyMaterialSize)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("failed to generate token key: %w", err)
	}

	installed, err := installKey(path, material)
	if err != nil {
		return nil, err
	}
	if !installed {
		// Another process created it first.
		return loadOrCreateKey(path)
	}
	return material, nil
}

// installKey writes material to a temp file and hard-links it to path, so
// path never exists with partial content and an existing key is never
// replaced. It reports false if path already exists.
func installKey(path string, material []byte) (bool, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return false, fmt.Errorf("failed to create token key file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("failed to create token key file: %w", err)
	}
	if _, err := tmp.Write(material); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("failed to write token key file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("failed to write token key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("failed to write token key file: %w", err)
	}

	if err := os.Link(tmpName, path); err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to install token key file: %w", err)
	}
	return true, nil
}
