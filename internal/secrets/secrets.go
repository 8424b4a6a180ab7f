// Package secrets encrypts stored RCON credentials at rest. A 256-bit
// master key lives in a file outside the database; per-record keys are
// derived from it with HKDF so rotating the master key invalidates
// everything at once.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

// ErrDecrypt indicates ciphertext that cannot be opened with the current
// master key. Usually a rotated or wrong key file.
var ErrDecrypt = errors.New("secrets: decryption failed")

const (
	keySize   = 32
	hkdfInfo  = "zedctl/credentials/v1"
	filePerms = 0600
)

// Box seals and opens credential strings with AES-256-GCM.
type Box struct {
	aead cipher.AEAD
}

// NewBox derives the encryption key from masterKey and prepares the AEAD.
func NewBox(masterKey []byte) (*Box, error) {
	if len(masterKey) < keySize {
		return nil, fmt.Errorf("secrets: master key too short: %d bytes, need %d", len(masterKey), keySize)
	}

	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("secrets: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: init gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
// Empty input stays empty so optional fields round-trip as-is.
func (b *Box) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}

	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (b *Box) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: bad encoding", ErrDecrypt)
	}
	ns := b.aead.NonceSize()
	if len(sealed) < ns {
		return "", fmt.Errorf("%w: truncated", ErrDecrypt)
	}

	plain, err := b.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// GenerateKey returns a fresh random master key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("secrets: generate key: %w", err)
	}
	return key, nil
}

// EnsureKeyFile loads the base64 master key from path, creating it with
// a fresh key on first run.
func EnsureKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, derr := base64.StdEncoding.DecodeString(string(data))
		if derr != nil {
			return nil, fmt.Errorf("secrets: key file %s: %w", path, derr)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("secrets: read key file: %w", err)
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("secrets: create key dir: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), filePerms); err != nil {
		return nil, fmt.Errorf("secrets: write key file: %w", err)
	}
	return key, nil
}
