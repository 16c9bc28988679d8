// Package vault provides symmetric encryption for tenant secrets held at
// rest: per-application JWT signing secrets, SMTP passwords and provider
// API keys.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrConfiguration indicates ciphertext that cannot be decrypted with the
// configured master key. It means the master key changed since encryption
// and is treated as fatal, not user-facing.
var ErrConfiguration = errors.New("vault: ciphertext does not match master key")

// Vault encrypts and decrypts sensitive strings with AES-256-GCM using a
// key derived from the master secret.
type Vault struct {
	key []byte
}

// New derives the encryption key from the master secret.
func New(masterSecret string) (*Vault, error) {
	if masterSecret == "" {
		return nil, errors.New("vault: master secret is required")
	}
	key := sha256.Sum256([]byte(masterSecret))
	return &Vault{key: key[:]}, nil
}

// Encrypt returns base64-encoded nonce+ciphertext+tag. Empty input
// round-trips as the empty string.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	gcm, err := v.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Empty input round-trips as the empty string.
// Any authentication failure surfaces as ErrConfiguration.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	gcm, err := v.aead()
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", ErrConfiguration
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrConfiguration
	}
	return string(plaintext), nil
}

func (v *Vault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
