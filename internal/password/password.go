// Package password provides one-way password hashing for all identity
// kinds.
package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Hash hashes a plaintext password using bcrypt. The salt is embedded in
// the returned self-describing hash string.
func Hash(plaintext string) (string, error) {
	if len(plaintext) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares a plaintext password with a stored hash. bcrypt's
// comparison is constant-time over the derived key.
func Verify(hash, plaintext string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
}
