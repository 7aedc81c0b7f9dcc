// Package credentials hashes and verifies principal passwords.
package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavitra93/go-tenant-isolation/shared/apperrors"
)

// Cost is the bcrypt work factor. Tests lower it to bcrypt.MinCost.
var Cost = bcrypt.DefaultCost

// Hash returns the bcrypt hash of password
func Hash(password string) (string, error) {
	if password == "" {
		return "", apperrors.Validation("password", "cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), Cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", apperrors.Validation("password", "too long")
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify checks password against hash. Any mismatch, including an unusable
// stored hash, is an AuthenticationError.
func Verify(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return apperrors.Authentication("invalid credentials")
	}
	return nil
}

// RandomPassword returns a URL-safe secret for accounts nobody logs into by hand
func RandomPassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
