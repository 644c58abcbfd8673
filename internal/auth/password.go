package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is enforced on password changes.
const MinPasswordLength = 10

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
// A mismatch is reported as ErrUnknownOrInactivePrincipal so login failures
// stay indistinguishable from unknown accounts.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return ErrUnknownOrInactivePrincipal
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrUnknownOrInactivePrincipal
	}
	return err
}

// dummyHash is compared against when the account does not exist so both
// paths cost one bcrypt round.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("authgate-timing-equaliser"), bcrypt.DefaultCost)
