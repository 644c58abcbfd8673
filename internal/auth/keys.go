package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"authgate.org/internal/ids"
)

// APIKeyPrefix marks raw API keys so they are recognisable in leaks and logs.
const APIKeyPrefix = "agk_"

// HashAPIKey returns the lowercase hex SHA-256 digest stored for a raw key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey returns a new raw key and its display prefix.
func GenerateAPIKey() (raw, prefix string, err error) {
	secret, err := ids.Secret(32)
	if err != nil {
		return "", "", fmt.Errorf("auth: generate api key: %w", err)
	}
	raw = APIKeyPrefix + secret
	return raw, raw[:len(APIKeyPrefix)+6], nil
}

// refresh tokens are "<id>.<secret>"; only the secret's hash is persisted.
func newRefreshSecret() (id, secret string, err error) {
	secret, err = ids.Secret(32)
	if err != nil {
		return "", "", fmt.Errorf("auth: generate refresh token: %w", err)
	}
	return ids.New(), secret, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	id, secret, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || id == "" || secret == "" {
		return "", "", fmt.Errorf("%w: refresh token format", ErrMalformedCredential)
	}
	return id, secret, nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func hashesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
