package auth

import "time"

// PrincipalKind distinguishes human accounts from API-key backed services.
type PrincipalKind string

const (
	KindUser    PrincipalKind = "user"
	KindService PrincipalKind = "service"
)

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is a human account. Users are soft-deleted by disabling them so that
// audit history keeps resolving.
type User struct {
	ID           string
	TenantID     string
	Email        string
	PasswordHash string
	Role         string
	Status       string
	LastSeenAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the user may authenticate.
func (u *User) Active() bool {
	return u != nil && u.Status == UserStatusActive
}

// APIKey is a service credential. Only the SHA-256 hash of the raw key is stored.
type APIKey struct {
	ID         string
	KeyHash    string
	KeyPrefix  string
	Label      string
	OwnerID    string
	Role       string
	TenantID   string
	Active     bool
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// Expired reports whether the key has an expiry that is not after now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// RefreshToken is a persisted long-lived credential. RevokedAt doubles as the
// revocation record: once set, the token never resolves again.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
}

// Revoked reports whether the token was explicitly revoked.
func (t *RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

// TokenPair is an access token plus its refresh token.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
