package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	APIKeys(ctx context.Context) APIKeyStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
}

// UserStore manages users.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	SetStatus(ctx context.Context, userID, status string) error
	Touch(ctx context.Context, userID string, at time.Time) error
}

// APIKeyStore manages service credentials.
type APIKeyStore interface {
	Create(ctx context.Context, key *APIKey) error
	Find(ctx context.Context, id string) (*APIKey, error)
	FindByHash(ctx context.Context, hash string) (*APIKey, error)
	Deactivate(ctx context.Context, id string) error
	Touch(ctx context.Context, id string, at time.Time) error
}

// RefreshTokenStore manages refresh token lifecycle.
//
// MarkRevoked must be conditional on the token not being revoked yet and
// report ErrRevokedCredential otherwise; rotation relies on it to reject
// concurrent reuse of one refresh token.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	MarkRevoked(ctx context.Context, id string, at time.Time) error
	MarkRevokedByUser(ctx context.Context, userID string, at time.Time) (int64, error)
}
