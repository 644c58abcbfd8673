package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
)

// Service handles sessions: password login, refresh rotation, revocation and
// credential issuance. Request-time resolution lives in Credentials.
type Service struct {
	store      Store
	creds      *Credentials
	now        func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, creds *Credentials, opts ...ServiceOption) (*Service, error) {
	if store == nil || creds == nil {
		return nil, errors.New("auth: service requires store and credentials")
	}
	svc := &Service{
		store:      store,
		creds:      creds,
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.refreshTTL <= svc.accessTTL {
		return nil, fmt.Errorf("%w: refresh ttl must exceed access ttl", ErrInvalidInput)
	}
	return svc, nil
}

// Login verifies email and password and starts a session.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, Principal, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return TokenPair{}, Principal{}, ErrMissingCredential
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return TokenPair{}, Principal{}, ErrUnknownOrInactivePrincipal
		}
		return TokenPair{}, Principal{}, fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, Principal{}, err
	}
	if !user.Active() {
		return TokenPair{}, Principal{}, fmt.Errorf("%w: %w", ErrUnknownOrInactivePrincipal, ErrInactive)
	}
	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	return pair, s.creds.UserPrincipal(user), nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked before the new one is issued; a revoked token always fails.
func (s *Service) Refresh(ctx context.Context, raw string) (TokenPair, Principal, error) {
	tok, err := s.lookupRefresh(ctx, raw)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	if err := s.store.RefreshTokens(ctx).MarkRevoked(ctx, tok.ID, s.now()); err != nil {
		if errors.Is(err, ErrRevokedCredential) {
			return TokenPair{}, Principal{}, ErrRevokedCredential
		}
		return TokenPair{}, Principal{}, fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
	}
	user, err := s.creds.ResolveUser(ctx, tok.UserID)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	return pair, s.creds.UserPrincipal(user), nil
}

// Logout revokes one refresh token. Revoking an already revoked token is a no-op.
func (s *Service) Logout(ctx context.Context, raw string) error {
	id, _, err := splitRefreshToken(raw)
	if err != nil {
		return err
	}
	err = s.store.RefreshTokens(ctx).MarkRevoked(ctx, id, s.now())
	if err == nil || errors.Is(err, ErrRevokedCredential) || errors.Is(err, ErrNotFound) {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
}

// RevokeAll revokes every outstanding refresh token of userID.
func (s *Service) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.RefreshTokens(ctx).MarkRevokedByUser(ctx, userID, s.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
	}
	return n, nil
}

// ChangePassword replaces the password after verifying the current one and
// revokes every refresh token of the user.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.creds.ResolveUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		if errors.Is(err, ErrUnknownOrInactivePrincipal) {
			return fmt.Errorf("%w: current password does not match", ErrInvalidInput)
		}
		return err
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.Users(ctx).UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
	}
	_, err = s.RevokeAll(ctx, user.ID)
	return err
}

// EnsureUser creates the account unless one with the same email exists.
// It reports whether a user was created.
func (s *Service) EnsureUser(ctx context.Context, email, password, role, tenantID string) (*User, bool, error) {
	users := s.store.Users(ctx)
	existing, err := users.FindByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
	}
	if strings.TrimSpace(role) == "" {
		return nil, false, fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, false, err
	}
	u := &User{Email: email, PasswordHash: hash, Role: role, TenantID: tenantID, Status: UserStatusActive}
	if err := users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrConflict) {
			existing, ferr := users.FindByEmail(ctx, email)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return u, true, nil
}

// APIKeyRequest describes a key to issue.
type APIKeyRequest struct {
	OwnerID   string
	Role      string
	TenantID  string
	Label     string
	ExpiresAt *time.Time
}

// IssueAPIKey creates a key and returns the raw value. The raw key is not
// recoverable afterwards.
func (s *Service) IssueAPIKey(ctx context.Context, req APIKeyRequest) (string, *APIKey, error) {
	if strings.TrimSpace(req.Role) == "" || strings.TrimSpace(req.OwnerID) == "" {
		return "", nil, fmt.Errorf("%w: owner and role are required", ErrInvalidInput)
	}
	raw, prefix, err := GenerateAPIKey()
	if err != nil {
		return "", nil, err
	}
	key := &APIKey{
		KeyHash:   HashAPIKey(raw),
		KeyPrefix: prefix,
		Label:     strings.TrimSpace(req.Label),
		OwnerID:   req.OwnerID,
		Role:      req.Role,
		TenantID:  req.TenantID,
		Active:    true,
		ExpiresAt: req.ExpiresAt,
	}
	if err := s.store.APIKeys(ctx).Create(ctx, key); err != nil {
		return "", nil, err
	}
	return raw, key, nil
}

// RevokeAPIKey deactivates a key. Service tokens synthesized from it stop
// resolving on their next use.
func (s *Service) RevokeAPIKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: key id is required", ErrInvalidInput)
	}
	if err := s.store.APIKeys(ctx).Deactivate(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
	}
	return nil
}

// SetUserStatus enables or disables an account. Disabling revokes every
// refresh token of the user and reports how many were revoked.
func (s *Service) SetUserStatus(ctx context.Context, userID, status string) (int64, error) {
	if status != UserStatusActive && status != UserStatusDisabled {
		return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if err := s.store.Users(ctx).SetStatus(ctx, userID, status); err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
	}
	if status == UserStatusActive {
		return 0, nil
	}
	return s.RevokeAll(ctx, userID)
}

func (s *Service) lookupRefresh(ctx context.Context, raw string) (*RefreshToken, error) {
	id, secret, err := splitRefreshToken(raw)
	if err != nil {
		return nil, err
	}
	tok, err := s.store.RefreshTokens(ctx).Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrMalformedCredential
		}
		return nil, fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
	}
	if !hashesEqual(tok.TokenHash, hashSecret(secret)) {
		return nil, ErrBadSignature
	}
	if tok.Revoked() {
		return nil, ErrRevokedCredential
	}
	if !s.now().Before(tok.ExpiresAt) {
		return nil, ErrExpiredCredential
	}
	return tok, nil
}

func (s *Service) issuePair(ctx context.Context, user *User) (TokenPair, error) {
	access, accessExp, err := s.creds.Codec().Issue(user.ID, user.Role, user.TenantID, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	id, secret, err := newRefreshSecret()
	if err != nil {
		return TokenPair{}, err
	}
	refreshExp := s.now().UTC().Add(s.refreshTTL)
	rec := &RefreshToken{
		ID:        id,
		UserID:    user.ID,
		TokenHash: hashSecret(secret),
		ExpiresAt: refreshExp,
	}
	if err := s.store.RefreshTokens(ctx).Create(ctx, rec); err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     id + "." + secret,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}
