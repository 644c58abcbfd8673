package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"authgate.org/internal/obs"
)

const (
	defaultLookupTimeout  = 3 * time.Second
	defaultAPIKeyTokenTTL = 5 * time.Minute
)

// PermissionSource maps a role name to its permission keys.
type PermissionSource interface {
	PermissionsForRole(role string) []string
}

// Credentials resolves presented credentials to principals against the
// backing store. Every lookup runs under its own deadline; a store fault
// fails closed with ErrBackingStoreUnavailable.
type Credentials struct {
	store     Store
	codec     *TokenCodec
	perms     PermissionSource
	timeout   time.Duration
	apiKeyTTL time.Duration
	now       func() time.Time
	log       *slog.Logger
}

// CredentialsOption configures Credentials.
type CredentialsOption func(*Credentials)

// WithLookupTimeout bounds each store lookup.
func WithLookupTimeout(d time.Duration) CredentialsOption {
	return func(c *Credentials) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAPIKeyTokenTTL sets the lifetime of tokens synthesized for API keys.
func WithAPIKeyTokenTTL(d time.Duration) CredentialsOption {
	return func(c *Credentials) {
		if d > 0 {
			c.apiKeyTTL = d
		}
	}
}

// WithCredentialsClock overrides the time source.
func WithCredentialsClock(fn func() time.Time) CredentialsOption {
	return func(c *Credentials) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithCredentialsLogger overrides the logger.
func WithCredentialsLogger(l *slog.Logger) CredentialsOption {
	return func(c *Credentials) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCredentials wires a resolver over store.
func NewCredentials(store Store, codec *TokenCodec, perms PermissionSource, opts ...CredentialsOption) (*Credentials, error) {
	if store == nil || codec == nil || perms == nil {
		return nil, errors.New("auth: credentials require store, codec and permission source")
	}
	c := &Credentials{
		store:     store,
		codec:     codec,
		perms:     perms,
		timeout:   defaultLookupTimeout,
		apiKeyTTL: defaultAPIKeyTokenTTL,
		now:       time.Now,
		log:       obs.Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Codec returns the token codec used by the resolver.
func (c *Credentials) Codec() *TokenCodec { return c.codec }

// ResolveBearer looks up the principal named by already-decoded claims and
// records last-seen on a best-effort basis. Role and tenant come from the
// store, not the token, so role changes apply on the next request.
func (c *Credentials) ResolveBearer(ctx context.Context, claims *Claims) (Principal, error) {
	if claims == nil || claims.Subject == "" {
		return Principal{}, ErrMalformedCredential
	}
	if claims.Kind == KindService {
		key, err := c.lookupKey(ctx, func(ctx context.Context, keys APIKeyStore) (*APIKey, error) {
			return keys.Find(ctx, claims.Subject)
		})
		if err != nil {
			return Principal{}, err
		}
		return c.servicePrincipal(key), nil
	}

	user, err := c.ResolveUser(ctx, claims.Subject)
	if err != nil {
		return Principal{}, err
	}
	c.touch(ctx, "user", func(ctx context.Context) error {
		return c.store.Users(ctx).Touch(ctx, user.ID, c.now())
	})
	return c.UserPrincipal(user), nil
}

// ResolveUser loads an active user by id.
func (c *Credentials) ResolveUser(ctx context.Context, userID string) (*User, error) {
	lctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	user, err := c.store.Users(lctx).Find(lctx, userID)
	if err != nil {
		return nil, c.lookupError("user", err)
	}
	if !user.Active() {
		return nil, fmt.Errorf("%w: %w", ErrUnknownOrInactivePrincipal, ErrInactive)
	}
	return user, nil
}

// ResolveAPIKey authenticates a raw API key. On success it returns the
// service principal and a short-lived bearer token standing in for the key
// on downstream hops.
func (c *Credentials) ResolveAPIKey(ctx context.Context, rawKey string) (Principal, string, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return Principal{}, "", ErrMissingCredential
	}
	hash := HashAPIKey(rawKey)
	key, err := c.lookupKey(ctx, func(ctx context.Context, keys APIKeyStore) (*APIKey, error) {
		return keys.FindByHash(ctx, hash)
	})
	if err != nil {
		return Principal{}, "", err
	}
	c.touch(ctx, "api_key", func(ctx context.Context) error {
		return c.store.APIKeys(ctx).Touch(ctx, key.ID, c.now())
	})
	token, _, err := c.codec.IssueClaims(Claims{
		Subject:    key.ID,
		Role:       key.Role,
		TenantID:   key.TenantID,
		Kind:       KindService,
		Extensions: map[string]any{"owner": key.OwnerID},
	}, c.apiKeyTTL)
	if err != nil {
		return Principal{}, "", err
	}
	return c.servicePrincipal(key), token, nil
}

func (c *Credentials) lookupKey(ctx context.Context, find func(context.Context, APIKeyStore) (*APIKey, error)) (*APIKey, error) {
	lctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	key, err := find(lctx, c.store.APIKeys(lctx))
	if err != nil {
		return nil, c.lookupError("api_key", err)
	}
	if !key.Active {
		return nil, fmt.Errorf("%w: %w", ErrUnknownOrInactivePrincipal, ErrInactive)
	}
	if key.Expired(c.now()) {
		return nil, ErrExpiredCredential
	}
	return key, nil
}

// UserPrincipal builds the principal for an already-resolved user.
func (c *Credentials) UserPrincipal(u *User) Principal {
	p := NewPrincipal(u.ID, KindUser, u.Role, u.TenantID, c.perms.PermissionsForRole(u.Role))
	p.Email = u.Email
	return p
}

func (c *Credentials) servicePrincipal(k *APIKey) Principal {
	p := NewPrincipal(k.ID, KindService, k.Role, k.TenantID, c.perms.PermissionsForRole(k.Role))
	p.KeyID = k.ID
	return p
}

func (c *Credentials) lookupError(entity string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrUnknownOrInactivePrincipal
	}
	c.log.Error("credential lookup failed", "entity", entity, "error", err)
	return fmt.Errorf("%w: %s lookup: %v", ErrBackingStoreUnavailable, entity, err)
}

// touch runs a usage update that must never fail the request.
func (c *Credentials) touch(ctx context.Context, entity string, fn func(context.Context) error) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	if err := fn(tctx); err != nil {
		c.log.Warn("usage touch failed", "entity", entity, "error", err)
	}
}
