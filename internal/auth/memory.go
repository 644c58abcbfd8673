package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"authgate.org/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store used by tests and single-node
// deployments without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*User
	byEmail map[string]string
	keys    map[string]*APIKey
	byHash  map[string]string
	refresh map[string]*RefreshToken
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
		keys:    make(map[string]*APIKey),
		byHash:  make(map[string]string),
		refresh: make(map[string]*RefreshToken),
		now:     time.Now,
	}
}

func (s *MemoryStore) Users(context.Context) UserStore                 { return memUsers{s} }
func (s *MemoryStore) APIKeys(context.Context) APIKeyStore             { return memKeys{s} }
func (s *MemoryStore) RefreshTokens(context.Context) RefreshTokenStore { return memRefresh{s} }

type memUsers struct{ s *MemoryStore }

func (m memUsers) Create(_ context.Context, u *User) error {
	if u == nil || strings.TrimSpace(u.Email) == "" {
		return ErrInvalidInput
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(u.Email))
	if _, exists := m.s.byEmail[email]; exists {
		return ErrConflict
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	now := m.s.now().UTC()
	u.Email = email
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	m.s.users[u.ID] = &cp
	m.s.byEmail[email] = u.ID
	return nil
}

func (m memUsers) Find(_ context.Context, id string) (*User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m memUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.s.mu.RLock()
	id, ok := m.s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	m.s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.Find(ctx, id)
}

func (m memUsers) UpdatePassword(_ context.Context, userID, hash string) error {
	return m.update(userID, func(u *User) { u.PasswordHash = hash })
}

func (m memUsers) SetStatus(_ context.Context, userID, status string) error {
	return m.update(userID, func(u *User) { u.Status = status })
}

func (m memUsers) Touch(_ context.Context, userID string, at time.Time) error {
	return m.update(userID, func(u *User) {
		t := at.UTC()
		u.LastSeenAt = &t
	})
}

func (m memUsers) update(id string, fn func(*User)) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	u.UpdatedAt = m.s.now().UTC()
	return nil
}

type memKeys struct{ s *MemoryStore }

func (m memKeys) Create(_ context.Context, k *APIKey) error {
	if k == nil || k.KeyHash == "" {
		return ErrInvalidInput
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, exists := m.s.byHash[k.KeyHash]; exists {
		return ErrConflict
	}
	if k.ID == "" {
		k.ID = ids.New()
	}
	k.CreatedAt = m.s.now().UTC()
	cp := *k
	m.s.keys[k.ID] = &cp
	m.s.byHash[k.KeyHash] = k.ID
	return nil
}

func (m memKeys) Find(_ context.Context, id string) (*APIKey, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	k, ok := m.s.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (m memKeys) FindByHash(ctx context.Context, hash string) (*APIKey, error) {
	m.s.mu.RLock()
	id, ok := m.s.byHash[hash]
	m.s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.Find(ctx, id)
}

func (m memKeys) Deactivate(_ context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	k, ok := m.s.keys[id]
	if !ok {
		return ErrNotFound
	}
	k.Active = false
	return nil
}

func (m memKeys) Touch(_ context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	k, ok := m.s.keys[id]
	if !ok {
		return ErrNotFound
	}
	t := at.UTC()
	k.LastUsedAt = &t
	return nil
}

type memRefresh struct{ s *MemoryStore }

func (m memRefresh) Create(_ context.Context, tok *RefreshToken) error {
	if tok == nil || tok.ID == "" || tok.TokenHash == "" {
		return ErrInvalidInput
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, exists := m.s.refresh[tok.ID]; exists {
		return ErrConflict
	}
	tok.CreatedAt = m.s.now().UTC()
	cp := *tok
	m.s.refresh[tok.ID] = &cp
	return nil
}

func (m memRefresh) Find(_ context.Context, id string) (*RefreshToken, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	tok, ok := m.s.refresh[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (m memRefresh) MarkRevoked(_ context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tok, ok := m.s.refresh[id]
	if !ok {
		return ErrNotFound
	}
	if tok.RevokedAt != nil {
		return ErrRevokedCredential
	}
	t := at.UTC()
	tok.RevokedAt = &t
	return nil
}

func (m memRefresh) MarkRevokedByUser(_ context.Context, userID string, at time.Time) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	t := at.UTC()
	for _, tok := range m.s.refresh {
		if tok.UserID != userID || tok.RevokedAt != nil {
			continue
		}
		revokedAt := t
		tok.RevokedAt = &revokedAt
		n++
	}
	return n, nil
}
