package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"authgate.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore                 { return &userStore{db: s.db} }
func (s *PGStore) APIKeys(context.Context) APIKeyStore             { return &apiKeyStore{db: s.db} }
func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore { return &refreshStore{db: s.db} }

// Ping reports whether the database is reachable.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// User store --------------------------------------------------------------
type userStore struct{ db *sql.DB }

const userColumns = `id, tenant_id, email, password_hash, role, status, last_seen_at, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u == nil || strings.TrimSpace(u.Email) == "" {
		return ErrInvalidInput
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	row := s.db.QueryRowContext(ctx,
		`insert into users(id, tenant_id, email, password_hash, role, status)
		 values($1,$2,$3,$4,$5,$6) returning created_at, updated_at`,
		u.ID, u.TenantID, u.Email, u.PasswordHash, u.Role, u.Status,
	)
	return mapPGError(row.Scan(&u.CreatedAt, &u.UpdatedAt))
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, strings.ToLower(strings.TrimSpace(email))))
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, hash string) error {
	return execOne(ctx, s.db,
		`update users set password_hash=$2, updated_at=now() where id=$1`, userID, hash)
}

func (s *userStore) SetStatus(ctx context.Context, userID, status string) error {
	return execOne(ctx, s.db,
		`update users set status=$2, updated_at=now() where id=$1`, userID, status)
}

func (s *userStore) Touch(ctx context.Context, userID string, at time.Time) error {
	return execOne(ctx, s.db,
		`update users set last_seen_at=$2 where id=$1`, userID, at.UTC())
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u        User
		lastSeen sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.Role, &u.Status,
		&lastSeen, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapPGError(err)
	}
	u.LastSeenAt = timePtr(lastSeen)
	return &u, nil
}

// API key store -----------------------------------------------------------
type apiKeyStore struct{ db *sql.DB }

const apiKeyColumns = `id, key_hash, key_prefix, label, owner_id, role, tenant_id, is_active, expires_at, last_used_at, created_at`

func (s *apiKeyStore) Create(ctx context.Context, k *APIKey) error {
	if k == nil || k.KeyHash == "" {
		return ErrInvalidInput
	}
	if k.ID == "" {
		k.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx,
		`insert into api_keys(id, key_hash, key_prefix, label, owner_id, role, tenant_id, is_active, expires_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9) returning created_at`,
		k.ID, k.KeyHash, k.KeyPrefix, k.Label, k.OwnerID, k.Role, k.TenantID, k.Active, nullTime(k.ExpiresAt),
	)
	return mapPGError(row.Scan(&k.CreatedAt))
}

func (s *apiKeyStore) Find(ctx context.Context, id string) (*APIKey, error) {
	return scanAPIKey(s.db.QueryRowContext(ctx,
		`select `+apiKeyColumns+` from api_keys where id=$1`, id))
}

func (s *apiKeyStore) FindByHash(ctx context.Context, hash string) (*APIKey, error) {
	return scanAPIKey(s.db.QueryRowContext(ctx,
		`select `+apiKeyColumns+` from api_keys where key_hash=$1`, hash))
}

func (s *apiKeyStore) Deactivate(ctx context.Context, id string) error {
	return execOne(ctx, s.db, `update api_keys set is_active=false where id=$1`, id)
}

func (s *apiKeyStore) Touch(ctx context.Context, id string, at time.Time) error {
	return execOne(ctx, s.db, `update api_keys set last_used_at=$2 where id=$1`, id, at.UTC())
}

func scanAPIKey(row *sql.Row) (*APIKey, error) {
	var (
		k         APIKey
		expiresAt sql.NullTime
		lastUsed  sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.Label, &k.OwnerID, &k.Role, &k.TenantID,
		&k.Active, &expiresAt, &lastUsed, &k.CreatedAt); err != nil {
		return nil, mapPGError(err)
	}
	k.ExpiresAt = timePtr(expiresAt)
	k.LastUsedAt = timePtr(lastUsed)
	return &k, nil
}

// Refresh token store -----------------------------------------------------
type refreshStore struct{ db *sql.DB }

func (s *refreshStore) Create(ctx context.Context, tok *RefreshToken) error {
	if tok == nil || tok.ID == "" || tok.TokenHash == "" {
		return ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx,
		`insert into refresh_tokens(id, user_id, token_hash, expires_at)
		 values($1,$2,$3,$4) returning created_at`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt.UTC(),
	)
	return mapPGError(row.Scan(&tok.CreatedAt))
}

func (s *refreshStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, expires_at, created_at, revoked_at from refresh_tokens where id=$1`, id)
	var (
		tok       RefreshToken
		revokedAt sql.NullTime
	)
	if err := row.Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &revokedAt); err != nil {
		return nil, mapPGError(err)
	}
	tok.RevokedAt = timePtr(revokedAt)
	return &tok, nil
}

func (s *refreshStore) MarkRevoked(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$2 where id=$1 and revoked_at is null`, id, at.UTC())
	if err != nil {
		return mapPGError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.Find(ctx, id); err != nil {
			return err
		}
		return ErrRevokedCredential
	}
	return nil
}

func (s *refreshStore) MarkRevokedByUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$2 where user_id=$1 and revoked_at is null`, userID, at.UTC())
	if err != nil {
		return 0, mapPGError(err)
	}
	return res.RowsAffected()
}

func execOne(ctx context.Context, db *sql.DB, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapPGError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
