package authkitpg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/blogauth/internal/authkit"
)

var (
	_ authkit.UserStore         = (*PostgresUserStore)(nil)
	_ authkit.RefreshTokenStore = (*PostgresRefreshTokenStore)(nil)
)

// PostgresUserStore persists users in PostgreSQL.
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

// NewPostgresUserStore constructs a Postgres user store.
func NewPostgresUserStore(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

// FindByID returns the user with the given identity.
func (store *PostgresUserStore) FindByID(ctx context.Context, userID int64) (authkit.User, error) {
	row := store.pool.QueryRow(ctx, `SELECT id, email, nickname FROM users WHERE id = $1`, userID)
	return scanUser(row, "find_by_id")
}

// FindByEmail returns the user registered under the email.
func (store *PostgresUserStore) FindByEmail(ctx context.Context, email string) (authkit.User, error) {
	row := store.pool.QueryRow(ctx, `SELECT id, email, nickname FROM users WHERE email = $1`, strings.TrimSpace(email))
	return scanUser(row, "find_by_email")
}

// Save inserts the user when ID is zero (upserting on email), otherwise updates it.
func (store *PostgresUserStore) Save(ctx context.Context, user authkit.User) (authkit.User, error) {
	email := strings.TrimSpace(user.Email)
	if email == "" {
		return authkit.User{}, fmt.Errorf("user_store.save.pgx: %w", authkit.ErrMissingEmailAttribute)
	}
	nowUnix := time.Now().UTC().Unix()
	if user.ID == 0 {
		row := store.pool.QueryRow(ctx, `
INSERT INTO users (email, nickname, created_at_unix, updated_at_unix)
VALUES ($1, $2, $3, $3)
ON CONFLICT (email) DO UPDATE SET nickname = EXCLUDED.nickname, updated_at_unix = EXCLUDED.updated_at_unix
RETURNING id, email, nickname
`, email, user.Nickname, nowUnix)
		return scanUser(row, "save")
	}
	row := store.pool.QueryRow(ctx, `
UPDATE users SET email = $2, nickname = $3, updated_at_unix = $4
WHERE id = $1
RETURNING id, email, nickname
`, user.ID, email, user.Nickname, nowUnix)
	return scanUser(row, "save")
}

func scanUser(row pgx.Row, operation string) (authkit.User, error) {
	var user authkit.User
	if err := row.Scan(&user.ID, &user.Email, &user.Nickname); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authkit.User{}, fmt.Errorf("user_store.%s.pgx: %w", operation, authkit.ErrUserNotFound)
		}
		return authkit.User{}, fmt.Errorf("user_store.%s.pgx: %w", operation, err)
	}
	return user, nil
}

// PostgresRefreshTokenStore persists one refresh token per user in PostgreSQL.
type PostgresRefreshTokenStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRefreshTokenStore constructs a Postgres refresh token store.
func NewPostgresRefreshTokenStore(pool *pgxpool.Pool) *PostgresRefreshTokenStore {
	return &PostgresRefreshTokenStore{pool: pool}
}

// FindByUserID returns the record owned by the user.
func (store *PostgresRefreshTokenStore) FindByUserID(ctx context.Context, userID int64) (authkit.RefreshTokenRecord, error) {
	row := store.pool.QueryRow(ctx, `SELECT id, user_id, refresh_token FROM refresh_tokens WHERE user_id = $1`, userID)
	return scanRefreshToken(row, "find_by_user_id")
}

// FindByRefreshToken returns the record whose current value equals the token.
func (store *PostgresRefreshTokenStore) FindByRefreshToken(ctx context.Context, refreshToken string) (authkit.RefreshTokenRecord, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.find_by_token.pgx: %w", authkit.ErrRefreshTokenEmpty)
	}
	row := store.pool.QueryRow(ctx, `SELECT id, user_id, refresh_token FROM refresh_tokens WHERE refresh_token = $1`, refreshToken)
	return scanRefreshToken(row, "find_by_token")
}

// Save upserts on user_id; the last writer wins.
func (store *PostgresRefreshTokenStore) Save(ctx context.Context, record authkit.RefreshTokenRecord) (authkit.RefreshTokenRecord, error) {
	if record.UserID <= 0 {
		return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.save.pgx: %w", authkit.ErrUserNotFound)
	}
	if strings.TrimSpace(record.RefreshToken) == "" {
		return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.save.pgx: %w", authkit.ErrRefreshTokenEmpty)
	}
	row := store.pool.QueryRow(ctx, `
INSERT INTO refresh_tokens (user_id, refresh_token, updated_at_unix)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET refresh_token = EXCLUDED.refresh_token, updated_at_unix = EXCLUDED.updated_at_unix
RETURNING id, user_id, refresh_token
`, record.UserID, record.RefreshToken, time.Now().UTC().Unix())
	return scanRefreshToken(row, "save")
}

// DeleteByUserID drops the user's record; it is a no-op when none exists.
func (store *PostgresRefreshTokenStore) DeleteByUserID(ctx context.Context, userID int64) error {
	if _, err := store.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("refresh_store.delete.pgx: %w", err)
	}
	return nil
}

func scanRefreshToken(row pgx.Row, operation string) (authkit.RefreshTokenRecord, error) {
	var record authkit.RefreshTokenRecord
	if err := row.Scan(&record.ID, &record.UserID, &record.RefreshToken); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.%s.pgx: %w", operation, authkit.ErrRefreshTokenNotFound)
		}
		return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.%s.pgx: %w", operation, err)
	}
	return record, nil
}
