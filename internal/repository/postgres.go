package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dadyutenga/ShopApI/internal/domain"
	"github.com/dadyutenga/ShopApI/internal/token"
)

// UserRepository is the user record lookup supplied by the persistence
// layer. The auth core never queries beyond what it is handed here.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.User, error)
}

// Compile-time interface assertions.
var (
	_ UserRepository     = (*PostgresUserRepo)(nil)
	_ token.RefreshStore = (*PostgresRefreshTokenRepo)(nil)
)

// PostgresUserRepo implements UserRepository on pgx.
type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

const userColumns = `id, email, password_hash, role, provider, is_active, is_email_verified, created_at, updated_at`

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row, "by email")
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row, "by id")
}

func scanUser(row pgx.Row, what string) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.Provider, &u.IsActive, &u.IsEmailVerified, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user %s: %w", what, err)
	}
	return u, nil
}

// PostgresRefreshTokenRepo is the durable alternative to the cache-backed
// refresh store, for deployments that want refresh tokens to survive cache
// loss. It satisfies the same token.RefreshStore contract.
type PostgresRefreshTokenRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRefreshTokenRepo(pool *pgxpool.Pool) *PostgresRefreshTokenRepo {
	return &PostgresRefreshTokenRepo{pool: pool}
}

func (r *PostgresRefreshTokenRepo) Save(ctx context.Context, record domain.RefreshToken, ttl time.Duration) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO refresh_tokens (token, user_id, expires_at, revoked, created_at) VALUES ($1, $2, $3, false, $4)`,
		record.Token, record.UserID, record.ExpiresAt, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *PostgresRefreshTokenRepo) Find(ctx context.Context, tokenValue string) (domain.RefreshToken, bool, error) {
	var record domain.RefreshToken
	err := r.pool.QueryRow(ctx,
		`SELECT token, user_id, expires_at, revoked, created_at FROM refresh_tokens WHERE token = $1`,
		tokenValue).Scan(&record.Token, &record.UserID, &record.ExpiresAt, &record.Revoked, &record.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RefreshToken{}, false, nil
	}
	if err != nil {
		return domain.RefreshToken{}, false, fmt.Errorf("find refresh token: %w", err)
	}
	return record, true, nil
}

// Revoke flips the revoked flag in one statement. The guard on the WHERE
// clause makes it single-use: a second caller matches zero rows.
func (r *PostgresRefreshTokenRepo) Revoke(ctx context.Context, tokenValue string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true WHERE token = $1 AND NOT revoked`,
		tokenValue)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
