package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/layer-3/gatekeeper/core"
)

// uniqueViolation is the Postgres SQLSTATE for unique constraint failures
const uniqueViolation = "23505"

const userColumns = `id, COALESCE(email, ''), COALESCE(wallet_address, ''), auth_method,
	COALESCE(display_name, ''), COALESCE(avatar_url, ''), COALESCE(password_hash, ''),
	created_at, last_login_at`

// PostgresStore persists users in Postgres. The unique indexes on email and
// wallet_address are the authority for concurrent first logins.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and initializes schema
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT,
  wallet_address TEXT,
  auth_method TEXT NOT NULL,
  display_name TEXT,
  avatar_url TEXT,
  password_hash TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_login_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users (email) WHERE email IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS users_wallet_address_key ON users (wallet_address) WHERE wallet_address IS NOT NULL;
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init users schema: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*core.User, error) {
	return s.getOne(ctx, "id", id)
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*core.User, error) {
	return s.getOne(ctx, "email", email)
}

func (s *PostgresStore) GetByWallet(ctx context.Context, address string) (*core.User, error) {
	return s.getOne(ctx, "wallet_address", address)
}

// getOne looks a user up by one of the unique columns. column is never user input.
func (s *PostgresStore) getOne(ctx context.Context, column, value string) (*core.User, error) {
	if value == "" {
		return nil, core.ErrUserNotFound
	}
	row := s.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE "+column+" = $1", value)

	u, err := scanUser(row)
	if err != nil && !errors.Is(err, core.ErrUserNotFound) {
		return nil, fmt.Errorf("query user by %s: %w", column, err)
	}
	return u, err
}

func scanUser(row pgx.Row) (*core.User, error) {
	var u core.User
	var method string
	err := row.Scan(&u.ID, &u.Email, &u.WalletAddress, &method,
		&u.DisplayName, &u.AvatarURL, &u.PasswordHash, &u.CreatedAt, &u.LastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.AuthMethod = core.AuthMethod(method)
	return &u, nil
}

func (s *PostgresStore) Create(ctx context.Context, user *core.User) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO users (id, email, wallet_address, auth_method, display_name, avatar_url, password_hash, created_at, last_login_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, nullable(user.Email), nullable(user.WalletAddress), string(user.AuthMethod),
		nullable(user.DisplayName), nullable(user.AvatarURL), nullable(user.PasswordHash),
		orNow(user.CreatedAt), orNow(user.LastLoginAt))
	return translate(err, "insert user")
}

// RecordLogin updates last_login_at and fills empty profile columns in one
// statement, so concurrent writers to other columns are never undone.
func (s *PostgresStore) RecordLogin(ctx context.Context, id string, at time.Time, displayName, avatarURL string) (*core.User, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE users SET last_login_at = $2,
  display_name = COALESCE(NULLIF(display_name, ''), $3),
  avatar_url = COALESCE(NULLIF(avatar_url, ''), $4)
WHERE id = $1
RETURNING `+userColumns,
		id, orNow(at), nullable(displayName), nullable(avatarURL))

	u, err := scanUser(row)
	if err != nil && !errors.Is(err, core.ErrUserNotFound) {
		return nil, translate(err, "record login")
	}
	return u, err
}

// AttachWallet sets wallet_address only while it is empty or already equal
// to address.
func (s *PostgresStore) AttachWallet(ctx context.Context, id, address string) (*core.User, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE users SET wallet_address = $2
WHERE id = $1 AND (wallet_address IS NULL OR wallet_address = $2)
RETURNING `+userColumns,
		id, address)

	u, err := scanUser(row)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, core.ErrUserNotFound) {
		return nil, translate(err, "attach wallet")
	}
	// No row matched: either the user is gone or holds another wallet
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("attach wallet: %w", core.ErrDuplicateUser)
}

func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, core.ErrDuplicateUser)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
