package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ping-watch/pingwatch/pkg/models"
)

// Store is the persistence layer. All methods take a context and, where
// ownership applies, an optional user id.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:   pool,
		logger: slog.Default().With("component", "store"),
	}
}

// uniqueViolation reports whether err is a Postgres unique-constraint error.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// GetOrCreateUser upserts a user for dev-login. Lookup order: email first
// (when given), then explicit id. A brand-new id is minted when neither
// matches.
func (s *Store) GetOrCreateUser(ctx context.Context, userID, email *string) (*models.User, error) {
	var u models.User

	if email != nil && *email != "" {
		err := s.pool.QueryRow(ctx,
			`SELECT user_id, email, created_at FROM users WHERE email = $1`,
			*email,
		).Scan(&u.UserID, &u.Email, &u.CreatedAt)
		if err == nil {
			return &u, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}

	if userID != nil && *userID != "" {
		err := s.pool.QueryRow(ctx,
			`SELECT user_id, email, created_at FROM users WHERE user_id = $1`,
			*userID,
		).Scan(&u.UserID, &u.Email, &u.CreatedAt)
		if err == nil {
			return &u, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}

	id := uuid.NewString()
	if userID != nil && *userID != "" {
		id = *userID
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (user_id, email, created_at) VALUES ($1, $2, now())
		 RETURNING user_id, email, created_at`,
		id, email,
	).Scan(&u.UserID, &u.Email, &u.CreatedAt)
	if err != nil {
		if uniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}
	return &u, nil
}

// CreateAuthSession mints a login session for the user. Only the token hash
// is persisted.
func (s *Store) CreateAuthSession(ctx context.Context, userID, tokenHash string, expiresAt *time.Time) (*models.AuthSession, error) {
	var as models.AuthSession
	err := s.pool.QueryRow(ctx,
		`INSERT INTO auth_sessions (auth_session_id, user_id, token_hash, created_at, expires_at)
		 VALUES ($1, $2, $3, now(), $4)
		 RETURNING auth_session_id, user_id, token_hash, created_at, expires_at, revoked_at`,
		uuid.NewString(), userID, tokenHash, expiresAt,
	).Scan(&as.AuthSessionID, &as.UserID, &as.TokenHash, &as.CreatedAt, &as.ExpiresAt, &as.RevokedAt)
	if err != nil {
		if uniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}
	return &as, nil
}

// GetValidAuthSession resolves a token hash to a live auth session. Revoked
// or expired sessions are indistinguishable from absent ones.
func (s *Store) GetValidAuthSession(ctx context.Context, tokenHash string) (*models.AuthSession, error) {
	var as models.AuthSession
	err := s.pool.QueryRow(ctx,
		`SELECT auth_session_id, user_id, token_hash, created_at, expires_at, revoked_at
		 FROM auth_sessions
		 WHERE token_hash = $1
		   AND revoked_at IS NULL
		   AND (expires_at IS NULL OR expires_at > now())`,
		tokenHash,
	).Scan(&as.AuthSessionID, &as.UserID, &as.TokenHash, &as.CreatedAt, &as.ExpiresAt, &as.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &as, nil
}
