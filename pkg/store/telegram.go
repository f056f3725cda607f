package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ping-watch/pingwatch/pkg/models"
)

const linkAttemptColumns = `attempt_id, device_id, user_id, token_hash, status, created_at,
	expires_at, linked_at, chat_id, telegram_username`

func scanLinkAttempt(row pgx.Row) (*models.TelegramLinkAttempt, error) {
	var a models.TelegramLinkAttempt
	err := row.Scan(&a.AttemptID, &a.DeviceID, &a.UserID, &a.TokenHash, &a.Status,
		&a.CreatedAt, &a.ExpiresAt, &a.LinkedAt, &a.ChatID, &a.TelegramUsername)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateTelegramLinkAttempt opens a pending link attempt for a device.
func (s *Store) CreateTelegramLinkAttempt(ctx context.Context, deviceID string, userID *string, tokenHash string, expiresAt time.Time) (*models.TelegramLinkAttempt, error) {
	return scanLinkAttempt(s.pool.QueryRow(ctx,
		`INSERT INTO telegram_link_attempts (attempt_id, device_id, user_id, token_hash, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, now(), $6)
		 RETURNING `+linkAttemptColumns,
		uuid.NewString(), deviceID, userID, tokenHash, models.LinkStatusPending, expiresAt,
	))
}

// GetTelegramLinkAttempt fetches an attempt by id, scoped to its device.
func (s *Store) GetTelegramLinkAttempt(ctx context.Context, attemptID, deviceID string, userID *string) (*models.TelegramLinkAttempt, error) {
	query := `SELECT ` + linkAttemptColumns + ` FROM telegram_link_attempts
		WHERE attempt_id = $1 AND device_id = $2`
	args := []any{attemptID, deviceID}
	if userID != nil {
		query += ` AND user_id = $3`
		args = append(args, *userID)
	}
	return scanLinkAttempt(s.pool.QueryRow(ctx, query, args...))
}

// GetTelegramLinkAttemptByTokenHash resolves a hashed /start token to its
// attempt. Used by webhook ingress, so not ownership-scoped.
func (s *Store) GetTelegramLinkAttemptByTokenHash(ctx context.Context, tokenHash string) (*models.TelegramLinkAttempt, error) {
	return scanLinkAttempt(s.pool.QueryRow(ctx,
		`SELECT `+linkAttemptColumns+` FROM telegram_link_attempts WHERE token_hash = $1`,
		tokenHash,
	))
}

// MarkTelegramLinkAttemptExpired transitions pending → expired. Monotonic:
// an attempt already in a terminal state is returned unchanged.
func (s *Store) MarkTelegramLinkAttemptExpired(ctx context.Context, attemptID string) (*models.TelegramLinkAttempt, error) {
	a, err := scanLinkAttempt(s.pool.QueryRow(ctx,
		`UPDATE telegram_link_attempts SET status = $2
		 WHERE attempt_id = $1 AND status = $3 AND expires_at < now()
		 RETURNING `+linkAttemptColumns,
		attemptID, models.LinkStatusExpired, models.LinkStatusPending,
	))
	if errors.Is(err, ErrNotFound) {
		// Already terminal, or not yet expired. Return current state.
		return scanLinkAttempt(s.pool.QueryRow(ctx,
			`SELECT `+linkAttemptColumns+` FROM telegram_link_attempts WHERE attempt_id = $1`,
			attemptID,
		))
	}
	return a, err
}

// MarkTelegramLinkAttemptLinked performs the full pending → linked
// transition in one transaction: stamp the attempt, upsert the notification
// endpoint for (telegram, chat_id), and bind the device. Re-delivery of the
// same token against a linked attempt is a no-op.
func (s *Store) MarkTelegramLinkAttemptLinked(ctx context.Context, attemptID, chatID string, username *string) (*models.TelegramLinkAttempt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	current, err := scanLinkAttempt(tx.QueryRow(ctx,
		`SELECT `+linkAttemptColumns+` FROM telegram_link_attempts WHERE attempt_id = $1 FOR UPDATE`,
		attemptID,
	))
	if err != nil {
		return nil, err
	}
	if current.Status == models.LinkStatusLinked {
		return current, nil
	}
	if current.Status != models.LinkStatusPending {
		return nil, ErrConflict
	}

	attempt, err := scanLinkAttempt(tx.QueryRow(ctx,
		`UPDATE telegram_link_attempts
		 SET status = $2, linked_at = now(), chat_id = $3, telegram_username = $4
		 WHERE attempt_id = $1
		 RETURNING `+linkAttemptColumns,
		attemptID, models.LinkStatusLinked, chatID, username,
	))
	if err != nil {
		return nil, err
	}

	var endpointID string
	err = tx.QueryRow(ctx,
		`INSERT INTO notification_endpoints (endpoint_id, user_id, provider, chat_id, telegram_username, created_at, linked_at)
		 VALUES ($1, $2, 'telegram', $3, $4, now(), now())
		 ON CONFLICT (provider, chat_id) DO UPDATE
		   SET telegram_username = COALESCE(EXCLUDED.telegram_username, notification_endpoints.telegram_username),
		       linked_at = now()
		 RETURNING endpoint_id`,
		uuid.NewString(), attempt.UserID, chatID, username,
	).Scan(&endpointID)
	if err != nil {
		return nil, err
	}

	// Legacy per-device mirror kept in step with the endpoint reference.
	_, err = tx.Exec(ctx,
		`UPDATE devices SET telegram_endpoint_id = $2, telegram_chat_id = $3,
			telegram_username = $4, telegram_linked_at = now()
		 WHERE device_id = $1`,
		attempt.DeviceID, endpointID, chatID, username,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return attempt, nil
}

// TelegramTarget is the device → chat resolution consumed by the dispatcher.
type TelegramTarget struct {
	Linked   bool    `json:"linked"`
	ChatID   *string `json:"chat_id,omitempty"`
	Username *string `json:"telegram_username,omitempty"`
}

// GetTelegramTarget resolves a device to its linked chat, preferring the
// endpoint reference and falling back to the legacy device fields.
func (s *Store) GetTelegramTarget(ctx context.Context, deviceID string, userID *string) (*TelegramTarget, error) {
	d, err := s.GetDevice(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}

	if d.TelegramEndpointID != nil {
		var chatID string
		var username *string
		err := s.pool.QueryRow(ctx,
			`SELECT chat_id, telegram_username FROM notification_endpoints WHERE endpoint_id = $1`,
			*d.TelegramEndpointID,
		).Scan(&chatID, &username)
		if err == nil {
			return &TelegramTarget{Linked: true, ChatID: &chatID, Username: username}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}

	if d.TelegramChatID != nil && *d.TelegramChatID != "" {
		return &TelegramTarget{Linked: true, ChatID: d.TelegramChatID, Username: d.TelegramUsername}, nil
	}
	return &TelegramTarget{Linked: false}, nil
}
