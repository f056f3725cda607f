package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ping-watch/pingwatch/pkg/models"
)

const deviceColumns = `device_id, user_id, label, created_at, telegram_endpoint_id,
	telegram_chat_id, telegram_username, telegram_linked_at`

func scanDevice(row pgx.Row) (*models.Device, error) {
	var d models.Device
	err := row.Scan(&d.DeviceID, &d.UserID, &d.Label, &d.CreatedAt, &d.TelegramEndpointID,
		&d.TelegramChatID, &d.TelegramUsername, &d.TelegramLinkedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// RegisterDevice registers (or re-registers) a device. Claiming semantics:
// an existing device is returned only when it is unclaimed or already owned
// by the caller; an unclaimed device is claimed for the caller on the spot.
// A device owned by another user is reported as not found.
func (s *Store) RegisterDevice(ctx context.Context, deviceID string, label *string, userID *string) (*models.Device, error) {
	if deviceID == "" {
		var d models.Device
		err := s.pool.QueryRow(ctx,
			`INSERT INTO devices (device_id, user_id, label, created_at)
			 VALUES ($1, $2, $3, now())
			 RETURNING `+deviceColumns,
			uuid.NewString(), userID, label,
		).Scan(&d.DeviceID, &d.UserID, &d.Label, &d.CreatedAt, &d.TelegramEndpointID,
			&d.TelegramChatID, &d.TelegramUsername, &d.TelegramLinkedAt)
		if err != nil {
			return nil, err
		}
		return &d, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	existing, err := scanDevice(tx.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE device_id = $1 FOR UPDATE`,
		deviceID,
	))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		if existing.UserID != nil {
			if userID == nil || *existing.UserID != *userID {
				return nil, ErrNotFound
			}
		} else if userID != nil {
			// One-shot claim. Ownership never changes afterwards.
			existing, err = scanDevice(tx.QueryRow(ctx,
				`UPDATE devices SET user_id = $2 WHERE device_id = $1 AND user_id IS NULL
				 RETURNING `+deviceColumns,
				deviceID, *userID,
			))
			if err != nil {
				return nil, err
			}
		}
		if label != nil && *label != "" {
			existing, err = scanDevice(tx.QueryRow(ctx,
				`UPDATE devices SET label = $2 WHERE device_id = $1 RETURNING `+deviceColumns,
				deviceID, *label,
			))
			if err != nil {
				return nil, err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return existing, nil
	}

	created, err := scanDevice(tx.QueryRow(ctx,
		`INSERT INTO devices (device_id, user_id, label, created_at)
		 VALUES ($1, $2, $3, now())
		 RETURNING `+deviceColumns,
		deviceID, userID, label,
	))
	if err != nil {
		if uniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// GetDevice fetches a device visible to the caller.
func (s *Store) GetDevice(ctx context.Context, deviceID string, userID *string) (*models.Device, error) {
	d, err := scanDevice(s.pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE device_id = $1`,
		deviceID,
	))
	if err != nil {
		return nil, err
	}
	if userID != nil && (d.UserID == nil || *d.UserID != *userID) {
		return nil, ErrNotFound
	}
	return d, nil
}
