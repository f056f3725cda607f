package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ping-watch/pingwatch/pkg/models"
)

const sessionColumns = `session_id, device_id, user_id, status, started_at, stopped_at, analysis_prompt`

func scanSession(row pgx.Row) (*models.Session, error) {
	var sess models.Session
	err := row.Scan(&sess.SessionID, &sess.DeviceID, &sess.UserID, &sess.Status,
		&sess.StartedAt, &sess.StoppedAt, &sess.AnalysisPrompt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// CreateSession starts a recording session on a device the caller can see.
func (s *Store) CreateSession(ctx context.Context, deviceID string, analysisPrompt *string, userID *string) (*models.Session, error) {
	if _, err := s.GetDevice(ctx, deviceID, userID); err != nil {
		return nil, err
	}

	return scanSession(s.pool.QueryRow(ctx,
		`INSERT INTO sessions (session_id, device_id, user_id, status, started_at, analysis_prompt)
		 VALUES ($1, $2, $3, $4, now(), $5)
		 RETURNING `+sessionColumns,
		uuid.NewString(), deviceID, userID, models.SessionStatusActive, analysisPrompt,
	))
}

// GetSession fetches a session visible to the caller.
func (s *Store) GetSession(ctx context.Context, sessionID string, userID *string) (*models.Session, error) {
	if userID != nil {
		return scanSession(s.pool.QueryRow(ctx,
			`SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1 AND user_id = $2`,
			sessionID, *userID,
		))
	}
	return scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`,
		sessionID,
	))
}

// ListSessions returns sessions for a device, newest first.
func (s *Store) ListSessions(ctx context.Context, deviceID string, userID *string) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE device_id = $1`
	args := []any{deviceID}
	if userID != nil {
		query += ` AND user_id = $2`
		args = append(args, *userID)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// StopSession closes a session. Monotonic: stopped_at is stamped once and a
// second stop is a no-op returning the already-stopped row.
func (s *Store) StopSession(ctx context.Context, sessionID string, userID *string) (*models.Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = $1`
	args := []any{sessionID}
	if userID != nil {
		query += ` AND user_id = $2`
		args = append(args, *userID)
	}
	sess, err := scanSession(tx.QueryRow(ctx, query+` FOR UPDATE`, args...))
	if err != nil {
		return nil, err
	}

	if sess.Status != models.SessionStatusStopped {
		sess, err = scanSession(tx.QueryRow(ctx,
			`UPDATE sessions SET status = $2, stopped_at = now()
			 WHERE session_id = $1 AND stopped_at IS NULL
			 RETURNING `+sessionColumns,
			sessionID, models.SessionStatusStopped,
		))
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteProcessingEventsForSession removes still-processing events for a
// session as part of force-stop. Returns the number of rows deleted.
func (s *Store) DeleteProcessingEventsForSession(ctx context.Context, sessionID string, userID *string) (int64, error) {
	query := `DELETE FROM events WHERE session_id = $1 AND status = $2`
	args := []any{sessionID, models.EventStatusProcessing}
	if userID != nil {
		query += ` AND user_id = $3`
		args = append(args, *userID)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
