package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ping-watch/pingwatch/pkg/models"
)

const eventColumns = `event_id, session_id, user_id, device_id, status, trigger_type, created_at,
	duration_seconds, clip_uri, clip_mime, clip_size_bytes, clip_container, clip_blob_name,
	clip_uploaded_at, clip_etag, summary, label, confidence, inference_provider, inference_model,
	should_notify, alert_reason, matched_rules, detected_entities, detected_actions`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	err := row.Scan(&e.EventID, &e.SessionID, &e.UserID, &e.DeviceID, &e.Status, &e.TriggerType,
		&e.CreatedAt, &e.DurationSeconds, &e.ClipURI, &e.ClipMIME, &e.ClipSizeBytes,
		&e.ClipContainer, &e.ClipBlobName, &e.ClipUploadedAt, &e.ClipETag,
		&e.Summary, &e.Label, &e.Confidence, &e.InferenceProvider, &e.InferenceModel,
		&e.ShouldNotify, &e.AlertReason, &e.MatchedRules, &e.DetectedEntities, &e.DetectedActions)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEventParams carries the fields reserved at upload initiate time.
type CreateEventParams struct {
	EventID         string // optional; minted when empty
	SessionID       string
	DeviceID        string
	TriggerType     string
	DurationSeconds float64
	ClipURI         string
	ClipMIME        string
	ClipSizeBytes   int64
	ClipContainer   *string
	ClipBlobName    *string
	UserID          *string
}

// CreateEvent reserves an event row in processing state. Idempotent on
// event id: an existing event is returned as-is when it belongs to the same
// session, and reported as a conflict otherwise.
func (s *Store) CreateEvent(ctx context.Context, p CreateEventParams) (*models.Event, error) {
	sess, err := s.GetSession(ctx, p.SessionID, p.UserID)
	if err != nil {
		return nil, err
	}
	if sess.DeviceID != p.DeviceID {
		return nil, NewValidationError("device_id", "device does not match session")
	}

	if p.EventID != "" {
		existing, err := scanEvent(s.pool.QueryRow(ctx,
			`SELECT `+eventColumns+` FROM events WHERE event_id = $1`,
			p.EventID,
		))
		if err == nil {
			if existing.SessionID != p.SessionID {
				return nil, ErrConflict
			}
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	id := p.EventID
	if id == "" {
		id = uuid.NewString()
	}

	e, err := scanEvent(s.pool.QueryRow(ctx,
		`INSERT INTO events (event_id, session_id, user_id, device_id, status, trigger_type,
			created_at, duration_seconds, clip_uri, clip_mime, clip_size_bytes,
			clip_container, clip_blob_name)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), $7, $8, $9, $10, $11, $12)
		 RETURNING `+eventColumns,
		id, p.SessionID, p.UserID, p.DeviceID, models.EventStatusProcessing, p.TriggerType,
		p.DurationSeconds, p.ClipURI, p.ClipMIME, p.ClipSizeBytes, p.ClipContainer, p.ClipBlobName,
	))
	if err != nil {
		if uniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return e, nil
}

// GetEvent fetches an event visible to the caller.
func (s *Store) GetEvent(ctx context.Context, eventID string, userID *string) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE event_id = $1`
	args := []any{eventID}
	if userID != nil {
		query += ` AND user_id = $2`
		args = append(args, *userID)
	}
	return scanEvent(s.pool.QueryRow(ctx, query, args...))
}

// ListEvents returns events for a session, newest first.
func (s *Store) ListEvents(ctx context.Context, sessionID string, userID *string) ([]*models.Event, error) {
	// Session visibility gates the listing so a cross-tenant session id
	// reads as not found rather than an empty list.
	if _, err := s.GetSession(ctx, sessionID, userID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE session_id = $1 ORDER BY created_at DESC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*models.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpdateEventSummary writes the terminal analysis fields and flips the event
// to done in one transaction. A later call overwrites the fields but the
// status stays done.
func (s *Store) UpdateEventSummary(ctx context.Context, eventID string, userID *string, p models.EventSummaryParams) (*models.Event, error) {
	query := `UPDATE events SET
		status = $2, summary = $3, label = $4, confidence = $5,
		inference_provider = COALESCE($6, inference_provider),
		inference_model = COALESCE($7, inference_model),
		should_notify = COALESCE($8, should_notify),
		alert_reason = $9,
		matched_rules = COALESCE($10, matched_rules),
		detected_entities = COALESCE($11, detected_entities),
		detected_actions = COALESCE($12, detected_actions)
	 WHERE event_id = $1`
	args := []any{eventID, models.EventStatusDone, p.Summary, p.Label, p.Confidence,
		p.InferenceProvider, p.InferenceModel, p.ShouldNotify, p.AlertReason,
		p.MatchedRules, p.DetectedEntities, p.DetectedActions}
	if userID != nil {
		query += ` AND user_id = $13`
		args = append(args, *userID)
	}
	query += ` RETURNING ` + eventColumns

	return scanEvent(s.pool.QueryRow(ctx, query, args...))
}

// MarkEventClipUploaded stamps clip_uploaded_at once; the etag is refreshed
// whenever one is provided. Idempotent.
func (s *Store) MarkEventClipUploaded(ctx context.Context, eventID string, etag *string, userID *string) (*models.Event, error) {
	query := `UPDATE events SET
		clip_uploaded_at = COALESCE(clip_uploaded_at, now()),
		clip_etag = COALESCE($2, clip_etag)
	 WHERE event_id = $1`
	args := []any{eventID, etag}
	if userID != nil {
		query += ` AND user_id = $3`
		args = append(args, *userID)
	}
	query += ` RETURNING ` + eventColumns

	return scanEvent(s.pool.QueryRow(ctx, query, args...))
}

// MarkEventClipUploadedViaLocalAPI switches the event's clip to relay
// storage. Idempotent: re-applying the same local location is a no-op.
func (s *Store) MarkEventClipUploadedViaLocalAPI(ctx context.Context, eventID, blobName string, etag *string, userID *string) (*models.Event, error) {
	query := `UPDATE events SET
		clip_container = 'local',
		clip_blob_name = $2,
		clip_uri = 'local://' || $2,
		clip_uploaded_at = COALESCE(clip_uploaded_at, now()),
		clip_etag = COALESCE($3, clip_etag)
	 WHERE event_id = $1`
	args := []any{eventID, blobName, etag}
	if userID != nil {
		query += ` AND user_id = $4`
		args = append(args, *userID)
	}
	query += ` RETURNING ` + eventColumns

	return scanEvent(s.pool.QueryRow(ctx, query, args...))
}
