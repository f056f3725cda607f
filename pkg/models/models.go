// Package models defines the persisted record types and their JSON
// representations shared by the store, the API, and the worker.
package models

import "time"

// User is an account holder. Created lazily at first dev-login.
type User struct {
	UserID    string    `json:"user_id"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthSession is a bearer-token login session. Only the SHA-256 hash of the
// token is stored.
type AuthSession struct {
	AuthSessionID string     `json:"auth_session_id"`
	UserID        string     `json:"user_id"`
	TokenHash     string     `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
}

// Device is a physical capture endpoint. Unclaimed until a user registers it;
// once claimed, ownership never changes.
type Device struct {
	DeviceID           string     `json:"device_id"`
	UserID             *string    `json:"user_id,omitempty"`
	Label              *string    `json:"label,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	TelegramEndpointID *string    `json:"telegram_endpoint_id,omitempty"`
	TelegramChatID     *string    `json:"telegram_chat_id,omitempty"`
	TelegramUsername   *string    `json:"telegram_username,omitempty"`
	TelegramLinkedAt   *time.Time `json:"telegram_linked_at,omitempty"`
}

// Session statuses.
const (
	SessionStatusActive  = "active"
	SessionStatusStopped = "stopped"
)

// Session is a contiguous recording span from one device.
type Session struct {
	SessionID      string     `json:"session_id"`
	DeviceID       string     `json:"device_id"`
	UserID         *string    `json:"user_id,omitempty"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	StoppedAt      *time.Time `json:"stopped_at,omitempty"`
	AnalysisPrompt *string    `json:"analysis_prompt,omitempty"`
}

// Event statuses.
const (
	EventStatusProcessing = "processing"
	EventStatusDone       = "done"
)

// Event is a single clip and its analysis lifecycle. status=done iff a
// summary has been written.
type Event struct {
	EventID         string     `json:"event_id"`
	SessionID       string     `json:"session_id"`
	UserID          *string    `json:"user_id,omitempty"`
	DeviceID        string     `json:"device_id"`
	Status          string     `json:"status"`
	TriggerType     string     `json:"trigger_type"`
	CreatedAt       time.Time  `json:"created_at"`
	DurationSeconds float64    `json:"duration_seconds"`
	ClipURI         string     `json:"clip_uri"`
	ClipMIME        string     `json:"clip_mime"`
	ClipSizeBytes   int64      `json:"clip_size_bytes"`
	ClipContainer   *string    `json:"clip_container,omitempty"`
	ClipBlobName    *string    `json:"clip_blob_name,omitempty"`
	ClipUploadedAt  *time.Time `json:"clip_uploaded_at,omitempty"`
	ClipETag        *string    `json:"clip_etag,omitempty"`

	Summary           *string  `json:"summary,omitempty"`
	Label             *string  `json:"label,omitempty"`
	Confidence        *float64 `json:"confidence,omitempty"`
	InferenceProvider *string  `json:"inference_provider,omitempty"`
	InferenceModel    *string  `json:"inference_model,omitempty"`
	ShouldNotify      *bool    `json:"should_notify,omitempty"`
	AlertReason       *string  `json:"alert_reason,omitempty"`
	MatchedRules      []string `json:"matched_rules,omitempty"`
	DetectedEntities  []string `json:"detected_entities,omitempty"`
	DetectedActions   []string `json:"detected_actions,omitempty"`
}

// Telegram link attempt statuses.
const (
	LinkStatusPending = "pending"
	LinkStatusLinked  = "linked"
	LinkStatusExpired = "expired"
)

// TelegramLinkAttempt is one run of the device↔chat linking protocol.
// Transitions are one-shot: pending → linked or pending → expired.
type TelegramLinkAttempt struct {
	AttemptID        string     `json:"attempt_id"`
	DeviceID         string     `json:"device_id"`
	UserID           *string    `json:"user_id,omitempty"`
	TokenHash        string     `json:"-"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	LinkedAt         *time.Time `json:"linked_at,omitempty"`
	ChatID           *string    `json:"chat_id,omitempty"`
	TelegramUsername *string    `json:"telegram_username,omitempty"`
}

// NotificationEndpoint is a delivery target. (provider, chat_id) is unique.
type NotificationEndpoint struct {
	EndpointID       string    `json:"endpoint_id"`
	UserID           *string   `json:"user_id,omitempty"`
	Provider         string    `json:"provider"`
	ChatID           string    `json:"chat_id"`
	TelegramUsername *string   `json:"telegram_username,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	LinkedAt         time.Time `json:"linked_at"`
}

// EventSummaryParams carries the terminal analysis fields written back by the
// worker. All pointer fields are optional; nil leaves the column untouched.
type EventSummaryParams struct {
	Summary           string   `json:"summary"`
	Label             *string  `json:"label,omitempty"`
	Confidence        *float64 `json:"confidence,omitempty"`
	InferenceProvider *string  `json:"inference_provider,omitempty"`
	InferenceModel    *string  `json:"inference_model,omitempty"`
	ShouldNotify      *bool    `json:"should_notify,omitempty"`
	AlertReason       *string  `json:"alert_reason,omitempty"`
	MatchedRules      []string `json:"matched_rules,omitempty"`
	DetectedEntities  []string `json:"detected_entities,omitempty"`
	DetectedActions   []string `json:"detected_actions,omitempty"`
}
