package api

import (
	"time"

	"github.com/ping-watch/pingwatch/pkg/models"
)

// DevLoginResponse carries the freshly minted bearer token. This is the only
// place raw token material ever leaves the server.
type DevLoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// InitiateUploadResponse hands the device its upload target.
type InitiateUploadResponse struct {
	Event     *models.Event `json:"event"`
	UploadURL string        `json:"upload_url"`
	BlobURL   string        `json:"blob_url"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// ForceStopResponse is the stopped session plus the purge counters.
type ForceStopResponse struct {
	*models.Session
	DroppedProcessingEvents int64 `json:"dropped_processing_events"`
	DroppedQueuedJobs       int   `json:"dropped_queued_jobs"`
}

// EventSummaryResponse is the read view of a terminal event verdict.
type EventSummaryResponse struct {
	EventID    string   `json:"event_id"`
	Summary    string   `json:"summary"`
	Label      *string  `json:"label"`
	Confidence *float64 `json:"confidence"`
	Status     string   `json:"status"`
}

// TelegramReadinessResponse reports whether alerts can reach the device's
// linked chat.
type TelegramReadinessResponse struct {
	Enabled bool    `json:"enabled"`
	Ready   bool    `json:"ready"`
	Status  string  `json:"status"`
	Reason  *string `json:"reason,omitempty"`
}

// TelegramLinkStartResponse starts the linking handshake. LinkCode and
// FallbackCommand let the user link manually when the deep link fails.
type TelegramLinkStartResponse struct {
	Enabled         bool    `json:"enabled"`
	Ready           bool    `json:"ready"`
	Status          string  `json:"status"`
	Reason          *string `json:"reason,omitempty"`
	AttemptID       *string `json:"attempt_id,omitempty"`
	ConnectURL      *string `json:"connect_url,omitempty"`
	ExpiresAt       *string `json:"expires_at,omitempty"`
	LinkCode        *string `json:"link_code,omitempty"`
	FallbackCommand *string `json:"fallback_command,omitempty"`
}

// TelegramLinkStatusResponse is the poll view of one link attempt.
type TelegramLinkStatusResponse struct {
	Enabled   bool    `json:"enabled"`
	Ready     bool    `json:"ready"`
	Linked    bool    `json:"linked"`
	Status    string  `json:"status"`
	Reason    *string `json:"reason,omitempty"`
	AttemptID string  `json:"attempt_id"`
}

// TelegramTargetResponse resolves a device to its linked chat for the
// notification dispatcher.
type TelegramTargetResponse struct {
	Enabled  bool    `json:"enabled"`
	Linked   bool    `json:"linked"`
	DeviceID string  `json:"device_id"`
	ChatID   *string `json:"chat_id,omitempty"`
}

// TelegramWebhookResponse acknowledges a webhook update. Always ok so the
// messenger does not retry.
type TelegramWebhookResponse struct {
	OK bool `json:"ok"`
}
