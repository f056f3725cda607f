package api

// DevLoginRequest creates or reuses a user and mints a bearer token.
type DevLoginRequest struct {
	UserID *string `json:"user_id"`
	Email  *string `json:"email"`
}

// RegisterDeviceRequest claims or creates a device.
type RegisterDeviceRequest struct {
	DeviceID *string `json:"device_id"`
	Label    *string `json:"label"`
}

// StartSessionRequest opens a recording session.
type StartSessionRequest struct {
	DeviceID       string  `json:"device_id"`
	AnalysisPrompt *string `json:"analysis_prompt"`
}

// StopSessionRequest closes a session (stop and force-stop).
type StopSessionRequest struct {
	SessionID string `json:"session_id"`
}

// InitiateUploadRequest reserves an event and requests an upload target.
type InitiateUploadRequest struct {
	EventID         *string `json:"event_id"`
	SessionID       string  `json:"session_id"`
	DeviceID        string  `json:"device_id"`
	TriggerType     string  `json:"trigger_type"`
	DurationSeconds float64 `json:"duration_seconds"`
	ClipMIME        string  `json:"clip_mime"`
	ClipSizeBytes   int64   `json:"clip_size_bytes"`
}

// FinalizeUploadRequest stamps the clip uploaded.
type FinalizeUploadRequest struct {
	ETag *string `json:"etag"`
}

// TelegramLinkStartRequest begins a link attempt for a device.
type TelegramLinkStartRequest struct {
	DeviceID string `json:"device_id"`
}
