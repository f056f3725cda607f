// Package notify delivers alert verdicts to the user's linked Telegram chat
// and to an outbound webhook. Channels are independent and best-effort.
package notify

import (
	"fmt"
	"strings"
)

// Payload carries everything the dispatcher needs for one alert.
type Payload struct {
	EventID     string   `json:"event_id"`
	SessionID   string   `json:"session_id"`
	DeviceID    string   `json:"device_id,omitempty"`
	Label       string   `json:"label"`
	Summary     string   `json:"summary"`
	Confidence  *float64 `json:"confidence,omitempty"`
	AlertReason string   `json:"alert_reason,omitempty"`
	ClipURI     string   `json:"clip_uri,omitempty"`
	ClipMIME    string   `json:"clip_mime,omitempty"`
	Provider    string   `json:"inference_provider,omitempty"`
	Model       string   `json:"inference_model,omitempty"`

	// ClipBytes, when present and video send is enabled, rides along as a
	// Telegram video upload. Never serialized to the webhook.
	ClipBytes []byte `json:"-"`
}

// Result reports per-channel delivery.
type Result struct {
	TelegramSent bool `json:"telegram_sent"`
	WebhookSent  bool `json:"webhook_sent"`
}

// BuildCaption renders the fixed alert text layout used for both sendVideo
// captions and plain messages.
func BuildCaption(p Payload) string {
	var b strings.Builder
	b.WriteString("Ping Watch alert\n")
	fmt.Fprintf(&b, "Event: %s\n", p.EventID)

	label := p.Label
	if label == "" {
		label = "unknown"
	}
	fmt.Fprintf(&b, "Label: %s\n", label)

	if p.Confidence != nil {
		fmt.Fprintf(&b, "Confidence: %d%%\n", int(*p.Confidence*100+0.5))
	} else {
		b.WriteString("Confidence: n/a\n")
	}

	fmt.Fprintf(&b, "Summary: %s", p.Summary)
	if p.AlertReason != "" {
		fmt.Fprintf(&b, "\nReason: %s", p.AlertReason)
	}
	if p.ClipURI != "" {
		fmt.Fprintf(&b, "\nClip: %s", p.ClipURI)
	}
	return b.String()
}
