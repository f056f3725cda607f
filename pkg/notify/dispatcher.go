package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ping-watch/pingwatch/pkg/config"
	"github.com/ping-watch/pingwatch/pkg/inference"
	"github.com/ping-watch/pingwatch/pkg/telegram"
)

// webhookSecretHeader authenticates outbound webhook posts when configured.
const webhookSecretHeader = "X-Ping-Watch-Webhook-Secret"

// Messenger is the Telegram surface the dispatcher needs.
type Messenger interface {
	SendMessage(chatID, text string) error
	SendVideo(chatID, caption string, clip []byte, filename string) error
}

// Dispatcher is stateless and called synchronously by the worker. Channel
// failures are logged and never fail the enclosing job.
type Dispatcher struct {
	cfg       config.NotifyConfig
	telegram  Messenger
	sendVideo bool
	// apiBase is the control API used for device → chat resolution.
	apiBase string
	http    *http.Client
	logger  *slog.Logger
}

// NewDispatcher builds a dispatcher. messenger may be nil when no bot token
// is configured; the Telegram channel then stays silent.
func NewDispatcher(cfg config.NotifyConfig, tgCfg config.TelegramConfig, apiBase string) *Dispatcher {
	var messenger Messenger
	if tgCfg.BotToken != "" {
		messenger = telegram.NewClient(tgCfg.BotToken, tgCfg.APIBase, cfg.Timeout)
	}
	return &Dispatcher{
		cfg:       cfg,
		telegram:  messenger,
		sendVideo: tgCfg.SendVideo,
		apiBase:   strings.TrimRight(apiBase, "/"),
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    slog.Default().With("component", "notify"),
	}
}

// NewDispatcherWithMessenger injects a messenger directly. Used by tests.
func NewDispatcherWithMessenger(cfg config.NotifyConfig, messenger Messenger, sendVideo bool, apiBase string) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		telegram:  messenger,
		sendVideo: sendVideo,
		apiBase:   strings.TrimRight(apiBase, "/"),
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    slog.Default().With("component", "notify"),
	}
}

// Dispatch delivers the alert on every configured channel. Each channel is
// independent; an exception on one leaves the other running.
func (d *Dispatcher) Dispatch(ctx context.Context, p Payload) Result {
	var res Result

	if d.telegram != nil {
		if chatID := d.resolveChat(ctx, p.DeviceID); chatID != "" {
			res.TelegramSent = d.sendTelegram(chatID, p)
		} else {
			d.logger.Info("No linked chat for device, skipping Telegram",
				"event_id", p.EventID, "device_id", p.DeviceID)
		}
	}

	if d.cfg.WebhookURL != "" {
		res.WebhookSent = d.sendWebhook(ctx, p)
	}
	return res
}

// resolveChat asks the control API for the device's linked chat. Any
// outcome other than a 200 with chat_id leaves the target unset.
func (d *Dispatcher) resolveChat(ctx context.Context, deviceID string) string {
	if deviceID == "" || d.apiBase == "" {
		return ""
	}

	reqURL := fmt.Sprintf("%s/notifications/telegram/target?device_id=%s",
		d.apiBase, url.QueryEscape(deviceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return ""
	}
	resp, err := d.http.Do(req)
	if err != nil {
		d.logger.Warn("Chat resolution failed", "device_id", deviceID, "error", err)
		return ""
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return ""
	}
	var target struct {
		Linked bool    `json:"linked"`
		ChatID *string `json:"chat_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&target); err != nil {
		d.logger.Warn("Undecodable chat resolution response", "device_id", deviceID, "error", err)
		return ""
	}
	if !target.Linked || target.ChatID == nil {
		return ""
	}
	return *target.ChatID
}

func (d *Dispatcher) sendTelegram(chatID string, p Payload) bool {
	caption := BuildCaption(p)

	if len(p.ClipBytes) > 0 && d.sendVideo {
		filename := "clip" + extForMIME(p.ClipMIME)
		if err := d.telegram.SendVideo(chatID, caption, p.ClipBytes, filename); err != nil {
			d.logger.Error("Telegram video send failed",
				"event_id", p.EventID, "error", err)
			return false
		}
		return true
	}

	if err := d.telegram.SendMessage(chatID, caption); err != nil {
		d.logger.Error("Telegram message send failed",
			"event_id", p.EventID, "error", err)
		return false
	}
	return true
}

func (d *Dispatcher) sendWebhook(ctx context.Context, p Payload) bool {
	body, err := json.Marshal(p)
	if err != nil {
		d.logger.Error("Failed to marshal webhook payload",
			"event_id", p.EventID, "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.WebhookSecret != "" {
		req.Header.Set(webhookSecretHeader, d.cfg.WebhookSecret)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		d.logger.Error("Webhook delivery failed", "event_id", p.EventID, "error", err)
		return false
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.logger.Warn("Webhook returned non-success status",
			"event_id", p.EventID, "status", resp.StatusCode)
		return false
	}
	return true
}

func extForMIME(mime string) string {
	switch inference.NormalizeVideoMIME(mime) {
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	default:
		return ".webm"
	}
}
