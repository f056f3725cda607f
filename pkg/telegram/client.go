// Package telegram wraps the Bot API client used for notification delivery
// and the device-linking protocol.
package telegram

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Client is a thin, lazily-initialized wrapper around the Bot API. The
// underlying library performs a getMe call on construction, so the first
// real operation pays for initialization instead of process startup.
type Client struct {
	token    string
	endpoint string
	http     *http.Client
	logger   *slog.Logger

	initOnce sync.Once
	bot      *tgbotapi.BotAPI
	initErr  error
}

// NewClient creates a client for the given bot token. apiBase overrides the
// API host (e.g. a test server); empty means api.telegram.org.
func NewClient(token, apiBase string, timeout time.Duration) *Client {
	endpoint := tgbotapi.APIEndpoint
	if apiBase != "" {
		endpoint = strings.TrimRight(apiBase, "/") + "/bot%s/%s"
	}
	return &Client{
		token:    token,
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		logger:   slog.Default().With("component", "telegram"),
	}
}

func (c *Client) api() (*tgbotapi.BotAPI, error) {
	c.initOnce.Do(func() {
		bot, err := tgbotapi.NewBotAPIWithClient(c.token, c.endpoint, c.http)
		if err != nil {
			c.initErr = fmt.Errorf("telegram init failed: %w", err)
			return
		}
		c.bot = bot
	})
	return c.bot, c.initErr
}

// parseChatID converts the stored string chat id to the wire format.
func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	return id, nil
}

// SendMessage delivers a plain text message with link previews disabled.
func (c *Client) SendMessage(chatID, text string) error {
	bot, err := c.api()
	if err != nil {
		return err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(id, text)
	msg.DisableWebPagePreview = true
	_, err = bot.Send(msg)
	return err
}

// SendVideo delivers clip bytes with the alert text as caption.
func (c *Client) SendVideo(chatID, caption string, clip []byte, filename string) error {
	bot, err := c.api()
	if err != nil {
		return err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	video := tgbotapi.NewVideo(id, tgbotapi.FileBytes{Name: filename, Bytes: clip})
	video.Caption = caption
	_, err = bot.Send(video)
	return err
}

// ChatStatus classifies a getChat probe for the readiness endpoint.
type ChatStatus struct {
	OK bool
	// NeedsUserAction is set on a 400/403 from the API, meaning the user
	// blocked the bot or never started the chat.
	NeedsUserAction bool
	Description     string
}

// ProbeChat checks whether the bot can still reach a linked chat.
func (c *Client) ProbeChat(chatID string) (*ChatStatus, error) {
	bot, err := c.api()
	if err != nil {
		return nil, err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return nil, err
	}

	_, err = bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: id},
	})
	if err == nil {
		return &ChatStatus{OK: true}, nil
	}

	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && (tgErr.Code == 400 || tgErr.Code == 403) {
		return &ChatStatus{NeedsUserAction: true, Description: tgErr.Message}, nil
	}
	return nil, err
}

// GetUpdates pulls pending updates starting at offset. A 409 conflict means
// a webhook holds the update stream; it is deleted once and the pull
// retried.
func (c *Client) GetUpdates(offset int) ([]tgbotapi.Update, error) {
	bot, err := c.api()
	if err != nil {
		return nil, err
	}

	cfg := tgbotapi.UpdateConfig{
		Offset:         offset,
		Limit:          100,
		Timeout:        0,
		AllowedUpdates: []string{"message", "edited_message"},
	}

	updates, err := bot.GetUpdates(cfg)
	if err == nil {
		return updates, nil
	}

	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.Code == 409 {
		c.logger.Info("Webhook holds the update stream, deleting it for pull mode")
		if _, derr := bot.Request(tgbotapi.DeleteWebhookConfig{}); derr != nil {
			return nil, fmt.Errorf("deleteWebhook after 409 failed: %w", derr)
		}
		return bot.GetUpdates(cfg)
	}
	return nil, err
}
