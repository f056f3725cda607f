package api

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ping-watch/pingwatch/pkg/models"
)

// User-facing Telegram copy for the linking flow.
const (
	msgLinkConnected = "Ping Watch is connected. Return to Ping Watch and tap Check Telegram status."
	msgInvalidToken  = "This link token is invalid. Start a new connection from Ping Watch."
	msgAlreadyLinked = "This device is already linked. Return to Ping Watch and tap Check Telegram status."
	msgExpiredToken  = "This link token has expired. Start a new connection from Ping Watch."
	msgBareStart     = "Open Ping Watch and tap Connect Telegram alerts to start linking."
)

// handleStartMessage processes one inbound Telegram message from either the
// webhook push or the status-poll pull. feedback controls the polite error
// replies; the success confirmation additionally obeys the poll feedback
// config so webhook and poll do not both message the user. Returns true
// when the message linked (or confirmed an already linked) attempt.
func (s *Server) handleStartMessage(ctx context.Context, msg *tgbotapi.Message, source string, feedback bool) bool {
	if msg == nil || msg.Chat == nil {
		s.logger.Info("Telegram message without chat ignored", "source", source)
		return false
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	var username *string
	if msg.From != nil && msg.From.UserName != "" {
		username = &msg.From.UserName
	} else if msg.Chat.UserName != "" {
		username = &msg.Chat.UserName
	}

	command, args := parseCommand(msg.Text)
	if command != "/start" {
		s.logger.Info("Telegram message with unsupported command ignored",
			"source", source, "command", command, "chat_id", chatID)
		return false
	}
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		if feedback {
			s.sendLinkReply(chatID, msgBareStart)
		}
		s.logger.Info("Telegram /start without token", "source", source, "chat_id", chatID)
		return false
	}

	linkToken := strings.TrimSpace(args[0])
	s.logger.Info("Telegram /start token received",
		"source", source, "chat_id", chatID, "token_fp", Fingerprint(linkToken))

	return s.processStartToken(ctx, linkToken, chatID, username, source, feedback)
}

func (s *Server) processStartToken(ctx context.Context, linkToken, chatID string, username *string, source string, feedback bool) bool {
	attempt, err := s.store.GetTelegramLinkAttemptByTokenHash(ctx, HashToken(linkToken))
	if err != nil {
		if feedback {
			s.sendLinkReply(chatID, msgInvalidToken)
		}
		s.logger.Info("Telegram start token matched no attempt",
			"source", source, "chat_id", chatID, "token_fp", Fingerprint(linkToken))
		return false
	}

	// Lazy expiry before acting on a stale pending attempt.
	if attempt.Status == models.LinkStatusPending && attempt.ExpiresAt.Before(time.Now()) {
		if refreshed, err := s.store.MarkTelegramLinkAttemptExpired(ctx, attempt.AttemptID); err == nil {
			attempt = refreshed
		}
	}

	switch attempt.Status {
	case models.LinkStatusLinked:
		if feedback {
			s.sendLinkReply(chatID, msgAlreadyLinked)
		}
		s.logger.Info("Telegram start token for already linked attempt",
			"source", source, "attempt_id", attempt.AttemptID)
		return true

	case models.LinkStatusPending:
		if _, err := s.store.MarkTelegramLinkAttemptLinked(ctx, attempt.AttemptID, chatID, username); err != nil {
			s.logger.Error("Telegram link transition failed",
				"source", source, "attempt_id", attempt.AttemptID, "error", err)
			return false
		}
		s.logger.Info("Telegram chat linked to device",
			"source", source, "attempt_id", attempt.AttemptID,
			"device_id", attempt.DeviceID, "chat_id", chatID)
		if feedback || s.cfg.Telegram.PollFeedback {
			s.sendLinkReply(chatID, msgLinkConnected)
		}
		return true

	default:
		if feedback {
			s.sendLinkReply(chatID, msgExpiredToken)
		}
		s.logger.Info("Telegram start token for expired attempt",
			"source", source, "attempt_id", attempt.AttemptID)
		return false
	}
}

func (s *Server) sendLinkReply(chatID, text string) {
	if s.tg == nil {
		return
	}
	if err := s.tg.SendMessage(chatID, text); err != nil {
		s.logger.Warn("Telegram link reply failed", "chat_id", chatID, "error", err)
	}
}

// syncLinkUpdates is the fallback pull: drain pending updates and run each
// through the same handler as the webhook, feedback suppressed. The offset
// survives only within this process; a lost offset merely replays idempotent
// link attempts.
func (s *Server) syncLinkUpdates(ctx context.Context) {
	if s.tg == nil {
		return
	}

	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	updates, err := s.tg.GetUpdates(s.pollOffset)
	if err != nil {
		s.logger.Warn("Telegram getUpdates pull failed", "error", err)
		return
	}

	maxUpdateID := -1
	linked := 0
	for i := range updates {
		u := &updates[i]
		if u.UpdateID > maxUpdateID {
			maxUpdateID = u.UpdateID
		}
		msg := u.Message
		if msg == nil {
			msg = u.EditedMessage
		}
		if msg == nil {
			continue
		}
		if s.handleStartMessage(ctx, msg, "status_poll", false) {
			linked++
		}
	}
	if maxUpdateID >= 0 {
		s.pollOffset = maxUpdateID + 1
	}
	s.logger.Info("Telegram update pull processed",
		"updates", len(updates), "linked", linked, "next_offset", s.pollOffset)
}

// parseCommand splits a message text into a bot command and its arguments.
// The @botname suffix is stripped from the command.
func parseCommand(text string) (string, []string) {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil
	}
	command := strings.ToLower(strings.SplitN(parts[0], "@", 2)[0])
	if !strings.HasPrefix(command, "/") {
		return "", parts
	}
	return command, parts[1:]
}

// buildConnectURL turns the configured onboarding base into a deep link
// carrying the token. Templates {start_payload} and {token} substitute
// in place; otherwise ?start=<token> is appended preserving the query.
func buildConnectURL(base, token string) string {
	raw := strings.TrimSpace(base)
	if raw == "" {
		return ""
	}

	normalized := normalizeAbsoluteURL(raw)
	if strings.Contains(normalized, "{start_payload}") {
		return strings.ReplaceAll(normalized, "{start_payload}", token)
	}
	if strings.Contains(normalized, "{token}") {
		return strings.ReplaceAll(normalized, "{token}", token)
	}

	u, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("start", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func normalizeAbsoluteURL(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
		return raw
	}
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return "https://" + strings.TrimLeft(raw, "/")
}
