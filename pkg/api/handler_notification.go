package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	echo "github.com/labstack/echo/v5"

	"github.com/ping-watch/pingwatch/pkg/models"
	"github.com/ping-watch/pingwatch/pkg/store"
)

// telegramWebhookSecretHeader is set by the messenger when a webhook secret
// was registered.
const telegramWebhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

func (s *Server) telegramEnabled() bool {
	return s.cfg.Telegram.BotToken != "" && s.tg != nil
}

func strRef(v string) *string { return &v }

func notConfiguredReadiness() TelegramReadinessResponse {
	return TelegramReadinessResponse{
		Enabled: false,
		Ready:   false,
		Status:  "not_configured",
		Reason:  strRef("Telegram bot token is not configured on the server."),
	}
}

// telegramReadinessHandler handles GET /notifications/telegram/readiness.
// A linked device is probed with getChat so a blocked or deleted chat shows
// up as needs_user_action rather than silently dropping alerts later.
func (s *Server) telegramReadinessHandler(c *echo.Context) error {
	deviceID := c.QueryParam("device_id")
	if deviceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "device_id is required")
	}
	if !s.telegramEnabled() {
		return c.JSON(http.StatusOK, notConfiguredReadiness())
	}

	target, err := s.store.GetTelegramTarget(c.Request().Context(), deviceID, userID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusOK, TelegramReadinessResponse{
				Enabled: true,
				Status:  "unknown_device",
				Reason:  strRef("Device is not registered yet. Refresh and try again."),
			})
		}
		return mapStoreError(err)
	}
	if !target.Linked || target.ChatID == nil {
		return c.JSON(http.StatusOK, TelegramReadinessResponse{
			Enabled: true,
			Status:  "needs_user_action",
			Reason:  strRef("Tap Connect Telegram alerts to start linking."),
		})
	}

	status, err := s.tg.ProbeChat(*target.ChatID)
	if err != nil {
		s.logger.Warn("Telegram readiness probe failed",
			"device_id", deviceID, "error", err)
		return c.JSON(http.StatusOK, TelegramReadinessResponse{
			Enabled: true,
			Status:  "error",
			Reason:  strRef("Unable to reach Telegram right now. Please retry in a few seconds."),
		})
	}
	if status.OK {
		return c.JSON(http.StatusOK, TelegramReadinessResponse{
			Enabled: true,
			Ready:   true,
			Status:  "ready",
		})
	}
	if status.NeedsUserAction {
		reason := "Telegram chat is not reachable yet. Tap Connect Telegram alerts to re-link."
		if status.Description != "" {
			reason = status.Description + ". Tap Connect Telegram alerts to re-link."
		}
		return c.JSON(http.StatusOK, TelegramReadinessResponse{
			Enabled: true,
			Status:  "needs_user_action",
			Reason:  &reason,
		})
	}
	return c.JSON(http.StatusOK, TelegramReadinessResponse{
		Enabled: true,
		Status:  "error",
		Reason:  strRef("Telegram check failed."),
	})
}

// telegramLinkStartHandler handles POST /notifications/telegram/link/start.
// Mints a link token, stores only its hash, and returns the deep link plus
// a manual fallback command.
func (s *Server) telegramLinkStartHandler(c *echo.Context) error {
	var req TelegramLinkStartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.DeviceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "device_id is required")
	}
	if !s.telegramEnabled() {
		return c.JSON(http.StatusOK, TelegramLinkStartResponse{
			Enabled: false,
			Status:  "not_configured",
			Reason:  strRef("Telegram bot token is not configured on the server."),
		})
	}

	ctx := c.Request().Context()
	uid := userID(c)
	if _, err := s.store.GetDevice(ctx, req.DeviceID, uid); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusOK, TelegramLinkStartResponse{
				Enabled: true,
				Status:  "unknown_device",
				Reason:  strRef("Device is not registered yet. Refresh and try again."),
			})
		}
		return mapStoreError(err)
	}

	linkToken := GenerateLinkToken()
	connectURL := buildConnectURL(s.cfg.Telegram.OnboardingURL, linkToken)
	if connectURL == "" {
		s.logger.Warn("Telegram link start without onboarding URL")
		return c.JSON(http.StatusOK, TelegramLinkStartResponse{
			Enabled: true,
			Status:  "error",
			Reason:  strRef("Telegram onboarding URL is not configured."),
		})
	}

	expiresAt := time.Now().UTC().Add(s.cfg.Telegram.LinkTokenTTL)
	attempt, err := s.store.CreateTelegramLinkAttempt(ctx, req.DeviceID, uid, HashToken(linkToken), expiresAt)
	if err != nil {
		return mapStoreError(err)
	}

	s.logger.Info("Telegram link attempt created",
		"attempt_id", attempt.AttemptID, "device_id", req.DeviceID,
		"expires_at", expiresAt, "token_fp", Fingerprint(linkToken))

	return c.JSON(http.StatusOK, TelegramLinkStartResponse{
		Enabled:         true,
		Status:          "pending",
		Reason:          strRef("Open Telegram and send /start from the bot chat to link this device."),
		AttemptID:       &attempt.AttemptID,
		ConnectURL:      &connectURL,
		ExpiresAt:       strRef(expiresAt.Format(time.RFC3339)),
		LinkCode:        &linkToken,
		FallbackCommand: strRef("/start " + linkToken),
	})
}

// telegramLinkStatusHandler handles GET /notifications/telegram/link/status.
// A pending attempt drives one best-effort getUpdates pull before the state
// is reported; expiry is applied lazily here.
func (s *Server) telegramLinkStatusHandler(c *echo.Context) error {
	deviceID := c.QueryParam("device_id")
	attemptID := c.QueryParam("attempt_id")
	if deviceID == "" || attemptID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "device_id and attempt_id are required")
	}
	if !s.telegramEnabled() {
		return c.JSON(http.StatusOK, TelegramLinkStatusResponse{
			Enabled:   false,
			Status:    "not_configured",
			Reason:    strRef("Telegram bot token is not configured on the server."),
			AttemptID: attemptID,
		})
	}

	ctx := c.Request().Context()
	uid := userID(c)
	if _, err := s.store.GetDevice(ctx, deviceID, uid); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusOK, TelegramLinkStatusResponse{
				Enabled:   true,
				Status:    "unknown_device",
				Reason:    strRef("Device is not registered yet. Refresh and try again."),
				AttemptID: attemptID,
			})
		}
		return mapStoreError(err)
	}

	attempt, err := s.store.GetTelegramLinkAttempt(ctx, attemptID, deviceID, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusOK, TelegramLinkStatusResponse{
				Enabled:   true,
				Status:    "not_found",
				Reason:    strRef("This link attempt no longer exists. Start a new Telegram connection."),
				AttemptID: attemptID,
			})
		}
		return mapStoreError(err)
	}

	if attempt.Status == models.LinkStatusPending {
		s.syncLinkUpdates(ctx)
		if refreshed, err := s.store.GetTelegramLinkAttempt(ctx, attemptID, deviceID, uid); err == nil {
			attempt = refreshed
		}
	}

	if attempt.Status == models.LinkStatusLinked {
		return c.JSON(http.StatusOK, TelegramLinkStatusResponse{
			Enabled:   true,
			Ready:     true,
			Linked:    true,
			Status:    "ready",
			AttemptID: attemptID,
		})
	}

	if attempt.Status == models.LinkStatusPending && attempt.ExpiresAt.Before(time.Now()) {
		if refreshed, err := s.store.MarkTelegramLinkAttemptExpired(ctx, attemptID); err == nil {
			attempt = refreshed
		}
	}
	if attempt.Status == models.LinkStatusExpired {
		return c.JSON(http.StatusOK, TelegramLinkStatusResponse{
			Enabled:   true,
			Status:    "expired",
			Reason:    strRef("This link attempt expired. Start a new Telegram connection."),
			AttemptID: attemptID,
		})
	}

	return c.JSON(http.StatusOK, TelegramLinkStatusResponse{
		Enabled:   true,
		Status:    "pending",
		Reason:    strRef("Waiting for Telegram link confirmation."),
		AttemptID: attemptID,
	})
}

// telegramWebhookHandler handles POST /notifications/telegram/webhook, the
// push confirmation path. Always acknowledges with ok so the messenger does
// not retry; only a bad secret is an error.
func (s *Server) telegramWebhookHandler(c *echo.Context) error {
	if !s.telegramEnabled() {
		s.logger.Info("Telegram webhook received while bot token is missing")
		return c.JSON(http.StatusOK, TelegramWebhookResponse{OK: true})
	}

	if expected := s.cfg.Telegram.WebhookSecret; expected != "" {
		if c.Request().Header.Get(telegramWebhookSecretHeader) != expected {
			s.logger.Warn("Telegram webhook rejected: invalid secret token")
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
		}
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(c.Request().Body).Decode(&update); err != nil {
		s.logger.Info("Telegram webhook ignored undecodable payload", "error", err)
		return c.JSON(http.StatusOK, TelegramWebhookResponse{OK: true})
	}

	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil {
		s.logger.Info("Telegram webhook ignored update without message",
			"update_id", update.UpdateID)
		return c.JSON(http.StatusOK, TelegramWebhookResponse{OK: true})
	}

	s.handleStartMessage(c.Request().Context(), msg, "webhook", true)
	return c.JSON(http.StatusOK, TelegramWebhookResponse{OK: true})
}

// telegramTargetHandler handles GET /notifications/telegram/target, the
// device → chat resolution consumed by the notification dispatcher.
func (s *Server) telegramTargetHandler(c *echo.Context) error {
	deviceID := c.QueryParam("device_id")
	if deviceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "device_id is required")
	}
	if !s.telegramEnabled() {
		return c.JSON(http.StatusOK, TelegramTargetResponse{
			Enabled:  false,
			DeviceID: deviceID,
		})
	}

	target, err := s.store.GetTelegramTarget(c.Request().Context(), deviceID, userID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusOK, TelegramTargetResponse{
				Enabled:  true,
				DeviceID: deviceID,
			})
		}
		return mapStoreError(err)
	}
	if !target.Linked || target.ChatID == nil {
		return c.JSON(http.StatusOK, TelegramTargetResponse{
			Enabled:  true,
			DeviceID: deviceID,
		})
	}
	return c.JSON(http.StatusOK, TelegramTargetResponse{
		Enabled:  true,
		Linked:   true,
		DeviceID: deviceID,
		ChatID:   target.ChatID,
	})
}
