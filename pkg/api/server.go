// Package api is the HTTP control surface: auth, devices, sessions, event
// upload lifecycle, and Telegram linking.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	echo "github.com/labstack/echo/v5"

	"github.com/ping-watch/pingwatch/pkg/blob"
	"github.com/ping-watch/pingwatch/pkg/config"
	"github.com/ping-watch/pingwatch/pkg/models"
	"github.com/ping-watch/pingwatch/pkg/store"
	"github.com/ping-watch/pingwatch/pkg/telegram"
)

// Store is the persistence surface the handlers need. *store.Store
// implements it; tests substitute fakes.
type Store interface {
	GetOrCreateUser(ctx context.Context, userID, email *string) (*models.User, error)
	CreateAuthSession(ctx context.Context, userID, tokenHash string, expiresAt *time.Time) (*models.AuthSession, error)
	GetValidAuthSession(ctx context.Context, tokenHash string) (*models.AuthSession, error)

	RegisterDevice(ctx context.Context, deviceID string, label, userID *string) (*models.Device, error)
	GetDevice(ctx context.Context, deviceID string, userID *string) (*models.Device, error)

	CreateSession(ctx context.Context, deviceID string, analysisPrompt, userID *string) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string, userID *string) (*models.Session, error)
	ListSessions(ctx context.Context, deviceID string, userID *string) ([]*models.Session, error)
	StopSession(ctx context.Context, sessionID string, userID *string) (*models.Session, error)
	DeleteProcessingEventsForSession(ctx context.Context, sessionID string, userID *string) (int64, error)

	CreateEvent(ctx context.Context, p store.CreateEventParams) (*models.Event, error)
	GetEvent(ctx context.Context, eventID string, userID *string) (*models.Event, error)
	ListEvents(ctx context.Context, sessionID string, userID *string) ([]*models.Event, error)
	UpdateEventSummary(ctx context.Context, eventID string, userID *string, p models.EventSummaryParams) (*models.Event, error)
	MarkEventClipUploaded(ctx context.Context, eventID string, etag, userID *string) (*models.Event, error)
	MarkEventClipUploadedViaLocalAPI(ctx context.Context, eventID, blobName string, etag, userID *string) (*models.Event, error)

	CreateTelegramLinkAttempt(ctx context.Context, deviceID string, userID *string, tokenHash string, expiresAt time.Time) (*models.TelegramLinkAttempt, error)
	GetTelegramLinkAttempt(ctx context.Context, attemptID, deviceID string, userID *string) (*models.TelegramLinkAttempt, error)
	GetTelegramLinkAttemptByTokenHash(ctx context.Context, tokenHash string) (*models.TelegramLinkAttempt, error)
	MarkTelegramLinkAttemptExpired(ctx context.Context, attemptID string) (*models.TelegramLinkAttempt, error)
	MarkTelegramLinkAttemptLinked(ctx context.Context, attemptID, chatID string, username *string) (*models.TelegramLinkAttempt, error)
	GetTelegramTarget(ctx context.Context, deviceID string, userID *string) (*store.TelegramTarget, error)
}

// Enqueuer is the job broker surface used by finalize and force-stop.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) (string, error)
	CancelSessionJobs(ctx context.Context, sessionID string) int
}

// Blobs is the upload-target surface of the blob gateway.
type Blobs interface {
	PrepareUpload(ctx context.Context, sessionID, eventID, clipMIME string) (*blob.UploadTarget, error)
	Local() *blob.LocalStore
}

// TelegramAPI is the messenger surface used by the linker endpoints.
// *telegram.Client implements it.
type TelegramAPI interface {
	SendMessage(chatID, text string) error
	ProbeChat(chatID string) (*telegram.ChatStatus, error)
	GetUpdates(offset int) ([]tgbotapi.Update, error)
}

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg    *config.Config
	store  Store
	queue  Enqueuer
	blobs  Blobs
	tg     TelegramAPI
	logger *slog.Logger

	// pollOffset is the process-local getUpdates cursor for the link
	// status fallback pull. Losing it only causes duplicate, idempotent
	// link attempts.
	pollMu     sync.Mutex
	pollOffset int
}

// NewServer wires the server and registers all routes. tg may be nil when
// no bot token is configured; the linker endpoints then report
// not_configured.
func NewServer(cfg *config.Config, st Store, queue Enqueuer, blobs Blobs, tg TelegramAPI) *Server {
	s := &Server{
		echo:   echo.New(),
		cfg:    cfg,
		store:  st,
		queue:  queue,
		blobs:  blobs,
		tg:     tg,
		logger: slog.Default().With("component", "api"),
	}

	s.echo.Use(securityHeaders())
	s.echo.Use(s.corsMiddleware())
	s.echo.Use(s.requestLogger())
	s.echo.Use(s.authMiddleware())

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.GET("/health", s.healthHandler)
	e.POST("/auth/dev/login", s.devLoginHandler)

	e.POST("/devices/register", s.registerDeviceHandler)

	e.POST("/sessions/start", s.startSessionHandler)
	e.POST("/sessions/stop", s.stopSessionHandler)
	e.POST("/sessions/force-stop", s.forceStopSessionHandler)
	e.GET("/sessions", s.listSessionsHandler)

	e.POST("/events/upload/initiate", s.initiateUploadHandler)
	e.PUT("/events/:id/upload", s.relayUploadHandler)
	e.POST("/events/:id/upload/finalize", s.finalizeUploadHandler)
	e.POST("/events/:id/summary", s.updateEventSummaryHandler)
	e.GET("/events/:id/summary", s.getEventSummaryHandler)
	e.GET("/events", s.listEventsHandler)

	e.GET("/notifications/telegram/readiness", s.telegramReadinessHandler)
	e.POST("/notifications/telegram/link/start", s.telegramLinkStartHandler)
	e.GET("/notifications/telegram/link/status", s.telegramLinkStatusHandler)
	e.POST("/notifications/telegram/webhook", s.telegramWebhookHandler)
	e.GET("/notifications/telegram/target", s.telegramTargetHandler)
}

// ServeHTTP makes the server usable with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start blocks serving HTTP on addr until Shutdown or failure.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on an existing listener. Used by tests that need
// an OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
