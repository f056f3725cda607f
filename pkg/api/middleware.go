package api

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

// Context keys set by the auth middleware.
const (
	ctxUserID     = "auth_user_id"
	ctxWorkerAuth = "auth_worker"
)

// publicWritePaths are exempt from bearer auth even when AUTH_REQUIRED is on.
var publicWritePaths = map[string]struct{}{
	"/health":                         {},
	"/auth/dev/login":                 {},
	"/notifications/telegram/webhook": {},
}

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// corsMiddleware allows browser clients on localhost, loopback, private LAN
// addresses, and any configured extra origins. The etag header is exposed so
// upload clients can read relay ETags.
func (s *Server) corsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			origin := c.Request().Header.Get("Origin")
			if origin != "" && s.originAllowed(origin) {
				h := c.Response().Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers",
					"Authorization, Content-Type, X-Request-Id, X-Device-Id, X-Session-Id, X-Event-Id")
				h.Set("Access-Control-Expose-Headers", "etag, x-request-id")
			}
			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, extra := range s.cfg.Server.ExtraOrigins {
		if strings.EqualFold(origin, extra) {
			return true
		}
	}

	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsPrivate())
}

// requestLogger logs one line per request with correlation fields taken from
// the inbound headers. The request id is echoed back on the response.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			req := c.Request()

			requestID := req.Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set("X-Request-Id", requestID)

			err := next(c)

			status := http.StatusOK
			if res, ok := c.Response().(*echo.Response); ok {
				status = res.Status
			}
			if err != nil {
				if httpErr, ok := err.(*echo.HTTPError); ok {
					status = httpErr.Code
				}
			}
			s.logger.Info("request",
				"request_id", requestID,
				"method", req.Method,
				"path", req.URL.Path,
				"status_code", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"device_id", req.Header.Get("X-Device-Id"),
				"session_id", req.Header.Get("X-Session-Id"),
				"event_id", req.Header.Get("X-Event-Id"),
			)
			return err
		}
	}
}

// authMiddleware resolves the caller. A presented bearer token is always
// verified, even on reads, so listings can be ownership-scoped. Without a
// token, requests outside the public allowlist are rejected when
// AUTH_REQUIRED is on.
func (s *Server) authMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			token := bearerToken(c.Request().Header.Get("Authorization"))
			if token != "" {
				if s.cfg.Auth.WorkerToken != "" && token == s.cfg.Auth.WorkerToken {
					c.Set(ctxWorkerAuth, true)
					return next(c)
				}
				sess, err := s.store.GetValidAuthSession(c.Request().Context(), HashToken(token))
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid auth token")
				}
				uid := sess.UserID
				c.Set(ctxUserID, &uid)
				return next(c)
			}

			if s.cfg.Auth.Required && !isPublicPath(c.Request().URL.Path) {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			return next(c)
		}
	}
}

func isPublicPath(path string) bool {
	if path != "/" {
		path = strings.TrimRight(path, "/")
	}
	_, ok := publicWritePaths[path]
	return ok
}

func bearerToken(authorization string) string {
	value := strings.TrimSpace(authorization)
	if value == "" {
		return ""
	}
	scheme, token, found := strings.Cut(value, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// userID returns the authenticated user, or nil when auth is disabled or the
// caller is the worker. Nil disables ownership scoping in the store.
func userID(c *echo.Context) *string {
	if v, ok := c.Get(ctxUserID).(*string); ok {
		return v
	}
	return nil
}
