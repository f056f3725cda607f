package api

import (
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"
)

// devLoginHandler handles POST /auth/dev/login. The endpoint hides behind a
// 404 when dev login is disabled so probes cannot tell it apart from an
// unknown route.
func (s *Server) devLoginHandler(c *echo.Context) error {
	if !s.cfg.Auth.DevLoginEnabled {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}

	var req DevLoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var email *string
	if req.Email != nil {
		if normalized := strings.ToLower(strings.TrimSpace(*req.Email)); normalized != "" {
			email = &normalized
		}
	}

	ctx := c.Request().Context()
	user, err := s.store.GetOrCreateUser(ctx, req.UserID, email)
	if err != nil {
		return mapStoreError(err)
	}

	token := GenerateToken()
	expiresAt := time.Now().UTC().Add(s.cfg.Auth.TokenTTL)
	if _, err := s.store.CreateAuthSession(ctx, user.UserID, HashToken(token), &expiresAt); err != nil {
		return mapStoreError(err)
	}

	s.logger.Info("Dev login issued token",
		"user_id", user.UserID, "token_fp", Fingerprint(token))

	return c.JSON(http.StatusOK, DevLoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		UserID:      user.UserID,
		ExpiresAt:   expiresAt,
	})
}
