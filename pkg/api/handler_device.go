package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// registerDeviceHandler handles POST /devices/register. Idempotent: an
// existing device is returned as-is, claiming it for the caller when it was
// unowned. A device owned by someone else reads as not found.
func (s *Server) registerDeviceHandler(c *echo.Context) error {
	var req RegisterDeviceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	deviceID := ""
	if req.DeviceID != nil {
		deviceID = *req.DeviceID
	}

	device, err := s.store.RegisterDevice(c.Request().Context(), deviceID, req.Label, userID(c))
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, device)
}
