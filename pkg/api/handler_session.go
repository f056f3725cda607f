package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// startSessionHandler handles POST /sessions/start.
func (s *Server) startSessionHandler(c *echo.Context) error {
	var req StartSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.DeviceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "device_id is required")
	}

	session, err := s.store.CreateSession(c.Request().Context(), req.DeviceID, req.AnalysisPrompt, userID(c))
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, session)
}

// stopSessionHandler handles POST /sessions/stop. Monotonic: stopped_at is
// stamped once; repeated stops return the same session.
func (s *Server) stopSessionHandler(c *echo.Context) error {
	var req StopSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	session, err := s.store.StopSession(c.Request().Context(), req.SessionID, userID(c))
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, session)
}

// forceStopSessionHandler handles POST /sessions/force-stop. Stops the
// session, then best-effort cancels queued jobs and purges events still in
// processing. Queue unavailability reads as zero cancellations.
func (s *Server) forceStopSessionHandler(c *echo.Context) error {
	var req StopSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	ctx := c.Request().Context()
	uid := userID(c)

	session, err := s.store.StopSession(ctx, req.SessionID, uid)
	if err != nil {
		return mapStoreError(err)
	}

	droppedJobs := s.queue.CancelSessionJobs(ctx, req.SessionID)
	droppedEvents, err := s.store.DeleteProcessingEventsForSession(ctx, req.SessionID, uid)
	if err != nil {
		return mapStoreError(err)
	}

	s.logger.Info("Force-stopped session",
		"session_id", req.SessionID,
		"dropped_processing_events", droppedEvents,
		"dropped_queued_jobs", droppedJobs)

	return c.JSON(http.StatusOK, ForceStopResponse{
		Session:                 session,
		DroppedProcessingEvents: droppedEvents,
		DroppedQueuedJobs:       droppedJobs,
	})
}

// listSessionsHandler handles GET /sessions?device_id=.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	deviceID := c.QueryParam("device_id")
	if deviceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "device_id is required")
	}

	sessions, err := s.store.ListSessions(c.Request().Context(), deviceID, userID(c))
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, sessions)
}
