package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/ping-watch/pingwatch/pkg/blob"
	"github.com/ping-watch/pingwatch/pkg/models"
	"github.com/ping-watch/pingwatch/pkg/store"
	"github.com/ping-watch/pingwatch/pkg/worker"
)

// initiateUploadHandler handles POST /events/upload/initiate. Reserves the
// event row and returns an upload target, cloud preferred with relay
// fallback. Idempotent on event_id.
func (s *Server) initiateUploadHandler(c *echo.Context) error {
	var req InitiateUploadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	if req.DeviceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "device_id is required")
	}
	if req.DurationSeconds < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "duration_seconds must be >= 0")
	}

	eventID := ""
	if req.EventID != nil {
		eventID = *req.EventID
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	ctx := c.Request().Context()
	target, err := s.blobs.PrepareUpload(ctx, req.SessionID, eventID, req.ClipMIME)
	if err != nil {
		s.logger.Error("Upload target preparation failed",
			"session_id", req.SessionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "could not prepare upload target")
	}

	event, err := s.store.CreateEvent(ctx, store.CreateEventParams{
		EventID:         eventID,
		SessionID:       req.SessionID,
		DeviceID:        req.DeviceID,
		TriggerType:     req.TriggerType,
		DurationSeconds: req.DurationSeconds,
		ClipURI:         target.BlobURL,
		ClipMIME:        req.ClipMIME,
		ClipSizeBytes:   req.ClipSizeBytes,
		ClipContainer:   &target.Container,
		ClipBlobName:    &target.BlobName,
		UserID:          userID(c),
	})
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, InitiateUploadResponse{
		Event:     event,
		UploadURL: target.UploadURL,
		BlobURL:   target.BlobURL,
		ExpiresAt: target.ExpiresAt,
	})
}

// relayUploadHandler handles PUT /events/:id/upload, the relay path used
// when no cloud store is configured. Bytes are written under the local
// upload root; names that escape it are rejected before any write.
func (s *Server) relayUploadHandler(c *echo.Context) error {
	eventID := c.Param("id")
	if eventID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event id is required")
	}

	ctx := c.Request().Context()
	uid := userID(c)
	event, err := s.store.GetEvent(ctx, eventID, uid)
	if err != nil {
		return mapStoreError(err)
	}

	blobName := ""
	if event.ClipBlobName != nil {
		blobName = *event.ClipBlobName
	}
	if blobName == "" {
		blobName = blob.BlobName(event.SessionID, event.EventID, event.ClipMIME)
	}

	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read request body")
	}

	etag, err := s.blobs.Local().Write(blobName, data)
	if err != nil {
		if errors.Is(err, blob.ErrPathTraversal) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid blob name")
		}
		s.logger.Error("Relay upload write failed", "event_id", eventID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "could not store clip")
	}

	var etagPtr *string
	if s.cfg.Blob.RelayStrongETag {
		quoted := `"` + etag + `"`
		etagPtr = &quoted
		c.Response().Header().Set("ETag", quoted)
	}

	event, err = s.store.MarkEventClipUploadedViaLocalAPI(ctx, eventID, blobName, etagPtr, uid)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusCreated, event)
}

// finalizeUploadHandler handles POST /events/:id/upload/finalize. Stamps
// clip_uploaded_at once, then enqueues the processing job. Enqueue failures
// never fail the request; the event stays processing for operator reprocess.
func (s *Server) finalizeUploadHandler(c *echo.Context) error {
	eventID := c.Param("id")
	if eventID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event id is required")
	}

	var req FinalizeUploadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	uid := userID(c)
	event, err := s.store.MarkEventClipUploaded(ctx, eventID, req.ETag, uid)
	if err != nil {
		return mapStoreError(err)
	}

	s.enqueueClipJob(c, event)
	return c.JSON(http.StatusOK, event)
}

func (s *Server) enqueueClipJob(c *echo.Context, event *models.Event) {
	ctx := c.Request().Context()

	var prompt *string
	if session, err := s.store.GetSession(ctx, event.SessionID, userID(c)); err == nil {
		prompt = session.AnalysisPrompt
	}

	payload := worker.ClipJobPayload{
		EventID:        event.EventID,
		SessionID:      event.SessionID,
		DeviceID:       event.DeviceID,
		ClipMIME:       event.ClipMIME,
		ClipURI:        event.ClipURI,
		AnalysisPrompt: prompt,
	}
	if event.ClipContainer != nil {
		payload.ClipContainer = *event.ClipContainer
	}
	if event.ClipBlobName != nil {
		payload.ClipBlobName = *event.ClipBlobName
	}

	jobID, err := s.queue.Enqueue(ctx, worker.ClipJobName, payload)
	if err != nil && s.cfg.Queue.FinalizeEnqueueRetry {
		jobID, err = s.queue.Enqueue(ctx, worker.ClipJobName, payload)
	}
	if err != nil {
		s.logger.Warn("Clip job enqueue failed, event awaits reprocess",
			"event_id", event.EventID, "error", err)
		return
	}
	s.logger.Info("Clip job enqueued", "event_id", event.EventID, "job_id", jobID)
}

// updateEventSummaryHandler handles POST /events/:id/summary, the worker's
// terminal writeback.
func (s *Server) updateEventSummaryHandler(c *echo.Context) error {
	eventID := c.Param("id")
	if eventID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event id is required")
	}

	var req models.EventSummaryParams
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Summary == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "summary is required")
	}

	event, err := s.store.UpdateEventSummary(c.Request().Context(), eventID, userID(c), req)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, event)
}

// getEventSummaryHandler handles GET /events/:id/summary.
func (s *Server) getEventSummaryHandler(c *echo.Context) error {
	eventID := c.Param("id")
	if eventID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event id is required")
	}

	event, err := s.store.GetEvent(c.Request().Context(), eventID, userID(c))
	if err != nil {
		return mapStoreError(err)
	}
	if event.Summary == nil {
		return echo.NewHTTPError(http.StatusNotFound, "event summary not found")
	}

	return c.JSON(http.StatusOK, EventSummaryResponse{
		EventID:    event.EventID,
		Summary:    *event.Summary,
		Label:      event.Label,
		Confidence: event.Confidence,
		Status:     event.Status,
	})
}

// listEventsHandler handles GET /events?session_id=.
func (s *Server) listEventsHandler(c *echo.Context) error {
	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	events, err := s.store.ListEvents(c.Request().Context(), sessionID, userID(c))
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, events)
}
