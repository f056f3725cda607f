package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ping-watch/pingwatch/pkg/models"
	"github.com/ping-watch/pingwatch/pkg/worker"
)

func initiateUpload(t *testing.T, env *testEnv, req InitiateUploadRequest, headers map[string]string) InitiateUploadResponse {
	t.Helper()
	var got InitiateUploadResponse
	rec := env.doJSON(t, http.MethodPost, "/events/upload/initiate", req, &got, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got.Event)
	return got
}

func TestInitiateUpload(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedSession(t, "dev-1", nil)

	got := initiateUpload(t, env, InitiateUploadRequest{
		SessionID:       sess.SessionID,
		DeviceID:        "dev-1",
		TriggerType:     "motion",
		DurationSeconds: 8.5,
		ClipMIME:        "video/webm",
		ClipSizeBytes:   1024,
	}, nil)

	assert.NotEmpty(t, got.Event.EventID)
	assert.Equal(t, models.EventStatusProcessing, got.Event.Status)
	assert.NotEmpty(t, got.UploadURL)
	assert.NotEmpty(t, got.BlobURL)
	require.NotNil(t, got.Event.ClipBlobName)
	assert.Contains(t, *got.Event.ClipBlobName, got.Event.EventID)
}

func TestInitiateUploadIdempotentOnEventID(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedSession(t, "dev-1", nil)

	eventID := "evt-fixed"
	req := InitiateUploadRequest{
		EventID:     &eventID,
		SessionID:   sess.SessionID,
		DeviceID:    "dev-1",
		TriggerType: "motion",
		ClipMIME:    "video/webm",
	}

	first := initiateUpload(t, env, req, nil)
	second := initiateUpload(t, env, req, nil)

	assert.Equal(t, "evt-fixed", first.Event.EventID)
	assert.Equal(t, first.Event.EventID, second.Event.EventID)
	assert.Equal(t, first.Event.CreatedAt, second.Event.CreatedAt)
}

func TestInitiateUploadValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedSession(t, "dev-1", nil)

	tests := []struct {
		name       string
		req        InitiateUploadRequest
		expectCode int
	}{
		{
			name:       "missing session",
			req:        InitiateUploadRequest{DeviceID: "dev-1"},
			expectCode: http.StatusBadRequest,
		},
		{
			name:       "missing device",
			req:        InitiateUploadRequest{SessionID: sess.SessionID},
			expectCode: http.StatusBadRequest,
		},
		{
			name: "negative duration",
			req: InitiateUploadRequest{
				SessionID: sess.SessionID, DeviceID: "dev-1", DurationSeconds: -1,
			},
			expectCode: http.StatusBadRequest,
		},
		{
			name: "device session mismatch",
			req: InitiateUploadRequest{
				SessionID: sess.SessionID, DeviceID: "dev-other",
			},
			expectCode: http.StatusBadRequest,
		},
		{
			name: "unknown session",
			req: InitiateUploadRequest{
				SessionID: "nope", DeviceID: "dev-1",
			},
			expectCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.doJSON(t, http.MethodPost, "/events/upload/initiate", tt.req, nil, nil)
			assert.Equal(t, tt.expectCode, rec.Code)
		})
	}
}

func TestRelayUploadStoresClipWithStrongETag(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedSession(t, "dev-1", nil)

	got := initiateUpload(t, env, InitiateUploadRequest{
		SessionID: sess.SessionID, DeviceID: "dev-1",
		TriggerType: "motion", ClipMIME: "video/webm",
	}, nil)
	eventID := got.Event.EventID

	req := httptest.NewRequest(http.MethodPut, "/events/"+eventID+"/upload",
		bytes.NewReader([]byte("abc")))
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	// Strong ETag is the quoted MD5 of the body, matching cloud semantics.
	assert.Equal(t, `"900150983cd24fb0d6963f7d28e17f72"`, rec.Header().Get("ETag"))

	event, err := env.store.GetEvent(context.Background(), eventID, nil)
	require.NoError(t, err)
	require.NotNil(t, event.ClipUploadedAt)
	require.NotNil(t, event.ClipETag)
	assert.Equal(t, `"900150983cd24fb0d6963f7d28e17f72"`, *event.ClipETag)
	require.NotNil(t, event.ClipContainer)
	assert.Equal(t, "local", *event.ClipContainer)

	data, err := env.blobs.Local().Read(*event.ClipBlobName)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}

func TestRelayUploadRejectsTraversalBlobName(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedSession(t, "dev-1", nil)

	evil := "../../etc/passwd"
	got := initiateUpload(t, env, InitiateUploadRequest{
		SessionID: sess.SessionID, DeviceID: "dev-1",
		TriggerType: "motion", ClipMIME: "video/webm",
	}, nil)
	_, err := env.store.MarkEventClipUploadedViaLocalAPI(
		context.Background(), got.Event.EventID, evil, nil, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/events/"+got.Event.EventID+"/upload",
		bytes.NewReader([]byte("abc")))
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRelayUploadUnknownEvent(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPut, "/events/nope/upload",
		bytes.NewReader([]byte("abc")))
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFinalizeUploadEnqueuesClipJob(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedSession(t, "dev-1", nil)

	got := initiateUpload(t, env, InitiateUploadRequest{
		SessionID: sess.SessionID, DeviceID: "dev-1",
		TriggerType: "motion", ClipMIME: "video/webm",
	}, nil)

	etag := `"900150983cd24fb0d6963f7d28e17f72"`
	var event models.Event
	rec := env.doJSON(t, http.MethodPost, "/events/"+got.Event.EventID+"/upload/finalize",
		FinalizeUploadRequest{ETag: &etag}, &event, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, event.ClipUploadedAt)
	require.Len(t, env.queue.enqueued, 1)
	assert.Equal(t, worker.ClipJobName, env.queue.enqueued[0])
}

func TestFinalizeUploadSucceedsWhenEnqueueFails(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedSession(t, "dev-1", nil)
	env.queue.enqueueErr = errors.New("broker down")

	got := initiateUpload(t, env, InitiateUploadRequest{
		SessionID: sess.SessionID, DeviceID: "dev-1",
		TriggerType: "motion", ClipMIME: "video/webm",
	}, nil)

	rec := env.doJSON(t, http.MethodPost, "/events/"+got.Event.EventID+"/upload/finalize",
		FinalizeUploadRequest{}, nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.queue.enqueued)
}

func TestEventSummaryWriteback(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedSession(t, "dev-1", nil)

	got := initiateUpload(t, env, InitiateUploadRequest{
		SessionID: sess.SessionID, DeviceID: "dev-1",
		TriggerType: "motion", ClipMIME: "video/webm",
	}, nil)
	eventID := got.Event.EventID

	// No summary yet.
	rec := env.doJSON(t, http.MethodGet, "/events/"+eventID+"/summary", nil, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	label := "person"
	confidence := 0.91
	var updated models.Event
	rec = env.doJSON(t, http.MethodPost, "/events/"+eventID+"/summary",
		models.EventSummaryParams{
			Summary:    "A person approached the door.",
			Label:      &label,
			Confidence: &confidence,
		}, &updated, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.EventStatusDone, updated.Status)

	var summary EventSummaryResponse
	rec = env.doJSON(t, http.MethodGet, "/events/"+eventID+"/summary", nil, &summary, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A person approached the door.", summary.Summary)
	require.NotNil(t, summary.Label)
	assert.Equal(t, "person", *summary.Label)
	assert.Equal(t, models.EventStatusDone, summary.Status)
}

func TestEventSummaryRequiresText(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedSession(t, "dev-1", nil)

	got := initiateUpload(t, env, InitiateUploadRequest{
		SessionID: sess.SessionID, DeviceID: "dev-1",
		TriggerType: "motion", ClipMIME: "video/webm",
	}, nil)

	rec := env.doJSON(t, http.MethodPost, "/events/"+got.Event.EventID+"/summary",
		models.EventSummaryParams{}, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.seedSession(t, "dev-1", nil)

	initiateUpload(t, env, InitiateUploadRequest{
		SessionID: sess.SessionID, DeviceID: "dev-1",
		TriggerType: "motion", ClipMIME: "video/webm",
	}, nil)

	var events []*models.Event
	rec := env.doJSON(t, http.MethodGet, "/events?session_id="+sess.SessionID, nil, &events, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, events, 1)

	rec = env.doJSON(t, http.MethodGet, "/events", nil, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventCrossUserIsInvisible(t *testing.T) {
	env := newTestEnv(t, nil)

	var alice, bob DevLoginResponse
	rec := env.doJSON(t, http.MethodPost, "/auth/dev/login", DevLoginRequest{}, &alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.doJSON(t, http.MethodPost, "/auth/dev/login", DevLoginRequest{}, &bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	aliceAuth := map[string]string{"Authorization": "Bearer " + alice.AccessToken}
	bobAuth := map[string]string{"Authorization": "Bearer " + bob.AccessToken}

	sess := env.seedSession(t, "dev-alice", &alice.UserID)
	got := initiateUpload(t, env, InitiateUploadRequest{
		SessionID: sess.SessionID, DeviceID: "dev-alice",
		TriggerType: "motion", ClipMIME: "video/webm",
	}, aliceAuth)
	eventID := got.Event.EventID

	rec = env.doJSON(t, http.MethodGet, "/events/"+eventID+"/summary", nil, nil, bobAuth)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.doJSON(t, http.MethodPost, "/events/"+eventID+"/summary",
		models.EventSummaryParams{Summary: "hijacked"}, nil, bobAuth)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.doJSON(t, http.MethodGet, "/events?session_id="+sess.SessionID, nil, nil, bobAuth)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.doJSON(t, http.MethodPost, "/events/"+eventID+"/upload/finalize",
		FinalizeUploadRequest{}, nil, bobAuth)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
