package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ping-watch/pingwatch/pkg/blob"
	"github.com/ping-watch/pingwatch/pkg/config"
	"github.com/ping-watch/pingwatch/pkg/models"
	"github.com/ping-watch/pingwatch/pkg/store"
	"github.com/ping-watch/pingwatch/pkg/telegram"
)

// fakeStore is an in-memory Store with the same ownership and idempotence
// semantics as the real one.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	auth     map[string]*models.AuthSession
	devices  map[string]*models.Device
	sessions map[string]*models.Session
	events   map[string]*models.Event
	attempts map[string]*models.TelegramLinkAttempt
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*models.User),
		auth:     make(map[string]*models.AuthSession),
		devices:  make(map[string]*models.Device),
		sessions: make(map[string]*models.Session),
		events:   make(map[string]*models.Event),
		attempts: make(map[string]*models.TelegramLinkAttempt),
	}
}

func visible(owner, caller *string) bool {
	if caller == nil {
		return true
	}
	return owner != nil && *owner == *caller
}

func (f *fakeStore) GetOrCreateUser(_ context.Context, userID, email *string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if email != nil {
		for _, u := range f.users {
			if u.Email != nil && *u.Email == *email {
				return u, nil
			}
		}
	}
	if userID != nil {
		if u, ok := f.users[*userID]; ok {
			return u, nil
		}
	}
	id := uuid.NewString()
	if userID != nil {
		id = *userID
	}
	u := &models.User{UserID: id, Email: email, CreatedAt: time.Now()}
	f.users[id] = u
	return u, nil
}

func (f *fakeStore) CreateAuthSession(_ context.Context, userID, tokenHash string, expiresAt *time.Time) (*models.AuthSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &models.AuthSession{
		AuthSessionID: uuid.NewString(),
		UserID:        userID,
		TokenHash:     tokenHash,
		CreatedAt:     time.Now(),
		ExpiresAt:     expiresAt,
	}
	f.auth[tokenHash] = s
	return s, nil
}

func (f *fakeStore) GetValidAuthSession(_ context.Context, tokenHash string) (*models.AuthSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.auth[tokenHash]
	if !ok || s.RevokedAt != nil {
		return nil, store.ErrNotFound
	}
	if s.ExpiresAt != nil && s.ExpiresAt.Before(time.Now()) {
		return nil, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) RegisterDevice(_ context.Context, deviceID string, label, userID *string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	if d, ok := f.devices[deviceID]; ok {
		if d.UserID != nil {
			if userID == nil || *d.UserID != *userID {
				return nil, store.ErrNotFound
			}
		} else if userID != nil {
			d.UserID = userID
		}
		if label != nil && *label != "" {
			d.Label = label
		}
		return d, nil
	}
	d := &models.Device{DeviceID: deviceID, UserID: userID, Label: label, CreatedAt: time.Now()}
	f.devices[deviceID] = d
	return d, nil
}

func (f *fakeStore) GetDevice(_ context.Context, deviceID string, userID *string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[deviceID]
	if !ok || !visible(d.UserID, userID) {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) CreateSession(ctx context.Context, deviceID string, analysisPrompt, userID *string) (*models.Session, error) {
	if _, err := f.GetDevice(ctx, deviceID, userID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &models.Session{
		SessionID:      uuid.NewString(),
		DeviceID:       deviceID,
		UserID:         userID,
		Status:         models.SessionStatusActive,
		StartedAt:      time.Now(),
		AnalysisPrompt: analysisPrompt,
	}
	f.sessions[s.SessionID] = s
	return s, nil
}

func (f *fakeStore) GetSession(_ context.Context, sessionID string, userID *string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok || !visible(s.UserID, userID) {
		return nil, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) ListSessions(_ context.Context, deviceID string, userID *string) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.Session{}
	for _, s := range f.sessions {
		if s.DeviceID == deviceID && visible(s.UserID, userID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) StopSession(ctx context.Context, sessionID string, userID *string) (*models.Session, error) {
	s, err := f.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.StoppedAt == nil {
		now := time.Now()
		s.StoppedAt = &now
		s.Status = models.SessionStatusStopped
	}
	return s, nil
}

func (f *fakeStore) DeleteProcessingEventsForSession(_ context.Context, sessionID string, userID *string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, e := range f.events {
		if e.SessionID == sessionID && e.Status == models.EventStatusProcessing && visible(e.UserID, userID) {
			delete(f.events, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CreateEvent(ctx context.Context, p store.CreateEventParams) (*models.Event, error) {
	sess, err := f.GetSession(ctx, p.SessionID, p.UserID)
	if err != nil {
		return nil, err
	}
	if sess.DeviceID != p.DeviceID {
		return nil, store.NewValidationError("device_id", "device does not match session")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.EventID != "" {
		if existing, ok := f.events[p.EventID]; ok {
			if existing.SessionID != p.SessionID {
				return nil, store.ErrConflict
			}
			return existing, nil
		}
	}
	id := p.EventID
	if id == "" {
		id = uuid.NewString()
	}
	e := &models.Event{
		EventID:         id,
		SessionID:       p.SessionID,
		UserID:          p.UserID,
		DeviceID:        p.DeviceID,
		Status:          models.EventStatusProcessing,
		TriggerType:     p.TriggerType,
		CreatedAt:       time.Now(),
		DurationSeconds: p.DurationSeconds,
		ClipURI:         p.ClipURI,
		ClipMIME:        p.ClipMIME,
		ClipSizeBytes:   p.ClipSizeBytes,
		ClipContainer:   p.ClipContainer,
		ClipBlobName:    p.ClipBlobName,
	}
	f.events[id] = e
	return e, nil
}

func (f *fakeStore) GetEvent(_ context.Context, eventID string, userID *string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[eventID]
	if !ok || !visible(e.UserID, userID) {
		return nil, store.ErrNotFound
	}
	return e, nil
}

func (f *fakeStore) ListEvents(ctx context.Context, sessionID string, userID *string) ([]*models.Event, error) {
	if _, err := f.GetSession(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.Event{}
	for _, e := range f.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateEventSummary(ctx context.Context, eventID string, userID *string, p models.EventSummaryParams) (*models.Event, error) {
	e, err := f.GetEvent(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e.Status = models.EventStatusDone
	e.Summary = &p.Summary
	e.Label = p.Label
	e.Confidence = p.Confidence
	if p.InferenceProvider != nil {
		e.InferenceProvider = p.InferenceProvider
	}
	if p.InferenceModel != nil {
		e.InferenceModel = p.InferenceModel
	}
	if p.ShouldNotify != nil {
		e.ShouldNotify = p.ShouldNotify
	}
	if p.AlertReason != nil {
		e.AlertReason = p.AlertReason
	}
	return e, nil
}

func (f *fakeStore) MarkEventClipUploaded(ctx context.Context, eventID string, etag, userID *string) (*models.Event, error) {
	e, err := f.GetEvent(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ClipUploadedAt == nil {
		now := time.Now()
		e.ClipUploadedAt = &now
	}
	if etag != nil {
		e.ClipETag = etag
	}
	return e, nil
}

func (f *fakeStore) MarkEventClipUploadedViaLocalAPI(ctx context.Context, eventID, blobName string, etag, userID *string) (*models.Event, error) {
	e, err := f.GetEvent(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	local := "local"
	uri := "local://" + blobName
	e.ClipContainer = &local
	e.ClipBlobName = &blobName
	e.ClipURI = uri
	if e.ClipUploadedAt == nil {
		now := time.Now()
		e.ClipUploadedAt = &now
	}
	if etag != nil {
		e.ClipETag = etag
	}
	return e, nil
}

func (f *fakeStore) CreateTelegramLinkAttempt(_ context.Context, deviceID string, userID *string, tokenHash string, expiresAt time.Time) (*models.TelegramLinkAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &models.TelegramLinkAttempt{
		AttemptID: uuid.NewString(),
		DeviceID:  deviceID,
		UserID:    userID,
		TokenHash: tokenHash,
		Status:    models.LinkStatusPending,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
	f.attempts[a.AttemptID] = a
	return a, nil
}

func (f *fakeStore) GetTelegramLinkAttempt(_ context.Context, attemptID, deviceID string, userID *string) (*models.TelegramLinkAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[attemptID]
	if !ok || a.DeviceID != deviceID || !visible(a.UserID, userID) {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) GetTelegramLinkAttemptByTokenHash(_ context.Context, tokenHash string) (*models.TelegramLinkAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.TokenHash == tokenHash {
			return a, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) MarkTelegramLinkAttemptExpired(_ context.Context, attemptID string) (*models.TelegramLinkAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[attemptID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if a.Status == models.LinkStatusPending && a.ExpiresAt.Before(time.Now()) {
		a.Status = models.LinkStatusExpired
	}
	return a, nil
}

func (f *fakeStore) MarkTelegramLinkAttemptLinked(_ context.Context, attemptID, chatID string, username *string) (*models.TelegramLinkAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[attemptID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if a.Status == models.LinkStatusLinked {
		return a, nil
	}
	if a.Status != models.LinkStatusPending {
		return nil, store.ErrConflict
	}
	now := time.Now()
	a.Status = models.LinkStatusLinked
	a.LinkedAt = &now
	a.ChatID = &chatID
	a.TelegramUsername = username
	if d, ok := f.devices[a.DeviceID]; ok {
		d.TelegramChatID = &chatID
		d.TelegramUsername = username
		d.TelegramLinkedAt = &now
	}
	return a, nil
}

func (f *fakeStore) GetTelegramTarget(ctx context.Context, deviceID string, userID *string) (*store.TelegramTarget, error) {
	d, err := f.GetDevice(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}
	if d.TelegramChatID != nil && *d.TelegramChatID != "" {
		return &store.TelegramTarget{Linked: true, ChatID: d.TelegramChatID, Username: d.TelegramUsername}, nil
	}
	return &store.TelegramTarget{Linked: false}, nil
}

// fakeQueue records enqueues and cancellations.
type fakeQueue struct {
	mu         sync.Mutex
	enqueued   []string
	enqueueErr error
	cancelled  []string
	cancelN    int
}

func (q *fakeQueue) Enqueue(_ context.Context, name string, _ any) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return "", q.enqueueErr
	}
	q.enqueued = append(q.enqueued, name)
	return fmt.Sprintf("job-%d", len(q.enqueued)), nil
}

func (q *fakeQueue) CancelSessionJobs(_ context.Context, sessionID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, sessionID)
	return q.cancelN
}

// fakeBlobs serves a scripted upload target and a real local store.
type fakeBlobs struct {
	local  *blob.LocalStore
	target *blob.UploadTarget
}

func newFakeBlobs(t *testing.T) *fakeBlobs {
	t.Helper()
	local, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return &fakeBlobs{local: local}
}

func (b *fakeBlobs) PrepareUpload(_ context.Context, sessionID, eventID, clipMIME string) (*blob.UploadTarget, error) {
	if b.target != nil {
		return b.target, nil
	}
	name := blob.BlobName(sessionID, eventID, clipMIME)
	return &blob.UploadTarget{
		Mode:      blob.ModeRelay,
		UploadURL: "http://localhost:8080/events/" + eventID + "/upload",
		BlobURL:   "local://" + name,
		BlobName:  name,
		Container: "local",
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}, nil
}

func (b *fakeBlobs) Local() *blob.LocalStore { return b.local }

// fakeTelegram scripts the messenger surface and records sends.
type fakeTelegram struct {
	mu       sync.Mutex
	messages []string
	chatIDs  []string
	updates  []tgbotapi.Update
	probe    *telegram.ChatStatus
	probeErr error
}

func (f *fakeTelegram) SendMessage(chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatIDs = append(f.chatIDs, chatID)
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeTelegram) ProbeChat(string) (*telegram.ChatStatus, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	if f.probe != nil {
		return f.probe, nil
	}
	return &telegram.ChatStatus{OK: true}, nil
}

func (f *fakeTelegram) GetUpdates(int) ([]tgbotapi.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.updates
	f.updates = nil
	return u, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "8080", PublicBaseURL: "http://localhost:8080"},
		Auth: config.AuthConfig{
			DevLoginEnabled: true,
			TokenTTL:        24 * time.Hour,
		},
		Blob: config.BlobConfig{RelayStrongETag: true},
		Telegram: config.TelegramConfig{
			BotToken:      "12345:fake",
			OnboardingURL: "https://t.me/pingwatchbot",
			LinkTokenTTL:  10 * time.Minute,
			SendVideo:     true,
		},
	}
}

type testEnv struct {
	server *Server
	store  *fakeStore
	queue  *fakeQueue
	blobs  *fakeBlobs
	tg     *fakeTelegram
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	env := &testEnv{
		store: newFakeStore(),
		queue: &fakeQueue{},
		blobs: newFakeBlobs(t),
		tg:    &fakeTelegram{},
	}
	env.server = NewServer(cfg, env.store, env.queue, env.blobs, env.tg)
	return env
}

// doJSON performs a request against the server and decodes the JSON body.
func (e *testEnv) doJSON(t *testing.T, method, path string, body any, out any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

// seedSession registers a device and starts a session directly on the store.
func (e *testEnv) seedSession(t *testing.T, deviceID string, userID *string) *models.Session {
	t.Helper()
	_, err := e.store.RegisterDevice(context.Background(), deviceID, nil, userID)
	require.NoError(t, err)
	sess, err := e.store.CreateSession(context.Background(), deviceID, nil, userID)
	require.NoError(t, err)
	return sess
}
