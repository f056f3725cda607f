package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ping-watch/pingwatch/pkg/config"
)

func floatPtr(f float64) *float64 { return &f }

func TestBuildCaption(t *testing.T) {
	tests := []struct {
		name     string
		payload  Payload
		expected string
	}{
		{
			name: "full payload",
			payload: Payload{
				EventID:     "clip-123",
				Label:       "person",
				Confidence:  floatPtr(0.92),
				Summary:     "A person approaches the door.",
				AlertReason: "Person at the door",
				ClipURI:     "https://blob.example/clip-123.webm",
			},
			expected: "Ping Watch alert\n" +
				"Event: clip-123\n" +
				"Label: person\n" +
				"Confidence: 92%\n" +
				"Summary: A person approaches the door.\n" +
				"Reason: Person at the door\n" +
				"Clip: https://blob.example/clip-123.webm",
		},
		{
			name: "minimal payload",
			payload: Payload{
				EventID: "clip-9",
				Summary: "Nothing of note.",
			},
			expected: "Ping Watch alert\n" +
				"Event: clip-9\n" +
				"Label: unknown\n" +
				"Confidence: n/a\n" +
				"Summary: Nothing of note.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildCaption(tt.payload))
		})
	}
}

// fakeMessenger records sends and scripts failures.
type fakeMessenger struct {
	messages []string
	videos   []string
	chatIDs  []string
	err      error
}

func (f *fakeMessenger) SendMessage(chatID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.chatIDs = append(f.chatIDs, chatID)
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeMessenger) SendVideo(chatID, caption string, _ []byte, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.chatIDs = append(f.chatIDs, chatID)
	f.videos = append(f.videos, caption)
	return nil
}

func targetServer(t *testing.T, linked bool, chatID string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/notifications/telegram/target", r.URL.Path)
		resp := map[string]any{"linked": linked}
		if linked {
			resp["chat_id"] = chatID
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func notifyConfig(webhookURL string) config.NotifyConfig {
	return config.NotifyConfig{
		WebhookURL: webhookURL,
		Timeout:    2 * time.Second,
	}
}

func TestDispatchSendsVideoWithClipBytes(t *testing.T) {
	api := targetServer(t, true, "987654321")
	defer api.Close()

	messenger := &fakeMessenger{}
	d := NewDispatcherWithMessenger(notifyConfig(""), messenger, true, api.URL)

	res := d.Dispatch(context.Background(), Payload{
		EventID:   "e1",
		DeviceID:  "dev-1",
		Summary:   "A person approaches.",
		ClipBytes: []byte("clip"),
		ClipMIME:  "video/webm",
	})

	assert.True(t, res.TelegramSent)
	assert.False(t, res.WebhookSent)
	require.Len(t, messenger.videos, 1)
	assert.Equal(t, []string{"987654321"}, messenger.chatIDs)
	assert.Empty(t, messenger.messages)
}

func TestDispatchFallsBackToTextWhenVideoDisabled(t *testing.T) {
	api := targetServer(t, true, "987654321")
	defer api.Close()

	messenger := &fakeMessenger{}
	d := NewDispatcherWithMessenger(notifyConfig(""), messenger, false, api.URL)

	res := d.Dispatch(context.Background(), Payload{
		EventID:   "e1",
		DeviceID:  "dev-1",
		Summary:   "A person approaches.",
		ClipBytes: []byte("clip"),
	})

	assert.True(t, res.TelegramSent)
	assert.Empty(t, messenger.videos)
	require.Len(t, messenger.messages, 1)
}

func TestDispatchSkipsTelegramWhenUnlinked(t *testing.T) {
	api := targetServer(t, false, "")
	defer api.Close()

	messenger := &fakeMessenger{}
	d := NewDispatcherWithMessenger(notifyConfig(""), messenger, true, api.URL)

	res := d.Dispatch(context.Background(), Payload{EventID: "e1", DeviceID: "dev-1", Summary: "s"})
	assert.False(t, res.TelegramSent)
	assert.Empty(t, messenger.messages)
}

func TestDispatchWebhookCarriesSecretHeader(t *testing.T) {
	var gotSecret string
	var gotPayload Payload
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("X-Ping-Watch-Webhook-Secret")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	cfg := notifyConfig(hook.URL)
	cfg.WebhookSecret = "hunter2"
	d := NewDispatcherWithMessenger(cfg, nil, true, "")

	res := d.Dispatch(context.Background(), Payload{
		EventID: "e1",
		Summary: "A person approaches.",
		Label:   "person",
	})

	assert.True(t, res.WebhookSent)
	assert.False(t, res.TelegramSent)
	assert.Equal(t, "hunter2", gotSecret)
	assert.Equal(t, "e1", gotPayload.EventID)
	assert.Equal(t, "person", gotPayload.Label)
}

func TestDispatchChannelsAreIndependent(t *testing.T) {
	api := targetServer(t, true, "42")
	defer api.Close()
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	// Telegram fails; webhook must still deliver.
	messenger := &fakeMessenger{err: errors.New("blocked")}
	d := NewDispatcherWithMessenger(notifyConfig(hook.URL), messenger, true, api.URL)

	res := d.Dispatch(context.Background(), Payload{EventID: "e1", DeviceID: "dev-1", Summary: "s"})
	assert.False(t, res.TelegramSent)
	assert.True(t, res.WebhookSent)
}

func TestDispatchWebhookNonSuccessStatus(t *testing.T) {
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer hook.Close()

	d := NewDispatcherWithMessenger(notifyConfig(hook.URL), nil, true, "")
	res := d.Dispatch(context.Background(), Payload{EventID: "e1", Summary: "s"})
	assert.False(t, res.WebhookSent)
}
