// Package config loads typed configuration from environment variables.
// Defaults and clamps live here so every component sees the same bounds.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Token TTL bounds for dev-login auth sessions.
const (
	MinTokenTTL     = 5 * time.Minute
	MaxTokenTTL     = 30 * 24 * time.Hour
	DefaultTokenTTL = 24 * time.Hour
)

// Link token TTL bounds for Telegram link attempts.
const (
	MinLinkTokenTTL     = 60 * time.Second
	MaxLinkTokenTTL     = 3600 * time.Second
	DefaultLinkTokenTTL = 600 * time.Second
)

// Config is the full process configuration.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Blob      BlobConfig
	Queue     QueueConfig
	Inference InferenceConfig
	Telegram  TelegramConfig
	Notify    NotifyConfig

	// TestMode short-circuits the worker pipeline with a fixed summary.
	TestMode bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string
	// PublicBaseURL is the externally reachable base of this API. Used for
	// relay upload URLs and for the worker's writeback target.
	PublicBaseURL string
	// ExtraOrigins are additional CORS origins (e.g. tunnel domains) beyond
	// the built-in localhost and private-LAN allowances.
	ExtraOrigins []string
}

// AuthConfig controls bearer authentication.
type AuthConfig struct {
	Required        bool
	DevLoginEnabled bool
	TokenTTL        time.Duration
	// WorkerToken is presented by the worker on writeback calls when auth is
	// required.
	WorkerToken string
}

// BlobConfig holds cloud object-store settings plus the local relay root.
type BlobConfig struct {
	Endpoint        string
	Account         string
	Key             string
	Container       string
	AutoCreate      bool
	SASExpiry       time.Duration
	ServiceVersion  string
	Protocol        string
	RequestTimeout  time.Duration
	LocalUploadDir  string
	RelayStrongETag bool
}

// QueueConfig holds job broker settings.
type QueueConfig struct {
	URL                     string
	Name                    string
	WorkerCount             int
	GracefulShutdownTimeout time.Duration
	// FinalizeEnqueueRetry makes finalize retry a failed enqueue once.
	// Default off: the event stays processing until operator reprocess.
	FinalizeEnqueueRetry bool
}

// InferenceConfig holds the primary and fallback VLM providers.
type InferenceConfig struct {
	PrimaryAPIKey   string
	PrimaryBaseURL  string
	PrimaryModel    string
	FallbackAPIKey  string
	FallbackBaseURL string
	FallbackModel   string
	NumFrames       int
	FrameDir        string
	Timeout         time.Duration
}

// TelegramConfig holds messenger settings.
type TelegramConfig struct {
	APIBase       string
	BotToken      string
	WebhookSecret string
	OnboardingURL string
	LinkTokenTTL  time.Duration
	SendVideo     bool
	// PollFeedback echoes the user-facing confirmation for links completed
	// through the status poll. Default off: the webhook path would also
	// deliver it.
	PollFeedback bool
}

// NotifyConfig holds outbound webhook settings.
type NotifyConfig struct {
	WebhookURL    string
	WebhookSecret string
	Timeout       time.Duration
}

// Load reads the full configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:          getEnvOrDefault("HTTP_PORT", "8080"),
			PublicBaseURL: getEnvOrDefault("PUBLIC_BASE_URL", "http://localhost:8080"),
			ExtraOrigins:  splitCSV(os.Getenv("CORS_EXTRA_ORIGINS")),
		},
		Auth: AuthConfig{
			Required:        getEnvBool("AUTH_REQUIRED", false),
			DevLoginEnabled: getEnvBool("AUTH_DEV_LOGIN_ENABLED", true),
			TokenTTL:        clampDuration(getEnvSeconds("AUTH_TOKEN_TTL_SECONDS", DefaultTokenTTL), MinTokenTTL, MaxTokenTTL),
			WorkerToken:     os.Getenv("WORKER_API_TOKEN"),
		},
		Blob: BlobConfig{
			Endpoint:        os.Getenv("BLOB_ENDPOINT"),
			Account:         os.Getenv("BLOB_ACCOUNT"),
			Key:             os.Getenv("BLOB_ACCOUNT_KEY"),
			Container:       getEnvOrDefault("BLOB_CONTAINER", "clips"),
			AutoCreate:      getEnvBool("BLOB_AUTO_CREATE_CONTAINER", true),
			SASExpiry:       getEnvSeconds("BLOB_SAS_EXPIRY_SECONDS", 15*time.Minute),
			ServiceVersion:  getEnvOrDefault("BLOB_SERVICE_VERSION", "2021-08-06"),
			Protocol:        getEnvOrDefault("BLOB_PROTOCOL", "https"),
			RequestTimeout:  getEnvSeconds("BLOB_REQUEST_TIMEOUT_SECONDS", 10*time.Second),
			LocalUploadDir:  getEnvOrDefault("LOCAL_UPLOAD_DIR", "./data/uploads"),
			RelayStrongETag: getEnvBool("RELAY_STRONG_ETAG", true),
		},
		Queue: QueueConfig{
			URL:                     getEnvOrDefault("QUEUE_URL", "redis://localhost:6379/0"),
			Name:                    getEnvOrDefault("QUEUE_NAME", "clip_uploaded"),
			WorkerCount:             getEnvInt("WORKER_COUNT", 1),
			GracefulShutdownTimeout: getEnvSeconds("WORKER_SHUTDOWN_TIMEOUT_SECONDS", 90*time.Second),
			FinalizeEnqueueRetry:    getEnvBool("FINALIZE_ENQUEUE_RETRY", false),
		},
		Inference: InferenceConfig{
			PrimaryAPIKey:   os.Getenv("INFERENCE_PRIMARY_API_KEY"),
			PrimaryBaseURL:  os.Getenv("INFERENCE_PRIMARY_BASE_URL"),
			PrimaryModel:    getEnvOrDefault("INFERENCE_PRIMARY_MODEL", "qwen/qwen2.5-vl-72b-instruct"),
			FallbackAPIKey:  os.Getenv("INFERENCE_FALLBACK_API_KEY"),
			FallbackBaseURL: os.Getenv("INFERENCE_FALLBACK_BASE_URL"),
			FallbackModel:   os.Getenv("INFERENCE_FALLBACK_MODEL"),
			NumFrames:       getEnvInt("INFERENCE_NUM_FRAMES", 3),
			FrameDir:        os.Getenv("INFERENCE_FRAME_DIR"),
			Timeout:         getEnvSeconds("INFERENCE_TIMEOUT_SECONDS", 60*time.Second),
		},
		Telegram: TelegramConfig{
			APIBase:       getEnvOrDefault("TELEGRAM_API_BASE", "https://api.telegram.org"),
			BotToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
			WebhookSecret: os.Getenv("TELEGRAM_WEBHOOK_SECRET"),
			OnboardingURL: os.Getenv("TELEGRAM_ONBOARDING_URL"),
			LinkTokenTTL:  clampDuration(getEnvSeconds("TELEGRAM_LINK_TOKEN_TTL_SECONDS", DefaultLinkTokenTTL), MinLinkTokenTTL, MaxLinkTokenTTL),
			SendVideo:     getEnvBool("TELEGRAM_SEND_VIDEO", true),
			PollFeedback:  getEnvBool("TELEGRAM_POLL_FEEDBACK", false),
		},
		Notify: NotifyConfig{
			WebhookURL:    os.Getenv("NOTIFY_WEBHOOK_URL"),
			WebhookSecret: os.Getenv("NOTIFY_WEBHOOK_SECRET"),
			Timeout:       clampDuration(getEnvSeconds("NOTIFY_TIMEOUT_SECONDS", 10*time.Second), time.Second, 0),
		},
		TestMode: getEnvBool("PING_WATCH_TEST_MODE", false),
	}

	if cfg.Queue.WorkerCount < 0 {
		return nil, fmt.Errorf("WORKER_COUNT must be >= 0, got %d", cfg.Queue.WorkerCount)
	}
	if cfg.Inference.NumFrames < 1 {
		cfg.Inference.NumFrames = 1
	}
	return cfg, nil
}

// clampDuration bounds d to [min, max]. max <= 0 means unbounded above.
func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvSeconds(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return defaultVal
	}
	// Second counts past this would overflow the nanosecond representation.
	if int64(n) > math.MaxInt64/int64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(n) * time.Second
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
