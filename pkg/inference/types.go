// Package inference routes clip analysis through a primary video-mode VLM
// with an image-mode fallback, and normalizes free-form alert intents into
// cached rule sets.
package inference

import "context"

// Rules is the normalized form of a user's free-form alert intent.
type Rules struct {
	TargetEntities   []string `json:"target_entities"`
	TargetActions    []string `json:"target_actions"`
	Locations        []string `json:"locations"`
	TimeConstraints  []string `json:"time_constraints"`
	IgnoreConditions []string `json:"ignore_conditions"`
	Sensitivity      string   `json:"sensitivity"`
}

// Verdict is the parsed model response for one clip.
type Verdict struct {
	Label            string   `json:"label"`
	Summary          string   `json:"summary"`
	Confidence       float64  `json:"confidence"`
	ShouldNotify     bool     `json:"should_notify"`
	AlertReason      string   `json:"alert_reason"`
	MatchedRules     []string `json:"matched_rules,omitempty"`
	DetectedEntities []string `json:"detected_entities,omitempty"`
	DetectedActions  []string `json:"detected_actions,omitempty"`
}

// Result is a Verdict stamped with the provider path that produced it.
type Result struct {
	Verdict
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ClipRequest carries everything the router needs to analyze one clip.
type ClipRequest struct {
	EventID    string
	ClipBytes  []byte
	ClipMIME   string
	Frames     []string // base64 data URIs from the frame extractor
	UserPrompt string
}

// Provider is one VLM endpoint. Text-only completion serves intent
// normalization; the two analyze calls serve video-mode and image-mode clip
// analysis.
type Provider interface {
	Name() string
	Model() string
	CompleteText(ctx context.Context, system, user string) (string, error)
	AnalyzeVideo(ctx context.Context, prompt, videoDataURL string) (string, error)
	AnalyzeImages(ctx context.Context, prompt string, frames []string) (string, error)
}
