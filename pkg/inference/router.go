package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// analysisPreamble is the fixed scene-analysis instruction prepended to the
// user's alert intent and the normalized rules.
const analysisPreamble = `You are reviewing a short clip from a home-security camera.
Describe what happens, then decide whether it matches the alert criteria below.
Respond with a single JSON object with fields: "label" (short category string),
"summary" (one or two sentences), "confidence" (0.0 to 1.0), "notify" (boolean),
"reason" (string), "matched_rules", "detected_entities", "detected_actions"
(lists of strings).`

// Router runs primary video-mode inference with image-mode fallback, and
// normalizes alert intents through a process-local rules cache.
type Router struct {
	primary  Provider
	fallback Provider
	cache    *rulesCache
	logger   *slog.Logger
}

// NewRouter builds a router. fallback may be nil, in which case primary
// failures bubble straight up.
func NewRouter(primary, fallback Provider) *Router {
	return &Router{
		primary:  primary,
		fallback: fallback,
		cache:    newRulesCache(),
		logger:   slog.Default().With("component", "inference-router"),
	}
}

// NormalizeIntent resolves a free-form alert prompt to its rule set, via
// cache when seen before. Primary provider first, then fallback, then the
// fixed default; whatever produced the rules is cached.
func (r *Router) NormalizeIntent(ctx context.Context, prompt string) Rules {
	if strings.TrimSpace(prompt) == "" {
		return defaultRules()
	}
	if cached, ok := r.cache.get(prompt); ok {
		return cached
	}

	rules, ok := r.normalizeWith(ctx, r.primary, prompt)
	if !ok && r.fallback != nil {
		rules, ok = r.normalizeWith(ctx, r.fallback, prompt)
	}
	if !ok {
		rules = defaultRules()
	}
	r.cache.put(prompt, rules)
	return rules
}

func (r *Router) normalizeWith(ctx context.Context, p Provider, prompt string) (Rules, bool) {
	if p == nil {
		return Rules{}, false
	}
	raw, err := p.CompleteText(ctx, normalizationSystemPrompt, prompt)
	if err != nil {
		r.logger.Warn("Intent normalization call failed",
			"provider", p.Name(), "error", err)
		return Rules{}, false
	}
	rules, ok := parseRules(raw)
	if !ok {
		r.logger.Warn("Intent normalization returned unparseable rules",
			"provider", p.Name())
	}
	return rules, ok
}

// buildAnalysisPrompt combines the preamble, the raw user intent, and the
// normalized rules JSON.
func buildAnalysisPrompt(userPrompt string, rules Rules) string {
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		rulesJSON = []byte("{}")
	}

	var b strings.Builder
	b.WriteString(analysisPreamble)
	if strings.TrimSpace(userPrompt) != "" {
		b.WriteString("\n\nUser alert instruction:\n")
		b.WriteString(userPrompt)
	}
	b.WriteString("\n\nNormalized alert rules:\n")
	b.Write(rulesJSON)
	return b.String()
}

// AnalyzeClip runs the full analysis: intent normalization, video-mode on
// the primary provider, image-mode fallback on failure. The fallback needs
// non-empty frames; without them the primary error bubbles.
func (r *Router) AnalyzeClip(ctx context.Context, req ClipRequest) (*Result, error) {
	rules := r.NormalizeIntent(ctx, req.UserPrompt)
	prompt := buildAnalysisPrompt(req.UserPrompt, rules)

	mime := NormalizeVideoMIME(req.ClipMIME)
	videoDataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(req.ClipBytes))

	raw, err := r.primary.AnalyzeVideo(ctx, prompt, videoDataURL)
	if err == nil {
		verdict := ParseVerdict(raw)
		return &Result{Verdict: verdict, Provider: r.primary.Name(), Model: r.primary.Model()}, nil
	}
	primaryErr := err
	r.logger.Warn("Primary video-mode inference failed",
		"event_id", req.EventID, "provider", r.primary.Name(), "error", err)

	if r.fallback == nil || len(req.Frames) == 0 {
		return nil, primaryErr
	}

	raw, err = r.fallback.AnalyzeImages(ctx, prompt, req.Frames)
	if err != nil {
		r.logger.Error("Fallback image-mode inference failed",
			"event_id", req.EventID, "provider", r.fallback.Name(), "error", err)
		return nil, err
	}
	verdict := ParseVerdict(raw)
	return &Result{Verdict: verdict, Provider: r.fallback.Name(), Model: r.fallback.Model()}, nil
}
