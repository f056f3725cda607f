package inference

import (
	"encoding/json"
	"strings"
)

// extractJSONObject returns the outermost {...} block in text, tolerating
// surrounding prose and code fences. Empty string when none is found.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// rawVerdict mirrors the fields the model is asked for, with the loose
// types free-form JSON tends to produce.
type rawVerdict struct {
	Label            string   `json:"label"`
	Summary          string   `json:"summary"`
	Confidence       float64  `json:"confidence"`
	Notify           any      `json:"notify"`
	Reason           string   `json:"reason"`
	MatchedRules     []string `json:"matched_rules"`
	DetectedEntities []string `json:"detected_entities"`
	DetectedActions  []string `json:"detected_actions"`
}

// Default reasons when the model omits one.
const (
	reasonMatched   = "Matched configured alert criteria"
	reasonNoMatch   = "No alert criteria matched"
	degradedSummary = 500
)

// ParseVerdict interprets a model response. JSON may be pure or embedded in
// prose; anything unparseable degrades to an unknown-label verdict carrying
// the raw text.
func ParseVerdict(raw string) Verdict {
	candidate := extractJSONObject(raw)
	if candidate != "" {
		var rv rawVerdict
		if err := json.Unmarshal([]byte(candidate), &rv); err == nil && rv.Summary != "" {
			notify, notifySet := coerceBool(rv.Notify)
			if !notifySet {
				notify = len(rv.MatchedRules) > 0
			}
			reason := rv.Reason
			if reason == "" {
				if notify {
					reason = reasonMatched
				} else {
					reason = reasonNoMatch
				}
			}
			label := rv.Label
			if label == "" {
				label = "unknown"
			}
			return Verdict{
				Label:            label,
				Summary:          rv.Summary,
				Confidence:       rv.Confidence,
				ShouldNotify:     notify,
				AlertReason:      reason,
				MatchedRules:     rv.MatchedRules,
				DetectedEntities: rv.DetectedEntities,
				DetectedActions:  rv.DetectedActions,
			}
		}
	}

	summary := strings.TrimSpace(raw)
	if len(summary) > degradedSummary {
		summary = summary[:degradedSummary]
	}
	return Verdict{
		Label:        "unknown",
		Summary:      summary,
		Confidence:   0.5,
		ShouldNotify: false,
		AlertReason:  reasonNoMatch,
	}
}

// coerceBool interprets the notify field, which models emit as bool, int,
// or not at all.
func coerceBool(v any) (value, ok bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	}
	return false, false
}
