package inference

import (
	"encoding/json"
	"strings"
	"sync"
)

// rulesCacheCapacity bounds the prompt → rules cache. On overflow the whole
// map is cleared; the cost is one extra normalization per distinct prompt.
const rulesCacheCapacity = 256

// normalizationSystemPrompt demands a strict JSON rule set from the model.
const normalizationSystemPrompt = `You convert a home-security alert instruction into a JSON rule set.
Respond with a single JSON object and nothing else, with exactly these fields:
"target_entities" (list of strings), "target_actions" (list of strings),
"locations" (list of strings), "time_constraints" (list of strings),
"ignore_conditions" (list of strings), "sensitivity" ("low", "medium" or "high").
Unknown or missing values become empty lists and "medium" sensitivity.`

// defaultRules is used when both providers fail to normalize a prompt.
func defaultRules() Rules {
	return Rules{
		TargetEntities:   []string{},
		TargetActions:    []string{},
		Locations:        []string{},
		TimeConstraints:  []string{},
		IgnoreConditions: []string{},
		Sensitivity:      "medium",
	}
}

// sanitizeRules coerces unknown values to defaults.
func sanitizeRules(r Rules) Rules {
	if r.TargetEntities == nil {
		r.TargetEntities = []string{}
	}
	if r.TargetActions == nil {
		r.TargetActions = []string{}
	}
	if r.Locations == nil {
		r.Locations = []string{}
	}
	if r.TimeConstraints == nil {
		r.TimeConstraints = []string{}
	}
	if r.IgnoreConditions == nil {
		r.IgnoreConditions = []string{}
	}
	switch r.Sensitivity {
	case "low", "medium", "high":
	default:
		r.Sensitivity = "medium"
	}
	return r
}

// parseRules extracts a rule set from a model response, tolerating prose
// around the JSON object.
func parseRules(raw string) (Rules, bool) {
	candidate := extractJSONObject(raw)
	if candidate == "" {
		return Rules{}, false
	}
	var r Rules
	if err := json.Unmarshal([]byte(candidate), &r); err != nil {
		return Rules{}, false
	}
	return sanitizeRules(r), true
}

// rulesCache is the process-local prompt → rules map. Keys are trimmed and
// lowercased. Read-mostly; tolerates loss on restart.
type rulesCache struct {
	mu    sync.Mutex
	rules map[string]Rules
}

func newRulesCache() *rulesCache {
	return &rulesCache{rules: make(map[string]Rules)}
}

// cacheKey canonicalizes a user prompt for lookup.
func cacheKey(prompt string) string {
	return strings.ToLower(strings.TrimSpace(prompt))
}

func (c *rulesCache) get(prompt string) (Rules, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rules[cacheKey(prompt)]
	return r, ok
}

func (c *rulesCache) put(prompt string, r Rules) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.rules) >= rulesCacheCapacity {
		c.rules = make(map[string]Rules)
	}
	c.rules[cacheKey(prompt)] = r
}
