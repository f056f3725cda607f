package inference

import "strings"

// allowedVideoMIMEs is the set accepted for the video data URL and for any
// Telegram upload.
var allowedVideoMIMEs = map[string]bool{
	"video/webm":      true,
	"video/mp4":       true,
	"video/quicktime": true,
}

// NormalizeVideoMIME strips parameters (";codecs=..."), lowercases, and
// restricts to the allowlist, defaulting to video/webm.
func NormalizeVideoMIME(mime string) string {
	base := strings.TrimSpace(strings.ToLower(mime))
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if allowedVideoMIMEs[base] {
		return base
	}
	return "video/webm"
}
