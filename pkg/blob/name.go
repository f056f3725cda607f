// Package blob moves clip bytes between devices, cloud object storage, and
// the local relay directory. Cloud access uses pre-signed URLs; the relay
// path stores files under a server-local root with traversal defense.
package blob

import (
	"fmt"
	"strings"
)

// extForMIME maps a normalized video MIME to a blob-name extension. Anything
// outside the allowlist gets no extension.
func extForMIME(mime string) string {
	base := strings.ToLower(strings.TrimSpace(mime))
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	switch base {
	case "video/webm":
		return ".webm"
	case "video/mp4":
		return ".mp4"
	default:
		return ""
	}
}

// BlobName builds the canonical clip location for an event.
func BlobName(sessionID, eventID, clipMIME string) string {
	return fmt.Sprintf("sessions/%s/events/%s%s", sessionID, eventID, extForMIME(clipMIME))
}
