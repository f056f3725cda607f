package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// sasTimeFormat is the timestamp layout accepted in SAS expiry fields.
const sasTimeFormat = "2006-01-02T15:04:05Z"

// SASSigner produces service-level shared access signatures for single
// blobs. The account key is the base64 value handed out by the provider.
type SASSigner struct {
	Account   string
	Key       string
	Container string
	Version   string
	Protocol  string
}

// BlobSAS returns the signed query string (no leading "?") granting the
// given permissions on one blob until expiry.
//
// The string-to-sign is the fixed 16-line canonical form: permissions,
// start (unused), expiry, canonicalized resource, identifier, IP, protocol,
// version, resource type, snapshot, encryption scope, and the five response
// header overrides, all unused fields left empty.
func (s *SASSigner) BlobSAS(blobName, permissions string, expiry time.Time) (string, error) {
	key, err := base64.StdEncoding.DecodeString(s.Key)
	if err != nil {
		return "", fmt.Errorf("invalid account key: %w", err)
	}

	expiryStr := expiry.UTC().Format(sasTimeFormat)
	canonicalResource := fmt.Sprintf("/blob/%s/%s/%s", s.Account, s.Container, blobName)

	stringToSign := strings.Join([]string{
		permissions,
		"", // start
		expiryStr,
		canonicalResource,
		"", // identifier
		"", // IP range
		s.Protocol,
		s.Version,
		"b", // resource: blob
		"",  // snapshot
		"",  // encryption scope
		"",  // rscc
		"",  // rscd
		"",  // rsce
		"",  // rscl
		"",  // rsct
	}, "\n")

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	q := url.Values{}
	q.Set("sv", s.Version)
	q.Set("se", expiryStr)
	q.Set("sp", permissions)
	q.Set("sr", "b")
	q.Set("spr", s.Protocol)
	q.Set("sig", signature)
	return q.Encode(), nil
}
