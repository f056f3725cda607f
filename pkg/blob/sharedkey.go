package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// sharedKeyStringToSign builds the canonical request representation for
// shared-key authorization. The Content-Length line is exactly empty when
// the body is empty, never "0".
func sharedKeyStringToSign(verb string, contentLength int64, date, version, canonicalResource string) string {
	lengthStr := ""
	if contentLength > 0 {
		lengthStr = strconv.FormatInt(contentLength, 10)
	}

	canonicalHeaders := fmt.Sprintf("x-ms-date:%s\nx-ms-version:%s\n", date, version)

	return strings.Join([]string{
		verb,
		"", // Content-Encoding
		"", // Content-Language
		lengthStr,
		"", // Content-MD5
		"", // Content-Type
		"", // Date (x-ms-date is used instead)
		"", // If-Modified-Since
		"", // If-Match
		"", // If-None-Match
		"", // If-Unmodified-Since
		"", // Range
		canonicalHeaders + canonicalResource,
	}, "\n")
}

// signSharedKey computes the Authorization header value for a request.
func signSharedKey(account, key, stringToSign string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("invalid account key: %w", err)
	}
	mac := hmac.New(sha256.New, decoded)
	mac.Write([]byte(stringToSign))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("SharedKey %s:%s", account, sig), nil
}

// httpDate formats t for the x-ms-date header.
func httpDate(t time.Time) string {
	return t.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
}
