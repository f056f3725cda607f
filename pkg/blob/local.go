package blob

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a blob name escapes the relay root.
var ErrPathTraversal = errors.New("blob name escapes upload root")

// LocalStore is the relay backend: clip files under a server-local root.
type LocalStore struct {
	root string
}

// NewLocalStore resolves the relay root directory.
func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload root: %w", err)
	}
	return &LocalStore{root: abs}, nil
}

// resolve joins blobName under the root and requires the canonicalized
// result to remain a descendant of the root.
func (l *LocalStore) resolve(blobName string) (string, error) {
	joined := filepath.Clean(filepath.Join(l.root, filepath.FromSlash(blobName)))
	if joined != l.root && !strings.HasPrefix(joined, l.root+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	if joined == l.root {
		return "", ErrPathTraversal
	}
	return joined, nil
}

// Write stores the clip bytes atomically (temp file + rename) and returns
// the hex MD5 of the content for use as an ETag. Nothing is written when the
// name fails traversal validation.
func (l *LocalStore) Write(blobName string, data []byte) (string, error) {
	path, err := l.resolve(blobName)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to write clip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to move clip into place: %w", err)
	}

	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// Read returns the clip bytes for a relayed blob.
func (l *LocalStore) Read(blobName string) ([]byte, error) {
	path, err := l.resolve(blobName)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("local clip %s: %w", blobName, os.ErrNotExist)
	}
	return data, err
}
