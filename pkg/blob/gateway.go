package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ping-watch/pingwatch/pkg/config"
)

// Upload modes reported to the device in the initiate response.
const (
	ModeCloud = "cloud"
	ModeRelay = "relay"
)

// UploadTarget is what upload/initiate hands back to the device.
type UploadTarget struct {
	Mode      string
	UploadURL string
	BlobURL   string
	BlobName  string
	Container string
	ExpiresAt time.Time
}

// Gateway selects between the cloud backend and the local relay, signs
// upload and download URLs, and fetches clip bytes for the worker.
type Gateway struct {
	cfg    config.BlobConfig
	signer *SASSigner
	local  *LocalStore
	http   *http.Client
	logger *slog.Logger

	// publicBaseURL is this API's external base, used to build relay URLs.
	publicBaseURL string
}

// NewGateway builds a Gateway. Cloud mode stays disabled when the endpoint,
// account, or key is missing.
func NewGateway(cfg config.BlobConfig, publicBaseURL string) (*Gateway, error) {
	local, err := NewLocalStore(cfg.LocalUploadDir)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:           cfg,
		local:         local,
		http:          &http.Client{Timeout: cfg.RequestTimeout},
		logger:        slog.Default().With("component", "blob-gateway"),
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
	if cfg.Endpoint != "" && cfg.Account != "" && cfg.Key != "" {
		g.signer = &SASSigner{
			Account:   cfg.Account,
			Key:       cfg.Key,
			Container: cfg.Container,
			Version:   cfg.ServiceVersion,
			Protocol:  cfg.Protocol,
		}
	}
	return g, nil
}

// CloudEnabled reports whether cloud configuration is present.
func (g *Gateway) CloudEnabled() bool {
	return g.signer != nil
}

// Local exposes the relay store for the upload handler.
func (g *Gateway) Local() *LocalStore {
	return g.local
}

// PrepareUpload returns the upload target for an event: a signed cloud URL
// when cloud is configured and the container is reachable, the relay URL on
// this API otherwise.
func (g *Gateway) PrepareUpload(ctx context.Context, sessionID, eventID, clipMIME string) (*UploadTarget, error) {
	blobName := BlobName(sessionID, eventID, clipMIME)
	expiresAt := time.Now().Add(g.cfg.SASExpiry)

	if g.CloudEnabled() {
		if err := g.EnsureContainer(ctx); err != nil {
			// Container init is best-effort: fall back to the relay so the
			// device can still upload.
			g.logger.Warn("Container init failed, falling back to relay upload",
				"container", g.cfg.Container, "error", err)
		} else {
			sas, err := g.signer.BlobSAS(blobName, "cw", expiresAt)
			if err != nil {
				return nil, fmt.Errorf("failed to sign upload URL: %w", err)
			}
			blobURL := g.blobURL(blobName)
			return &UploadTarget{
				Mode:      ModeCloud,
				UploadURL: blobURL + "?" + sas,
				BlobURL:   blobURL,
				BlobName:  blobName,
				Container: g.cfg.Container,
				ExpiresAt: expiresAt,
			}, nil
		}
	}

	return &UploadTarget{
		Mode:      ModeRelay,
		UploadURL: fmt.Sprintf("%s/events/%s/upload", g.publicBaseURL, eventID),
		BlobURL:   "local://" + blobName,
		BlobName:  blobName,
		Container: "local",
		ExpiresAt: expiresAt,
	}, nil
}

// EnsureContainer creates the container when auto-create is enabled. An
// already-exists conflict counts as success.
func (g *Gateway) EnsureContainer(ctx context.Context) error {
	if !g.cfg.AutoCreate {
		return nil
	}

	reqURL := fmt.Sprintf("%s/%s?restype=container",
		strings.TrimRight(g.cfg.Endpoint, "/"), g.cfg.Container)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, nil)
	if err != nil {
		return err
	}

	date := httpDate(time.Now())
	canonicalResource := fmt.Sprintf("/%s/%s\nrestype:container", g.cfg.Account, g.cfg.Container)
	stringToSign := sharedKeyStringToSign(http.MethodPut, 0, date, g.cfg.ServiceVersion, canonicalResource)
	auth, err := signSharedKey(g.cfg.Account, g.cfg.Key, stringToSign)
	if err != nil {
		return err
	}

	req.Header.Set("x-ms-date", date)
	req.Header.Set("x-ms-version", g.cfg.ServiceVersion)
	req.Header.Set("Authorization", auth)

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("container create request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusAccepted, http.StatusNoContent, http.StatusConflict:
		return nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("container create returned %d: %s", resp.StatusCode, string(body))
	}
}

// Download fetches clip bytes. Container "local" (or a missing blob name)
// reads the relay store; cloud failures fall back to the relay as a last
// resort.
func (g *Gateway) Download(ctx context.Context, container, blobName string) ([]byte, error) {
	if blobName == "" {
		return nil, fmt.Errorf("event has no blob name")
	}
	if container == "local" || container == "" || !g.CloudEnabled() {
		return g.local.Read(blobName)
	}

	data, err := g.downloadCloud(ctx, blobName)
	if err == nil {
		return data, nil
	}
	g.logger.Warn("Cloud download failed, trying local fallback",
		"blob_name", blobName, "error", err)

	if local, lerr := g.local.Read(blobName); lerr == nil {
		return local, nil
	}
	return nil, err
}

func (g *Gateway) downloadCloud(ctx context.Context, blobName string) ([]byte, error) {
	sas, err := g.signer.BlobSAS(blobName, "r", time.Now().Add(g.cfg.SASExpiry))
	if err != nil {
		return nil, fmt.Errorf("failed to sign download URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.blobURL(blobName)+"?"+sas, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blob download request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blob download returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (g *Gateway) blobURL(blobName string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(g.cfg.Endpoint, "/"), g.cfg.Container, blobName)
}
