// Package worker processes clip jobs: download, frame extraction,
// inference, verdict writeback, and notification dispatch.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/ping-watch/pingwatch/pkg/blob"
	"github.com/ping-watch/pingwatch/pkg/config"
	"github.com/ping-watch/pingwatch/pkg/frames"
	"github.com/ping-watch/pingwatch/pkg/inference"
	"github.com/ping-watch/pingwatch/pkg/models"
	"github.com/ping-watch/pingwatch/pkg/notify"
	"github.com/ping-watch/pingwatch/pkg/queue"
)

// ClipJobName is the queue job type for uploaded clips.
const ClipJobName = "process_clip"

// ClipJobPayload is the enqueue payload written at finalize time. The
// session id is what cancellation scans match on.
type ClipJobPayload struct {
	EventID        string  `json:"event_id"`
	SessionID      string  `json:"session_id"`
	DeviceID       string  `json:"device_id"`
	ClipContainer  string  `json:"clip_container"`
	ClipBlobName   string  `json:"clip_blob_name"`
	ClipMIME       string  `json:"clip_mime"`
	ClipURI        string  `json:"clip_uri"`
	AnalysisPrompt *string `json:"analysis_prompt,omitempty"`
}

// Analyzer is the inference surface the processor needs.
type Analyzer interface {
	AnalyzeClip(ctx context.Context, req inference.ClipRequest) (*inference.Result, error)
}

// FrameExtractor decodes a clip file into image data URIs.
type FrameExtractor interface {
	Extract(ctx context.Context, videoPath string) ([]string, error)
}

// Downloader fetches clip bytes from the blob gateway.
type Downloader interface {
	Download(ctx context.Context, container, blobName string) ([]byte, error)
}

// Processor executes clip jobs. One instance is shared by all workers;
// inference calls run sequentially within each worker.
type Processor struct {
	blobs      Downloader
	frames     FrameExtractor
	router     Analyzer
	dispatcher *notify.Dispatcher

	apiBase     string
	workerToken string
	testMode    bool

	http   *http.Client
	logger *slog.Logger
}

// NewProcessor wires the full pipeline from configuration.
func NewProcessor(cfg *config.Config, gateway *blob.Gateway, router Analyzer, dispatcher *notify.Dispatcher) *Processor {
	return &Processor{
		blobs:       gateway,
		frames:      frames.NewExtractor(cfg.Inference.NumFrames, cfg.Inference.FrameDir),
		router:      router,
		dispatcher:  dispatcher,
		apiBase:     strings.TrimRight(cfg.Server.PublicBaseURL, "/"),
		workerToken: cfg.Auth.WorkerToken,
		testMode:    cfg.TestMode,
		http:        &http.Client{Timeout: cfg.Inference.Timeout},
		logger:      slog.Default().With("component", "clip-processor"),
	}
}

// Execute runs one clip job. Failures after download are converted into a
// terminal error summary so the event still reaches done; there is no
// automatic retry.
func (p *Processor) Execute(ctx context.Context, job *queue.Job) error {
	var payload ClipJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("undecodable clip job payload: %w", err)
	}
	if payload.EventID == "" {
		return errors.New("clip job has no event_id")
	}

	logger := p.logger.With("event_id", payload.EventID, "session_id", payload.SessionID)

	if p.testMode {
		summary := models.EventSummaryParams{
			Summary:      fmt.Sprintf("Critical flow test summary for event %s", payload.EventID),
			Label:        strPtr("test"),
			Confidence:   floatPtr(1.0),
			ShouldNotify: boolPtr(true),
		}
		if err := p.postSummary(ctx, payload.EventID, summary); err != nil {
			return err
		}
		logger.Info("Test mode summary written")
		return nil
	}

	result, procErr := p.process(ctx, logger, payload)
	if procErr != nil {
		logger.Error("Clip processing failed, writing error summary", "error", procErr)
		errText := procErr.Error()
		if len(errText) > 200 {
			errText = errText[:200]
		}
		summary := models.EventSummaryParams{
			Summary:      "Processing failed: " + errText,
			Label:        strPtr("error"),
			Confidence:   floatPtr(0.0),
			ShouldNotify: boolPtr(false),
		}
		if err := p.postSummary(ctx, payload.EventID, summary); err != nil {
			return fmt.Errorf("error summary writeback failed: %w (original: %v)", err, procErr)
		}
		return nil
	}

	summary := models.EventSummaryParams{
		Summary:           result.Summary,
		Label:             strPtr(result.Label),
		Confidence:        floatPtr(result.Confidence),
		InferenceProvider: strPtr(result.Provider),
		InferenceModel:    strPtr(result.Model),
		ShouldNotify:      boolPtr(result.ShouldNotify),
		AlertReason:       strPtr(result.AlertReason),
		MatchedRules:      result.MatchedRules,
		DetectedEntities:  result.DetectedEntities,
		DetectedActions:   result.DetectedActions,
	}
	if err := p.postSummary(ctx, payload.EventID, summary); err != nil {
		return err
	}

	if result.ShouldNotify && p.dispatcher != nil {
		conf := result.Confidence
		dres := p.dispatcher.Dispatch(ctx, notify.Payload{
			EventID:     payload.EventID,
			SessionID:   payload.SessionID,
			DeviceID:    payload.DeviceID,
			Label:       result.Label,
			Summary:     result.Summary,
			Confidence:  &conf,
			AlertReason: result.AlertReason,
			ClipURI:     payload.ClipURI,
			ClipMIME:    payload.ClipMIME,
			Provider:    result.Provider,
			Model:       result.Model,
			ClipBytes:   result.clipBytes,
		})
		logger.Info("Notification dispatched",
			"telegram_sent", dres.TelegramSent, "webhook_sent", dres.WebhookSent)
	}
	return nil
}

// process covers the fallible middle of the pipeline: download, frame
// extraction (best effort), and inference.
func (p *Processor) process(ctx context.Context, logger *slog.Logger, payload ClipJobPayload) (*processResult, error) {
	clip, err := p.blobs.Download(ctx, payload.ClipContainer, payload.ClipBlobName)
	if err != nil {
		return nil, fmt.Errorf("clip download failed: %w", err)
	}

	frameURIs := p.extractFrames(ctx, logger, payload, clip)

	prompt := ""
	if payload.AnalysisPrompt != nil {
		prompt = *payload.AnalysisPrompt
	}

	result, err := p.router.AnalyzeClip(ctx, inference.ClipRequest{
		EventID:    payload.EventID,
		ClipBytes:  clip,
		ClipMIME:   payload.ClipMIME,
		Frames:     frameURIs,
		UserPrompt: prompt,
	})
	if err != nil {
		if errors.Is(err, inference.ErrUpstreamAuth) {
			logger.Error("Inference provider rejected credentials", "error", err)
		}
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return &processResult{Result: result, clipBytes: clip}, nil
}

type processResult struct {
	*inference.Result
	clipBytes []byte
}

// extractFrames writes the clip to a temp file and runs the extractor.
// Failure is logged, not fatal: the primary inference path is video-mode.
func (p *Processor) extractFrames(ctx context.Context, logger *slog.Logger, payload ClipJobPayload, clip []byte) []string {
	tmp, err := os.CreateTemp("", "pingwatch-clip-*"+extForMIME(payload.ClipMIME))
	if err != nil {
		logger.Warn("Could not stage clip for frame extraction", "error", err)
		return nil
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(clip); err != nil {
		_ = tmp.Close()
		logger.Warn("Could not stage clip for frame extraction", "error", err)
		return nil
	}
	_ = tmp.Close()

	frameURIs, err := p.frames.Extract(ctx, tmp.Name())
	if err != nil {
		logger.Warn("Frame extraction failed, continuing without frames", "error", err)
		return nil
	}
	return frameURIs
}

// postSummary writes the verdict back through the control API. This is the
// single atomic commit point for the job.
func (p *Processor) postSummary(ctx context.Context, eventID string, summary models.EventSummaryParams) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	url := fmt.Sprintf("%s/events/%s/summary", p.apiBase, eventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.workerToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.workerToken)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("summary writeback failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("summary writeback returned %d", resp.StatusCode)
	}
	return nil
}

func extForMIME(mime string) string {
	switch inference.NormalizeVideoMIME(mime) {
	case "video/mp4":
		return ".mp4"
	default:
		return ".webm"
	}
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool        { return &b }
