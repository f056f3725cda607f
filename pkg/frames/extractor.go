// Package frames extracts representative still frames from a video clip by
// shelling out to ffprobe/ffmpeg, and encodes them as base64 data URIs for
// image-mode inference.
package frames

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Extractor runs ffprobe/ffmpeg subprocesses to pull frames from a clip.
type Extractor struct {
	FFmpegPath  string
	FFprobePath string
	NumFrames   int
	// FrameDir, when set, keeps extracted frames on disk for debugging
	// instead of a throwaway temp directory.
	FrameDir string

	logger *slog.Logger
}

// NewExtractor builds an extractor with tool paths resolved from PATH.
func NewExtractor(numFrames int, frameDir string) *Extractor {
	if numFrames < 1 {
		numFrames = 1
	}
	return &Extractor{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		NumFrames:   numFrames,
		FrameDir:    frameDir,
		logger:      slog.Default().With("component", "frames"),
	}
}

// framePositions picks evenly spaced frame indexes. A single requested frame
// lands in the middle of the clip.
func framePositions(totalFrames, n int) []int {
	if totalFrames <= 0 || n <= 0 {
		return nil
	}
	if n == 1 {
		return []int{totalFrames / 2}
	}
	if n >= totalFrames {
		positions := make([]int, totalFrames)
		for i := range positions {
			positions[i] = i
		}
		return positions
	}
	step := totalFrames / (n + 1)
	if step == 0 {
		step = 1
	}
	positions := make([]int, 0, n)
	for i := 1; i <= n; i++ {
		pos := step * i
		if pos >= totalFrames {
			pos = totalFrames - 1
		}
		positions = append(positions, pos)
	}
	return positions
}

// countFrames asks ffprobe for the stream frame count. When the container
// does not carry the property, a sequential decode pass counts them.
func (e *Extractor) countFrames(ctx context.Context, videoPath string) (int, error) {
	out, err := exec.CommandContext(ctx, e.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=nb_frames",
		"-of", "default=nokey=1:noprint_wrappers=1",
		videoPath,
	).Output()
	if err == nil {
		if n, perr := strconv.Atoi(strings.TrimSpace(string(out))); perr == nil && n > 0 {
			return n, nil
		}
	}

	// Sequential scan. WebM clips routinely omit nb_frames.
	out, err = exec.CommandContext(ctx, e.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_frames",
		"-show_entries", "stream=nb_read_frames",
		"-of", "default=nokey=1:noprint_wrappers=1",
		videoPath,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe frame count failed: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("ffprobe returned no usable frame count: %q", strings.TrimSpace(string(out)))
	}
	return n, nil
}

// Extract decodes the clip and returns up to NumFrames JPEG data URIs.
// Callers treat failures as best-effort: the primary inference path sends
// the whole clip and does not need frames.
func (e *Extractor) Extract(ctx context.Context, videoPath string) ([]string, error) {
	total, err := e.countFrames(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	outDir := e.FrameDir
	if outDir == "" {
		tmp, err := os.MkdirTemp("", "pingwatch-frames-")
		if err != nil {
			return nil, fmt.Errorf("failed to create frame directory: %w", err)
		}
		outDir = tmp
		defer os.RemoveAll(tmp) //nolint:errcheck
	} else if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}

	var frames []string
	for i, pos := range framePositions(total, e.NumFrames) {
		outPath := filepath.Join(outDir, fmt.Sprintf("frame-%03d.jpg", i))
		cmd := exec.CommandContext(ctx, e.FFmpegPath,
			"-y",
			"-i", videoPath,
			"-vf", fmt.Sprintf("select=eq(n\\,%d)", pos),
			"-frames:v", "1",
			"-q:v", "4",
			outPath,
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			e.logger.Warn("Frame extraction failed for position",
				"position", pos, "error", err, "output", truncate(string(out), 300))
			continue
		}
		data, err := os.ReadFile(outPath)
		if err != nil {
			e.logger.Warn("Failed to read extracted frame", "path", outPath, "error", err)
			continue
		}
		frames = append(frames, "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString(data))
	}

	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames extracted from %s", filepath.Base(videoPath))
	}
	return frames, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
