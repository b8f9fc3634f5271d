package evidence

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// CaptureError reports a failed evidence capture. It is scoped to a single
// directive; sibling directives in the same response proceed regardless.
type CaptureError struct {
	Timestamp string
	Reason    string
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("evidence capture at %s failed: %s", e.Timestamp, e.Reason)
}

// Engine renders annotated still frames from buffered session media. Seeks
// go through one shared decode path, so captures for a response must run one
// at a time.
type Engine struct {
	ffmpegPath string
	tempDir    string
}

func NewEngine() (*Engine, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	tempDir := filepath.Join(os.TempDir(), "spectator-frames")
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	slog.Debug("evidence engine ready", "ffmpeg", ffmpegPath, "temp_dir", tempDir)

	return &Engine{
		ffmpegPath: ffmpegPath,
		tempDir:    tempDir,
	}, nil
}

// Capture seeks videoPath to the directive's offset, renders the frame at
// native resolution and applies the evidence overlay. Zoom captures re-render
// a centered crop back up to full frame size with a timestamp label.
func (e *Engine) Capture(ctx context.Context, videoPath string, d Directive) ([]byte, error) {
	if videoPath == "" {
		return nil, &CaptureError{Timestamp: d.Timestamp(), Reason: "no media buffered"}
	}
	if _, err := os.Stat(videoPath); err != nil {
		return nil, &CaptureError{Timestamp: d.Timestamp(), Reason: fmt.Sprintf("media not accessible: %v", err)}
	}

	duration, err := e.videoDuration(ctx, videoPath)
	if err != nil {
		return nil, &CaptureError{Timestamp: d.Timestamp(), Reason: fmt.Sprintf("duration probe failed: %v", err)}
	}

	offset := d.OffsetSeconds()
	if offset > duration {
		return nil, &CaptureError{
			Timestamp: d.Timestamp(),
			Reason:    fmt.Sprintf("offset %.0fs exceeds media duration %.2fs", offset, duration),
		}
	}

	frame, err := e.extractFrame(ctx, videoPath, offset)
	if err != nil {
		return nil, &CaptureError{Timestamp: d.Timestamp(), Reason: err.Error()}
	}

	var annotated image.Image
	if d.Kind == KindZoom {
		annotated = annotateZoom(frame, "ZOOM TARGET // "+d.Timestamp())
	} else {
		annotated = annotateStandard(frame)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, annotated, &jpeg.Options{Quality: 85}); err != nil {
		return nil, &CaptureError{Timestamp: d.Timestamp(), Reason: fmt.Sprintf("encode failed: %v", err)}
	}

	return buf.Bytes(), nil
}

func (e *Engine) videoDuration(ctx context.Context, videoPath string) (float64, error) {
	// ffprobe gives the cleanest answer when present.
	if ffprobePath, err := exec.LookPath("ffprobe"); err == nil {
		cmd := exec.CommandContext(ctx, ffprobePath,
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			videoPath)

		var stdout bytes.Buffer
		cmd.Stdout = &stdout

		if err := cmd.Run(); err == nil {
			durationStr := strings.TrimSpace(stdout.String())
			if duration, err := strconv.ParseFloat(durationStr, 64); err == nil && duration > 0 {
				return duration, nil
			}
		}
	}

	// Fallback: parse the Duration line from ffmpeg's stderr.
	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-i", videoPath,
		"-f", "null",
		"-")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run()

	output := stderr.String()
	durationPrefix := "Duration: "
	startIndex := strings.Index(output, durationPrefix)
	if startIndex == -1 {
		return 0, fmt.Errorf("duration not found in ffmpeg output")
	}

	startIndex += len(durationPrefix)
	endIndex := strings.Index(output[startIndex:], ",")
	if endIndex == -1 {
		return 0, fmt.Errorf("invalid duration format")
	}

	parts := strings.Split(output[startIndex:startIndex+endIndex], ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid duration format: %s", output[startIndex:startIndex+endIndex])
	}

	hours, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, err
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, err
	}

	return hours*3600 + minutes*60 + seconds, nil
}

func (e *Engine) extractFrame(ctx context.Context, videoPath string, offset float64) (image.Image, error) {
	tempFile := filepath.Join(e.tempDir, fmt.Sprintf("frame_%f.jpg", offset))
	defer os.Remove(tempFile)

	// Native resolution: no scale filter, one frame at the seek target.
	args := []string{
		"-ss", fmt.Sprintf("%.2f", offset),
		"-i", videoPath,
		"-vframes", "1",
		"-q:v", "2",
		"-f", "mjpeg",
		tempFile,
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		slog.Debug("ffmpeg frame extraction failed", "stderr", stderr.String())
		return nil, fmt.Errorf("failed to extract frame at %.2f: %w", offset, err)
	}

	file, err := os.Open(tempFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open extracted frame: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	return img, nil
}

func (e *Engine) Cleanup() error {
	return os.RemoveAll(e.tempDir)
}
