package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/openreel/reelkit/logger"
)

// FrameExtractor pulls a single poster frame out of a video via ffmpeg.
type FrameExtractor struct {
	// FFmpeg is the binary name or path. Empty means "ffmpeg" from PATH.
	FFmpeg string
	// Timeout bounds each ffmpeg invocation.
	Timeout time.Duration
	// SeekSec is the primary seek offset.
	SeekSec float64
}

// NewFrameExtractor returns an extractor with defaults filled in.
func NewFrameExtractor(ffmpeg string, timeout time.Duration) *FrameExtractor {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &FrameExtractor{FFmpeg: ffmpeg, Timeout: timeout, SeekSec: 0.5}
}

// ExtractThumb writes a ThumbEdge JPEG poster frame of src to dst. Three
// seek strategies are tried in order: fast seek before the input (cheap but
// keyframe-dependent), accurate seek after the input, then a fixed 1s fast
// seek. The frame lands in a .tmp.jpg first and is promoted only after a
// non-empty file exists.
func (e *FrameExtractor) ExtractThumb(ctx context.Context, src, dst string) error {
	bin := e.FFmpeg
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}

	src, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	dst, err = filepath.Abs(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create thumbnail dir: %w", err)
	}

	tmpPath := dst + ".tmp.jpg"
	defer os.Remove(tmpPath)

	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		ThumbEdge, ThumbEdge, ThumbEdge, ThumbEdge,
	)
	tail := []string{
		"-an",
		"-frames:v", "1",
		"-vf", vf,
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"-f", "image2",
		tmpPath,
	}
	seek := fmt.Sprintf("%g", e.seekSec())

	attempts := [][]string{
		// fast seek: -ss before -i
		append([]string{"-hide_banner", "-loglevel", "error", "-y", "-ss", seek, "-i", src}, tail...),
		// accurate seek: -ss after -i
		append([]string{"-hide_banner", "-loglevel", "error", "-y", "-i", src, "-ss", seek}, tail...),
		// fallback for inputs whose first keyframe is late
		append([]string{"-hide_banner", "-loglevel", "error", "-y", "-ss", "1.0", "-i", src}, tail...),
	}

	var lastErr error
	for _, args := range attempts {
		if err := e.run(ctx, bin, args); err != nil {
			lastErr = err
		} else if fi, statErr := os.Stat(tmpPath); statErr == nil && fi.Size() > 0 {
			if err := os.Rename(tmpPath, dst); err != nil {
				return fmt.Errorf("promote thumbnail %s: %w", dst, err)
			}
			return nil
		}
		os.Remove(tmpPath)
	}

	logger.Warn("ffmpeg thumbnail failed", "src", src, "dst", dst, "error", lastErr)
	if lastErr == nil {
		lastErr = fmt.Errorf("ffmpeg produced no frame")
	}
	return lastErr
}

func (e *FrameExtractor) run(ctx context.Context, bin string, args []string) error {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin, args...)
	out, err := cmd.CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("timeout after %s", e.timeout())
	}
	if err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, string(out))
	}
	return nil
}

func (e *FrameExtractor) timeout() time.Duration {
	if e.Timeout <= 0 {
		return 20 * time.Second
	}
	return e.Timeout
}

func (e *FrameExtractor) seekSec() float64 {
	if e.SeekSec <= 0 {
		return 0.5
	}
	return e.SeekSec
}
