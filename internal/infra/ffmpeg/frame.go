package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/clipsense/scene-processing-service/internal/domain/entity"
)

// FrameExtractor pulls a single still image out of a video with ffmpeg.
type FrameExtractor struct {
	logger *zap.Logger
}

func NewFrameExtractor(logger *zap.Logger) *FrameExtractor {
	return &FrameExtractor{logger: logger}
}

// ExtractFrame grabs exactly one frame at the given timecode at the
// highest still-image quality. The tool exiting zero is not enough: a
// zero-byte output still counts as failure.
func (e *FrameExtractor) ExtractFrame(ctx context.Context, videoPath string, at entity.Timecode, outPath string, threads int) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create frame dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-ss", at.String(),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-threads", strconv.Itoa(threads),
		"-loglevel", "warning",
		outPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		e.logger.Error("ffmpeg frame extraction failed",
			zap.Stringer("at", at),
			zap.String("output", tail(string(output), 1000)),
			zap.Error(err),
		)
		return fmt.Errorf("extract frame at %s: %w", at, err)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("frame not written at %s: %w", at, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("frame at %s is empty", at)
	}
	return nil
}
