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

// ClipCutter re-encodes a time range of a video into a standalone file.
type ClipCutter struct {
	logger *zap.Logger
}

func NewClipCutter(logger *zap.Logger) *ClipCutter {
	return &ClipCutter{logger: logger}
}

// CutClip re-encodes [start, end) with libx264 and copies the source
// audio track through unmodified. On failure any partially-written
// output is deleted so no corrupt clip survives the run.
func (c *ClipCutter) CutClip(ctx context.Context, videoPath string, start, end entity.Timecode, outPath string, threads int) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create clip dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-i", videoPath,
		"-ss", start.String(),
		"-to", end.String(),
		"-c:v", "libx264",
		"-c:a", "copy",
		"-threads", strconv.Itoa(threads),
		"-loglevel", "warning",
		outPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Error("ffmpeg clip cut failed",
			zap.Stringer("start", start),
			zap.Stringer("end", end),
			zap.String("output", tail(string(output), 1000)),
			zap.Error(err),
		)
		if _, statErr := os.Stat(outPath); statErr == nil {
			_ = os.Remove(outPath)
		}
		return fmt.Errorf("cut clip %s-%s: %w", start, end, err)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("clip not written for %s-%s: %w", start, end, err)
	}
	if info.Size() == 0 {
		_ = os.Remove(outPath)
		return fmt.Errorf("clip %s-%s is empty", start, end)
	}
	return nil
}
