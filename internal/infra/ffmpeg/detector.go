package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/clipsense/scene-processing-service/internal/domain/entity"
	"github.com/clipsense/scene-processing-service/internal/domain/port"
)

// ptsTimeRe picks the presentation timestamp out of a showinfo
// diagnostic line. Everything else ffmpeg prints on stderr is noise.
var ptsTimeRe = regexp.MustCompile(`pts_time:([0-9.]+)`)

// SceneDetector finds shot boundaries with a single ffmpeg pass using
// the select/showinfo filter pair, then probes the media duration with
// ffprobe to close the trailing interval.
type SceneDetector struct {
	logger *zap.Logger
}

func NewSceneDetector(logger *zap.Logger) *SceneDetector {
	return &SceneDetector{logger: logger}
}

func (d *SceneDetector) DetectScenes(ctx context.Context, videoPath string, threshold float64, threads int) ([]entity.SceneInterval, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("%w: %s", port.ErrInputMissing, videoPath)
	}

	d.logger.Info("starting scene detection",
		zap.String("video", videoPath),
		zap.Float64("threshold", threshold),
	)

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", videoPath,
		"-vf", fmt.Sprintf("select='gt(scene,%g)',showinfo", threshold),
		"-threads", strconv.Itoa(threads),
		"-f", "null", "-",
	)
	// The per-frame diagnostics land on stderr; stdout is discarded
	// along with the null-muxed output.
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		d.logger.Error("ffmpeg scene pass failed",
			zap.Error(err),
			zap.String("stderr", tail(stderr.String(), 2000)),
		)
		return nil, fmt.Errorf("%w: %v", port.ErrDetectionFailed, err)
	}

	cuts := parseCutTimestamps(stderr.String())
	if len(cuts) == 0 {
		d.logger.Warn("no scene change detected", zap.String("video", videoPath))
		return []entity.SceneInterval{}, nil
	}
	// showinfo lines arrive in decode order, which is near-sorted but
	// not guaranteed; intervals require strictly ascending cuts.
	sort.Float64s(cuts)

	duration, err := d.probeDuration(ctx, videoPath)
	if err != nil {
		d.logger.Warn("could not probe media duration", zap.Error(err))
		duration = 0
	}

	intervals := entity.SynthesizeIntervals(cuts, duration)
	d.logger.Info("scene detection complete",
		zap.Int("scenes", len(intervals)),
		zap.Float64("duration", duration),
	)
	return intervals, nil
}

// parseCutTimestamps scans free-form ffmpeg diagnostics for showinfo
// lines and collects their pts_time values.
func parseCutTimestamps(diagnostics string) []float64 {
	var cuts []float64
	for _, line := range strings.Split(diagnostics, "\n") {
		if !strings.Contains(line, "showinfo") {
			continue
		}
		m := ptsTimeRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if ts, err := strconv.ParseFloat(m[1], 64); err == nil {
			cuts = append(cuts, ts)
		}
	}
	return cuts
}

func (d *SceneDetector) probeDuration(ctx context.Context, videoPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
