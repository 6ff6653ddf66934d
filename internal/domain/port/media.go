package port

import (
	"context"

	"github.com/clipsense/scene-processing-service/internal/domain/entity"
)

// FrameExtractor pulls one representative still image at a timecode.
// Success requires both a zero exit from the tool and a non-empty file.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, videoPath string, at entity.Timecode, outPath string, threads int) error
}

// ClipCutter re-encodes a bounded time range into a standalone clip,
// carrying the source audio through unchanged. A partially-written
// output is removed on failure.
type ClipCutter interface {
	CutClip(ctx context.Context, videoPath string, start, end entity.Timecode, outPath string, threads int) error
}
