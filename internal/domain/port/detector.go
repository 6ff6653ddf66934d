package port

import (
	"context"
	"errors"

	"github.com/clipsense/scene-processing-service/internal/domain/entity"
)

// ErrInputMissing is returned before any external process is spawned when
// the source video does not exist.
var ErrInputMissing = errors.New("input video not found")

// ErrDetectionFailed is returned when the detection pass exits non-zero.
var ErrDetectionFailed = errors.New("scene detection failed")

// SceneDetector runs one detection pass over a whole video and returns
// ordered, contiguous scene intervals spanning [0, duration].
//
// An empty slice with a nil error means the pass succeeded but found no
// scene changes; that is not a failure. Implementations own the parsing
// of whatever diagnostic text their backing tool emits, so tests can
// substitute a fake without spawning processes.
type SceneDetector interface {
	DetectScenes(ctx context.Context, videoPath string, threshold float64, threads int) ([]entity.SceneInterval, error)
}
