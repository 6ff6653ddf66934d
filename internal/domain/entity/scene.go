package entity

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Timecode is an HH:MM:SS.mmm offset into a video. Milliseconds are
// truncated, never rounded, so a timecode never points past the instant
// it was derived from. Hours are unbounded.
type Timecode string

// FormatTimecode converts seconds to a Timecode.
func FormatTimecode(seconds float64) Timecode {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(math.Floor(seconds * 1000.0))

	hours := totalMillis / 3_600_000
	minutes := (totalMillis % 3_600_000) / 60_000
	secs := (totalMillis % 60_000) / 1000
	millis := totalMillis % 1000

	return Timecode(fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, secs, millis))
}

// Seconds parses the timecode back to seconds.
func (t Timecode) Seconds() (float64, error) {
	parts := strings.Split(string(t), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed timecode %q", string(t))
	}
	hours, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed timecode %q: %w", string(t), err)
	}
	minutes, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed timecode %q: %w", string(t), err)
	}
	secs, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("malformed timecode %q: %w", string(t), err)
	}
	return float64(hours)*3600 + float64(minutes)*60 + secs, nil
}

func (t Timecode) String() string { return string(t) }

// SceneInterval is one continuous shot, bounded by two timecodes.
// Index is 1-based and assigned at synthesis time; it is carried through
// to the output filenames.
type SceneInterval struct {
	Index int
	Start Timecode
	End   Timecode
}

// SynthesizeIntervals turns ascending cut timestamps into contiguous,
// non-overlapping intervals starting at 0.0. A trailing interval up to
// the media duration is appended only when the duration lies strictly
// past the last cut; duration 0 means the probe failed and no trailing
// interval is added. Cuts at or before the running start are dropped so
// every interval keeps start < end.
func SynthesizeIntervals(cuts []float64, duration float64) []SceneInterval {
	if len(cuts) == 0 {
		return nil
	}
	intervals := make([]SceneInterval, 0, len(cuts)+1)
	prev := 0.0
	for _, cut := range cuts {
		if cut <= prev {
			continue
		}
		intervals = append(intervals, SceneInterval{
			Index: len(intervals) + 1,
			Start: FormatTimecode(prev),
			End:   FormatTimecode(cut),
		})
		prev = cut
	}
	if duration > prev {
		intervals = append(intervals, SceneInterval{
			Index: len(intervals) + 1,
			Start: FormatTimecode(prev),
			End:   FormatTimecode(duration),
		})
	}
	return intervals
}

// SceneJob is the immutable unit of per-scene work: extract one
// representative frame and cut one standalone clip. Jobs share nothing
// mutable; output paths are disjoint by construction.
type SceneJob struct {
	VideoPath string
	Interval  SceneInterval
	FramePath string
	ClipPath  string
	Threads   int
}

// SceneJobResult records what a single job produced. Results are indexed
// by submission order, never by completion order.
type SceneJobResult struct {
	FrameOK bool
	ClipOK  bool
}

// Produced reports whether the job yielded at least one usable artifact.
func (r SceneJobResult) Produced() bool { return r.FrameOK || r.ClipOK }

// Outcome is the terminal state of one video's segmentation run.
type Outcome int

const (
	// OutcomeSuccess: every scene job produced at least one artifact.
	OutcomeSuccess Outcome = iota
	// OutcomePartial: some but not all scene jobs produced an artifact.
	OutcomePartial
	// OutcomeNoScenes: detection succeeded but found nothing to do.
	OutcomeNoScenes
	// OutcomeAllJobsFailed: scenes existed but no job produced anything.
	OutcomeAllJobsFailed
	// OutcomeInputMissing: the source video does not exist.
	OutcomeInputMissing
	// OutcomeDetectionFailed: the detection pass exited non-zero.
	OutcomeDetectionFailed
	// OutcomeDirectoryError: the output tree could not be prepared.
	OutcomeDirectoryError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartial:
		return "partial_success"
	case OutcomeNoScenes:
		return "no_scenes"
	case OutcomeAllJobsFailed:
		return "all_jobs_failed"
	case OutcomeInputMissing:
		return "input_missing"
	case OutcomeDetectionFailed:
		return "detection_failed"
	case OutcomeDirectoryError:
		return "directory_error"
	default:
		return "unknown"
	}
}

// Succeeded distinguishes "done, possibly with nothing to show" from
// "attempted and failed". NoScenes is deliberately a success: an empty
// video is not an error, while all jobs failing on detected scenes is.
func (o Outcome) Succeeded() bool {
	switch o {
	case OutcomeSuccess, OutcomePartial, OutcomeNoScenes:
		return true
	default:
		return false
	}
}
