package scene

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	frameDirName = "scene_frames"
	clipDirName  = "cut_scenes"
)

// Layout is the per-video output tree. Every run is a clean rebuild:
// Prepare removes whatever a previous run left behind, Finalize prunes
// the sub-trees a partially-failed run left empty.
type Layout struct {
	BaseDir  string
	FrameDir string
	ClipDir  string
}

// PrepareLayout deletes any pre-existing output directory for this video
// and recreates <baseOutputDir>/<videoStem>/{scene_frames,cut_scenes}.
func PrepareLayout(baseOutputDir, videoStem string) (*Layout, error) {
	base := filepath.Join(baseOutputDir, videoStem)

	if _, err := os.Stat(base); err == nil {
		if err := os.RemoveAll(base); err != nil {
			return nil, fmt.Errorf("remove stale output dir %s: %w", base, err)
		}
	}

	l := &Layout{
		BaseDir:  base,
		FrameDir: filepath.Join(base, frameDirName),
		ClipDir:  filepath.Join(base, clipDirName),
	}
	for _, dir := range []string{l.FrameDir, l.ClipDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			// A half-created tree must not linger.
			_ = os.RemoveAll(base)
			return nil, fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}
	return l, nil
}

// FramePath returns the output path for the 1-based scene index.
func (l *Layout) FramePath(index int) string {
	return filepath.Join(l.FrameDir, fmt.Sprintf("frame_%02d.jpg", index))
}

// ClipPath returns the output path for the 1-based scene index, keeping
// the source container extension.
func (l *Layout) ClipPath(index int, sourceExt string) string {
	return filepath.Join(l.ClipDir, fmt.Sprintf("scene_%02d%s", index, sourceExt))
}

// Finalize removes the frame and clip directories if they ended up
// empty, then the per-video base directory if nothing remains in it.
func (l *Layout) Finalize() {
	for _, dir := range []string{l.FrameDir, l.ClipDir} {
		if dirIsEmpty(dir) {
			_ = os.RemoveAll(dir)
		}
	}
	if dirIsEmpty(l.BaseDir) {
		_ = os.RemoveAll(l.BaseDir)
	}
}

func dirIsEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	return len(entries) == 0
}
