package scene

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/clipsense/scene-processing-service/internal/domain/entity"
	"github.com/clipsense/scene-processing-service/internal/domain/port"
)

// Options tunes one segmentation run.
type Options struct {
	// Threshold is the scene-change score a frame must strictly exceed
	// to count as a cut, in [0,1]. Lower values yield more scenes.
	Threshold float64
	// ThreadsPerJob is passed to each external tool invocation;
	// 0 lets the tool pick.
	ThreadsPerJob int
	// WorkerCount bounds the job pool; 0 means one worker per logical core.
	WorkerCount int
}

// Report summarizes one segmentation run.
type Report struct {
	Outcome    entity.Outcome
	SceneCount int
	FrameCount int
	ClipCount  int
	// Duration is the media duration in seconds, as covered by the
	// detected intervals. Zero when no scenes were found.
	Duration float64
	// FramePaths and ClipPaths list only the artifacts that were
	// actually produced, in scene order.
	FramePaths []string
	ClipPaths  []string
}

// Succeeded reports whether the run reached a successful terminal state.
// "No scenes detected" counts as success; "scenes detected but every job
// failed" does not.
func (r *Report) Succeeded() bool { return r.Outcome.Succeeded() }

// Processor orchestrates one video's segmentation: boundary detection,
// then a bounded pool of per-scene jobs, each extracting a frame and
// cutting a clip through external tools. Collaborators are injected so
// the pipeline can run against fakes in tests.
type Processor struct {
	detector  port.SceneDetector
	extractor port.FrameExtractor
	cutter    port.ClipCutter
	log       *zap.Logger
}

func NewProcessor(detector port.SceneDetector, extractor port.FrameExtractor, cutter port.ClipCutter, log *zap.Logger) *Processor {
	return &Processor{
		detector:  detector,
		extractor: extractor,
		cutter:    cutter,
		log:       log,
	}
}

// Process segments videoPath into <baseOutputDir>/<stem>/scene_frames
// and .../cut_scenes. The report's Outcome is always set; it is the
// single source of truth for what happened to this video.
func (p *Processor) Process(ctx context.Context, videoPath, baseOutputDir string, opts Options) *Report {
	log := p.log.With(zap.String("video", videoPath))

	if _, err := os.Stat(videoPath); err != nil {
		log.Error("video file not found, skipping")
		return &Report{Outcome: entity.OutcomeInputMissing}
	}

	stem := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	layout, err := PrepareLayout(baseOutputDir, stem)
	if err != nil {
		log.Error("could not prepare output layout", zap.Error(err))
		return &Report{Outcome: entity.OutcomeDirectoryError}
	}

	intervals, err := p.detector.DetectScenes(ctx, videoPath, opts.Threshold, opts.ThreadsPerJob)
	if err != nil {
		log.Error("scene detection failed", zap.Error(err))
		layout.Finalize()
		if errors.Is(err, port.ErrInputMissing) {
			return &Report{Outcome: entity.OutcomeInputMissing}
		}
		return &Report{Outcome: entity.OutcomeDetectionFailed}
	}

	if len(intervals) == 0 {
		log.Warn("no scenes detected", zap.Float64("threshold", opts.Threshold))
		layout.Finalize()
		return &Report{Outcome: entity.OutcomeNoScenes}
	}

	jobs := p.buildJobs(videoPath, layout, intervals, opts.ThreadsPerJob)
	workers := poolSize(opts.WorkerCount, opts.ThreadsPerJob, runtime.NumCPU(), len(jobs))
	log.Info("processing scenes",
		zap.Int("scenes", len(jobs)),
		zap.Int("workers", workers),
	)

	results := p.dispatch(ctx, jobs, workers)

	report := &Report{
		Outcome:    aggregate(results),
		SceneCount: len(jobs),
	}
	produced := 0
	for i, res := range results {
		if res.FrameOK {
			report.FrameCount++
			report.FramePaths = append(report.FramePaths, jobs[i].FramePath)
		}
		if res.ClipOK {
			report.ClipCount++
			report.ClipPaths = append(report.ClipPaths, jobs[i].ClipPath)
		}
		if res.Produced() {
			produced++
		}
	}
	if secs, err := intervals[len(intervals)-1].End.Seconds(); err == nil {
		report.Duration = secs
	}

	layout.Finalize()

	log.Info("scene processing finished",
		zap.Stringer("outcome", report.Outcome),
		zap.Int("frames", report.FrameCount),
		zap.Int("clips", report.ClipCount),
		zap.Int("scenes", report.SceneCount),
	)
	return report
}

func (p *Processor) buildJobs(videoPath string, layout *Layout, intervals []entity.SceneInterval, threads int) []entity.SceneJob {
	ext := filepath.Ext(videoPath)
	jobs := make([]entity.SceneJob, len(intervals))
	for i, iv := range intervals {
		jobs[i] = entity.SceneJob{
			VideoPath: videoPath,
			Interval:  iv,
			FramePath: layout.FramePath(iv.Index),
			ClipPath:  layout.ClipPath(iv.Index, ext),
			Threads:   threads,
		}
	}
	return jobs
}

// dispatch fans the jobs out to a bounded worker pool. Jobs are handed
// out in scene order; results land at the job's submission index no
// matter which worker finishes first.
func (p *Processor) dispatch(ctx context.Context, jobs []entity.SceneJob, workers int) []entity.SceneJobResult {
	results := make([]entity.SceneJobResult, len(jobs))
	indexes := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i] = p.runJob(ctx, jobs[i])
			}
		}()
	}
	for i := range jobs {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	return results
}

// runJob executes one scene job. Any failure, including a panic inside
// an adapter, is contained to this job's result; siblings keep running.
func (p *Processor) runJob(ctx context.Context, job entity.SceneJob) (result entity.SceneJobResult) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("scene job panicked",
				zap.Int("scene", job.Interval.Index),
				zap.Any("panic", r),
			)
			result = entity.SceneJobResult{}
		}
	}()

	if err := p.extractor.ExtractFrame(ctx, job.VideoPath, job.Interval.Start, job.FramePath, job.Threads); err != nil {
		p.log.Warn("frame extraction failed",
			zap.Int("scene", job.Interval.Index),
			zap.Stringer("at", job.Interval.Start),
			zap.Error(err),
		)
	} else {
		result.FrameOK = true
	}

	if err := p.cutter.CutClip(ctx, job.VideoPath, job.Interval.Start, job.Interval.End, job.ClipPath, job.Threads); err != nil {
		p.log.Warn("clip cut failed",
			zap.Int("scene", job.Interval.Index),
			zap.Stringer("start", job.Interval.Start),
			zap.Stringer("end", job.Interval.End),
			zap.Error(err),
		)
	} else {
		result.ClipOK = true
	}

	return result
}

// poolSize bounds the worker pool by three competing constraints: the
// requested worker count (or the logical core count when unset), the
// per-job thread budget so concurrent tool invocations do not
// oversubscribe the host, and the number of jobs.
func poolSize(workerCount, threadsPerJob, cores, jobCount int) int {
	if jobCount == 0 {
		return 0
	}
	size := workerCount
	if size <= 0 {
		size = cores
	}
	if threadsPerJob > 1 {
		byThreads := cores / threadsPerJob
		if byThreads < 1 {
			byThreads = 1
		}
		if size > byThreads {
			size = byThreads
		}
	}
	if size > jobCount {
		size = jobCount
	}
	if size < 1 {
		size = 1
	}
	return size
}

func aggregate(results []entity.SceneJobResult) entity.Outcome {
	produced := 0
	for _, r := range results {
		if r.Produced() {
			produced++
		}
	}
	switch {
	case produced == len(results):
		return entity.OutcomeSuccess
	case produced > 0:
		return entity.OutcomePartial
	default:
		return entity.OutcomeAllJobsFailed
	}
}
