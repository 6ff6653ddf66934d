package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/clipsense/scene-processing-service/internal/domain/entity"
	"github.com/clipsense/scene-processing-service/internal/domain/port"
	"github.com/clipsense/scene-processing-service/internal/infra/metrics"
	"github.com/clipsense/scene-processing-service/internal/scene"
)

// ScenePipeline is the segmentation core. It never returns an error:
// whatever happened to the video is encoded in the report's outcome.
type ScenePipeline interface {
	Process(ctx context.Context, videoPath, baseOutputDir string, opts scene.Options) *scene.Report
}

type ProcessVideoUseCase struct {
	repo      port.JobRepository
	storage   port.VideoStorage
	pipeline  ScenePipeline
	archiver  port.Archiver
	publisher port.StatusPublisher
	dlq       port.DLQPublisher
	notifier  port.FailureNotifier
	logger    *zap.Logger
	cfg       ProcessVideoConfig
}

type ProcessVideoConfig struct {
	TempDir          string
	MaxRetries       int
	DefaultThreshold float64
	ThreadsPerJob    int
	SceneWorkers     int
}

func NewProcessVideoUseCase(
	repo port.JobRepository,
	storage port.VideoStorage,
	pipeline ScenePipeline,
	archiver port.Archiver,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg ProcessVideoConfig,
) *ProcessVideoUseCase {
	return &ProcessVideoUseCase{
		repo:      repo,
		storage:   storage,
		pipeline:  pipeline,
		archiver:  archiver,
		publisher: publisher,
		dlq:       dlq,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
	}
}

func (uc *ProcessVideoUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ProcessVideoUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.SceneProcessingMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.video_key", msg.VideoKey),
	)

	log := uc.logger.With(zap.String("job_id", msg.JobID.String()), zap.String("video_key", msg.VideoKey))

	job, err := uc.repo.FindByID(ctx, msg.JobID)
	if err != nil {
		job = entity.NewJob(msg.UserID, msg.VideoKey, msg.FileSize, uc.cfg.MaxRetries)
		job.ID = msg.JobID
		if err := uc.repo.Create(ctx, job); err != nil {
			log.Error("failed to create job record", zap.Error(err))
			return fmt.Errorf("create job: %w", err)
		}
	}

	if !job.CanRetry() {
		log.Warn("job exhausted retries, sending to DLQ")
		_ = uc.handlePermanentFailure(ctx, job, msg, rawMsg, "max retries exceeded")
		return nil
	}

	job.MarkProcessing()
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to PROCESSING", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.runPipeline(ctx, job, msg, rawMsg, log); err != nil {
		return err
	}

	metrics.JobProcessingDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())

	return nil
}

func (uc *ProcessVideoUseCase) runPipeline(
	ctx context.Context,
	job *entity.Job,
	msg entity.SceneProcessingMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.cfg.TempDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Download the source video, keeping its original filename so the
	// output tree and clip extension follow the upload's name.
	dlStart := time.Now()
	ctx2, spanDl := tracer.Start(ctx, "download_video")
	videoPath := filepath.Join(workDir, filepath.Base(msg.VideoKey))
	if err := uc.storage.DownloadVideo(ctx2, msg.VideoKey, videoPath); err != nil {
		spanDl.End()
		log.Error("failed to download video", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "download_video: "+err.Error(), log)
	}
	spanDl.End()
	metrics.JobProcessingDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	// Segment into scenes.
	threshold := msg.Threshold
	if threshold <= 0 {
		threshold = uc.cfg.DefaultThreshold
	}

	segStart := time.Now()
	ctx3, spanSeg := tracer.Start(ctx, "segment_scenes")
	report := uc.pipeline.Process(ctx3, videoPath, filepath.Join(workDir, "output"), scene.Options{
		Threshold:     threshold,
		ThreadsPerJob: uc.cfg.ThreadsPerJob,
		WorkerCount:   uc.cfg.SceneWorkers,
	})
	spanSeg.End()
	metrics.JobProcessingDuration.WithLabelValues("segment").Observe(time.Since(segStart).Seconds())
	metrics.ScenesDetectedTotal.Add(float64(report.SceneCount))
	metrics.FramesExtractedTotal.Add(float64(report.FrameCount))
	metrics.ClipsCutTotal.Add(float64(report.ClipCount))

	if !report.Succeeded() {
		log.Error("scene pipeline failed", zap.Stringer("outcome", report.Outcome))
		metrics.JobsProcessedTotal.WithLabelValues(report.Outcome.String()).Inc()
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "segment_scenes: "+report.Outcome.String(), log)
	}

	if report.Outcome == entity.OutcomeNoScenes {
		job.MarkCompleted("", 0, 0, 0, report.Duration)
		if err := uc.repo.Update(ctx, job); err != nil {
			log.Error("failed to update job to COMPLETED", zap.Error(err))
			return fmt.Errorf("update job completed: %w", err)
		}
		uc.publishStatus(ctx, job, log)
		metrics.JobsProcessedTotal.WithLabelValues(report.Outcome.String()).Inc()
		log.Info("job completed: no scenes detected", zap.Float64("threshold", threshold))
		return nil
	}

	// Archive the produced frames and clips.
	arStart := time.Now()
	ctx4, spanAr := tracer.Start(ctx, "create_archive")
	archivePath := filepath.Join(workDir, "scenes.zip")
	artifacts := append(append([]string{}, report.FramePaths...), report.ClipPaths...)
	if err := uc.archiver.CreateArchive(ctx4, artifacts, archivePath); err != nil {
		spanAr.End()
		log.Error("archive creation failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "create_archive: "+err.Error(), log)
	}
	spanAr.End()
	metrics.JobProcessingDuration.WithLabelValues("archive").Observe(time.Since(arStart).Seconds())

	// Upload the archive.
	upStart := time.Now()
	ctx5, spanUp := tracer.Start(ctx, "upload_archive")
	archiveKey := fmt.Sprintf("%s/scenes_%s.zip", msg.UserID, job.ID.String())
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		spanUp.End()
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "open_archive: "+err.Error(), log)
	}
	archiveStat, _ := archiveFile.Stat()
	if err := uc.storage.UploadArchive(ctx5, archiveKey, archiveFile, archiveStat.Size()); err != nil {
		archiveFile.Close()
		spanUp.End()
		log.Error("archive upload failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "upload_archive: "+err.Error(), log)
	}
	archiveFile.Close()
	spanUp.End()
	metrics.JobProcessingDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())

	job.MarkCompleted(archiveKey, report.SceneCount, report.FrameCount, report.ClipCount, report.Duration)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to COMPLETED", zap.Error(err))
		return fmt.Errorf("update job completed: %w", err)
	}

	uc.publishStatus(ctx, job, log)
	metrics.JobsProcessedTotal.WithLabelValues(report.Outcome.String()).Inc()

	log.Info("job completed",
		zap.Stringer("outcome", report.Outcome),
		zap.Int("scene_count", report.SceneCount),
		zap.Int("frame_count", report.FrameCount),
		zap.Int("clip_count", report.ClipCount),
		zap.Float64("duration_secs", report.Duration),
		zap.String("archive_key", archiveKey),
	)

	return nil
}

func (uc *ProcessVideoUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.SceneProcessingMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	if !job.CanRetry() {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg)
	}

	metrics.RetryTotal.WithLabelValues(strconv.Itoa(job.Attempt)).Inc()
	uc.publishStatus(ctx, job, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", job.Attempt, job.MaxAttempts, errMsg)
}

func (uc *ProcessVideoUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.SceneProcessingMessage,
	rawMsg []byte,
	errMsg string,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)

	uc.publishStatus(ctx, job, uc.logger)

	metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()

	if msg.UserEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, msg.UserEmail, job.ID.String(), msg.VideoKey, errMsg)
	}

	return nil
}

func (uc *ProcessVideoUseCase) publishStatus(ctx context.Context, job *entity.Job, log *zap.Logger) {
	statusMsg := entity.SceneStatusMessage{
		JobID:        job.ID,
		UserID:       job.UserID,
		Status:       job.Status,
		VideoKey:     job.VideoKey,
		ArchiveKey:   job.ArchiveKey,
		SceneCount:   job.SceneCount,
		FrameCount:   job.FrameCount,
		ClipCount:    job.ClipCount,
		Duration:     job.VideoDuration,
		ErrorMessage: job.ErrorMessage,
		Attempt:      job.Attempt,
		MaxAttempts:  job.MaxAttempts,
	}
	data, _ := json.Marshal(statusMsg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
