package integration

import (
	"archive/zip"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/clipsense/scene-processing-service/internal/domain/entity"
	"github.com/clipsense/scene-processing-service/internal/infra/archive"
	"github.com/clipsense/scene-processing-service/internal/infra/email"
	"github.com/clipsense/scene-processing-service/internal/infra/ffmpeg"
	miniostorage "github.com/clipsense/scene-processing-service/internal/infra/minio"
	"github.com/clipsense/scene-processing-service/internal/infra/postgres"
	"github.com/clipsense/scene-processing-service/internal/infra/rabbitmq"
	"github.com/clipsense/scene-processing-service/internal/scene"
	"github.com/clipsense/scene-processing-service/internal/usecase"
	"github.com/clipsense/scene-processing-service/pkg/logger"
)

// generateTestVideo renders two visually distinct synthetic sources and
// concatenates them, giving the detector exactly one hard cut at the
// two second mark.
func generateTestVideo(t *testing.T, dir string) string {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available in PATH")
	}

	videoPath := filepath.Join(dir, "test.mp4")
	cmd := exec.Command("ffmpeg",
		"-f", "lavfi", "-i", "testsrc=duration=2:size=320x240:rate=25",
		"-f", "lavfi", "-i", "smptebars=duration=2:size=320x240:rate=25",
		"-filter_complex", "[0:v][1:v]concat=n=2:v=1[out]",
		"-map", "[out]",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		videoPath,
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "generate test video: %s", string(out))
	return videoPath
}

func TestProcessVideoEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	testVideoPath := generateTestVideo(t, t.TempDir())

	// Start PostgreSQL container
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("jobs"),
		tcpostgres.WithUsername("scene_user"),
		tcpostgres.WithPassword("scene_pass"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	defer pgContainer.Terminate(ctx)

	pgConnStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Start RabbitMQ container
	rmqContainer, err := tcrabbitmq.Run(ctx,
		"rabbitmq:3.12-management-alpine",
	)
	require.NoError(t, err)
	defer rmqContainer.Terminate(ctx)

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	// Start MinIO container
	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	defer minioContainer.Terminate(ctx)

	minioEndpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	// Run migrations
	err = postgres.RunMigrations(pgConnStr, "../../migrations")
	require.NoError(t, err)

	// Setup MinIO storage
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:     minioEndpoint,
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		UseSSL:       false,
		UploadBucket: "uploads",
		SceneBucket:  "scenes",
	})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureBuckets(ctx))

	minioClient, err := miniogo.New(minioEndpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	videoKey := "testuser/test.mp4"
	_, err = minioClient.FPutObject(ctx, "uploads", videoKey, testVideoPath, miniogo.PutObjectOptions{
		ContentType: "video/mp4",
	})
	require.NoError(t, err)

	// Setup RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(rmqURL)
	require.NoError(t, err)
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, "clipsense.video")
	require.NoError(t, err)

	statusPub := rabbitmq.NewStatusPublisher(pub, "scene.status")
	dlqPub := rabbitmq.NewDLQPublisher(pub, "scene.processing.dlq")

	// Setup DB pool
	pool, err := pgxpool.New(ctx, pgConnStr)
	require.NoError(t, err)
	defer pool.Close()

	// Setup use case
	log, _ := logger.New("debug")
	repo := postgres.NewJobRepository(pool)
	detector := ffmpeg.NewSceneDetector(log)
	extractor := ffmpeg.NewFrameExtractor(log)
	cutter := ffmpeg.NewClipCutter(log)
	pipeline := scene.NewProcessor(detector, extractor, cutter, log)
	archiver := archive.NewZipArchiver()
	notifier := email.NewSMTPNotifier("localhost", 1025, "test@test.local", log)

	uc := usecase.NewProcessVideoUseCase(
		repo, storage, pipeline, archiver,
		statusPub, dlqPub, notifier,
		log,
		usecase.ProcessVideoConfig{
			TempDir:          t.TempDir(),
			MaxRetries:       3,
			DefaultThreshold: 0.3,
		},
	)

	// Setup consumer
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:           rmqURL,
		Queue:         "scene.processing",
		Exchange:      "clipsense.video",
		DLQ:           "scene.processing.dlq",
		StatusQueue:   "scene.status",
		ProcessingKey: "scene.processing",
		StatusKey:     "scene.status",
		Prefetch:      1,
		WorkerCount:   1,
		BaseDelayMs:   100,
	}, uc.Execute, log)
	require.NoError(t, err)
	defer consumer.Close()

	// Start consumer in background
	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()

	go func() {
		consumer.Start(consumerCtx)
	}()

	// Give consumer time to start
	time.Sleep(500 * time.Millisecond)

	// Publish processing message
	jobID := uuid.New()
	videoInfo, _ := os.Stat(testVideoPath)
	processingMsg := entity.SceneProcessingMessage{
		JobID:     jobID,
		UserID:    "testuser",
		VideoKey:  videoKey,
		FileSize:  videoInfo.Size(),
		UserEmail: "test@test.local",
	}
	msgBody, err := json.Marshal(processingMsg)
	require.NoError(t, err)

	pubCh, err := rmqConn.Channel()
	require.NoError(t, err)
	err = pubCh.PublishWithContext(ctx,
		"clipsense.video",
		"scene.processing",
		false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        msgBody,
		},
	)
	require.NoError(t, err)
	pubCh.Close()

	// Wait for status message on scene.status queue
	statusCh, err := rmqConn.Channel()
	require.NoError(t, err)
	defer statusCh.Close()

	statusMsgs, err := statusCh.Consume("scene.status", "", true, false, false, false, nil)
	require.NoError(t, err)

	var statusMsg entity.SceneStatusMessage
	select {
	case delivery := <-statusMsgs:
		err = json.Unmarshal(delivery.Body, &statusMsg)
		require.NoError(t, err)
	case <-time.After(2 * time.Minute):
		t.Fatal("timeout waiting for status message")
	}

	// Assert status
	assert.Equal(t, jobID, statusMsg.JobID)
	assert.Equal(t, entity.JobStatusCompleted, statusMsg.Status)
	require.Greater(t, statusMsg.SceneCount, 0, "the generated video has a hard cut")
	assert.Greater(t, statusMsg.FrameCount, 0)
	assert.NotEmpty(t, statusMsg.ArchiveKey)

	// Verify archive exists in MinIO and unpacks into the expected layout
	archiveObj, err := minioClient.GetObject(ctx, "scenes", statusMsg.ArchiveKey, miniogo.GetObjectOptions{})
	require.NoError(t, err)

	tmpZip := filepath.Join(t.TempDir(), "result.zip")
	tmpFile, err := os.Create(tmpZip)
	require.NoError(t, err)
	_, err = tmpFile.ReadFrom(archiveObj)
	require.NoError(t, err)
	tmpFile.Close()

	zipReader, err := zip.OpenReader(tmpZip)
	require.NoError(t, err)
	defer zipReader.Close()

	frameCount := 0
	clipCount := 0
	for _, f := range zipReader.File {
		switch {
		case strings.HasPrefix(f.Name, "scene_frames/") && strings.HasSuffix(f.Name, ".jpg"):
			frameCount++
		case strings.HasPrefix(f.Name, "cut_scenes/") && strings.HasSuffix(f.Name, ".mp4"):
			clipCount++
		}
	}
	assert.Equal(t, statusMsg.FrameCount, frameCount)
	assert.Equal(t, statusMsg.ClipCount, clipCount)

	// Verify job record in database
	var dbStatus string
	var dbSceneCount, dbFrameCount int
	err = pool.QueryRow(ctx,
		"SELECT status, scene_count, frame_count FROM scene_jobs WHERE id=$1", jobID,
	).Scan(&dbStatus, &dbSceneCount, &dbFrameCount)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", dbStatus)
	assert.Equal(t, statusMsg.SceneCount, dbSceneCount)
	assert.Equal(t, frameCount, dbFrameCount)

	consumerCancel()

	t.Logf("Test passed: %d scenes, %d frames, %d clips, archive at %s",
		statusMsg.SceneCount, frameCount, clipCount, statusMsg.ArchiveKey)
}

func TestProcessVideoMalformedMessage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Start PostgreSQL
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("jobs"),
		tcpostgres.WithUsername("scene_user"),
		tcpostgres.WithPassword("scene_pass"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	defer pgContainer.Terminate(ctx)

	pgConnStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Start RabbitMQ
	rmqContainer, err := tcrabbitmq.Run(ctx,
		"rabbitmq:3.12-management-alpine",
	)
	require.NoError(t, err)
	defer rmqContainer.Terminate(ctx)

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	// Run migrations
	err = postgres.RunMigrations(pgConnStr, "../../migrations")
	require.NoError(t, err)

	// MinIO (no video upload needed for this test)
	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	defer minioContainer.Terminate(ctx)

	minioEndpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:     minioEndpoint,
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		UseSSL:       false,
		UploadBucket: "uploads",
		SceneBucket:  "scenes",
	})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureBuckets(ctx))

	// Setup
	pool, err := pgxpool.New(ctx, pgConnStr)
	require.NoError(t, err)
	defer pool.Close()

	log, _ := logger.New("debug")
	rmqConn, err := amqp.Dial(rmqURL)
	require.NoError(t, err)
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, "clipsense.video")
	require.NoError(t, err)

	statusPub := rabbitmq.NewStatusPublisher(pub, "scene.status")
	dlqPub := rabbitmq.NewDLQPublisher(pub, "scene.processing.dlq")

	repo := postgres.NewJobRepository(pool)
	detector := ffmpeg.NewSceneDetector(log)
	extractor := ffmpeg.NewFrameExtractor(log)
	cutter := ffmpeg.NewClipCutter(log)
	pipeline := scene.NewProcessor(detector, extractor, cutter, log)
	archiver := archive.NewZipArchiver()
	notifier := email.NewSMTPNotifier("localhost", 1025, "test@test.local", log)

	uc := usecase.NewProcessVideoUseCase(
		repo, storage, pipeline, archiver,
		statusPub, dlqPub, notifier,
		log,
		usecase.ProcessVideoConfig{
			TempDir:          t.TempDir(),
			MaxRetries:       3,
			DefaultThreshold: 0.3,
		},
	)

	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:           rmqURL,
		Queue:         "scene.processing",
		Exchange:      "clipsense.video",
		DLQ:           "scene.processing.dlq",
		StatusQueue:   "scene.status",
		ProcessingKey: "scene.processing",
		StatusKey:     "scene.status",
		Prefetch:      1,
		WorkerCount:   1,
		BaseDelayMs:   100,
	}, uc.Execute, log)
	require.NoError(t, err)
	defer consumer.Close()

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()

	go func() {
		consumer.Start(consumerCtx)
	}()
	time.Sleep(500 * time.Millisecond)

	// Publish malformed message
	pubCh, err := rmqConn.Channel()
	require.NoError(t, err)
	err = pubCh.PublishWithContext(ctx,
		"clipsense.video",
		"scene.processing",
		false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        []byte(`{invalid json`),
		},
	)
	require.NoError(t, err)
	pubCh.Close()

	// Wait and verify message landed in DLQ
	time.Sleep(2 * time.Second)

	dlqCh, err := rmqConn.Channel()
	require.NoError(t, err)
	defer dlqCh.Close()

	dlqMsg, ok, err := dlqCh.Get("scene.processing.dlq", true)
	require.NoError(t, err)
	assert.True(t, ok, "malformed message should be in DLQ")
	assert.Equal(t, `{invalid json`, string(dlqMsg.Body))

	consumerCancel()
	t.Log("Test passed: malformed message sent to DLQ")
}
