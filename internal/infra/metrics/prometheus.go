package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scene_jobs_processed_total",
		Help: "Total number of jobs processed, by outcome",
	}, []string{"outcome"})

	JobProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scene_job_processing_duration_seconds",
		Help:    "Duration of the video segmentation pipeline, by stage",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	ScenesDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scene_scenes_detected_total",
		Help: "Total number of scene intervals detected across all jobs",
	})

	FramesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scene_frames_extracted_total",
		Help: "Total number of representative frames extracted",
	})

	ClipsCutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scene_clips_cut_total",
		Help: "Total number of scene clips cut",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scene_active_workers",
		Help: "Number of queue workers currently processing a job",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scene_retry_total",
		Help: "Total number of retries",
	}, []string{"attempt"})
)
