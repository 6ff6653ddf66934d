package entity

import "github.com/google/uuid"

// SceneProcessingMessage is the inbound message from the scene.processing queue.
// Threshold 0 means "use the service default".
type SceneProcessingMessage struct {
	JobID     uuid.UUID `json:"job_id"`
	UserID    string    `json:"user_id"`
	VideoKey  string    `json:"video_key"`
	FileSize  int64     `json:"file_size"`
	Threshold float64   `json:"threshold,omitempty"`
	UserEmail string    `json:"user_email,omitempty"`
}

// SceneStatusMessage is the outbound message published to the scene.status queue.
type SceneStatusMessage struct {
	JobID        uuid.UUID `json:"job_id"`
	UserID       string    `json:"user_id"`
	Status       JobStatus `json:"status"`
	VideoKey     string    `json:"video_key"`
	ArchiveKey   string    `json:"archive_key,omitempty"`
	SceneCount   int       `json:"scene_count"`
	FrameCount   int       `json:"frame_count"`
	ClipCount    int       `json:"clip_count"`
	Duration     float64   `json:"duration_seconds,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Attempt      int       `json:"attempt"`
	MaxAttempts  int       `json:"max_attempts"`
}
