package types

import "time"

// ProjectStatus is the lifecycle of a VideoProject.
type ProjectStatus string

// Project lifecycle: draft -> generating -> review -> approved -> published, or failed.
const (
	ProjectDraft      ProjectStatus = "draft"
	ProjectGenerating ProjectStatus = "generating"
	ProjectReview     ProjectStatus = "review"
	ProjectApproved   ProjectStatus = "approved"
	ProjectPublished  ProjectStatus = "published"
	ProjectFailed     ProjectStatus = "failed"
)

// VideoProject is the artifact record produced by one run.
type VideoProject struct {
	ID           string            `json:"id"`
	PipelineID   string            `json:"pipeline_id"`
	PersonaID    string            `json:"persona_id,omitempty"`
	Topic        string            `json:"topic,omitempty"`
	Title        string            `json:"title,omitempty"`
	Description  string            `json:"description,omitempty"`
	Hashtags     []string          `json:"hashtags,omitempty"`
	Script       string            `json:"script,omitempty"`
	Shots        []PromptChainItem `json:"shots,omitempty"`
	Frames       []GeneratedFrame  `json:"frames,omitempty"`
	FinalPath    string            `json:"final_path,omitempty"`
	FinalURL     string            `json:"final_url,omitempty"`
	Status       ProjectStatus     `json:"status"`
	Progress     int               `json:"progress"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// PromptChainItem is one shot produced by shot decomposition.
type PromptChainItem struct {
	Index           int     `json:"index"`
	ImagePrompt     string  `json:"image_prompt"`
	NegativePrompt  string  `json:"negative_prompt,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	CameraMovement  string  `json:"camera_movement,omitempty"`
	Narration       string  `json:"narration,omitempty"`
	Transition      string  `json:"transition,omitempty"`
}

// FrameStatus is the outcome of one frame generation job.
type FrameStatus string

// Frame statuses
const (
	FramePending   FrameStatus = "pending"
	FrameCompleted FrameStatus = "completed"
	FrameFailed    FrameStatus = "failed"
)

// OutputAsset is a file produced by the compute engine.
type OutputAsset struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Type      string `json:"type,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
}

// GeneratedFrame pairs a shot with the compute job that rendered it.
type GeneratedFrame struct {
	ShotIndex int           `json:"shot_index"`
	JobID     string        `json:"job_id,omitempty"`
	Status    FrameStatus   `json:"status"`
	Outputs   []OutputAsset `json:"outputs,omitempty"`
	LocalPath string        `json:"local_path,omitempty"`
	Error     string        `json:"error,omitempty"`
}
