package types

import "time"

// RunStatus is the lifecycle of a PipelineRun.
type RunStatus string

// Run statuses. RunPaused is reserved for manual intervention and is never
// entered by the orchestrator.
const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Trigger sources
const (
	TriggerManual   = "manual"
	TriggerAPI      = "api"
	TriggerBatch    = "batch"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)

// StageStatus is the outcome of one stage within a run.
type StageStatus string

// Stage statuses
const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// Stage names, in execution order.
const (
	StageScriptGeneration  = "script_generation"
	StageShotDecomposition = "shot_decomposition"
	StageFrameGeneration   = "frame_generation"
	StageAssembly          = "assembly"
)

// StageResult records one stage execution. Written exactly once per stage.
type StageResult struct {
	Stage       string      `json:"stage"`
	Status      StageStatus `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Output      any         `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// PipelineRun is one end-to-end execution of a pipeline.
type PipelineRun struct {
	ID            string        `json:"id"`
	PipelineID    string        `json:"pipeline_id"`
	ProjectID     string        `json:"project_id"`
	BatchID       string        `json:"batch_id,omitempty"`
	TriggerSource string        `json:"trigger_source"`
	Status        RunStatus     `json:"status"`
	Stages        []StageResult `json:"stages"`
	CurrentStage  string        `json:"current_stage,omitempty"`
	JobIDs        []string      `json:"job_ids,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	DurationMs    int64         `json:"duration_ms,omitempty"`
}

// Stage returns the recorded result for name, if any.
func (r *PipelineRun) Stage(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// BatchStatus aggregates the outcomes of a batch.
type BatchStatus string

// Batch statuses
const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchPartial   BatchStatus = "partial"
	BatchFailed    BatchStatus = "failed"
)

// BatchResult collects N independent runs of one pipeline.
type BatchResult struct {
	ID          string        `json:"id"`
	PipelineID  string        `json:"pipeline_id"`
	Runs        []PipelineRun `json:"runs"`
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Status      BatchStatus   `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}
