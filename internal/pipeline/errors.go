package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrPipelineNotFound is returned before any record is created when the pipeline id is unknown.
	ErrPipelineNotFound = errors.New("pipeline not found")
	// ErrPersonaNotFound is returned when the pipeline references a missing persona.
	ErrPersonaNotFound = errors.New("persona not found")
	// ErrRunNotFound is returned for an unknown run id.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunTerminal is returned when cancelling a run that already finished.
	ErrRunTerminal = errors.New("run already finished")
	// ErrEngineNotReady fails frame generation when the engine did not become ready in time.
	ErrEngineNotReady = errors.New("compute engine not ready")

	// errRunClosed stops the executor once the run was finalized elsewhere.
	errRunClosed = errors.New("run closed")
)

// stageSkipped marks a stage that had nothing to do. It is recorded, not propagated.
type stageSkipped struct {
	reason string
}

func (e *stageSkipped) Error() string {
	return "skipped: " + e.reason
}

func skip(format string, args ...any) error {
	return &stageSkipped{reason: fmt.Sprintf(format, args...)}
}
