package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/content-pipeline/internal/comfy"
	"github.com/jonathan/content-pipeline/internal/pipeline/steps"
	"github.com/jonathan/content-pipeline/internal/readiness"
	"github.com/jonathan/content-pipeline/internal/scripting"
	"github.com/jonathan/content-pipeline/internal/storyboard"
	"github.com/jonathan/content-pipeline/internal/types"
)

type stageFunc func(ctx context.Context, ex *execution) (any, error)

func stageDefinitions() []steps.StageDefinition {
	return steps.Stages
}

func (o *Orchestrator) stageBody(name string) stageFunc {
	switch name {
	case types.StageScriptGeneration:
		return o.generateScript
	case types.StageShotDecomposition:
		return o.decomposeShots
	case types.StageFrameGeneration:
		return o.generateFrames
	case types.StageAssembly:
		return o.assemble
	}
	return func(context.Context, *execution) (any, error) {
		return nil, fmt.Errorf("unknown stage: %s", name)
	}
}

// runStage records the start time, runs the stage body and appends exactly one
// StageResult. A skipped stage is recorded and is not an error; a failed stage
// is recorded and its error returned.
func (o *Orchestrator) runStage(ctx context.Context, ex *execution, def steps.StageDefinition) error {
	ar := ex.ar

	ar.mu.Lock()
	if ar.run.Status.IsTerminal() {
		ar.mu.Unlock()
		return errRunClosed
	}
	if _, recorded := ar.run.Stage(def.Name); recorded {
		ar.mu.Unlock()
		return fmt.Errorf("stage %s already recorded", def.Name)
	}
	ar.run.CurrentStage = def.Name
	ar.mu.Unlock()
	o.persist(ar)

	total := len(stageDefinitions())
	ar.emit(ProgressEvent{
		RunID:    ar.run.ID,
		Stage:    def.Name,
		Position: def.Position,
		Total:    total,
		Status:   types.StageRunning,
		Message:  fmt.Sprintf("Stage %d/%d: %s...", def.Position, total, def.Name),
	})

	started := o.now()
	output, err := callStage(ctx, ex, o.stageBody(def.Name))
	ended := o.now()

	result := types.StageResult{
		Stage:       def.Name,
		StartedAt:   started,
		CompletedAt: &ended,
	}
	var skipped *stageSkipped
	switch {
	case errors.As(err, &skipped):
		result.Status = types.StageSkipped
		result.Output = map[string]string{"reason": skipped.reason}
		err = nil
	case err != nil:
		result.Status = types.StageFailed
		result.Error = err.Error()
	default:
		result.Status = types.StageCompleted
		result.Output = output
	}

	ar.mu.Lock()
	if ar.run.Status.IsTerminal() {
		ar.mu.Unlock()
		return errRunClosed
	}
	ar.run.Stages = append(ar.run.Stages, result)
	if err == nil {
		ar.project.Progress = def.Progress
	}
	ar.project.UpdatedAt = ended
	progress := ar.project.Progress
	ar.mu.Unlock()
	o.persist(ar)

	o.logger.Info("stage finished",
		zap.String("run_id", ar.run.ID),
		zap.String("stage", def.Name),
		zap.String("status", string(result.Status)),
		zap.Duration("duration", ended.Sub(started)),
		zap.String("error", result.Error))

	message := string(result.Status)
	if skipped != nil {
		message = skipped.Error()
	} else if err != nil {
		message = "failed: " + err.Error()
	}
	ar.emit(ProgressEvent{
		RunID:    ar.run.ID,
		Stage:    def.Name,
		Position: def.Position,
		Total:    total,
		Status:   result.Status,
		Progress: progress,
		Message:  message,
	})
	return err
}

// callStage runs body, turning a panic into a stage error.
func callStage(ctx context.Context, ex *execution, body stageFunc) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			output, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return body(ctx, ex)
}

// available reports which stage inputs exist right now.
func (ex *execution) available() map[string]bool {
	ar := ex.ar
	ar.mu.Lock()
	defer ar.mu.Unlock()
	frames := false
	for _, f := range ar.project.Frames {
		if f.Status == types.FrameCompleted {
			frames = true
			break
		}
	}
	return map[string]bool{
		steps.InputScript:   ar.project.Script != "",
		steps.InputPersona:  ex.persona != nil,
		steps.InputShots:    len(ar.project.Shots) > 0,
		steps.InputWorkflow: ex.pipeline.WorkflowID != "",
		steps.InputFrames:   frames,
	}
}

func (o *Orchestrator) generateScript(ctx context.Context, ex *execution) (any, error) {
	ar := ex.ar
	ar.mu.Lock()
	custom := ar.project.Script != ""
	topic := ar.project.Topic
	ar.mu.Unlock()

	switch {
	case custom:
		return nil, skip("custom script supplied")
	case ex.opts.SkipScriptGeneration:
		return nil, skip("script generation disabled")
	case o.deps.Text == nil:
		return nil, errors.New("no text generation client configured")
	}

	result, err := scripting.GenerateScript(ctx, o.deps.Text, ex.persona, topic, ex.script)
	if err != nil {
		return nil, err
	}

	ar.mu.Lock()
	ar.project.Title = result.Title
	ar.project.Description = result.Description
	ar.project.Hashtags = result.Hashtags
	ar.project.Script = result.Script
	ar.mu.Unlock()

	if result.Fallback {
		o.logger.Warn("script reply was not JSON, used raw text", zap.String("run_id", ar.run.ID))
	}
	return map[string]any{
		"title":    result.Title,
		"chars":    len(result.Script),
		"fallback": result.Fallback,
	}, nil
}

func (o *Orchestrator) decomposeShots(ctx context.Context, ex *execution) (any, error) {
	if err := steps.ValidateInputs(types.StageShotDecomposition, ex.available()); err != nil {
		return nil, skipFor(err)
	}
	if o.deps.Text == nil {
		return nil, errors.New("no text generation client configured")
	}

	ar := ex.ar
	ar.mu.Lock()
	script := ar.project.Script
	ar.mu.Unlock()

	chain, err := storyboard.CreatePromptChain(ctx, o.deps.Text, ex.persona, script)
	if err != nil {
		return nil, err
	}

	ar.mu.Lock()
	ar.project.Shots = chain
	ar.mu.Unlock()

	return map[string]any{
		"shots":            len(chain),
		"duration_seconds": storyboard.TotalDuration(chain),
	}, nil
}

func (o *Orchestrator) generateFrames(ctx context.Context, ex *execution) (any, error) {
	if err := steps.ValidateInputs(types.StageFrameGeneration, ex.available()); err != nil {
		return nil, skipFor(err)
	}
	if o.deps.Dispatcher == nil {
		return nil, errors.New("no compute dispatcher configured")
	}
	if err := o.awaitEngine(ctx); err != nil {
		return nil, err
	}

	ar := ex.ar
	ar.mu.Lock()
	shots := ar.project.Shots
	projectID := ar.project.ID
	ar.mu.Unlock()

	width, height, err := ex.pipeline.Dimensions()
	if err != nil {
		return nil, err
	}
	params := make([]comfy.Params, len(shots))
	for i, shot := range shots {
		params[i] = comfy.Params{
			"prompt":          storyboard.EnhancePrompt(shot, ex.persona),
			"negative_prompt": shot.NegativePrompt,
			"width":           width,
			"height":          height,
			"seed":            shotSeed(projectID, shot.Index),
			"shot_index":      shot.Index,
			"duration":        shot.DurationSeconds,
			"camera_movement": shot.CameraMovement,
			"filename_prefix": fmt.Sprintf("%s_%03d", projectID, shot.Index),
		}
	}

	outcome, err := o.deps.Dispatcher.ExecuteBatch(ctx, ex.pipeline.WorkflowID, params, comfy.BatchOptions{
		Concurrency: o.opts.Concurrency,
		MaxRetries:  o.opts.MaxRetries,
		OnSubmit: func(_ int, jobID string) {
			o.recordJob(ar, jobID)
		},
	})
	if err != nil {
		return nil, err
	}

	frames := make([]types.GeneratedFrame, len(shots))
	completed := 0
	for i, shot := range shots {
		frame := types.GeneratedFrame{ShotIndex: shot.Index, Status: types.FramePending}
		if i < len(outcome.Jobs) {
			job := outcome.Jobs[i]
			frame.JobID = job.JobID
			frame.Status = types.FrameStatus(job.Status)
			frame.Outputs = job.Outputs
			frame.Error = job.Error
			if len(job.Outputs) > 0 {
				frame.LocalPath = job.Outputs[0].LocalPath
			}
		}
		if frame.Status == types.FrameCompleted {
			completed++
		}
		frames[i] = frame
	}

	ar.mu.Lock()
	ar.project.Frames = frames
	ar.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if completed == 0 {
		return nil, fmt.Errorf("all %d frame jobs failed", len(frames))
	}
	return map[string]any{
		"jobs":      len(frames),
		"completed": completed,
		"failed":    len(frames) - completed,
	}, nil
}

// awaitEngine gates dispatch on readiness. A degraded engine is used anyway.
func (o *Orchestrator) awaitEngine(ctx context.Context) error {
	if !o.opts.GateOnReadiness || o.deps.Monitor == nil {
		return nil
	}
	info := o.deps.Monitor.CheckHealth(ctx)
	switch info.State {
	case readiness.StateReady:
		return nil
	case readiness.StateDegraded:
		o.logger.Warn("dispatching to degraded engine",
			zap.Int("queue_size", info.QueueSize),
			zap.Float64("memory_usage_percent", info.MemoryUsagePercent))
		return nil
	}

	o.logger.Info("waiting for engine", zap.String("state", string(info.State)))
	waitCtx, cancel := context.WithTimeout(ctx, o.opts.ReadyWaitTimeout)
	defer cancel()
	if o.deps.Monitor.WaitForReady(waitCtx, o.opts.ReadyPollInterval) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w after %s (last state %s)", ErrEngineNotReady, o.opts.ReadyWaitTimeout, info.State)
}

func (o *Orchestrator) assemble(ctx context.Context, ex *execution) (any, error) {
	if err := steps.ValidateInputs(types.StageAssembly, ex.available()); err != nil {
		return nil, skip("no frames")
	}
	if o.deps.Assembler == nil {
		return nil, skip("no assembler configured")
	}

	project := ex.ar.snapshotProject()
	result, err := o.deps.Assembler.Assemble(ctx, project, ex.pipeline)
	if err != nil {
		return nil, err
	}

	ar := ex.ar
	ar.mu.Lock()
	ar.project.FinalPath = result.Path
	ar.project.FinalURL = result.URL
	ar.mu.Unlock()
	return result, nil
}

// skipFor converts a missing-input error into a skip.
func skipFor(err error) error {
	var depErr *steps.DependencyError
	if errors.As(err, &depErr) {
		return skip("missing %s", strings.Join(depErr.MissingInputs, ", "))
	}
	return err
}

// shotSeed derives a stable sampler seed per shot.
func shotSeed(projectID string, index int) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s/%d", projectID, index)
	return int64(h.Sum64() >> 1)
}
