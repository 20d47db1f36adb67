// Package pipeline drives content runs through script generation, shot
// decomposition, frame generation and assembly, and batches of such runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/content-pipeline/internal/assembly"
	"github.com/jonathan/content-pipeline/internal/comfy"
	"github.com/jonathan/content-pipeline/internal/db"
	"github.com/jonathan/content-pipeline/internal/llm"
	"github.com/jonathan/content-pipeline/internal/readiness"
	"github.com/jonathan/content-pipeline/internal/types"
)

const (
	// DefaultTopic is used when neither the request nor the pipeline names a topic.
	DefaultTopic = "trending topic"

	persistTimeout = 10 * time.Second
	cancelTimeout  = 30 * time.Second
)

// Dispatcher runs frame jobs on the compute engine. *comfy.Dispatcher satisfies it.
type Dispatcher interface {
	ExecuteBatch(ctx context.Context, workflowID string, params []comfy.Params, opts comfy.BatchOptions) (*comfy.BatchOutcome, error)
	CancelJob(ctx context.Context, jobID string)
}

// Assembler builds the final artifact. *assembly.Assembler satisfies it.
type Assembler interface {
	Assemble(ctx context.Context, project *types.VideoProject, pipeline *types.Pipeline) (*assembly.Result, error)
}

// EngineMonitor reports compute engine readiness. *readiness.Monitor satisfies it.
type EngineMonitor interface {
	CheckHealth(ctx context.Context) readiness.Info
	WaitForReady(ctx context.Context, interval time.Duration) bool
}

// ProgressEvent represents a progress update during pipeline execution
type ProgressEvent struct {
	RunID    string            `json:"run_id"`
	Stage    string            `json:"stage"`
	Position int               `json:"position"`
	Total    int               `json:"total"`
	Status   types.StageStatus `json:"status"`
	Progress int               `json:"progress"`
	Message  string            `json:"message"`
}

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event ProgressEvent)

// Deps are the collaborators of an Orchestrator. Store and Logger are required
// in practice; a nil Monitor disables the readiness gate.
type Deps struct {
	Store      *db.Store
	Text       llm.Client
	Dispatcher Dispatcher
	Assembler  Assembler
	Monitor    EngineMonitor
	Logger     *zap.Logger
}

// Options tune run execution.
type Options struct {
	Concurrency       int // frame jobs in flight per run
	MaxRetries        int // per frame job
	BatchConcurrency  int // runs in flight per batch window
	GateOnReadiness   bool
	ReadyWaitTimeout  time.Duration
	ReadyPollInterval time.Duration
	DefaultTopic      string
}

// RunOptions holds configuration for one run
type RunOptions struct {
	Topic                string
	CustomScript         string
	SkipScriptGeneration bool
	ScriptOptions        *types.ScriptOptions // overrides the pipeline defaults
	TriggerSource        string
	BatchID              string
	OnProgress           ProgressCallback
}

// RunStatus is the externally visible state of a run.
type RunStatus struct {
	RunID        string              `json:"run_id"`
	ProjectID    string              `json:"project_id"`
	Status       types.RunStatus     `json:"status"`
	CurrentStage string              `json:"current_stage,omitempty"`
	Stages       []types.StageResult `json:"stages"`
	Progress     int                 `json:"progress"`
	Error        string              `json:"error,omitempty"`
	DurationMs   int64               `json:"duration_ms,omitempty"`
}

// Orchestrator executes pipeline runs. Each run is executed start to finish by
// one goroutine; CancelRun may be called from any goroutine.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	active map[string]*activeRun
	wg     sync.WaitGroup

	// base ends background work on Shutdown.
	base     context.Context
	stopBase context.CancelFunc
}

// activeRun is the in-memory state of a run that has not been finalized.
// mu guards run and project; persistMu orders snapshot writes.
type activeRun struct {
	mu         sync.Mutex
	run        *types.PipelineRun
	project    *types.VideoProject
	cancel     context.CancelFunc
	onProgress ProgressCallback

	persistMu sync.Mutex
}

// New creates an Orchestrator. Zero options take defaults.
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Store == nil {
		deps.Store = db.NewMemoryStore()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 2
	}
	if opts.ReadyWaitTimeout <= 0 {
		opts.ReadyWaitTimeout = 2 * time.Minute
	}
	if opts.ReadyPollInterval <= 0 {
		opts.ReadyPollInterval = 2 * time.Second
	}
	if opts.DefaultTopic == "" {
		opts.DefaultTopic = DefaultTopic
	}
	base, stopBase := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:     deps,
		opts:     opts,
		logger:   deps.Logger,
		now:      time.Now,
		active:   make(map[string]*activeRun),
		base:     base,
		stopBase: stopBase,
	}
}

// ExecuteFullPipeline runs every stage of pipelineID and returns the finalized run.
// Configuration errors are returned before any record is created. Stage failures
// are reported on the returned run, which is never left running.
func (o *Orchestrator) ExecuteFullPipeline(ctx context.Context, pipelineID string, opts RunOptions) (*types.PipelineRun, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ex, err := o.prepare(ctx, pipelineID, opts, cancel)
	if err != nil {
		return nil, err
	}

	o.execute(runCtx, ex)
	return ex.ar.snapshotRun(), nil
}

// StartFullPipeline creates the run records and executes the stages in the
// background. The returned run is a snapshot taken before the first stage.
// The run outlives ctx; use CancelRun or Shutdown to stop it.
func (o *Orchestrator) StartFullPipeline(ctx context.Context, pipelineID string, opts RunOptions) (*types.PipelineRun, error) {
	runCtx, cancel := o.detach(ctx)
	ex, err := o.prepare(ctx, pipelineID, opts, cancel)
	if err != nil {
		cancel()
		return nil, err
	}
	snapshot := ex.ar.snapshotRun()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.execute(runCtx, ex)
	}()
	return snapshot, nil
}

// Wait blocks until every run started with StartFullPipeline or StartBatch has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown cancels background runs and batches, then waits for them to be
// finalized. Runs started afterwards are cancelled at their first stage.
func (o *Orchestrator) Shutdown() {
	o.stopBase()
	o.wg.Wait()
}

// detach returns a context carrying ctx's values but not its cancellation,
// ended by Shutdown or by the returned cancel.
func (o *Orchestrator) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(o.base, cancel)
	if o.base.Err() != nil {
		cancel()
	}
	return runCtx, func() {
		stop()
		cancel()
	}
}

// execution carries the resolved inputs of one run through its stages.
type execution struct {
	ar       *activeRun
	pipeline *types.Pipeline
	persona  *types.Persona
	opts     RunOptions
	script   types.ScriptOptions
}

// prepare resolves configuration and creates the project and run records.
// cancel stops the run's context and is stored for CancelRun.
func (o *Orchestrator) prepare(ctx context.Context, pipelineID string, opts RunOptions, cancel context.CancelFunc) (*execution, error) {
	pipeline, persona, err := o.resolve(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	now := o.now()
	scriptOpts := pipeline.Script
	if opts.ScriptOptions != nil {
		scriptOpts = *opts.ScriptOptions
	}
	project := &types.VideoProject{
		ID:         uuid.NewString(),
		PipelineID: pipeline.ID,
		PersonaID:  pipeline.PersonaID,
		Topic:      o.resolveTopic(opts.Topic, "", pipeline),
		Script:     strings.TrimSpace(opts.CustomScript),
		Status:     types.ProjectGenerating,
		Progress:   0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	trigger := opts.TriggerSource
	if trigger == "" {
		trigger = types.TriggerManual
	}
	run := &types.PipelineRun{
		ID:            uuid.NewString(),
		PipelineID:    pipeline.ID,
		ProjectID:     project.ID,
		BatchID:       opts.BatchID,
		TriggerSource: trigger,
		Status:        types.RunRunning,
		Stages:        []types.StageResult{},
		StartedAt:     now,
	}

	if err := o.deps.Store.Projects.Insert(ctx, project); err != nil {
		o.logger.Warn("failed to persist project", zap.String("project_id", project.ID), zap.Error(err))
	}
	if err := o.deps.Store.Runs.Insert(ctx, run); err != nil {
		o.logger.Warn("failed to persist run", zap.String("run_id", run.ID), zap.Error(err))
	}

	ar := &activeRun{run: run, project: project, cancel: cancel, onProgress: opts.OnProgress}
	o.mu.Lock()
	o.active[run.ID] = ar
	o.mu.Unlock()

	o.logger.Info("run started",
		zap.String("run_id", run.ID),
		zap.String("pipeline_id", pipeline.ID),
		zap.String("project_id", project.ID),
		zap.String("trigger", trigger),
		zap.String("topic", project.Topic))

	return &execution{ar: ar, pipeline: pipeline, persona: persona, opts: opts, script: scriptOpts}, nil
}

func (o *Orchestrator) resolve(ctx context.Context, pipelineID string) (*types.Pipeline, *types.Persona, error) {
	pipeline, err := o.deps.Store.Pipelines.Get(ctx, pipelineID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, pipelineID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load pipeline %s: %w", pipelineID, err)
	}
	if pipeline.PersonaID == "" {
		return pipeline, nil, nil
	}
	persona, err := o.deps.Store.Personas.Get(ctx, pipeline.PersonaID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrPersonaNotFound, pipeline.PersonaID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load persona %s: %w", pipeline.PersonaID, err)
	}
	return pipeline, persona, nil
}

// resolveTopic picks the first non-empty of the requested topic, the fallback,
// the pipeline default and the orchestrator default.
func (o *Orchestrator) resolveTopic(requested, fallback string, pipeline *types.Pipeline) string {
	for _, topic := range []string{requested, fallback, pipeline.DefaultTopic} {
		if t := strings.TrimSpace(topic); t != "" {
			return t
		}
	}
	return o.opts.DefaultTopic
}

// execute runs the stages in order and finalizes the run. It never returns with
// the run still running.
func (o *Orchestrator) execute(ctx context.Context, ex *execution) {
	ar := ex.ar
	defer o.release(ar.run.ID)
	defer func() {
		if r := recover(); r != nil {
			o.fail(ar, fmt.Errorf("panic: %v", r))
		}
	}()

	for _, def := range stageDefinitions() {
		if ctx.Err() != nil {
			o.cancelActive(ar, "run context cancelled")
			return
		}
		err := o.runStage(ctx, ex, def)
		if err == nil {
			continue
		}
		if errors.Is(err, errRunClosed) {
			return
		}
		if ctx.Err() != nil {
			o.cancelActive(ar, "run context cancelled")
			return
		}
		o.fail(ar, err)
		return
	}
	o.complete(ar)
}

// release drops a finalized run from the active registry.
func (o *Orchestrator) release(runID string) {
	o.mu.Lock()
	delete(o.active, runID)
	o.mu.Unlock()
}

func (o *Orchestrator) lookup(runID string) *activeRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[runID]
}

// finishLocked sets the terminal status once. ar.mu must be held.
func (o *Orchestrator) finishLocked(ar *activeRun, status types.RunStatus, message string) {
	now := o.now()
	ar.run.Status = status
	ar.run.ErrorMessage = message
	ar.run.CompletedAt = &now
	ar.run.DurationMs = now.Sub(ar.run.StartedAt).Milliseconds()
	ar.project.UpdatedAt = now
}

func (o *Orchestrator) complete(ar *activeRun) {
	ar.mu.Lock()
	if ar.run.Status.IsTerminal() {
		ar.mu.Unlock()
		return
	}
	o.finishLocked(ar, types.RunCompleted, "")
	ar.project.Status = types.ProjectReview
	ar.project.Progress = 100
	ar.project.ErrorMessage = ""
	duration := ar.run.DurationMs
	ar.mu.Unlock()

	o.persist(ar)
	o.logger.Info("run completed",
		zap.String("run_id", ar.run.ID),
		zap.Int64("duration_ms", duration))
}

func (o *Orchestrator) fail(ar *activeRun, err error) {
	ar.mu.Lock()
	if ar.run.Status.IsTerminal() {
		ar.mu.Unlock()
		return
	}
	message := err.Error()
	if stage := ar.run.CurrentStage; stage != "" {
		message = stage + ": " + message
	}
	o.finishLocked(ar, types.RunFailed, message)
	ar.project.Status = types.ProjectFailed
	ar.project.ErrorMessage = message
	ar.mu.Unlock()

	o.persist(ar)
	o.logger.Error("run failed",
		zap.String("run_id", ar.run.ID),
		zap.String("error", message))
}

// CancelRun cancels a run that has not finished. Cancelling a finished run
// returns ErrRunTerminal and leaves it unchanged. Failures to cancel individual
// compute jobs are logged only.
func (o *Orchestrator) CancelRun(ctx context.Context, runID string) error {
	ar := o.lookup(runID)
	if ar == nil {
		return o.cancelStored(ctx, runID)
	}

	jobIDs, err := o.markCancelled(ar, "cancelled by request")
	if err != nil {
		return err
	}
	ar.cancel()
	o.cancelJobs(ctx, jobIDs)
	o.persist(ar)
	return nil
}

// cancelActive finalizes a run whose context ended without CancelRun.
func (o *Orchestrator) cancelActive(ar *activeRun, reason string) {
	jobIDs, err := o.markCancelled(ar, reason)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	o.cancelJobs(ctx, jobIDs)
	o.persist(ar)
}

// markCancelled moves the run to cancelled and the project back to draft.
// It returns the job ids recorded so far.
func (o *Orchestrator) markCancelled(ar *activeRun, reason string) ([]string, error) {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if ar.run.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunTerminal, ar.run.ID, ar.run.Status)
	}
	o.finishLocked(ar, types.RunCancelled, "")
	ar.project.Status = types.ProjectDraft
	ar.project.ErrorMessage = ""
	o.logger.Info("run cancelled",
		zap.String("run_id", ar.run.ID),
		zap.String("reason", reason),
		zap.Int("jobs", len(ar.run.JobIDs)))
	return slices.Clone(ar.run.JobIDs), nil
}

// cancelStored cancels a run known only to the store, e.g. one left behind by a
// previous process.
func (o *Orchestrator) cancelStored(ctx context.Context, runID string) error {
	run, err := o.deps.Store.Runs.Get(ctx, runID)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	if run.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrRunTerminal, runID, run.Status)
	}

	o.cancelJobs(ctx, run.JobIDs)
	now := o.now()
	run.Status = types.RunCancelled
	run.CompletedAt = &now
	run.DurationMs = now.Sub(run.StartedAt).Milliseconds()
	if err := o.deps.Store.Runs.Update(ctx, run); err != nil {
		o.logger.Warn("failed to persist run", zap.String("run_id", runID), zap.Error(err))
	}
	if project, err := o.deps.Store.Projects.Get(ctx, run.ProjectID); err == nil {
		project.Status = types.ProjectDraft
		project.ErrorMessage = ""
		project.UpdatedAt = now
		if err := o.deps.Store.Projects.Update(ctx, project); err != nil {
			o.logger.Warn("failed to persist project", zap.String("project_id", project.ID), zap.Error(err))
		}
	}
	o.logger.Info("run cancelled", zap.String("run_id", runID), zap.String("reason", "stale run"))
	return nil
}

func (o *Orchestrator) cancelJobs(ctx context.Context, jobIDs []string) {
	if o.deps.Dispatcher == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, id := range jobIDs {
		o.deps.Dispatcher.CancelJob(ctx, id)
	}
}

// recordJob appends a dispatched job id to the run. A job accepted after the
// run was cancelled is cancelled immediately.
func (o *Orchestrator) recordJob(ar *activeRun, jobID string) {
	ar.mu.Lock()
	ar.run.JobIDs = append(ar.run.JobIDs, jobID)
	closed := ar.run.Status.IsTerminal()
	ar.mu.Unlock()

	if closed {
		ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		defer cancel()
		o.cancelJobs(ctx, []string{jobID})
	}
}

// GetRunStatus returns the status of an active or stored run.
func (o *Orchestrator) GetRunStatus(ctx context.Context, runID string) (*RunStatus, error) {
	if ar := o.lookup(runID); ar != nil {
		ar.mu.Lock()
		defer ar.mu.Unlock()
		return newRunStatus(ar.run, ar.project.Progress), nil
	}

	run, err := o.deps.Store.Runs.Get(ctx, runID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	progress := 0
	if project, err := o.deps.Store.Projects.Get(ctx, run.ProjectID); err == nil {
		progress = project.Progress
	}
	return newRunStatus(run, progress), nil
}

func newRunStatus(run *types.PipelineRun, progress int) *RunStatus {
	return &RunStatus{
		RunID:        run.ID,
		ProjectID:    run.ProjectID,
		Status:       run.Status,
		CurrentStage: run.CurrentStage,
		Stages:       slices.Clone(run.Stages),
		Progress:     progress,
		Error:        run.ErrorMessage,
		DurationMs:   run.DurationMs,
	}
}

// persist writes the current run and project snapshots. Failures are logged;
// the in-memory state stays authoritative for the run's lifetime.
func (o *Orchestrator) persist(ar *activeRun) {
	ar.persistMu.Lock()
	defer ar.persistMu.Unlock()

	run := ar.snapshotRun()
	project := ar.snapshotProject()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.deps.Store.Runs.Update(ctx, run); err != nil {
		o.logger.Warn("failed to persist run", zap.String("run_id", run.ID), zap.Error(err))
	}
	if err := o.deps.Store.Projects.Update(ctx, project); err != nil {
		o.logger.Warn("failed to persist project", zap.String("project_id", project.ID), zap.Error(err))
	}
}

func (ar *activeRun) snapshotRun() *types.PipelineRun {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	run := *ar.run
	run.Stages = slices.Clone(ar.run.Stages)
	run.JobIDs = slices.Clone(ar.run.JobIDs)
	return &run
}

func (ar *activeRun) snapshotProject() *types.VideoProject {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	project := *ar.project
	project.Hashtags = slices.Clone(ar.project.Hashtags)
	project.Shots = slices.Clone(ar.project.Shots)
	project.Frames = slices.Clone(ar.project.Frames)
	return &project
}

func (ar *activeRun) emit(event ProgressEvent) {
	if ar.onProgress != nil {
		ar.onProgress(event)
	}
}
