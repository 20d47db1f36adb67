package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/content-pipeline/internal/db"
	"github.com/jonathan/content-pipeline/internal/types"
)

// BatchOptions configure one batch.
type BatchOptions struct {
	Concurrency   int      // runs per window; the orchestrator default when zero
	Topics        []string // topic i is used for run i
	DefaultTopic  string   // used once Topics is exhausted
	TriggerSource string
	OnRunFinished func(index int, run types.PipelineRun)
}

// ExecuteBatch runs count independent executions of pipelineID. Runs are
// started in windows of Concurrency and each window is awaited in full before
// the next starts; one failed run never affects its siblings.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, pipelineID string, count int, opts BatchOptions) (*types.BatchResult, error) {
	batch, pipeline, err := o.prepareBatch(ctx, pipelineID, count)
	if err != nil {
		return nil, err
	}
	o.runBatch(ctx, batch, pipeline, count, opts)
	return batch, nil
}

// StartBatch validates the request, stores a running batch record and executes
// it in the background. Progress is visible through the stored record.
func (o *Orchestrator) StartBatch(ctx context.Context, pipelineID string, count int, opts BatchOptions) (*types.BatchResult, error) {
	batch, pipeline, err := o.prepareBatch(ctx, pipelineID, count)
	if err != nil {
		return nil, err
	}
	snapshot := *batch

	runCtx, cancel := o.detach(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.runBatch(runCtx, batch, pipeline, count, opts)
	}()
	return &snapshot, nil
}

func (o *Orchestrator) prepareBatch(ctx context.Context, pipelineID string, count int) (*types.BatchResult, *types.Pipeline, error) {
	if count <= 0 {
		return nil, nil, fmt.Errorf("batch count must be positive, got %d", count)
	}
	pipeline, err := o.deps.Store.Pipelines.Get(ctx, pipelineID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, pipelineID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load pipeline %s: %w", pipelineID, err)
	}

	batch := &types.BatchResult{
		ID:         uuid.NewString(),
		PipelineID: pipelineID,
		Runs:       []types.PipelineRun{},
		Total:      count,
		Status:     types.BatchRunning,
		StartedAt:  o.now(),
	}
	if err := o.deps.Store.Batches.Insert(ctx, batch); err != nil {
		o.logger.Warn("failed to persist batch", zap.String("batch_id", batch.ID), zap.Error(err))
	}
	return batch, pipeline, nil
}

func (o *Orchestrator) runBatch(ctx context.Context, batch *types.BatchResult, pipeline *types.Pipeline, count int, opts BatchOptions) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = o.opts.BatchConcurrency
	}
	trigger := opts.TriggerSource
	if trigger == "" {
		trigger = types.TriggerBatch
	}

	o.logger.Info("batch started",
		zap.String("batch_id", batch.ID),
		zap.String("pipeline_id", batch.PipelineID),
		zap.Int("count", count),
		zap.Int("concurrency", concurrency))

	runs := make([]types.PipelineRun, 0, count)
	for start := 0; start < count; start += concurrency {
		if ctx.Err() != nil {
			o.logger.Warn("batch cancelled", zap.String("batch_id", batch.ID), zap.Int("started", start))
			break
		}
		end := min(start+concurrency, count)
		window := make([]types.PipelineRun, end-start)

		// Settle semantics: goroutines never return an error, so no sibling is cancelled.
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				run := o.batchRun(ctx, batch.ID, pipeline, o.batchTopic(i, opts, pipeline), trigger)
				window[i-start] = run
				if opts.OnRunFinished != nil {
					opts.OnRunFinished(i, run)
				}
				return nil
			})
		}
		_ = g.Wait()
		runs = append(runs, window...)
	}

	completed := 0
	for _, run := range runs {
		if run.Status == types.RunCompleted {
			completed++
		}
	}
	now := o.now()
	batch.Runs = runs
	batch.Completed = completed
	batch.Failed = count - completed
	batch.Status = aggregateStatus(completed, count)
	batch.CompletedAt = &now

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := o.deps.Store.Batches.Update(persistCtx, batch); err != nil {
		o.logger.Warn("failed to persist batch", zap.String("batch_id", batch.ID), zap.Error(err))
	}
	o.logger.Info("batch finished",
		zap.String("batch_id", batch.ID),
		zap.String("status", string(batch.Status)),
		zap.Int("completed", batch.Completed),
		zap.Int("failed", batch.Failed),
		zap.Duration("duration", now.Sub(batch.StartedAt)))
}

// batchRun executes one run of a batch. A configuration error becomes a failed
// run record so the batch can still be aggregated.
func (o *Orchestrator) batchRun(ctx context.Context, batchID string, pipeline *types.Pipeline, topic, trigger string) types.PipelineRun {
	run, err := o.ExecuteFullPipeline(ctx, pipeline.ID, RunOptions{
		Topic:         topic,
		TriggerSource: trigger,
		BatchID:       batchID,
	})
	if err != nil {
		o.logger.Error("batch run not started", zap.String("batch_id", batchID), zap.Error(err))
		now := o.now()
		return types.PipelineRun{
			PipelineID:    pipeline.ID,
			BatchID:       batchID,
			TriggerSource: trigger,
			Status:        types.RunFailed,
			Stages:        []types.StageResult{},
			ErrorMessage:  err.Error(),
			StartedAt:     now,
			CompletedAt:   &now,
		}
	}
	return *run
}

func (o *Orchestrator) batchTopic(i int, opts BatchOptions, pipeline *types.Pipeline) string {
	requested := ""
	if i < len(opts.Topics) {
		requested = opts.Topics[i]
	}
	return o.resolveTopic(requested, opts.DefaultTopic, pipeline)
}

func aggregateStatus(completed, total int) types.BatchStatus {
	switch {
	case completed == total:
		return types.BatchCompleted
	case completed == 0:
		return types.BatchFailed
	default:
		return types.BatchPartial
	}
}

// BatchDuration is the wall-clock time of a finished batch.
func BatchDuration(b *types.BatchResult) time.Duration {
	if b.CompletedAt == nil {
		return 0
	}
	return b.CompletedAt.Sub(b.StartedAt)
}
