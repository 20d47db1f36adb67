package comfy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonathan/content-pipeline/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine is the subset of the engine API the dispatcher needs.
type Engine interface {
	SubmitPrompt(ctx context.Context, graph map[string]any) (string, error)
	GetHistory(ctx context.Context, promptID string) (*HistoryEntry, bool, error)
	DownloadOutput(ctx context.Context, asset types.OutputAsset, w io.Writer) error
	DeleteQueued(ctx context.Context, promptIDs []string) error
	Interrupt(ctx context.Context, promptID string) error
}

// JobStatus is the outcome of one dispatched job.
type JobStatus string

// Job statuses. Pending means the job never finished because the batch was cancelled.
const (
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobPending   JobStatus = "pending"
)

// DispatcherOptions configure polling and output handling.
type DispatcherOptions struct {
	OutputDir    string
	PollInterval time.Duration
	JobTimeout   time.Duration
	RetryBackoff time.Duration
}

// BatchOptions configure one ExecuteBatch call.
type BatchOptions struct {
	Concurrency int
	MaxRetries  int
	// OnSubmit is called from the job goroutine each time the engine accepts a job.
	OnSubmit func(index int, jobID string)
}

// JobOutcome is the result for the params at Index.
type JobOutcome struct {
	Index    int                 `json:"index"`
	JobID    string              `json:"job_id,omitempty"`
	Status   JobStatus           `json:"status"`
	Outputs  []types.OutputAsset `json:"outputs,omitempty"`
	Attempts int                 `json:"attempts"`
	Error    string              `json:"error,omitempty"`
}

// BatchOutcome holds one JobOutcome per input, in input order.
type BatchOutcome struct {
	Jobs      []JobOutcome `json:"jobs"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
}

// Dispatcher submits workflow jobs with bounded concurrency and collects their outputs.
type Dispatcher struct {
	engine    Engine
	workflows *WorkflowStore
	opts      DispatcherOptions
	logger    *zap.Logger
}

var errJobTimeout = errors.New("job timed out")

// NewDispatcher creates a dispatcher. Zero options take defaults.
func NewDispatcher(engine Engine, workflows *WorkflowStore, opts DispatcherOptions, logger *zap.Logger) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Minute
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "output"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{engine: engine, workflows: workflows, opts: opts, logger: logger}
}

// ExecuteBatch runs one job per params entry against workflowID. Individual job
// failures are reported in the outcome; only a workflow load failure is returned.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, workflowID string, params []Params, opts BatchOptions) (*BatchOutcome, error) {
	template, err := d.workflows.Load(workflowID)
	if err != nil {
		return nil, err
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	outcome := &BatchOutcome{Jobs: make([]JobOutcome, len(params))}
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i := range params {
		g.Go(func() error {
			outcome.Jobs[i] = d.runJob(ctx, i, template, params[i], opts)
			return nil
		})
	}
	_ = g.Wait()

	for _, job := range outcome.Jobs {
		switch job.Status {
		case JobCompleted:
			outcome.Completed++
		case JobFailed:
			outcome.Failed++
		}
	}
	d.logger.Info("batch finished",
		zap.String("workflow", workflowID),
		zap.Int("jobs", len(params)),
		zap.Int("completed", outcome.Completed),
		zap.Int("failed", outcome.Failed))
	return outcome, nil
}

func (d *Dispatcher) runJob(ctx context.Context, index int, template map[string]any, params Params, opts BatchOptions) JobOutcome {
	result := JobOutcome{Index: index, Status: JobPending}
	var lastErr error

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, time.Duration(attempt)*d.opts.RetryBackoff) {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		result.Attempts++

		jobID, err := d.engine.SubmitPrompt(ctx, Render(template, params))
		if err != nil {
			lastErr = err
			d.logger.Warn("submit failed", zap.Int("index", index), zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		result.JobID = jobID
		if opts.OnSubmit != nil {
			opts.OnSubmit(index, jobID)
		}

		entry, err := d.waitForCompletion(ctx, jobID)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			d.logger.Warn("job failed", zap.Int("index", index), zap.String("job_id", jobID), zap.Error(err))
			// A timed-out job may still hold the engine; cancel it and do not resubmit.
			if errors.Is(err, errJobTimeout) {
				d.CancelJob(context.WithoutCancel(ctx), jobID)
				break
			}
			continue
		}

		outputs, err := d.downloadOutputs(ctx, jobID, entry.Assets())
		if err != nil {
			lastErr = err
			break
		}
		result.Status = JobCompleted
		result.Outputs = outputs
		result.Error = ""
		return result
	}

	if ctx.Err() != nil {
		result.Status = JobPending
		result.Error = "cancelled"
		return result
	}
	result.Status = JobFailed
	if lastErr != nil {
		result.Error = lastErr.Error()
	}
	return result
}

// waitForCompletion polls the history until the prompt finishes, fails or times out.
func (d *Dispatcher) waitForCompletion(ctx context.Context, jobID string) (*HistoryEntry, error) {
	deadline := time.Now().Add(d.opts.JobTimeout)
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		entry, found, err := d.engine.GetHistory(ctx, jobID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.logger.Debug("history poll failed", zap.String("job_id", jobID), zap.Error(err))
		case found && entry.Status.StatusStr == "error":
			return nil, fmt.Errorf("job %s failed on engine", jobID)
		case found && len(entry.Assets()) > 0:
			return entry, nil
		case found && entry.Status.Completed:
			return nil, fmt.Errorf("job %s completed without outputs", jobID)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after %s", errJobTimeout, d.opts.JobTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) downloadOutputs(ctx context.Context, jobID string, assets []types.OutputAsset) ([]types.OutputAsset, error) {
	dir := filepath.Join(d.opts.OutputDir, jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	downloaded := make([]types.OutputAsset, 0, len(assets))
	for _, asset := range assets {
		localPath := filepath.Join(dir, localName(asset))
		if err := d.downloadOne(ctx, asset, localPath); err != nil {
			return nil, err
		}
		asset.LocalPath = localPath
		downloaded = append(downloaded, asset)
	}
	return downloaded, nil
}

// localName flattens subfolder and filename so outputs sharing a base name stay distinct.
func localName(asset types.OutputAsset) string {
	name := filepath.Base(asset.Filename)
	sub := strings.Trim(filepath.ToSlash(filepath.Clean("/"+asset.Subfolder)), "/")
	if sub == "" {
		return name
	}
	return strings.ReplaceAll(sub, "/", "_") + "_" + name
}

func (d *Dispatcher) downloadOne(ctx context.Context, asset types.OutputAsset, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	if err := d.engine.DownloadOutput(ctx, asset, f); err != nil {
		_ = f.Close()
		_ = os.Remove(localPath)
		return err
	}
	return f.Close()
}

// CancelJob removes the job from the queue and interrupts it if running.
// Errors are logged; cancellation is best effort.
func (d *Dispatcher) CancelJob(ctx context.Context, jobID string) {
	if err := d.engine.DeleteQueued(ctx, []string{jobID}); err != nil {
		d.logger.Warn("failed to delete queued job", zap.String("job_id", jobID), zap.Error(err))
	}
	if err := d.engine.Interrupt(ctx, jobID); err != nil {
		d.logger.Warn("failed to interrupt job", zap.String("job_id", jobID), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
