package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonathan/content-pipeline/internal/assembly"
	"github.com/jonathan/content-pipeline/internal/comfy"
	"github.com/jonathan/content-pipeline/internal/db"
	"github.com/jonathan/content-pipeline/internal/llm"
	"github.com/jonathan/content-pipeline/internal/readiness"
	"github.com/jonathan/content-pipeline/internal/types"
)

var (
	_ Dispatcher    = (*comfy.Dispatcher)(nil)
	_ Assembler     = (*assembly.Assembler)(nil)
	_ EngineMonitor = (*readiness.Monitor)(nil)
)

const (
	scriptReply = `Sure! {"title": "Cold Brew 101", "script": "Cold brew is patience in a jar. Steep it overnight.", "description": "Why cold brew tastes smoother.", "hashtags": ["coldbrew", "coffee"]}`
	shotsReply  = `{"shots": [
		{"image_prompt": "close-up of a mason jar of coffee", "duration_seconds": 4, "narration": "Cold brew is patience in a jar."},
		{"image_prompt": "sunrise over a kitchen counter", "narration": "Steep it overnight.", "transition": "fade"}
	]}`
)

// fakeText answers script prompts and shot prompts by looking at the user turn.
type fakeText struct {
	mu         sync.Mutex
	delay      time.Duration
	err        error
	panicWith  any
	failTopics map[string]bool
	active     int
	peak       int
	topics     []string
}

func (f *fakeText) Chat(ctx context.Context, messages []llm.Message) (*llm.ChatResponse, error) {
	user := messages[len(messages)-1].Content
	topic, isScript := strings.CutPrefix(user, "Topic: ")

	f.mu.Lock()
	f.active++
	f.peak = max(f.peak, f.active)
	if isScript {
		f.topics = append(f.topics, topic)
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.err != nil {
		return nil, f.err
	}
	if isScript {
		if f.failTopics[topic] {
			return nil, errors.New("model unavailable")
		}
		return &llm.ChatResponse{Content: scriptReply}, nil
	}
	return &llm.ChatResponse{Content: shotsReply}, nil
}

func (f *fakeText) Close() error { return nil }

func (f *fakeText) peakActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// fakeDispatcher completes every job immediately unless told otherwise.
type fakeDispatcher struct {
	mu        sync.Mutex
	workflow  string
	params    []comfy.Params
	cancelled []string
	failAll   bool

	// block holds ExecuteBatch after submission until ctx is done.
	block     bool
	submitted chan struct{}
}

func (f *fakeDispatcher) ExecuteBatch(ctx context.Context, workflowID string, params []comfy.Params, opts comfy.BatchOptions) (*comfy.BatchOutcome, error) {
	f.mu.Lock()
	f.workflow = workflowID
	f.params = params
	f.mu.Unlock()

	outcome := &comfy.BatchOutcome{Jobs: make([]comfy.JobOutcome, len(params))}
	for i := range params {
		id := fmt.Sprintf("job-%d", i)
		if opts.OnSubmit != nil {
			opts.OnSubmit(i, id)
		}
		job := comfy.JobOutcome{Index: i, JobID: id, Attempts: 1}
		switch {
		case f.block:
			job.Status = comfy.JobPending
		case f.failAll:
			job.Status = comfy.JobFailed
			job.Error = "node error"
			outcome.Failed++
		default:
			job.Status = comfy.JobCompleted
			job.Outputs = []types.OutputAsset{{
				Filename:  fmt.Sprintf("shot_%d.png", i),
				Type:      "output",
				LocalPath: fmt.Sprintf("/tmp/frames/%s/shot_%d.png", id, i),
			}}
			outcome.Completed++
		}
		outcome.Jobs[i] = job
	}
	if f.block {
		close(f.submitted)
		<-ctx.Done()
	}
	return outcome, nil
}

func (f *fakeDispatcher) CancelJob(_ context.Context, jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
}

func (f *fakeDispatcher) cancelledJobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

type fakeAssembler struct {
	err    error
	frames int
}

func (f *fakeAssembler) Assemble(_ context.Context, project *types.VideoProject, _ *types.Pipeline) (*assembly.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.frames = len(project.Frames)
	return &assembly.Result{
		Path:   "output/" + project.ID + "/final.mp4",
		URL:    "https://cdn.example.com/" + project.ID + ".mp4",
		Format: "mp4",
		Frames: len(project.Frames),
	}, nil
}

type fakeMonitor struct {
	mu    sync.Mutex
	state readiness.State
	ready bool
	waits int
}

func (f *fakeMonitor) CheckHealth(context.Context) readiness.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return readiness.Info{State: f.state}
}

func (f *fakeMonitor) WaitForReady(context.Context, time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits++
	return f.ready
}

func seedStore(t *testing.T, workflowID string) *db.Store {
	t.Helper()
	ctx := context.Background()
	store := db.NewMemoryStore()
	require.NoError(t, store.Personas.Insert(ctx, &types.Persona{
		ID:             "bea",
		Name:           "Barista Bea",
		Traits:         []string{"warm", "curious"},
		WritingStyle:   "short punchy sentences",
		VisualStyle:    "warm film grain",
		NegativePrompt: "blurry",
		EmbeddingRef:   "<lora:bea:0.8>",
	}))
	require.NoError(t, store.Pipelines.Insert(ctx, &types.Pipeline{
		ID:           "daily",
		Name:         "Daily coffee short",
		PersonaID:    "bea",
		WorkflowID:   workflowID,
		OutputFormat: "mp4",
		Resolution:   "1280x720",
		DefaultTopic: "cold brew",
	}))
	return store
}

type testDeps struct {
	store      *db.Store
	text       *fakeText
	dispatcher *fakeDispatcher
	assembler  *fakeAssembler
}

func newTestOrchestrator(t *testing.T, opts Options) (*Orchestrator, *testDeps) {
	t.Helper()
	deps := &testDeps{
		store:      seedStore(t, "txt2img"),
		text:       &fakeText{},
		dispatcher: &fakeDispatcher{},
		assembler:  &fakeAssembler{},
	}
	o := New(Deps{
		Store:      deps.store,
		Text:       deps.text,
		Dispatcher: deps.dispatcher,
		Assembler:  deps.assembler,
	}, opts)
	return o, deps
}

func stageNames(run *types.PipelineRun) []string {
	names := make([]string, len(run.Stages))
	for i, s := range run.Stages {
		names[i] = s.Stage
	}
	return names
}
