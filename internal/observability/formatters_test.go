package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/readiness"
	"github.com/jonathan/content-pipeline/internal/types"
)

func TestPrintRun(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)
	run := &types.PipelineRun{
		ID:         "run-1",
		PipelineID: "daily",
		Status:     types.RunCompleted,
		DurationMs: 4200,
		Stages: []types.StageResult{
			{Stage: types.StageScriptGeneration, Status: types.StageSkipped, StartedAt: start, CompletedAt: &start},
			{Stage: types.StageShotDecomposition, Status: types.StageCompleted, StartedAt: start, CompletedAt: &end},
		},
	}
	project := &types.VideoProject{
		Title:    "Cold Brew 101",
		Topic:    "cold brew",
		Shots:    make([]types.PromptChainItem, 3),
		Frames:   []types.GeneratedFrame{{Status: types.FrameCompleted}, {Status: types.FrameFailed}},
		FinalURL: "https://cdn.example.com/p1.mp4",
	}

	p.PrintRun(run, project)
	out := buf.String()

	assert.Contains(t, out, "PIPELINE RUN")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "4.2s")
	assert.Contains(t, out, "shot_decomposition")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "Cold Brew 101")
	assert.Contains(t, out, "Frames:   1/2")
	assert.Contains(t, out, "https://cdn.example.com/p1.mp4")
}

func TestPrintRun_Nil(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintRun(nil, nil)
	assert.Empty(t, buf.String())
}

func TestPrintRun_Failure(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintRun(&types.PipelineRun{ID: "r", Status: types.RunFailed, ErrorMessage: "frame_generation: engine down"}, nil)
	assert.Contains(t, buf.String(), "✗ failed")
	assert.Contains(t, buf.String(), "engine down")
}

func TestPrintShots(t *testing.T) {
	var buf bytes.Buffer
	shots := make([]types.PromptChainItem, 7)
	for i := range shots {
		shots[i] = types.PromptChainItem{Index: i, ImagePrompt: "kitchen at dawn", DurationSeconds: 3}
	}
	shots[0].CameraMovement = "pan left"

	NewPrinter(&buf).PrintShots(shots)
	out := buf.String()
	assert.Contains(t, out, "STORYBOARD (7 shots)")
	assert.Contains(t, out, "[pan left]")
	assert.Contains(t, out, "... and 2 more shots")
}

func TestPrintBatch(t *testing.T) {
	var buf bytes.Buffer
	start := time.Now()
	end := start.Add(3 * time.Second)
	batch := &types.BatchResult{
		ID:        "b1",
		Total:     2,
		Completed: 1,
		Failed:    1,
		Status:    types.BatchPartial,
		Runs: []types.PipelineRun{
			{Status: types.RunCompleted},
			{Status: types.RunFailed, ErrorMessage: "model offline"},
		},
		StartedAt:   start,
		CompletedAt: &end,
	}

	NewPrinter(&buf).PrintBatch(batch)
	out := buf.String()
	assert.Contains(t, out, "BATCH RESULT")
	assert.Contains(t, out, "Completed: 1/2")
	assert.Contains(t, out, "Duration:  3s")
	assert.Contains(t, out, "model offline")
}

func TestPrintReadiness(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintReadiness(readiness.Info{
		State:              readiness.StateLoadingModels,
		LatencyMs:          4200,
		MemoryUsagePercent: 61.5,
		ModelLoadProgress:  63,
	})
	out := buf.String()
	assert.Contains(t, out, "LOADING_MODELS")
	assert.Contains(t, out, "61.5%")
	assert.Contains(t, out, "~63% loaded")
}

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.PrintProgress(pipeline.ProgressEvent{Status: types.StageRunning, Message: "Stage 1/4: script_generation..."})
	p.PrintProgress(pipeline.ProgressEvent{Status: types.StageCompleted, Message: "completed", Progress: 25})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{"▶ Stage 1/4: script_generation...", "  ✓ completed (25%)"}, lines)
}

func TestPrintBox_TruncatesLongLines(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).printBox("T", strings.Repeat("é", 100))
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.LessOrEqual(t, len([]rune(line)), boxWidth)
	}
	assert.Contains(t, buf.String(), "...")
}
