// Package observability provides formatted output for the pipeline CLI.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/readiness"
	"github.com/jonathan/content-pipeline/internal/types"
)

const (
	// boxWidth is the width of formatted output boxes
	boxWidth = 60
	// maxItemsToShow caps list output
	maxItemsToShow = 5
)

// Printer writes human-readable summaries.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// truncate shortens s to n runes with a trailing ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}
	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintProgress prints one progress line.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(ev pipeline.ProgressEvent) {
	if ev.Status == types.StageRunning {
		fmt.Fprintf(p.out, "▶ %s\n", ev.Message)
		return
	}
	fmt.Fprintf(p.out, "  %s %s (%d%%)\n", statusIcon(string(ev.Status)), ev.Message, ev.Progress)
}

// statusIcon covers run, stage and batch statuses, which share their values.
func statusIcon(status string) string {
	switch status {
	case string(types.StageCompleted):
		return "✓"
	case string(types.StageSkipped), string(types.RunCancelled), string(types.BatchPartial):
		return "–"
	case string(types.StageFailed):
		return "✗"
	}
	return "•"
}

// PrintRun outputs a run and, when given, the project it produced.
func (p *Printer) PrintRun(run *types.PipelineRun, project *types.VideoProject) {
	if run == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Run:      %s\n", run.ID)
	fmt.Fprintf(&sb, "Pipeline: %s\n", run.PipelineID)
	fmt.Fprintf(&sb, "Status:   %s %s\n", statusIcon(string(run.Status)), run.Status)
	if run.DurationMs > 0 {
		fmt.Fprintf(&sb, "Duration: %s\n", (time.Duration(run.DurationMs) * time.Millisecond).Round(time.Millisecond))
	}
	if run.ErrorMessage != "" {
		fmt.Fprintf(&sb, "Error:    %s\n", run.ErrorMessage)
	}

	if len(run.Stages) > 0 {
		sb.WriteString("\nStages:\n")
		for _, stage := range run.Stages {
			line := fmt.Sprintf("  %s %-20s %s", statusIcon(string(stage.Status)), stage.Stage, stage.Status)
			if stage.CompletedAt != nil {
				line += fmt.Sprintf(" %s", stage.CompletedAt.Sub(stage.StartedAt).Round(time.Millisecond))
			}
			sb.WriteString(line + "\n")
		}
	}

	if project != nil {
		sb.WriteString("\n")
		if project.Title != "" {
			fmt.Fprintf(&sb, "Title:    %s\n", project.Title)
		}
		fmt.Fprintf(&sb, "Topic:    %s\n", project.Topic)
		fmt.Fprintf(&sb, "Shots:    %d\n", len(project.Shots))
		completed := 0
		for _, f := range project.Frames {
			if f.Status == types.FrameCompleted {
				completed++
			}
		}
		fmt.Fprintf(&sb, "Frames:   %d/%d\n", completed, len(project.Frames))
		if project.FinalURL != "" {
			fmt.Fprintf(&sb, "Output:   %s\n", project.FinalURL)
		} else if project.FinalPath != "" {
			fmt.Fprintf(&sb, "Output:   %s\n", project.FinalPath)
		}
	}

	p.printBox("PIPELINE RUN", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintShots lists the first shots of a storyboard.
func (p *Printer) PrintShots(shots []types.PromptChainItem) {
	if len(shots) == 0 {
		return
	}

	var sb strings.Builder
	count := min(len(shots), maxItemsToShow)
	for i := 0; i < count; i++ {
		shot := shots[i]
		fmt.Fprintf(&sb, "#%d  %.1fs", shot.Index, shot.DurationSeconds)
		if shot.CameraMovement != "" {
			fmt.Fprintf(&sb, "  [%s]", shot.CameraMovement)
		}
		fmt.Fprintf(&sb, "\n    %s\n", shot.ImagePrompt)
	}
	if len(shots) > maxItemsToShow {
		fmt.Fprintf(&sb, "... and %d more shots\n", len(shots)-maxItemsToShow)
	}

	p.printBox(fmt.Sprintf("STORYBOARD (%d shots)", len(shots)), strings.TrimSuffix(sb.String(), "\n"))
}

// PrintBatch outputs an aggregated batch result.
func (p *Printer) PrintBatch(batch *types.BatchResult) {
	if batch == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Batch:     %s\n", batch.ID)
	fmt.Fprintf(&sb, "Status:    %s %s\n", statusIcon(string(batch.Status)), batch.Status)
	fmt.Fprintf(&sb, "Completed: %d/%d\n", batch.Completed, batch.Total)
	if batch.Failed > 0 {
		fmt.Fprintf(&sb, "Failed:    %d\n", batch.Failed)
	}
	if d := pipeline.BatchDuration(batch); d > 0 {
		fmt.Fprintf(&sb, "Duration:  %s\n", d.Round(time.Millisecond))
	}

	if len(batch.Runs) > 0 {
		sb.WriteString("\n")
		for i, run := range batch.Runs {
			line := fmt.Sprintf("  %s run %d  %s", statusIcon(string(run.Status)), i+1, run.Status)
			if run.ErrorMessage != "" {
				line += ": " + run.ErrorMessage
			}
			sb.WriteString(line + "\n")
		}
	}

	p.printBox("BATCH RESULT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintReadiness outputs the engine readiness snapshot.
func (p *Printer) PrintReadiness(info readiness.Info) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "State:    %s\n", info.State)
	if !info.LastCheck.IsZero() {
		fmt.Fprintf(&sb, "Checked:  %s\n", info.LastCheck.Format(time.RFC3339))
	}
	fmt.Fprintf(&sb, "Latency:  %dms\n", info.LatencyMs)
	fmt.Fprintf(&sb, "Memory:   %.1f%%\n", info.MemoryUsagePercent)
	fmt.Fprintf(&sb, "Queue:    %d\n", info.QueueSize)
	fmt.Fprintf(&sb, "Devices:  %d\n", info.DeviceCount)
	if info.State == readiness.StateLoadingModels || info.State == readiness.StateStarting {
		fmt.Fprintf(&sb, "Models:   ~%d%% loaded\n", info.ModelLoadProgress)
	}
	if info.LastError != "" {
		fmt.Fprintf(&sb, "Error:    %s\n", info.LastError)
	}
	p.printBox("ENGINE READINESS", strings.TrimSuffix(sb.String(), "\n"))
}
