package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/content-pipeline/internal/observability"
	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/types"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run a pipeline several times with bounded concurrency",
	Long: `Runs --count independent executions of one pipeline, --concurrency at a time.
A failed run does not stop its siblings; the batch is completed, partial or failed.`,
	RunE: runBatchCmd,
}

var (
	batchPipelineID  string
	batchCount       int
	batchConcurrency int
	batchTopics      []string
)

func init() {
	batchCmd.Flags().StringVarP(&batchPipelineID, "pipeline", "p", "", "Pipeline id (required)")
	batchCmd.Flags().IntVarP(&batchCount, "count", "n", 1, "Number of runs")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 2, "Runs in flight at once")
	batchCmd.Flags().StringSliceVar(&batchTopics, "topics", nil, "Topic per run, in order (comma separated)")
	_ = batchCmd.MarkFlagRequired("pipeline")
	rootCmd.AddCommand(batchCmd)
}

func runBatchCmd(cmd *cobra.Command, _ []string) error {
	req := types.TriggerBatchRequest{Count: batchCount, Concurrency: batchConcurrency, Topics: batchTopics}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	result, err := a.orchestrator.ExecuteBatch(ctx, batchPipelineID, req.Count, pipeline.BatchOptions{
		Concurrency:   req.Concurrency,
		Topics:        req.Topics,
		TriggerSource: types.TriggerCLI,
		OnRunFinished: func(index int, run types.PipelineRun) {
			fmt.Fprintf(out, "run %d/%d %s\n", index+1, req.Count, run.Status)
		},
	})
	if err != nil {
		return err
	}
	observability.NewPrinter(out).PrintBatch(result)

	if result.Status == types.BatchFailed {
		return fmt.Errorf("all %d runs failed", result.Total)
	}
	return nil
}
