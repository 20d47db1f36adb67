package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/content-pipeline/internal/observability"
	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/types"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run one pipeline end-to-end",
	Long: `Executes script generation -> shot decomposition -> frame generation -> assembly for one pipeline.

Ctrl-C cancels the run and the compute jobs it dispatched.`,
	RunE: runPipelineCmd,
}

var (
	runPipelineID string
	runTopic      string
	runScriptFile string
	runSkipScript bool
	runNoGate     bool
)

func init() {
	runCommand.Flags().StringVarP(&runPipelineID, "pipeline", "p", "", "Pipeline id (required)")
	runCommand.Flags().StringVarP(&runTopic, "topic", "t", "", "Topic (defaults to the pipeline's default topic)")
	runCommand.Flags().StringVar(&runScriptFile, "script", "", "Use the script in this file instead of generating one")
	runCommand.Flags().BoolVar(&runSkipScript, "skip-script", false, "Skip script generation")
	runCommand.Flags().BoolVar(&runNoGate, "no-readiness-gate", false, "Dispatch frames without waiting for the engine")
	_ = runCommand.MarkFlagRequired("pipeline")
	rootCmd.AddCommand(runCommand)
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if runNoGate {
		gate := false
		cfg.Readiness.GateOnReadiness = &gate
	}

	opts := pipeline.RunOptions{
		Topic:                runTopic,
		SkipScriptGeneration: runSkipScript,
		TriggerSource:        types.TriggerCLI,
	}
	if runScriptFile != "" {
		script, err := os.ReadFile(runScriptFile)
		if err != nil {
			return fmt.Errorf("failed to read script: %w", err)
		}
		opts.CustomScript = string(script)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	printer := observability.NewPrinter(cmd.OutOrStdout())
	if verbose {
		opts.OnProgress = printer.PrintProgress
	}

	run, err := a.orchestrator.ExecuteFullPipeline(ctx, runPipelineID, opts)
	if err != nil {
		return err
	}
	project, err := a.store.Projects.Get(context.WithoutCancel(ctx), run.ProjectID)
	if err != nil {
		project = nil
	}
	if verbose && project != nil {
		printer.PrintShots(project.Shots)
	}
	printer.PrintRun(run, project)

	switch run.Status {
	case types.RunCompleted:
		return nil
	case types.RunCancelled:
		return errors.New("run cancelled")
	default:
		return fmt.Errorf("run %s: %s", run.Status, run.ErrorMessage)
	}
}
