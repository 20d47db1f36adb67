package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/content-pipeline/internal/comfy"
	"github.com/jonathan/content-pipeline/internal/observability"
	"github.com/jonathan/content-pipeline/internal/readiness"
)

var readinessCmd = &cobra.Command{
	Use:   "readiness",
	Short: "Probe the compute engine",
	RunE:  runReadinessCmd,
}

var (
	readinessWait    bool
	readinessTimeout time.Duration
)

func init() {
	readinessCmd.Flags().BoolVar(&readinessWait, "wait", false, "Poll until the engine is READY")
	readinessCmd.Flags().DurationVar(&readinessTimeout, "timeout", 5*time.Minute, "How long --wait polls")
	rootCmd.AddCommand(readinessCmd)
}

func runReadinessCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	monitor := readiness.NewMonitor(comfy.NewClient(cfg.Engine.URL, engineRequestTimeout), readiness.Options{}, logger)
	printer := observability.NewPrinter(cmd.OutOrStdout())

	if !readinessWait {
		info := monitor.CheckHealth(context.Background())
		printer.PrintReadiness(info)
		if info.State == readiness.StateOffline {
			return fmt.Errorf("engine at %s is offline", cfg.Engine.URL)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
	defer cancel()
	ready := monitor.WaitForReady(ctx, cfg.Engine.PollInterval.D())
	printer.PrintReadiness(monitor.Info())
	if !ready {
		return fmt.Errorf("engine not ready after %s", readinessTimeout)
	}
	return nil
}
