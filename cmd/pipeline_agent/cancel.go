package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel RUN_ID",
	Short: "Cancel a run recorded in the database",
	Long: `Marks a stored run cancelled and cancels the compute jobs it dispatched.
Use this for runs left behind by a stopped agent; runs inside a live server are cancelled through POST /runs/{id}/cancel.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancelCmd,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancelCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.orchestrator.CancelRun(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s cancelled\n", args[0])
	return nil
}
