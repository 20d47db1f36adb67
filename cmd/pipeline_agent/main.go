// Package main provides the entry point for the content pipeline agent.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "pipeline_agent",
	Short: "Persona content pipeline",
	Long: `Turns a topic into a short video: script generation -> shot decomposition -> frame generation -> assembly.

Frames are rendered on a ComfyUI-compatible engine. Runs can be triggered from the CLI, the HTTP API or cron schedules.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a JSON or YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print progress and debug logs")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
