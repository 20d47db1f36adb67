package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/content-pipeline/internal/config"
	"github.com/jonathan/content-pipeline/internal/schedule"
	"github.com/jonathan/content-pipeline/internal/server"
	"github.com/jonathan/content-pipeline/internal/server/ratelimit"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and cron schedules",
	Long: `Start an HTTP server that exposes endpoints for triggering and inspecting pipeline runs.
Schedules from the config file fire in the same process, and the engine is polled for readiness.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srvCfg := server.Config{Port: cfg.Server.Port, RateLimit: ratelimit.LoadConfig()}
	if cfg.Auth.JWTSecret != "" {
		jwtCfg, err := config.NewJWTConfig(cfg.Auth)
		if err != nil {
			return fmt.Errorf("invalid auth config: %w", err)
		}
		srvCfg.JWT = jwtCfg
	}

	scheduler := schedule.New(a.orchestrator, a.logger.Named("schedule"))
	for _, s := range cfg.Schedules {
		if err := scheduler.Schedule(schedule.Entry{PipelineID: s.PipelineID, Cron: s.Cron, Topics: s.Topics}); err != nil {
			return err
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	a.monitor.StartPolling(cfg.Readiness.PollInterval.D())

	srv := server.New(srvCfg, server.Deps{
		Orchestrator: a.orchestrator,
		Store:        a.store,
		Readiness:    a.monitor,
		Logger:       a.logger,
	})
	a.logger.Info("agent ready",
		zap.String("store", a.store.Backend()),
		zap.String("engine", cfg.Engine.URL),
		zap.Strings("scheduled", scheduler.Scheduled()))

	err = srv.Start(ctx)
	scheduler.Stop()
	// Active runs are cancelled and persisted before the store closes.
	a.orchestrator.Shutdown()
	return err
}
