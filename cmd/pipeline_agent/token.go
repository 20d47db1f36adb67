package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/content-pipeline/internal/config"
	"github.com/jonathan/content-pipeline/internal/server"
)

var tokenCmd = &cobra.Command{
	Use:   "token CLIENT",
	Short: "Issue an API bearer token",
	Long:  "Signs a token for CLIENT with auth.jwt_secret (or JWT_SECRET). JWT_EXPIRATION_HOURS sets its lifetime.",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenCmd,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runTokenCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret or JWT_SECRET is required")
	}
	jwtCfg, err := config.NewJWTConfig(cfg.Auth)
	if err != nil {
		return err
	}
	token, err := server.NewJWTService(jwtCfg).GenerateToken(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
