package main

import (
	"fmt"

	"github.com/dgellow/bxm/internal"
	"github.com/dgellow/bxm/internal/log"
	"github.com/spf13/cobra"
)

var authorityCmd = &cobra.Command{
	Use:   "authority",
	Short: "Run the background Authority and its runtime channel",
	RunE:  runAuthority,
}

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Run the standalone custom token endpoint",
	RunE:  runBackend,
}

func init() {
	backendCmd.Flags().String("addr", "127.0.0.1:8788", "listen address")
}

func runAuthority(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log.LogInfoWithFields("main", "Starting bxm authority", map[string]any{
		"version": BuildVersion,
		"mode":    cfg.Authority.Mode,
	})

	app, err := internal.NewApp(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to create authority: %w", err)
	}
	return app.Run(cmd.Context())
}

func runBackend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	addr, _ := cmd.Flags().GetString("addr")

	app, err := internal.NewBackendApp(cfg, addr)
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}
	return app.Run(cmd.Context())
}
