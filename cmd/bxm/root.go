package main

import (
	"fmt"

	"github.com/dgellow/bxm/internal/config"
	"github.com/dgellow/bxm/internal/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "bxm",
	Short:         "Keep every extension context signed in as the same user",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		if level == "" {
			return nil
		}
		return log.SetLogLevel(level)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "bxm.json", "path to config file")
	rootCmd.PersistentFlags().String("log-level", "", "log level (error, warn, info, debug, trace)")

	rootCmd.AddCommand(authorityCmd, backendCmd, contextCmd, configCmd, tokenCmd, versionCmd)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
