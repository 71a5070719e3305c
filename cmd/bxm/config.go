package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dgellow/bxm/internal/config"
	"github.com/dgellow/bxm/internal/crypto"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate and check config files",
}

var configInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Write a default config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := generateDefaultConfig(args[0]); err != nil {
			return fmt.Errorf("failed to generate config: %w", err)
		}
		pterm.Success.Printfln("Generated default config at: %s", args[0])

		if key, err := crypto.GenerateSecureToken(); err == nil {
			pterm.Info.Printfln("Set a signing key before starting, for example:\n  export BXM_SIGNING_KEY=%s", key)
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check a config file without resolving environment variables",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if len(args) == 1 {
			path = args[0]
		}
		return validateConfig(cmd.OutOrStdout(), path)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configValidateCmd)
}

func defaultConfig() map[string]any {
	return map[string]any{
		"version": config.Version,
		"authority": map[string]any{
			"addr":           config.DefaultAddr,
			"name":           config.DefaultName,
			"mode":           string(config.ModeDirect),
			"allowedOrigins": []string{"chrome-extension://your-extension-id"},
			"broadcast": map[string]any{
				"concurrency": config.DefaultConcurrency,
				"timeout":     config.DefaultDeliveryTimeout.String(),
			},
		},
		"identity": map[string]any{
			"signingKey":     map[string]string{"$env": "BXM_SIGNING_KEY"},
			"issuer":         config.DefaultIssuer,
			"customTokenTtl": config.DefaultCustomTokenTTL.String(),
			"idTokenTtl":     config.DefaultIDTokenTTL.String(),
			"persistence":    string(config.PersistenceMemory),
		},
		"backend": map[string]any{
			"serve":   true,
			"timeout": config.DefaultBackendTimeout.String(),
		},
		"surface": map[string]any{
			"syncTimeout":   config.DefaultSyncTimeout.String(),
			"settleTimeout": config.DefaultSettleTimeout.String(),
			"authDomain":    "app.example.com",
		},
	}
}

func generateDefaultConfig(path string) error {
	data, err := json.MarshalIndent(defaultConfig(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func validateConfig(out io.Writer, path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Fprintf(out, "Validating: %s\n", path)
	printIssues(out, "Errors", result.Errors)
	printIssues(out, "Warnings", result.Warnings)

	fmt.Fprintln(out)
	switch {
	case len(result.Errors) == 0 && len(result.Warnings) == 0:
		fmt.Fprintln(out, "Result: PASS")
	case len(result.Errors) == 0:
		fmt.Fprintln(out, "Result: FAIL (warnings present)")
	default:
		fmt.Fprintln(out, "Result: FAIL")
	}

	if len(result.Errors) > 0 || len(result.Warnings) > 0 {
		return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
	}
	return nil
}

func printIssues(out io.Writer, title string, issues []config.ValidationError) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s (%d):\n", title, len(issues))
	for _, issue := range issues {
		if issue.Path != "" {
			fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
		} else {
			fmt.Fprintf(out, "  - %s\n", issue.Message)
		}
	}
}
