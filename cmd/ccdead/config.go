package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/pelletier/go-toml"
	"github.com/spf13/cobra"

	"github.com/panbanda/ccdead/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validates a ccdead configuration file for syntax errors and invalid values.

Examples:
  ccdead config validate                   # Validates default config locations
  ccdead config validate -c ccdead.toml    # Validates specific file
  ccdead config validate -c .ccdead/ccdead.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Shows the merged configuration from defaults and config file.

Examples:
  ccdead config show                # Show effective config
  ccdead config show -c ccdead.toml # Show config from specific file`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func loadOptions() []config.LoadOption {
	if cfgFile == "" {
		return nil
	}
	return []config.LoadOption{config.WithPath(cfgFile)}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	result, err := config.LoadConfig(loadOptions()...)
	if err != nil {
		color.New(color.FgRed).Fprintln(out, "Configuration validation failed:")
		fmt.Fprintf(out, "  - %s\n", err)
		return err
	}

	if result.Source != "" {
		color.New(color.FgGreen).Fprintf(out, "Configuration valid: %s\n", result.Source)
	} else {
		color.New(color.FgYellow).Fprintln(out, "No config file found. Default configuration is valid.")
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	result, err := config.LoadConfig(loadOptions()...)
	if err != nil {
		return err
	}

	if result.Source != "" {
		fmt.Fprintf(out, "# Configuration from: %s\n\n", result.Source)
	} else {
		fmt.Fprintln(out, "# Default configuration (no config file found)")
	}

	content, err := toml.Marshal(result.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprint(out, string(content))
	return nil
}
