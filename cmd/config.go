package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/docpress/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration docpress would run with, after defaults, the
config file, DOCPRESS_ environment variables and flags are merged.

Examples:
  docpress config
  DOCPRESS_SERVER_PORT=8080 docpress config
  docpress config validate`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration against the local environment",
	Long: `Validate the configuration and check what it refers to: the watched
directory and entry template exist, the renderer is installed, and the
timings make sense. Warnings do not fail the command.`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return writeConfigYAML(cmd.OutOrStdout(), cfg)
}

func writeConfigYAML(w io.Writer, cfg *config.Config) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	return encoder.Close()
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return reportValidation(cmd.OutOrStdout(), config.ValidateConfigWithDetails(cfg))
}

func reportValidation(w io.Writer, result *config.ValidationResult) error {
	if !result.HasErrors() && !result.HasWarnings() {
		fmt.Fprintln(w, "✓ Configuration is valid")
		return nil
	}

	fmt.Fprint(w, result.String())
	if result.HasErrors() {
		return fmt.Errorf("configuration has %d error(s)", len(result.Errors))
	}
	return nil
}
