// Package cmd provides the docpress command-line interface.
//
// Configuration System:
//
//	Values are resolved from several sources, highest priority first:
//	1. Command-line flags (--root, --port, etc.)
//	2. Individual environment variables (DOCPRESS_SERVER_PORT, etc.)
//	3. The configuration file: --config, then DOCPRESS_CONFIG_FILE, then .docpress.yml
//	4. Built-in defaults
//
// Environment Variables:
//
//	DOCPRESS_CONFIG_FILE: Path to a custom configuration file
//	DOCPRESS_WATCH_ROOT: Directory holding the document sources
//	DOCPRESS_SERVER_PORT: Override server port
//	And the rest following the DOCPRESS_<SECTION>_<OPTION> pattern
package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/docpress/internal/config"
	"github.com/conneroisu/docpress/internal/errors"
	"github.com/conneroisu/docpress/internal/logging"
	"github.com/conneroisu/docpress/internal/services"
)

var (
	cfgFile string

	// configReadErr holds a config file that exists but could not be read.
	// It is reported by the first command that needs the configuration.
	configReadErr error
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "docpress",
	Short: "Live preview for HTML documents rendered to PDF",
	Long: `docpress watches a directory of HTML, CSS and parameter files, renders
the document through an external converter such as WeasyPrint whenever the
sources settle, and pushes the result to every open browser viewer.

Quick Start:
  docpress init                   Scaffold ./playground
  docpress serve                  Watch, render and serve the viewer
  docpress build                  Render once and exit

Command Aliases:
  serve (s), watch (w), build (b)`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .docpress.yml, can also use DOCPRESS_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("root", "r", "", "document directory to watch (default ./playground)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("watch.root", rootCmd.PersistentFlags().Lookup("root"))
}

// initConfig points viper at the configuration file and enables
// DOCPRESS_-prefixed environment overrides.
//
//	export DOCPRESS_CONFIG_FILE=./configs/report.yml
//	docpress serve --config draft.yml  # draft.yml wins
//
// A missing default file is not an error. A file that exists but cannot be
// parsed is remembered and reported by loadConfig.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("DOCPRESS_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".docpress")
	}

	viper.SetEnvPrefix("DOCPRESS")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	configReadErr = nil
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			configReadErr = err
		}
		return
	}
	fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
}

// loadConfig returns the effective configuration, wrapping failures with
// suggestions for fixing the file.
func loadConfig() (*config.Config, error) {
	path := configPath()
	suggest := func(err error) error {
		ctx := &errors.SuggestionContext{ConfigPath: path}
		return errors.NewEnhancedError(
			"Failed to load configuration",
			err,
			errors.ConfigurationError(err.Error(), path, ctx),
		)
	}

	if configReadErr != nil {
		return nil, suggest(configReadErr)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, suggest(err)
	}
	return cfg, nil
}

func configPath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	if cfgFile != "" {
		return cfgFile
	}
	return services.ConfigFileName
}

// newLogger builds the console logger and, when log.dir is set, tees records
// into a dated JSON file there. The returned func closes the file.
func newLogger(cfg *config.Config, out io.Writer) (logging.Logger, func(), error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}

	console := logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: out,
	})
	if cfg.Log.Dir == "" {
		return console, func() {}, nil
	}

	fileLogger, err := logging.NewFileLogger(&logging.LoggerConfig{Level: level}, cfg.Log.Dir)
	if err != nil {
		return nil, nil, errors.NewFilesystemError("ERR_LOG_DIR", cfg.Log.Dir, err)
	}
	return logging.NewMultiLogger(console, fileLogger), func() { _ = fileLogger.Close() }, nil
}
