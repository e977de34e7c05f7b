package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/docpress/internal/config"
)

// StandardFlags provides consistent flag definitions across commands
type StandardFlags struct {
	// Server flags
	Port int
	Host string
	Open bool

	// Watch flags
	Mode         string
	PollInterval time.Duration
	Debounce     time.Duration

	// Render flags
	Command string
	Timeout time.Duration
}

// flagKeys maps each standard flag to the configuration key it overrides.
var flagKeys = map[string]string{
	"port":          "server.port",
	"host":          "server.host",
	"open":          "server.open",
	"mode":          "watch.mode",
	"poll-interval": "watch.poll_interval",
	"debounce":      "debounce.window",
	"renderer":      "render.command",
	"timeout":       "render.timeout",
}

// AddStandardFlags adds standard flags to a command. Defaults shown in help
// come from the configuration defaults; an unset flag never overrides the
// file or environment.
func AddStandardFlags(cmd *cobra.Command, flagTypes ...string) *StandardFlags {
	flags := &StandardFlags{}

	for _, flagType := range flagTypes {
		switch flagType {
		case "server":
			addServerFlags(cmd, flags)
		case "watch":
			addWatchFlags(cmd, flags)
		case "render":
			addRenderFlags(cmd, flags)
		}
	}

	return flags
}

func addServerFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().IntVarP(&flags.Port, "port", "p", 5000, "Port to serve on")
	cmd.Flags().StringVar(&flags.Host, "host", "localhost", "Host to bind to")
	cmd.Flags().BoolVar(&flags.Open, "open", false, "Open the viewer in a browser once the server is up")
	AddFlagValidation(cmd, "port", ValidatePort)
}

func addWatchFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringVar(&flags.Mode, "mode", "poll", "Change detection mode (poll|native)")
	cmd.Flags().DurationVar(&flags.PollInterval, "poll-interval", time.Second, "Polling period in poll mode")
	cmd.Flags().DurationVar(&flags.Debounce, "debounce", time.Second, "Quiet window before a rebuild")
	AddFlagValidation(cmd, "mode", ValidateMode)
}

func addRenderFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringVar(&flags.Command, "renderer", "weasyprint", "Renderer command (must be allow-listed)")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 60*time.Second, "Render timeout")
}

// bindStandardFlags binds the command's standard flags to viper. It runs as
// PreRunE so only the executing command's flags are bound, since several
// commands define flags for the same key.
func bindStandardFlags(cmd *cobra.Command, _ []string) error {
	var bindErr error
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		key, ok := flagKeys[flag.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = viper.BindPFlag(key, flag)
	})
	return bindErr
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidatePort checks a --port value.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}

	return nil
}

// ValidateMode checks a --mode value.
func ValidateMode(mode string) error {
	switch mode {
	case config.WatchModePoll, config.WatchModeNative:
		return nil
	default:
		return fmt.Errorf("invalid watch mode %q, must be poll or native", mode)
	}
}
