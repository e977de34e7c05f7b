// Package config provides configuration management for docpress using Viper
// for loading from YAML files, environment variables and command-line flags.
//
// Every key has a default so environment overrides with the DOCPRESS_ prefix
// (DOCPRESS_WATCH_ROOT, DOCPRESS_DEBOUNCE_WINDOW, ...) work without a config
// file. Load validates the merged result before any component sees it.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/conneroisu/docpress/internal/logging"
	"github.com/conneroisu/docpress/internal/validation"
	"github.com/spf13/viper"
)

// Watch modes.
const (
	WatchModePoll   = "poll"
	WatchModeNative = "native"
)

type Config struct {
	Watch    WatchConfig    `mapstructure:"watch" yaml:"watch"`
	Debounce DebounceConfig `mapstructure:"debounce" yaml:"debounce"`
	Render   RenderConfig   `mapstructure:"render" yaml:"render"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

type WatchConfig struct {
	Root         string        `mapstructure:"root" yaml:"root"`
	Extensions   []string      `mapstructure:"extensions" yaml:"extensions"`
	Mode         string        `mapstructure:"mode" yaml:"mode"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Ignore       []string      `mapstructure:"ignore" yaml:"ignore"`
}

type DebounceConfig struct {
	Window time.Duration `mapstructure:"window" yaml:"window"`
}

type RenderConfig struct {
	Command         string        `mapstructure:"command" yaml:"command"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	AllowedCommands []string      `mapstructure:"allowed_commands" yaml:"allowed_commands,omitempty"`
	Entry           string        `mapstructure:"entry" yaml:"entry"`
	Params          string        `mapstructure:"params" yaml:"params"`
	OutputDir       string        `mapstructure:"output_dir" yaml:"output_dir"`
	Artifact        string        `mapstructure:"artifact" yaml:"artifact"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	Host           string   `mapstructure:"host" yaml:"host"`
	Open           bool     `mapstructure:"open" yaml:"open"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	Environment    string   `mapstructure:"environment" yaml:"environment,omitempty"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Dir    string `mapstructure:"dir" yaml:"dir,omitempty"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Watch: WatchConfig{
			Root:         "./playground",
			Extensions:   []string{".html", ".css", ".json", ".yaml", ".yml"},
			Mode:         WatchModePoll,
			PollInterval: time.Second,
			Ignore:       []string{".git", "node_modules"},
		},
		Debounce: DebounceConfig{Window: time.Second},
		Render: RenderConfig{
			Command:   "weasyprint",
			Args:      []string{"{input}", "{output}", "--base-url", "{root}"},
			Entry:     "index.html",
			Params:    "params.json",
			OutputDir: ".docpress",
			Artifact:  "output.pdf",
			Timeout:   60 * time.Second,
		},
		Server: ServerConfig{
			Port: 5000,
			Host: "localhost",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every default with viper so AutomaticEnv lookups are
// visible to Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("watch.root", d.Watch.Root)
	v.SetDefault("watch.extensions", d.Watch.Extensions)
	v.SetDefault("watch.mode", d.Watch.Mode)
	v.SetDefault("watch.poll_interval", d.Watch.PollInterval)
	v.SetDefault("watch.ignore", d.Watch.Ignore)
	v.SetDefault("debounce.window", d.Debounce.Window)
	v.SetDefault("render.command", d.Render.Command)
	v.SetDefault("render.args", d.Render.Args)
	v.SetDefault("render.allowed_commands", []string{})
	v.SetDefault("render.entry", d.Render.Entry)
	v.SetDefault("render.params", d.Render.Params)
	v.SetDefault("render.output_dir", d.Render.OutputDir)
	v.SetDefault("render.artifact", d.Render.Artifact)
	v.SetDefault("render.timeout", d.Render.Timeout)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.open", d.Server.Open)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.environment", "development")
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.dir", "")
}

// Load unmarshals the global viper instance into a validated Config.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals v into a validated Config.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Lists set to empty in a file fall back to the defaults.
	d := Default()
	if len(config.Watch.Extensions) == 0 {
		config.Watch.Extensions = d.Watch.Extensions
	}
	if len(config.Render.Args) == 0 {
		config.Render.Args = d.Render.Args
	}

	config.Watch.Mode = strings.ToLower(strings.TrimSpace(config.Watch.Mode))
	extensions := make([]string, 0, len(config.Watch.Extensions))
	for _, ext := range config.Watch.Extensions {
		extensions = append(extensions, strings.ToLower(strings.TrimSpace(ext)))
	}
	config.Watch.Extensions = extensions

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Address returns the host:port the preview server listens on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// AllowedCommands merges the built-in renderer allowlist with configured extras.
func (c *Config) AllowedCommands() map[string]bool {
	allowed := make(map[string]bool, len(validation.DefaultAllowedCommands)+len(c.Render.AllowedCommands))
	for name := range validation.DefaultAllowedCommands {
		allowed[name] = true
	}
	for _, name := range c.Render.AllowedCommands {
		allowed[name] = true
	}
	return allowed
}

// OutputPath returns the absolute output directory inside the watched root.
func (c *Config) OutputPath() (string, error) {
	root, err := filepath.Abs(c.Watch.Root)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, c.Render.OutputDir), nil
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateWatchConfig(&config.Watch); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	if config.Debounce.Window <= 0 {
		return fmt.Errorf("debounce config: window must be positive, got %s", config.Debounce.Window)
	}

	if err := validateRenderConfig(config); err != nil {
		return fmt.Errorf("render config: %w", err)
	}

	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateLogConfig(&config.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	return nil
}

func validateWatchConfig(config *WatchConfig) error {
	if config.Root == "" {
		return fmt.Errorf("root cannot be empty")
	}
	if strings.ContainsAny(config.Root, ";&|$`<>\x00") {
		return fmt.Errorf("root contains dangerous characters: %s", config.Root)
	}

	for _, ext := range config.Extensions {
		if len(ext) < 2 || !strings.HasPrefix(ext, ".") || strings.ContainsAny(ext, "/\\ ") {
			return fmt.Errorf("extension %q must look like \".html\"", ext)
		}
	}

	switch config.Mode {
	case WatchModePoll, WatchModeNative:
	default:
		return fmt.Errorf("mode %q must be %q or %q", config.Mode, WatchModePoll, WatchModeNative)
	}

	if config.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", config.PollInterval)
	}

	return nil
}

func validateRenderConfig(config *Config) error {
	render := &config.Render

	if err := validation.ValidateCommand(render.Command, config.AllowedCommands()); err != nil {
		return err
	}
	for _, arg := range render.Args {
		if err := validation.ValidateArgument(arg); err != nil {
			return fmt.Errorf("invalid argument %q: %w", arg, err)
		}
	}

	if err := validateRelativePath("entry", render.Entry); err != nil {
		return err
	}
	if err := validateRelativePath("params", render.Params); err != nil {
		return err
	}
	if err := validateRelativePath("output_dir", render.OutputDir); err != nil {
		return err
	}

	if render.Artifact == "" || render.Artifact != filepath.Base(render.Artifact) {
		return fmt.Errorf("artifact must be a plain file name, got %q", render.Artifact)
	}

	if render.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", render.Timeout)
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Port 0 lets the system assign one, which tests rely on.
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}

func validateLogConfig(config *LogConfig) error {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		return err
	}
	switch strings.ToLower(config.Format) {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("format %q must be text or json", config.Format)
	}
}

// validateRelativePath rejects empty, absolute and escaping paths.
func validateRelativePath(field, path string) error {
	if path == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}

	cleanPath := filepath.Clean(path)
	if filepath.IsAbs(cleanPath) {
		return fmt.Errorf("%s should be a relative path: %s", field, path)
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s contains path traversal: %s", field, path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("%s contains dangerous character: %s", field, char)
		}
	}

	return nil
}
