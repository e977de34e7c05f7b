package config

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	write := func(header string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		builder.WriteString(header + "\n")
		for _, issue := range issues {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", issue.Field, issue.Message))
			for _, suggestion := range issue.Suggestions {
				builder.WriteString(fmt.Sprintf("    → %s\n", suggestion))
			}
		}
		builder.WriteString("\n")
	}

	write("Validation Errors:", vr.Errors)
	write("Validation Warnings:", vr.Warnings)

	return builder.String()
}

// ValidateConfigWithDetails checks the environment a loaded configuration will
// run in: whether the watched root and entry exist, whether the renderer is
// installed, and whether the timing values are sensible. Load has already
// rejected structurally invalid values, so most findings here are warnings.
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	if err := validateConfig(config); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "config",
			Message: err.Error(),
		})
	}

	validateWatchDetails(config, result)
	validateRenderDetails(config, result)
	validateServerDetails(&config.Server, result)

	result.Valid = !result.HasErrors()

	return result
}

func validateWatchDetails(config *Config, result *ValidationResult) {
	info, err := os.Stat(config.Watch.Root)
	switch {
	case err != nil:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "watch.root",
			Value:   config.Watch.Root,
			Message: "directory does not exist",
			Suggestions: []string{
				"Scaffold it: docpress init " + config.Watch.Root,
				"Check for typos in the path",
			},
		})
		return
	case !info.IsDir():
		result.Errors = append(result.Errors, ValidationError{
			Field:   "watch.root",
			Value:   config.Watch.Root,
			Message: "path is not a directory",
		})
		return
	}

	if !slices.Contains(config.Watch.Extensions, strings.ToLower(filepath.Ext(config.Render.Entry))) {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "watch.extensions",
			Value:   config.Watch.Extensions,
			Message: fmt.Sprintf("edits to the entry %q will not trigger a rebuild", config.Render.Entry),
			Suggestions: []string{
				"Add " + filepath.Ext(config.Render.Entry) + " to watch.extensions",
			},
		})
	}

	if config.Watch.Mode == WatchModePoll && config.Debounce.Window < config.Watch.PollInterval {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "debounce.window",
			Value:   config.Debounce.Window.String(),
			Message: "window is shorter than the poll interval; edits split across two polls render twice",
			Suggestions: []string{
				"Set debounce.window to at least " + config.Watch.PollInterval.String(),
			},
		})
	}
}

func validateRenderDetails(config *Config, result *ValidationResult) {
	entry := filepath.Join(config.Watch.Root, config.Render.Entry)
	if _, err := os.Stat(entry); err != nil && pathExists(config.Watch.Root) {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "render.entry",
			Value:   config.Render.Entry,
			Message: "entry template does not exist yet; every build will fail until it does",
		})
	}

	if _, err := exec.LookPath(config.Render.Command); err != nil {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "render.command",
			Value:   config.Render.Command,
			Message: "renderer not found on PATH; only the HTML preview will build",
			Suggestions: []string{
				"Install it: pip install " + filepath.Base(config.Render.Command),
			},
		})
	}
}

func validateServerDetails(config *ServerConfig, result *ValidationResult) {
	if config.Port > 0 && config.Port < 1024 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "server.port",
			Value:   config.Port,
			Message: "port below 1024 requires elevated privileges",
			Suggestions: []string{
				"Consider using a port above 1024 for development",
			},
		})
	}

	if config.Host != "" {
		if err := validateHostname(config.Host); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.host",
				Value:   config.Host,
				Message: err.Error(),
				Suggestions: []string{
					"Use 'localhost' for local development",
					"Use '0.0.0.0' to bind to all interfaces",
				},
			})
		}
	}

	validEnvs := []string{"development", "production", "testing"}
	if config.Environment != "" && !slices.Contains(validEnvs, config.Environment) {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "server.environment",
			Value:   config.Environment,
			Message: "unknown environment type",
			Suggestions: []string{
				"Use one of: " + strings.Join(validEnvs, ", "),
			},
		})
	}
}

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func validateHostname(host string) error {
	if net.ParseIP(host) != nil || host == "localhost" {
		return nil
	}

	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}

	return nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
