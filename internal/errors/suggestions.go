package errors

import (
	"fmt"
	"strings"
)

// ErrorSuggestion represents a suggestion for fixing an error
type ErrorSuggestion struct {
	Title       string
	Description string
	Command     string
	Example     string
}

// SuggestionContext provides context for generating suggestions
type SuggestionContext struct {
	ConfigPath string
	WatchRoot  string
	Command    string
}

// RootMissingError generates suggestions for a watch root that cannot be used.
func RootMissingError(root string, ctx *SuggestionContext) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{
		{
			Title:       "Create the document directory",
			Description: "Scaffold a starter document with an index.html, styles.css and params.json",
			Command:     "docpress init " + root,
		},
		{
			Title:       "Point docpress at an existing directory",
			Description: "Pass the directory that holds your document sources",
			Command:     "docpress serve --root ./my-document",
		},
	}

	if ctx != nil && ctx.ConfigPath != "" {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Check watch.root in your configuration",
			Description: "The configured root is resolved relative to the working directory",
			Command:     "cat " + ctx.ConfigPath,
			Example:     "watch:\n  root: \"./playground\"",
		})
	}

	return suggestions
}

// RenderFailureError generates suggestions from renderer output.
func RenderFailureError(renderOutput string, ctx *SuggestionContext) []ErrorSuggestion {
	var suggestions []ErrorSuggestion

	output := strings.ToLower(renderOutput)
	command := "weasyprint"
	if ctx != nil && ctx.Command != "" {
		command = ctx.Command
	}

	if strings.Contains(output, "executable file not found") || strings.Contains(output, "command not found") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Install the renderer",
			Description: fmt.Sprintf("%q is not on your PATH", command),
			Command:     "pip install " + command,
		})
	}

	if strings.Contains(output, "template:") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Fix the template",
			Description: "The entry template failed to parse or execute",
			Example:     "<h1>{{ .title }}</h1>",
		})
	}

	if strings.Contains(output, "map has no entry") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Add the missing parameter",
			Description: "The template references a key that params.json does not define",
		})
	}

	if strings.Contains(output, "deadline exceeded") || strings.Contains(output, "timed out") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Raise the render timeout",
			Description: "Large documents can take longer than the default timeout",
			Example:     "render:\n  timeout: 2m",
		})
	}

	return suggestions
}

// ServerStartError generates suggestions for server startup failures
func ServerStartError(err error, port int, ctx *SuggestionContext) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{}

	errStr := err.Error()

	if strings.Contains(errStr, "address already in use") || strings.Contains(errStr, "bind") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Port already in use",
			Description: fmt.Sprintf("Port %d is already being used by another process", port),
			Command:     fmt.Sprintf("lsof -i :%d", port),
		})

		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Use a different port",
			Description: "Start the server on a different port",
			Command:     fmt.Sprintf("docpress serve --port %d", port+1000),
		})
	}

	if strings.Contains(errStr, "permission denied") && port < 1024 {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Use unprivileged port",
			Description: "Ports below 1024 require root privileges",
			Command:     "docpress serve --port 5000",
		})
	}

	return suggestions
}

// ConfigurationError generates suggestions for configuration issues
func ConfigurationError(configError string, configPath string, ctx *SuggestionContext) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{
		{
			Title:       "Check configuration file",
			Description: "Verify your .docpress.yml file exists and has valid syntax",
			Command:     "cat " + configPath,
		},
		{
			Title:       "Print the effective configuration",
			Description: "Shows every value after defaults, file and environment are merged",
			Command:     "docpress config",
		},
	}

	if strings.Contains(configError, "yaml") || strings.Contains(configError, "unmarshal") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Fix YAML syntax",
			Description: "There's a syntax error in your YAML configuration",
			Example:     "Use proper indentation and avoid tabs",
		})
	}

	return suggestions
}

// FormatSuggestions formats suggestions into a user-friendly string
func FormatSuggestions(title string, suggestions []ErrorSuggestion) string {
	if len(suggestions) == 0 {
		return title
	}

	var output strings.Builder
	output.WriteString(title + "\n\n")
	output.WriteString("Suggestions:\n")

	for i, suggestion := range suggestions {
		output.WriteString(fmt.Sprintf("  %d. %s\n", i+1, suggestion.Title))
		if suggestion.Description != "" {
			output.WriteString(fmt.Sprintf("     %s\n", suggestion.Description))
		}
		if suggestion.Command != "" {
			output.WriteString(fmt.Sprintf("     Run: %s\n", suggestion.Command))
		}
		if suggestion.Example != "" {
			output.WriteString(fmt.Sprintf("     Example: %s\n", suggestion.Example))
		}
		output.WriteString("\n")
	}

	return output.String()
}

// EnhancedError wraps an error with suggestions
type EnhancedError struct {
	OriginalError error
	Title         string
	Suggestions   []ErrorSuggestion
}

// Error implements the error interface
func (e *EnhancedError) Error() string {
	return FormatSuggestions(e.Title, e.Suggestions)
}

// Unwrap returns the original error
func (e *EnhancedError) Unwrap() error {
	return e.OriginalError
}

// NewEnhancedError creates a new enhanced error with suggestions
func NewEnhancedError(title string, originalError error, suggestions []ErrorSuggestion) *EnhancedError {
	return &EnhancedError{
		OriginalError: originalError,
		Title:         title,
		Suggestions:   suggestions,
	}
}
