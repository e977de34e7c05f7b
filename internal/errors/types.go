package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the categories of failure the pipeline distinguishes.
type ErrorType string

const (
	// ErrorTypeFilesystem covers transient stat/read failures while watching.
	ErrorTypeFilesystem ErrorType = "filesystem"
	// ErrorTypeRender covers renderer failures: bad input, missing files, crashes, timeouts.
	ErrorTypeRender ErrorType = "render"
	// ErrorTypeDelivery covers failed pushes to a single viewer session.
	ErrorTypeDelivery   ErrorType = "delivery"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeSecurity   ErrorType = "security"
	// ErrorTypeFatal covers unrecoverable startup and watch-root conditions.
	ErrorTypeFatal    ErrorType = "fatal"
	ErrorTypeInternal ErrorType = "internal"
)

// PipelineError is a structured error type with context.
type PipelineError struct {
	Type     ErrorType
	Code     string
	Message  string
	Cause    error
	Context  map[string]interface{}
	FilePath string
	Line     int
	Column   int
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.FilePath != "" {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches on type and code so sentinel-style comparisons work.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds file location information.
func (e *PipelineError) WithLocation(filePath string, line, column int) *PipelineError {
	e.FilePath = filePath
	e.Line = line
	e.Column = column

	return e
}

// NewFilesystemError creates a transient filesystem error. These never stop the watcher.
func NewFilesystemError(code, path string, cause error) *PipelineError {
	return &PipelineError{
		Type:     ErrorTypeFilesystem,
		Code:     code,
		Message:  "filesystem access failed",
		Cause:    cause,
		FilePath: path,
	}
}

// NewRenderError creates a renderer failure.
func NewRenderError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeRender,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewDeliveryError creates a per-session delivery failure.
func NewDeliveryError(sessionID string, cause error) *PipelineError {
	return (&PipelineError{
		Type:    ErrorTypeDelivery,
		Code:    "ERR_DELIVERY",
		Message: "failed to deliver status to viewer",
		Cause:   cause,
	}).WithContext("session_id", sessionID)
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
	}
}

// NewSecurityError creates a security error.
func NewSecurityError(code, message string) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeSecurity,
		Code:    code,
		Message: message,
	}
}

// NewFatalError creates an unrecoverable error.
func NewFatalError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeFatal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsFatal reports whether err is an unrecoverable pipeline error.
func IsFatal(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypeFatal
	}

	return false
}

// FirstLine returns the first non-blank line of s, trimmed. It is used to
// build one-line summaries out of multi-line diagnostics.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}

	return ""
}

// Common errors

// ErrRootMissing reports that the watched directory does not exist.
func ErrRootMissing(path string, cause error) *PipelineError {
	return NewFatalError("ERR_ROOT_MISSING", "watched directory does not exist", cause).
		WithLocation(path, 0, 0)
}

// ErrRootNotDirectory reports that the watched path is not a directory.
func ErrRootNotDirectory(path string) *PipelineError {
	return NewFatalError("ERR_ROOT_NOT_DIR", "watched path is not a directory", nil).
		WithLocation(path, 0, 0)
}

// ErrRootRemoved reports that the watched directory disappeared while running.
func ErrRootRemoved(path string) *PipelineError {
	return NewFatalError("ERR_ROOT_REMOVED", "watched directory was removed", nil).
		WithLocation(path, 0, 0)
}

// ErrInvalidOrigin reports a rejected WebSocket origin.
func ErrInvalidOrigin(origin string) *PipelineError {
	return NewSecurityError("ERR_INVALID_ORIGIN", "origin not allowed").
		WithContext("origin", origin)
}
