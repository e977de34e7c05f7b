// Package errors provides the pipeline's error taxonomy and the parser that
// turns raw renderer output into structured diagnostics.
//
// Renderer failures are surfaced verbatim to every viewer, but the parser
// additionally extracts file/line locations (Go template errors, WeasyPrint
// and Python tracebacks, generic "line N" messages) so the viewer can point
// the developer at the offending spot.
package errors

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrorSeverity represents the severity of a parsed diagnostic
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
	ErrorSeverityFatal
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	case ErrorSeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// DiagnosticType classifies a parsed renderer diagnostic.
type DiagnosticType int

const (
	DiagnosticTypeUnknown DiagnosticType = iota
	DiagnosticTypeTemplate
	DiagnosticTypeMarkup
	DiagnosticTypeRenderer
	DiagnosticTypeFileNotFound
	DiagnosticTypePermission
	DiagnosticTypeTimeout
)

// String returns a short label for the diagnostic type.
func (t DiagnosticType) String() string {
	switch t {
	case DiagnosticTypeTemplate:
		return "template"
	case DiagnosticTypeMarkup:
		return "markup"
	case DiagnosticTypeRenderer:
		return "renderer"
	case DiagnosticTypeFileNotFound:
		return "file_not_found"
	case DiagnosticTypePermission:
		return "permission"
	case DiagnosticTypeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ParsedError represents a parsed error with structured information
type ParsedError struct {
	Type     DiagnosticType `json:"-"`
	Kind     string         `json:"kind"`
	Severity ErrorSeverity  `json:"-"`
	File     string         `json:"file,omitempty"`
	Line     int            `json:"line,omitempty"`
	Column   int            `json:"column,omitempty"`
	Message  string         `json:"message"`
	RawError string         `json:"raw_error"`
	Context  []string       `json:"context,omitempty"`
}

// ErrorParser parses renderer output into structured diagnostics
type ErrorParser struct {
	patterns []errorPattern
}

type errorPattern struct {
	regex       *regexp.Regexp
	errorType   DiagnosticType
	severity    ErrorSeverity
	parseFields func(matches []string) (file string, line int, column int, message string)
}

// NewErrorParser creates a new error parser
func NewErrorParser() *ErrorParser {
	return &ErrorParser{patterns: buildPatterns()}
}

// ParseError parses renderer output into structured errors. Lines that match
// no location pattern but mention an error are still reported without a
// location.
func (ep *ErrorParser) ParseError(output string) []*ParsedError {
	var errors []*ParsedError

	lines := strings.Split(output, "\n")

	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := ep.tryParse(line); err != nil {
			err.Context = contextLines(lines, i, 2)
			errors = append(errors, err)
			continue
		}

		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
			errors = append(errors, &ParsedError{
				Type:     DiagnosticTypeUnknown,
				Kind:     DiagnosticTypeUnknown.String(),
				Severity: ErrorSeverityError,
				Message:  line,
				RawError: line,
				Context:  contextLines(lines, i, 1),
			})
		}
	}

	return errors
}

// Locations returns only the diagnostics that carry a line number.
func (ep *ErrorParser) Locations(output string) []*ParsedError {
	var located []*ParsedError
	for _, pe := range ep.ParseError(output) {
		if pe.Line > 0 {
			located = append(located, pe)
		}
	}
	return located
}

func (ep *ErrorParser) tryParse(line string) *ParsedError {
	for _, pattern := range ep.patterns {
		matches := pattern.regex.FindStringSubmatch(line)
		if matches == nil {
			continue
		}
		file, lineNum, column, message := pattern.parseFields(matches)

		return &ParsedError{
			Type:     pattern.errorType,
			Kind:     pattern.errorType.String(),
			Severity: pattern.severity,
			File:     file,
			Line:     lineNum,
			Column:   column,
			Message:  message,
			RawError: line,
		}
	}
	return nil
}

func contextLines(lines []string, index int, radius int) []string {
	start := max(0, index-radius)
	end := min(len(lines), index+radius+1)

	var context []string
	for i := start; i < end; i++ {
		prefix := "  "
		if i == index {
			prefix = "→ "
		}
		context = append(context, prefix+lines[i])
	}

	return context
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Order matters: the first matching pattern wins.
func buildPatterns() []errorPattern {
	return []errorPattern{
		{
			// template: index.html:12:5: executing "index.html" at <.title>: ...
			regex:     regexp.MustCompile(`^(?:html/)?template: ?(.+?):(\d+):(\d+): (.+)$`),
			errorType: DiagnosticTypeTemplate,
			severity:  ErrorSeverityError,
			parseFields: func(m []string) (string, int, int, string) {
				return m[1], atoi(m[2]), atoi(m[3]), m[4]
			},
		},
		{
			// template: index.html:12: unexpected "}" in operand
			regex:     regexp.MustCompile(`^(?:html/)?template: ?(.+?):(\d+): (.+)$`),
			errorType: DiagnosticTypeTemplate,
			severity:  ErrorSeverityError,
			parseFields: func(m []string) (string, int, int, string) {
				return m[1], atoi(m[2]), 0, m[3]
			},
		},
		{
			// File "/usr/lib/python3/site-packages/weasyprint/html.py", line 12, in parse
			regex:     regexp.MustCompile(`^File "(.+?)", line (\d+)(?:, in (.+))?$`),
			errorType: DiagnosticTypeRenderer,
			severity:  ErrorSeverityInfo,
			parseFields: func(m []string) (string, int, int, string) {
				msg := "traceback frame"
				if m[3] != "" {
					msg = "in " + m[3]
				}
				return m[1], atoi(m[2]), 0, msg
			},
		},
		{
			regex:     regexp.MustCompile(`^(.+?\.(?:html|htm|css|json|ya?ml)):(\d+):(\d+): (.+)$`),
			errorType: DiagnosticTypeMarkup,
			severity:  ErrorSeverityError,
			parseFields: func(m []string) (string, int, int, string) {
				return m[1], atoi(m[2]), atoi(m[3]), m[4]
			},
		},
		{
			regex:     regexp.MustCompile(`^(.+?\.(?:html|htm|css|json|ya?ml)):(\d+): (.+)$`),
			errorType: DiagnosticTypeMarkup,
			severity:  ErrorSeverityError,
			parseFields: func(m []string) (string, int, int, string) {
				return m[1], atoi(m[2]), 0, m[3]
			},
		},
		{
			// yaml: line 3: mapping values are not allowed in this context
			regex:     regexp.MustCompile(`^(?:params: )?yaml: line (\d+): (.+)$`),
			errorType: DiagnosticTypeTemplate,
			severity:  ErrorSeverityError,
			parseFields: func(m []string) (string, int, int, string) {
				return "", atoi(m[1]), 0, m[2]
			},
		},
		{
			// parse error at line 12, column 4: unexpected end tag
			regex:     regexp.MustCompile(`(?i)^(.*?)\bline (\d+)(?:,? col(?:umn)? (\d+))?:?\s*(.*)$`),
			errorType: DiagnosticTypeMarkup,
			severity:  ErrorSeverityError,
			parseFields: func(m []string) (string, int, int, string) {
				msg := strings.TrimSpace(m[1])
				msg = strings.TrimRight(strings.TrimSuffix(msg, " at"), ",: ")
				if rest := strings.TrimSpace(m[4]); rest != "" {
					if msg != "" {
						msg += ": "
					}
					msg += rest
				}
				return "", atoi(m[2]), atoi(m[3]), msg
			},
		},
		{
			regex:     regexp.MustCompile(`(?i)(?:no such file or directory|FileNotFoundError)[:\s]+'?([^']+?)'?$`),
			errorType: DiagnosticTypeFileNotFound,
			severity:  ErrorSeverityError,
			parseFields: func(m []string) (string, int, int, string) {
				return m[1], 0, 0, "file not found"
			},
		},
		{
			regex:     regexp.MustCompile(`(?i)permission denied[:\s]+'?([^']+?)'?$`),
			errorType: DiagnosticTypePermission,
			severity:  ErrorSeverityError,
			parseFields: func(m []string) (string, int, int, string) {
				return m[1], 0, 0, "permission denied"
			},
		},
	}
}

// FormatError formats a parsed error for terminal display
func (pe *ParsedError) FormatError() string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("[%s] %s", strings.ToUpper(pe.Severity.String()), pe.Type))

	if pe.File != "" || pe.Line > 0 {
		builder.WriteString(" at ")
		builder.WriteString(pe.File)
		if pe.Line > 0 {
			builder.WriteString(fmt.Sprintf(":%d", pe.Line))
			if pe.Column > 0 {
				builder.WriteString(fmt.Sprintf(":%d", pe.Column))
			}
		}
	}

	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("  %s\n", pe.Message))

	if len(pe.Context) > 0 {
		builder.WriteString("  Context:\n")
		for _, line := range pe.Context {
			builder.WriteString(fmt.Sprintf("    %s\n", line))
		}
	}

	return builder.String()
}
