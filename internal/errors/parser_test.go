package errors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseError_SingleLinePatterns(t *testing.T) {
	parser := NewErrorParser()

	tests := []struct {
		name           string
		output         string
		expectedType   DiagnosticType
		expectedFile   string
		expectedLine   int
		expectedColumn int
		expectedMsg    string
	}{
		{
			name:           "template execution error",
			output:         `template: index.html:12:5: executing "index.html" at <.title>: map has no entry for key "title"`,
			expectedType:   DiagnosticTypeTemplate,
			expectedFile:   "index.html",
			expectedLine:   12,
			expectedColumn: 5,
			expectedMsg:    `executing "index.html" at <.title>: map has no entry for key "title"`,
		},
		{
			name:         "template parse error",
			output:       `template: index.html:7: unexpected "}" in operand`,
			expectedType: DiagnosticTypeTemplate,
			expectedFile: "index.html",
			expectedLine: 7,
			expectedMsg:  `unexpected "}" in operand`,
		},
		{
			name:           "html/template escaping error",
			output:         `html/template:index.html:3:14: {{.}} appears in an ambiguous context within a URL`,
			expectedType:   DiagnosticTypeTemplate,
			expectedFile:   "index.html",
			expectedLine:   3,
			expectedColumn: 14,
			expectedMsg:    `{{.}} appears in an ambiguous context within a URL`,
		},
		{
			name:         "python traceback frame",
			output:       `File "/usr/lib/python3/weasyprint/html.py", line 40, in parse`,
			expectedType: DiagnosticTypeRenderer,
			expectedFile: "/usr/lib/python3/weasyprint/html.py",
			expectedLine: 40,
			expectedMsg:  "in parse",
		},
		{
			name:           "stylesheet location",
			output:         "styles.css:3:1: invalid property",
			expectedType:   DiagnosticTypeMarkup,
			expectedFile:   "styles.css",
			expectedLine:   3,
			expectedColumn: 1,
			expectedMsg:    "invalid property",
		},
		{
			name:         "params yaml error",
			output:       "yaml: line 3: mapping values are not allowed in this context",
			expectedType: DiagnosticTypeTemplate,
			expectedLine: 3,
			expectedMsg:  "mapping values are not allowed in this context",
		},
		{
			name:         "generic line mention",
			output:       "parse error at line 12",
			expectedType: DiagnosticTypeMarkup,
			expectedLine: 12,
			expectedMsg:  "parse error",
		},
		{
			name:           "generic line and column",
			output:         "Unexpected end tag at line 4, column 9: </div>",
			expectedType:   DiagnosticTypeMarkup,
			expectedLine:   4,
			expectedColumn: 9,
			expectedMsg:    "Unexpected end tag: </div>",
		},
		{
			name:         "missing file",
			output:       "FileNotFoundError: [Errno 2] No such file or directory: '/doc/logo.png'",
			expectedType: DiagnosticTypeFileNotFound,
			expectedFile: "/doc/logo.png",
			expectedMsg:  "file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := parser.ParseError(tt.output)
			require.Len(t, parsed, 1)

			pe := parsed[0]
			assert.Equal(t, tt.expectedType, pe.Type)
			assert.Equal(t, tt.expectedType.String(), pe.Kind)
			assert.Equal(t, tt.expectedFile, pe.File)
			assert.Equal(t, tt.expectedLine, pe.Line)
			assert.Equal(t, tt.expectedColumn, pe.Column)
			assert.Equal(t, tt.expectedMsg, pe.Message)
			assert.Equal(t, tt.output, pe.RawError)
		})
	}
}

func TestParseError_MultiLineOutput(t *testing.T) {
	parser := NewErrorParser()

	output := strings.Join([]string{
		"Traceback (most recent call last):",
		`  File "/usr/lib/weasyprint/__main__.py", line 10, in main`,
		"ValueError: bad value",
	}, "\n")

	parsed := parser.ParseError(output)
	require.Len(t, parsed, 2)

	assert.Equal(t, DiagnosticTypeRenderer, parsed[0].Type)
	assert.Equal(t, 10, parsed[0].Line)
	assert.NotEmpty(t, parsed[0].Context)

	assert.Equal(t, DiagnosticTypeUnknown, parsed[1].Type)
	assert.Equal(t, "ValueError: bad value", parsed[1].Message)
	assert.Zero(t, parsed[1].Line)
}

func TestParseError_IgnoresNoise(t *testing.T) {
	parser := NewErrorParser()

	assert.Empty(t, parser.ParseError(""))
	assert.Empty(t, parser.ParseError("\n   \n"))
	assert.Empty(t, parser.ParseError("rendering page 1 of 3"))
}

func TestLocations(t *testing.T) {
	parser := NewErrorParser()

	output := "ERROR: Failed to load stylesheet\nparse error at line 12"
	assert.Len(t, parser.ParseError(output), 2)

	located := parser.Locations(output)
	require.Len(t, located, 1)
	assert.Equal(t, 12, located[0].Line)
}

func TestContextLinesMarksCurrentLine(t *testing.T) {
	lines := []string{"a", "b", "c", "d", "e"}

	ctx := contextLines(lines, 0, 2)
	assert.Equal(t, []string{"→ a", "  b", "  c"}, ctx)

	ctx = contextLines(lines, 4, 1)
	assert.Equal(t, []string{"  d", "→ e"}, ctx)
}

func TestFormatError(t *testing.T) {
	pe := &ParsedError{
		Type:     DiagnosticTypeTemplate,
		Severity: ErrorSeverityError,
		File:     "index.html",
		Line:     12,
		Column:   5,
		Message:  "map has no entry",
		Context:  []string{"→ line"},
	}

	formatted := pe.FormatError()
	assert.Contains(t, formatted, "[ERROR] template at index.html:12:5")
	assert.Contains(t, formatted, "map has no entry")
	assert.Contains(t, formatted, "Context:")
}

func TestSeverityAndTypeStrings(t *testing.T) {
	assert.Equal(t, "warning", ErrorSeverityWarning.String())
	assert.Equal(t, "fatal", ErrorSeverityFatal.String())
	assert.Equal(t, "unknown", ErrorSeverity(99).String())
	assert.Equal(t, "file_not_found", DiagnosticTypeFileNotFound.String())
	assert.Equal(t, "timeout", DiagnosticTypeTimeout.String())
	assert.Equal(t, "unknown", DiagnosticType(99).String())
}
