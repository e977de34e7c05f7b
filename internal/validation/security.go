// Package validation guards the places where configuration or request input
// reaches the operating system: the renderer command line, files served from
// the watched directory, and WebSocket origins.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultAllowedCommands lists the renderers that may be configured as
// render.command without extending the allowlist.
var DefaultAllowedCommands = map[string]bool{
	"weasyprint":  true,
	"wkhtmltopdf": true,
	"prince":      true,
	"pandoc":      true,
	"chromium":    true,
}

var shellMetacharacters = []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", "\n", "\r"}

// trustedBinDirs may prefix an absolute render command.
var trustedBinDirs = []string{"/usr/bin/", "/usr/local/bin/", "/bin/", "/opt/homebrew/bin/"}

// ValidateArgument validates a configured renderer argument to prevent
// injection attacks. Placeholders such as {input} are plain text here and are
// substituted only after validation.
func ValidateArgument(arg string) error {
	for _, char := range shellMetacharacters {
		if strings.Contains(arg, char) {
			return fmt.Errorf("contains dangerous character: %q", char)
		}
	}

	if strings.Contains(arg, "..") {
		return fmt.Errorf("contains path traversal: %s", arg)
	}

	return nil
}

// ValidateCommand validates a command name against an allowlist. The
// allowlist is keyed by executable name, so "/usr/bin/weasyprint" passes when
// "weasyprint" is allowed.
func ValidateCommand(command string, allowedCommands map[string]bool) error {
	if command == "" {
		return fmt.Errorf("command cannot be empty")
	}

	if err := ValidateArgument(command); err != nil {
		return fmt.Errorf("invalid command '%s': %w", command, err)
	}

	if strings.ContainsRune(command, '/') {
		if !filepath.IsAbs(command) || !hasTrustedPrefix(command) {
			return fmt.Errorf("command path '%s' is outside trusted binary directories", command)
		}
	}

	if !allowedCommands[filepath.Base(command)] {
		return fmt.Errorf("command '%s' is not allowed", command)
	}

	return nil
}

func hasTrustedPrefix(command string) bool {
	for _, dir := range trustedBinDirs {
		if strings.HasPrefix(command, dir) {
			return true
		}
	}
	return false
}

// ResolveWithin joins a slash-separated request path onto root and returns the
// result only if it stays inside root.
func ResolveWithin(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsRune(rel, '\x00') {
		return "", fmt.Errorf("path contains a null byte")
	}

	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(rel, "/")))
	if cleaned == "." || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid path: %s", rel)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s", rel)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	full := filepath.Join(absRoot, cleaned)

	relToRoot, err := filepath.Rel(absRoot, full)
	if err != nil || relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %s", rel)
	}

	return full, nil
}

// ValidateFileExtension validates file extensions against an allowlist
func ValidateFileExtension(filename string, allowedExtensions []string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return fmt.Errorf("file must have an extension")
	}

	for _, allowed := range allowedExtensions {
		if ext == strings.ToLower(allowed) {
			return nil
		}
	}

	return fmt.Errorf("file extension '%s' is not allowed", ext)
}
