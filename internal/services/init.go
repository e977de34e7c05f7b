package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/docpress/internal/config"
	"github.com/conneroisu/docpress/internal/errors"
)

// ConfigFileName is the project configuration file docpress looks for.
const ConfigFileName = ".docpress.yml"

// InitService scaffolds a document directory.
type InitService struct{}

// NewInitService creates a new initialization service
func NewInitService() *InitService {
	return &InitService{}
}

// InitOptions contains options for project initialization
type InitOptions struct {
	// Dir is the document directory to create.
	Dir string
	// WriteConfig also writes .docpress.yml into the working directory.
	WriteConfig bool
	// ConfigDir is where .docpress.yml goes; defaults to the parent of Dir.
	ConfigDir string
	Title     string
	Force     bool
}

// InitResult lists what InitProject wrote.
type InitResult struct {
	Files []string
}

// InitProject writes index.html, styles.css and params.json into opts.Dir.
// Existing files are left alone unless Force is set.
func (s *InitService) InitProject(opts InitOptions) (*InitResult, error) {
	if opts.Dir == "" {
		return nil, errors.NewValidationError("ERR_INIT_DIR", "document directory cannot be empty")
	}
	if opts.Title == "" {
		opts.Title = "Untitled document"
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.NewFilesystemError("ERR_CREATE_DIR", opts.Dir, err)
	}

	params, err := json.MarshalIndent(map[string]interface{}{
		"title":  opts.Title,
		"author": "",
		"sections": []map[string]string{
			{"heading": "Introduction", "body": "Edit index.html or params.json and the preview rebuilds."},
			{"heading": "Next steps", "body": "Run docpress serve and open the viewer."},
		},
	}, "", "  ")
	if err != nil {
		return nil, err
	}

	files := []struct {
		name    string
		content []byte
	}{
		{"index.html", []byte(indexTemplate)},
		{"styles.css", []byte(stylesTemplate)},
		{"params.json", append(params, '\n')},
	}

	result := &InitResult{}
	for _, f := range files {
		path := filepath.Join(opts.Dir, f.name)
		written, err := writeScaffoldFile(path, f.content, opts.Force)
		if err != nil {
			return nil, err
		}
		if written {
			result.Files = append(result.Files, path)
		}
	}

	if opts.WriteConfig {
		path, written, err := s.writeConfig(opts)
		if err != nil {
			return nil, err
		}
		if written {
			result.Files = append(result.Files, path)
		}
	}

	return result, nil
}

func (s *InitService) writeConfig(opts InitOptions) (string, bool, error) {
	dir := opts.ConfigDir
	if dir == "" {
		dir = filepath.Dir(filepath.Clean(opts.Dir))
	}

	root, err := filepath.Rel(dir, opts.Dir)
	if err != nil {
		root = opts.Dir
	}

	cfg := config.Default()
	cfg.Watch.Root = "./" + filepath.ToSlash(root)

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", false, errors.NewConfigError("ERR_CONFIG_ENCODE", err.Error())
	}
	header := fmt.Sprintf("# Generated by docpress init on %s\n", time.Now().Format("2006-01-02"))

	path := filepath.Join(dir, ConfigFileName)
	written, err := writeScaffoldFile(path, append([]byte(header), data...), opts.Force)
	return path, written, err
}

func writeScaffoldFile(path string, content []byte, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return false, errors.NewFilesystemError("ERR_WRITE", path, err)
	}
	return true, nil
}

const indexTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{{ .title }}</title>
  <link rel="stylesheet" href="styles.css">
</head>
<body>
  <header>
    <h1>{{ .title }}</h1>
    <p class="meta">{{ default "Anonymous" .author }} · {{ date "January 2, 2006" .now }}</p>
  </header>
  {{ range .sections }}
  <section>
    <h2>{{ .heading }}</h2>
    <p>{{ .body }}</p>
  </section>
  {{ end }}
</body>
</html>
`

const stylesTemplate = `@page {
  size: A4;
  margin: 2cm;
  @bottom-center { content: counter(page) " / " counter(pages); }
}

body {
  font-family: "Helvetica Neue", Arial, sans-serif;
  line-height: 1.5;
  color: #222;
}

h1 { font-size: 2rem; margin-bottom: 0; }
h2 { border-bottom: 1px solid #ddd; padding-bottom: .25rem; }
.meta { color: #777; }
section { page-break-inside: avoid; }
`
