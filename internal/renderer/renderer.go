// Package renderer provides the default document renderer.
//
// Rendering runs in two stages. The template stage executes the entry file as
// an html/template with the parameters file as data and writes preview.html to
// the output directory; every other .html file under the root is available to
// {{template}}. The command stage hands preview.html to an allow-listed
// external converter that writes the artifact. The artifact is written to a
// temporary file and renamed into place only on success, so a failed render
// never clobbers the previous artifact.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/docpress/internal/build"
	"github.com/conneroisu/docpress/internal/config"
	"github.com/conneroisu/docpress/internal/errors"
	"github.com/conneroisu/docpress/internal/logging"
	"github.com/conneroisu/docpress/internal/validation"
)

// PreviewFile is the name of the rendered HTML inside the output directory.
const PreviewFile = "preview.html"

// Placeholders substituted into the configured arguments.
const (
	PlaceholderInput  = "{input}"
	PlaceholderOutput = "{output}"
	PlaceholderRoot   = "{root}"
)

// Options configures a DocumentRenderer.
type Options struct {
	Command         string
	Args            []string
	AllowedCommands map[string]bool
	Entry           string
	Params          string
	OutputDir       string
	Artifact        string
	Logger          logging.Logger
	// Now supplies the injected "now" parameter; defaults to time.Now.
	Now func() time.Time
}

// DocumentRenderer implements build.Renderer.
type DocumentRenderer struct {
	opts   Options
	logger logging.Logger
}

var _ build.Renderer = (*DocumentRenderer)(nil)

// New validates the command line and returns a renderer.
func New(opts Options) (*DocumentRenderer, error) {
	if opts.AllowedCommands == nil {
		opts.AllowedCommands = validation.DefaultAllowedCommands
	}
	if err := validation.ValidateCommand(opts.Command, opts.AllowedCommands); err != nil {
		return nil, errors.NewSecurityError("ERR_COMMAND", err.Error())
	}
	for _, arg := range opts.Args {
		if err := validation.ValidateArgument(arg); err != nil {
			return nil, errors.NewSecurityError("ERR_ARGUMENT", fmt.Sprintf("argument %q: %v", arg, err))
		}
	}
	if opts.Entry == "" {
		opts.Entry = "index.html"
	}
	if opts.OutputDir == "" {
		opts.OutputDir = ".docpress"
	}
	if opts.Artifact == "" {
		opts.Artifact = "output.pdf"
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &DocumentRenderer{
		opts:   opts,
		logger: opts.Logger.WithComponent("renderer"),
	}, nil
}

// FromConfig builds a renderer from the render section of cfg.
func FromConfig(cfg *config.Config, logger logging.Logger) (*DocumentRenderer, error) {
	return New(Options{
		Command:         cfg.Render.Command,
		Args:            cfg.Render.Args,
		AllowedCommands: cfg.AllowedCommands(),
		Entry:           cfg.Render.Entry,
		Params:          cfg.Render.Params,
		OutputDir:       cfg.Render.OutputDir,
		Artifact:        cfg.Render.Artifact,
		Logger:          logger,
	})
}

// PreviewPath returns where the template stage writes its output.
func (r *DocumentRenderer) PreviewPath(root string) string {
	return filepath.Join(root, r.opts.OutputDir, PreviewFile)
}

// ArtifactPath returns where a successful render leaves the artifact.
func (r *DocumentRenderer) ArtifactPath(root string) string {
	return filepath.Join(root, r.opts.OutputDir, r.opts.Artifact)
}

// Render runs both stages.
func (r *DocumentRenderer) Render(ctx context.Context, root string) (build.Artifact, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return build.Artifact{}, err
	}

	preview, err := r.RenderPreview(ctx, root)
	if err != nil {
		return build.Artifact{}, err
	}
	return r.convert(ctx, root, preview)
}

// RenderPreview runs only the template stage and returns the preview path.
func (r *DocumentRenderer) RenderPreview(ctx context.Context, root string) (string, error) {
	params, err := r.loadParams(root)
	if err != nil {
		return "", err
	}

	tmpl, err := r.parseTemplates(root)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, r.entryName(), params); err != nil {
		return "", &build.RenderError{
			Summary:    errors.FirstLine(err.Error()),
			Diagnostic: err.Error(),
			Cause:      errors.NewRenderError("ERR_TEMPLATE_EXEC", "template execution failed", err),
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	preview := r.PreviewPath(root)
	if err := writeFileAtomic(preview, buf.Bytes()); err != nil {
		return "", &build.RenderError{
			Summary:    "cannot write preview",
			Diagnostic: err.Error(),
			Cause:      errors.NewFilesystemError("ERR_WRITE", preview, err),
		}
	}

	r.logger.Debug(ctx, "Preview rendered", "path", preview, "bytes", buf.Len())
	return preview, nil
}

func (r *DocumentRenderer) entryName() string {
	return filepath.ToSlash(filepath.Clean(r.opts.Entry))
}

// loadParams reads the parameters file. A missing file yields empty params.
func (r *DocumentRenderer) loadParams(root string) (map[string]any, error) {
	params := make(map[string]any)

	if r.opts.Params != "" {
		path := filepath.Join(root, r.opts.Params)
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := decodeParams(path, data, &params); err != nil {
				return nil, &build.RenderError{
					Summary:    fmt.Sprintf("invalid parameters file %s", r.opts.Params),
					Diagnostic: "params: " + err.Error(),
					Cause:      errors.NewRenderError("ERR_PARAMS", "cannot parse parameters", err).WithLocation(r.opts.Params, 0, 0),
				}
			}
			if params == nil {
				params = make(map[string]any)
			}
		case os.IsNotExist(err):
		default:
			return nil, &build.RenderError{
				Summary:    fmt.Sprintf("cannot read parameters file %s", r.opts.Params),
				Diagnostic: err.Error(),
				Cause:      errors.NewFilesystemError("ERR_READ", path, err),
			}
		}
	}

	if _, ok := params["now"]; !ok {
		params["now"] = r.opts.Now()
	}
	return params, nil
}

// parseTemplates parses the entry and every other .html file under root,
// each named by its slash-separated path relative to root.
func (r *DocumentRenderer) parseTemplates(root string) (*template.Template, error) {
	entry := r.entryName()
	entryPath := filepath.Join(root, filepath.FromSlash(entry))

	content, err := os.ReadFile(entryPath)
	if err != nil {
		summary := fmt.Sprintf("cannot read entry template %s", entry)
		if os.IsNotExist(err) {
			summary = fmt.Sprintf("entry template not found: %s", entry)
		}
		return nil, &build.RenderError{
			Summary:    summary,
			Diagnostic: err.Error(),
			Cause:      errors.NewFilesystemError("ERR_ENTRY", entryPath, err),
		}
	}

	tmpl := template.New(entry).Option("missingkey=error").Funcs(templateFuncs())
	if _, err := tmpl.Parse(string(content)); err != nil {
		return nil, templateError(err)
	}

	outputDir := filepath.Join(root, r.opts.OutputDir)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && (path == outputDir || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".html") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		name := filepath.ToSlash(rel)
		if name == entry {
			return nil
		}
		partial, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn(context.Background(), errors.NewFilesystemError("ERR_READ", path, err), "Skipping template")
			return nil
		}
		if _, err := tmpl.New(name).Parse(string(partial)); err != nil {
			return err
		}
		return nil
	})
	if walkErr != nil {
		return nil, templateError(walkErr)
	}

	return tmpl, nil
}

// decodeParams decodes YAML or JSON. JSON is decoded as YAML first for the
// line numbers in its errors; tab-indented JSON is not valid YAML and falls
// back to encoding/json.
func decodeParams(path string, data []byte, params *map[string]any) error {
	yamlErr := yaml.Unmarshal(data, params)
	if yamlErr == nil || !strings.EqualFold(filepath.Ext(path), ".json") {
		return yamlErr
	}
	*params = make(map[string]any)
	if err := json.Unmarshal(data, params); err != nil {
		return fmt.Errorf("%w (json: %v)", yamlErr, err)
	}
	return nil
}

func templateError(err error) error {
	return &build.RenderError{
		Summary:    errors.FirstLine(err.Error()),
		Diagnostic: err.Error(),
		Cause:      errors.NewRenderError("ERR_TEMPLATE_PARSE", "template parse failed", err),
	}
}

func templateFuncs() template.FuncMap {
	title := cases.Title(language.Und)
	return template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"title": title.String,
		"date": func(layout string, t time.Time) string {
			return t.Format(layout)
		},
		"default": func(fallback, value any) any {
			if value == nil {
				return fallback
			}
			if s, ok := value.(string); ok && s == "" {
				return fallback
			}
			return value
		},
	}
}

// convert runs the external command on preview and renames the result over
// the artifact.
func (r *DocumentRenderer) convert(ctx context.Context, root, preview string) (build.Artifact, error) {
	outputDir := filepath.Join(root, r.opts.OutputDir)
	tmp, err := os.CreateTemp(outputDir, "."+r.opts.Artifact+".*.tmp")
	if err != nil {
		return build.Artifact{}, &build.RenderError{
			Summary:    "cannot create temporary artifact",
			Diagnostic: err.Error(),
			Cause:      errors.NewFilesystemError("ERR_TEMP", outputDir, err),
		}
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	args := substitute(r.opts.Args, preview, tmpPath, root)
	cmd := exec.CommandContext(ctx, r.opts.Command, args...)
	cmd.Dir = root
	cmd.WaitDelay = 2 * time.Second
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	op := logging.StartOperation(r.logger, "convert")
	runErr := cmd.Run()
	if runErr != nil {
		op.EndWithError(ctx, runErr, "command", r.opts.Command)
		if ctx.Err() != nil {
			return build.Artifact{}, ctx.Err()
		}
		return build.Artifact{}, r.commandError(args, output.String(), runErr)
	}

	info, err := os.Stat(tmpPath)
	if err != nil || info.Size() == 0 {
		op.EndWithError(ctx, fmt.Errorf("empty artifact"), "command", r.opts.Command)
		return build.Artifact{}, &build.RenderError{
			Summary:    fmt.Sprintf("%s produced no output", r.opts.Command),
			Diagnostic: strings.TrimSpace(fmt.Sprintf("%s exited successfully but wrote nothing to %s\n\n%s", r.opts.Command, tmpPath, output.String())),
		}
	}

	artifactPath := r.ArtifactPath(root)
	if err := os.Rename(tmpPath, artifactPath); err != nil {
		return build.Artifact{}, &build.RenderError{
			Summary:    "cannot replace artifact",
			Diagnostic: err.Error(),
			Cause:      errors.NewFilesystemError("ERR_RENAME", artifactPath, err),
		}
	}
	committed = true

	op.End(ctx, "command", r.opts.Command, "artifact_size_bytes", info.Size())
	return build.Artifact{Path: artifactPath, SizeBytes: info.Size()}, nil
}

func (r *DocumentRenderer) commandError(args []string, output string, runErr error) error {
	output = strings.TrimSpace(output)
	commandLine := strings.Join(append([]string{r.opts.Command}, args...), " ")

	summary := lastLine(output)
	if summary == "" {
		summary = fmt.Sprintf("%s failed: %v", r.opts.Command, runErr)
	}

	var diagnostic strings.Builder
	fmt.Fprintf(&diagnostic, "%s: %v\n", commandLine, runErr)
	if output != "" {
		diagnostic.WriteString("\n")
		diagnostic.WriteString(output)
		diagnostic.WriteString("\n")
	}

	var execErr *exec.Error
	if stderrors.As(runErr, &execErr) {
		summary = fmt.Sprintf("renderer not found: %s", r.opts.Command)
	}
	suggestions := errors.RenderFailureError(runErr.Error()+"\n"+output, &errors.SuggestionContext{Command: r.opts.Command})
	if len(suggestions) > 0 {
		diagnostic.WriteString("\n")
		diagnostic.WriteString(strings.TrimLeft(errors.FormatSuggestions("", suggestions), "\n"))
	}

	return &build.RenderError{
		Summary:    summary,
		Diagnostic: strings.TrimRight(diagnostic.String(), "\n"),
		Cause:      errors.NewRenderError("ERR_COMMAND", "renderer command failed", runErr),
	}
}

func substitute(args []string, input, output, root string) []string {
	replacer := strings.NewReplacer(
		PlaceholderInput, input,
		PlaceholderOutput, output,
		PlaceholderRoot, root,
	)
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = replacer.Replace(arg)
	}
	return out
}

// lastLine returns the last non-blank line; tracebacks put the exception there.
func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
