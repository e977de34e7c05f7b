package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/conneroisu/docpress/internal/build"
	"github.com/conneroisu/docpress/internal/services"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Render the document once",
	Long: `Render the document once and exit. The command exits non-zero when the
render fails, after printing the renderer's diagnostic, so it can gate CI.

Examples:
  docpress build
  docpress build --root ./report --timeout 2m`,
	PreRunE: bindStandardFlags,
	RunE:    runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	AddStandardFlags(buildCmd, "render")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	result, err := services.NewBuildService(cfg, logger).Build(cmd.Context())
	if err != nil {
		return err
	}
	return reportBuild(cmd.OutOrStdout(), result)
}

// reportBuild prints a result and turns a failure into an error.
func reportBuild(w io.Writer, result build.BuildResult) error {
	if result.Status == build.StatusSuccess {
		p := message.NewPrinter(language.English)
		p.Fprintf(w, "Built %s (%d bytes) in %s\n",
			result.ArtifactPath,
			result.ArtifactSizeBytes,
			result.Duration().Round(time.Millisecond))
		return nil
	}

	fmt.Fprintln(w, result.Diagnostic)
	for _, loc := range result.Locations {
		fmt.Fprint(w, loc.FormatError())
	}
	return fmt.Errorf("build failed: %s", result.ErrorSummary)
}
