package cmd

import (
	"context"
	stderrors "errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/docpress/internal/services"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Rebuild on change without serving the viewer",
	Long: `Watch the document directory and re-render after each burst of changes.
Results are written to the log instead of a browser, which suits editors
that open the PDF themselves.

Examples:
  docpress watch
  docpress watch --root ./report --debounce 500ms`,
	PreRunE: bindStandardFlags,
	RunE:    runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	AddStandardFlags(watchCmd, "watch", "render")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = services.NewServeService(cfg, logger).Watch(ctx)
	if err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
