package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/docpress/internal/services"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Watch, render and serve the live viewer",
	Long: `Start the preview server. Source changes are debounced into renders and
every open viewer reloads when a render succeeds or shows the renderer's
diagnostic when it fails.

Examples:
  docpress serve                        # Serve ./playground on localhost:5000
  docpress serve --root ./report        # Serve another document
  docpress serve --port 8080 --open     # Different port, open the browser
  docpress serve --mode native          # Use OS notifications instead of polling`,
	PreRunE: bindStandardFlags,
	RunE:    runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	AddStandardFlags(serveCmd, "server", "watch", "render")
}

func runServe(cmd *cobra.Command, args []string) error {
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

	svc := services.NewServeService(cfg, logger)
	info := svc.GetServerInfo()
	fmt.Fprintf(cmd.OutOrStdout(), "Previewing %s at %s\n", info.Root, info.ServerURL)

	if err := svc.Serve(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
