package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/docpress/internal/config"
	"github.com/conneroisu/docpress/internal/services"
)

var (
	initTitle    string
	initForce    bool
	initNoConfig bool
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Scaffold a starter document",
	Long: `Create a document directory with index.html, styles.css and params.json,
plus a .docpress.yml next to it pointing watch.root at the new directory.
Existing files are kept unless --force is given.

Examples:
  docpress init                         # ./playground
  docpress init report --title "Q3 Report"
  docpress init docs/manual --no-config`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initTitle, "title", "", "Document title written to params.json")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing files")
	initCmd.Flags().BoolVar(&initNoConfig, "no-config", false, "Do not write .docpress.yml")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := viper.GetString("watch.root")
	if len(args) > 0 {
		dir = args[0]
	}
	if dir == "" {
		dir = config.Default().Watch.Root
	}

	result, err := services.NewInitService().InitProject(services.InitOptions{
		Dir:         dir,
		WriteConfig: !initNoConfig,
		Title:       initTitle,
		Force:       initForce,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(result.Files) == 0 {
		fmt.Fprintf(out, "Nothing to do: %s is already initialized (use --force to overwrite)\n", dir)
		return nil
	}
	for _, file := range result.Files {
		fmt.Fprintf(out, "  created %s\n", file)
	}
	fmt.Fprintf(out, "\nNext: docpress serve --root %s\n", dir)
	return nil
}
