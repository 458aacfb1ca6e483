package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/storage"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create .bughunter/ with an example configuration",
	Long: `Initialize bughunter in the current directory.

This creates:
  - .bughunter/ directory (history, backups and locks live here)
  - .bughunter/config.yaml (example configuration)
  - .bughunter/.gitignore (keeps everything but the config out of git)

Credentials are never written to the config file; put them in .env or
~/.bughunter/.env instead.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to get current directory: %v\n", err)
			os.Exit(1)
		}
		if err := initProject(cwd, initForce, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func initProject(dir string, force bool, out io.Writer) error {
	stateDir, err := storage.InitProject(dir)
	if err != nil {
		return err
	}
	configPath, err := config.WriteExampleConfigFile(dir, force)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(out, "\n%s Initialized bughunter\n\n", green("✓"))
	fmt.Fprintf(out, "  State directory: %s\n", cyan(stateDir))
	fmt.Fprintf(out, "  Config file: %s\n", cyan(configPath))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s\n", gray("Next steps:"))
	fmt.Fprintf(out, "%s\n", gray("  1. Set ANTHROPIC_API_KEY in .env or ~/.bughunter/.env"))
	fmt.Fprintf(out, "%s\n", gray("  2. bughunter doctor"))
	fmt.Fprintf(out, "%s\n", gray("  3. bughunter scan"))
	return nil
}
