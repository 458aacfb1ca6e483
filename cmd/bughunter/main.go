package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/bughunter/internal/scan"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	logLevel string
	logJSON  bool
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "bughunter",
	Short: "AI-assisted security vulnerability scanner",
	Long: `bughunter sends each source file of a project to an AI oracle, collects the
vulnerabilities it reports, scores and ranks them, and can walk you through
fixing them one at a time.

Credentials come from the environment or a .env file:
  ANTHROPIC_API_KEY (default provider) or AZURE_OPENAI_API_KEY`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON lines to stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable coloured output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(scan.ExitFatal)
	}
}
