package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/bughunter/internal/ai"
	"github.com/steveyegge/bughunter/internal/scan"
)

var explainCmd = &cobra.Command{
	Use:   "explain <category>",
	Short: "Ask the oracle to explain a vulnerability category",
	Long: `Print a short plain-language explanation of a vulnerability category:
what it is, how it is exploited and how to prevent it.

Example:
  bughunter explain "SQL Injection"`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		category := strings.Join(args, " ")
		if err := runExplain(context.Background(), category, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
			os.Exit(scan.ExitFatal)
		}
	},
}

func init() {
	rootCmd.AddCommand(explainCmd)
}

// explainer is the part of the oracle client explain needs.
type explainer interface {
	Explain(ctx context.Context, category string) (string, error)
}

func runExplain(ctx context.Context, category string, out io.Writer) error {
	projectRoot, err := projectRootFor(".")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(projectRoot)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	oracle, err := connectOracle(ctx, cfg.Oracle, newLogger(cfg, os.Stderr))
	if err != nil {
		return err
	}
	ex, ok := oracle.(explainer)
	if !ok {
		return fmt.Errorf("the %s oracle cannot explain categories", cfg.Oracle.Provider)
	}
	return explainWith(ctx, ex, category, out)
}

func explainWith(ctx context.Context, ex explainer, category string, out io.Writer) error {
	text, err := ex.Explain(ctx, category)
	if err != nil {
		if ai.IsConnectivityError(err) {
			return err
		}
		return fmt.Errorf("explaining %q: %w", category, err)
	}
	fmt.Fprintf(out, "\n%s\n\n%s\n\n", color.New(color.Bold).Sprint(category), text)
	return nil
}
