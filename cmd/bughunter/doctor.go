package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/scan"
	"github.com/steveyegge/bughunter/internal/storage"
)

// doctorTimeout bounds the oracle round trip.
const doctorTimeout = 30 * time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check credentials, oracle connectivity and project setup",
	Long: `Run health checks to diagnose common configuration problems.

This command checks for:
- Configuration file and its validity
- .env files holding credentials
- API key presence for the configured provider
- Oracle connectivity and model
- Run history database

Exit codes:
  0 - All checks passed
  1 - One or more checks failed (but not critical)
  2 - Critical failures that prevent scanning`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")

		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to get current directory: %v\n", err)
			os.Exit(scan.ExitFatal)
		}
		projectRoot, err := projectRootFor(cwd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(scan.ExitFatal)
		}
		os.Exit(runDoctor(context.Background(), projectRoot, verbose, os.Stdout))
	},
}

func init() {
	doctorCmd.Flags().BoolP("verbose", "v", false, "Show detailed diagnostic information")
	rootCmd.AddCommand(doctorCmd)
}

// runDoctor prints each check and returns the exit code.
func runDoctor(ctx context.Context, projectRoot string, verbose bool, out io.Writer) int {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(out, "Running bughunter diagnostics...\n\n")

	var failures, criticalFailures []string

	// Check 1: configuration
	fmt.Fprintf(out, "%s Configuration\n", cyan("→"))
	if _, err := os.Stat(config.FilePath(projectRoot)); err == nil {
		fmt.Fprintf(out, "  %s Config file: %s\n", green("✓"), config.FilePath(projectRoot))
	} else {
		fmt.Fprintf(out, "  %s No config file, using defaults (run 'bughunter init' to create one)\n", green("✓"))
	}
	cfg, err := loadConfig(projectRoot)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		criticalFailures = append(criticalFailures, fmt.Sprintf("Invalid configuration: %v", err))
		fmt.Fprintf(out, "  %s Invalid configuration: %v\n", red("✗"), err)
		fmt.Fprintf(out, "\n%s Critical failures prevent scanning\n", red("✗"))
		return scan.ExitFatal
	}
	fmt.Fprintf(out, "  %s Provider: %s\n", green("✓"), cfg.Oracle.Provider)

	// Check 2: .env files
	fmt.Fprintf(out, "%s Credential files\n", cyan("→"))
	envFound := false
	for _, p := range []string{filepath.Join(projectRoot, ".env"), config.GlobalEnvPath()} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			envFound = true
			fmt.Fprintf(out, "  %s Found %s\n", green("✓"), p)
		}
	}
	if !envFound {
		fmt.Fprintf(out, "  %s No .env file found (credentials must come from the environment)\n", yellow("⚠"))
	}

	// Check 3: API key
	fmt.Fprintf(out, "%s API key\n", cyan("→"))
	keyVar := "ANTHROPIC_API_KEY"
	if cfg.Oracle.Provider == config.ProviderAzureOpenAI {
		keyVar = "AZURE_OPENAI_API_KEY"
	}
	if cfg.Oracle.APIKey == "" {
		criticalFailures = append(criticalFailures, keyVar+" not set")
		fmt.Fprintf(out, "  %s %s not set\n", red("✗"), keyVar)
	} else {
		fmt.Fprintf(out, "  %s %s is set\n", green("✓"), keyVar)
		if verbose {
			fmt.Fprintf(out, "    Key: %s\n", cfg.Redacted().Oracle.APIKey)
		}
	}

	// Check 4: connectivity (only meaningful with a key)
	fmt.Fprintf(out, "%s Oracle connectivity\n", cyan("→"))
	if cfg.Oracle.APIKey == "" {
		fmt.Fprintf(out, "  %s Skipped (no API key)\n", yellow("⚠"))
	} else {
		cctx, cancel := context.WithTimeout(ctx, doctorTimeout)
		_, err := connectOracle(cctx, cfg.Oracle, zerolog.Nop())
		cancel()
		if err != nil {
			criticalFailures = append(criticalFailures, "Oracle connection failed")
			fmt.Fprintf(out, "  %s Connection failed\n", red("✗"))
			fmt.Fprintf(out, "    %s\n", yellow(fmt.Sprintf("Error: %v", err)))
			fmt.Fprintf(out, "    %s\n", gray("Troubleshooting:"))
			fmt.Fprintf(out, "    %s\n", gray("- Verify the API key is valid and has quota"))
			fmt.Fprintf(out, "    %s\n", gray(fmt.Sprintf("- Check that the model exists (current: %s)", modelName(cfg))))
		} else {
			fmt.Fprintf(out, "  %s Connection successful\n", green("✓"))
			fmt.Fprintf(out, "    %s\n", gray("Model: "+modelName(cfg)))
		}
	}

	// Check 5: history
	fmt.Fprintf(out, "%s Run history\n", cyan("→"))
	if !cfg.History.Enabled {
		fmt.Fprintf(out, "  %s Disabled\n", green("✓"))
	} else {
		path := config.ResolvePath(projectRoot, cfg.History.Path)
		store, err := storage.Open(ctx, path)
		if err != nil {
			failures = append(failures, fmt.Sprintf("History database unusable: %v", err))
			fmt.Fprintf(out, "  %s Cannot open %s\n", red("✗"), path)
			if verbose {
				fmt.Fprintf(out, "    Error: %v\n", err)
			}
		} else {
			runs, err := store.ListRuns(ctx, 0)
			_ = store.Close()
			if err != nil {
				failures = append(failures, fmt.Sprintf("Cannot query history: %v", err))
				fmt.Fprintf(out, "  %s Cannot query %s\n", yellow("⚠"), path)
			} else {
				fmt.Fprintf(out, "  %s %s (%d runs recorded)\n", green("✓"), path, len(runs))
			}
		}
	}

	fmt.Fprintln(out)
	switch {
	case len(criticalFailures) > 0:
		fmt.Fprintf(out, "%s %d critical problem(s):\n", red("✗"), len(criticalFailures))
		for _, f := range criticalFailures {
			fmt.Fprintf(out, "  - %s\n", f)
		}
		return scan.ExitFatal
	case len(failures) > 0:
		fmt.Fprintf(out, "%s %d problem(s):\n", yellow("⚠"), len(failures))
		for _, f := range failures {
			fmt.Fprintf(out, "  - %s\n", f)
		}
		return 1
	default:
		fmt.Fprintf(out, "%s All checks passed\n", green("✓"))
		return 0
	}
}

func modelName(cfg *config.Config) string {
	if cfg.Oracle.Provider == config.ProviderAzureOpenAI {
		return cfg.Oracle.Deployment
	}
	return cfg.Oracle.Model
}
