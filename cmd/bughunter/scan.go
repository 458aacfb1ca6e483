package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/steveyegge/bughunter/internal/ai"
	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/cost"
	"github.com/steveyegge/bughunter/internal/events"
	"github.com/steveyegge/bughunter/internal/fix"
	"github.com/steveyegge/bughunter/internal/gates"
	"github.com/steveyegge/bughunter/internal/report"
	"github.com/steveyegge/bughunter/internal/scan"
	"github.com/steveyegge/bughunter/internal/storage"
	"github.com/steveyegge/bughunter/internal/types"
)

// defaultListLimit caps the console listing unless --all is given.
const defaultListLimit = 25

// scanOptions are the scan and fix command flags.
type scanOptions struct {
	JSON      bool
	Output    string
	Save      bool
	Fix       bool
	Yes       bool
	OnlySafe  bool
	All       bool
	Verbose   bool
	NoHistory bool

	Concurrency int
	Timeout     time.Duration
	MaxSizeKB   int
	Environment string
}

// apply overrides configuration with explicitly set flags.
func (o scanOptions) apply(cfg *config.Config) {
	if o.Concurrency > 0 {
		cfg.Scan.Concurrency = o.Concurrency
	}
	if o.Timeout > 0 {
		cfg.Scan.Timeout = o.Timeout
	}
	if o.MaxSizeKB > 0 {
		cfg.Scan.MaxFileSizeKB = o.MaxSizeKB
	}
	if o.Environment != "" {
		cfg.Oracle.Environment = o.Environment
	}
	if o.OnlySafe {
		cfg.AutoFix.OnlySafe = true
	}
	if o.Yes {
		cfg.AutoFix.RequireConfirmation = false
	}
}

var scanOpts scanOptions

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Scan a project for security vulnerabilities",
	Long: `Discover the source files under path (default: current directory), have the
AI oracle analyze each one, and print the findings ranked by priority.

Files the oracle cannot analyze are reported and do not stop the scan.

Exit codes:
  0 - project risk below HIGH
  1 - project risk HIGH or CRITICAL (after fixes, when --fix is used)
  2 - fatal error: oracle unreachable, bad root or invalid configuration`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(executeScan(args, scanOpts))
	},
}

var fixCmd = &cobra.Command{
	Use:   "fix [path]",
	Short: "Scan, then walk through fixing each finding",
	Long: `Equivalent to 'bughunter scan --fix'. Findings are visited in priority order;
for each one you confirm generating a fix, review the diff, and confirm applying it.
Answer q (or press Ctrl+C) to stop; remaining findings are skipped.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		opts := scanOpts
		opts.Fix = true
		os.Exit(executeScan(args, opts))
	},
}

func init() {
	for _, cmd := range []*cobra.Command{scanCmd, fixCmd} {
		f := cmd.Flags()
		f.BoolVar(&scanOpts.JSON, "json", false, "Print the report as JSON on stdout")
		f.StringVarP(&scanOpts.Output, "output", "o", "", "Write the JSON report to this file")
		f.BoolVar(&scanOpts.Save, "save", false, "Write the JSON report into report.output_dir")
		f.BoolVarP(&scanOpts.Yes, "yes", "y", false, "Apply fixes without asking (implies --fix)")
		f.BoolVar(&scanOpts.OnlySafe, "only-safe", false, "Only fix findings the oracle marked safe to auto-fix")
		f.BoolVarP(&scanOpts.All, "all", "a", false, "List every finding instead of the top ones")
		f.BoolVarP(&scanOpts.Verbose, "verbose", "v", false, "Show descriptions, recommendations and examples")
		f.BoolVar(&scanOpts.NoHistory, "no-history", false, "Do not record this run in the history database")
		f.IntVarP(&scanOpts.Concurrency, "concurrency", "c", 0, "Files analyzed in parallel (overrides config)")
		f.DurationVar(&scanOpts.Timeout, "timeout", 0, "Per-file oracle timeout, e.g. 45s (overrides config)")
		f.IntVar(&scanOpts.MaxSizeKB, "max-size", 0, "Skip files larger than this many KB (overrides config)")
		f.StringVar(&scanOpts.Environment, "env", "", "Deployment environment label sent to the oracle")
	}
	scanCmd.Flags().BoolVar(&scanOpts.Fix, "fix", false, "Run the interactive fix loop after the scan")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(fixCmd)
}

// executeScan runs the command and returns the process exit code.
func executeScan(args []string, opts scanOptions) int {
	target := "."
	if len(args) == 1 {
		target = args[0]
	}
	if opts.Yes {
		opts.Fix = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := runScan(ctx, target, opts, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		if ai.IsConnectivityError(err) {
			fmt.Fprintln(os.Stderr, "Run 'bughunter doctor' to check your credentials and model.")
		}
	}
	return code
}

// runScan is the scan pipeline behind scan and fix. A returned error is
// always fatal and comes with scan.ExitFatal.
func runScan(ctx context.Context, target string, opts scanOptions, stdout, stderr io.Writer) (int, error) {
	projectRoot, err := projectRootFor(target)
	if err != nil {
		return scan.ExitFatal, err
	}

	cfg, err := loadConfig(projectRoot)
	if err != nil {
		return scan.ExitFatal, err
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return scan.ExitFatal, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.Fix && !cfg.AutoFix.Enabled {
		return scan.ExitFatal, errors.New("automatic fixing is disabled (autofix.enabled: false)")
	}
	if opts.Fix && opts.JSON && cfg.AutoFix.RequireConfirmation {
		return scan.ExitFatal, errors.New("--json with --fix needs --yes: prompts would corrupt the JSON output")
	}

	log := newLogger(cfg, stderr)

	oracle, err := connectOracle(ctx, cfg.Oracle, log)
	if err != nil {
		return scan.ExitFatal, err
	}
	budget := cost.NewTracker(cfg.Budget, log)
	attachBudget(oracle, budget)

	sink := events.Multi{events.LogSink{Log: log}}
	var store storage.Store
	if !opts.NoHistory {
		store = openHistory(ctx, cfg, projectRoot, log)
	}
	if store != nil {
		defer func() { _ = store.Close() }()
		sink = append(sink, storage.NewEventSink(store, log))
	}

	progress := newProgressReporter(stderr, !opts.JSON && isTerminal(stderr))
	runner := scan.NewRunner(cfg, oracle, sink, log)
	runner.OnDiscovered = progress.Discovered
	runner.OnProgress = progress.Update

	rep, err := runner.Run(ctx, target)
	progress.Stop()
	if err != nil {
		return scan.ExitFatal, err
	}
	rep.ScanStats.EstimatedCostUSD = budget.Stats().CostUSD

	// Persist what was found before the fix loop touches anything
	if store != nil {
		if err := store.SaveReport(context.WithoutCancel(ctx), rep); err != nil {
			log.Warn().Err(err).Msg("failed to record run history")
			store = nil
		}
	}

	console := report.NewConsole(stdout)
	console.Verbose = opts.Verbose
	if !opts.All {
		console.Limit = defaultListLimit
	}
	if !opts.JSON {
		console.Render(rep)
	}

	if opts.Fix && len(rep.Vulnerabilities) > 0 {
		fixOut := stdout
		if opts.JSON {
			fixOut = stderr
		}
		if err := remediate(ctx, rep, runner, oracle, cfg, projectRoot, sink, store, log, fixOut); err != nil {
			return scan.ExitFatal, err
		}
		if !opts.JSON {
			console.RenderRemediation(rep.ProjectRisk, rep.Remediation)
		}
	}

	if opts.JSON {
		if err := report.WriteJSON(stdout, rep); err != nil {
			return scan.ExitFatal, err
		}
	}
	if opts.Output != "" {
		if err := report.SaveTo(opts.Output, rep); err != nil {
			return scan.ExitFatal, err
		}
		printSuccess(stderr, "Report saved to %s", opts.Output)
	}
	if opts.Save {
		path, err := report.Save(config.ResolvePath(projectRoot, cfg.Report.OutputDir), rep)
		if err != nil {
			return scan.ExitFatal, err
		}
		printSuccess(stderr, "Report saved to %s", path)
	}

	if store != nil {
		if n, err := storage.Prune(context.WithoutCancel(ctx), store, cfg.History.RetentionDays, time.Now()); err != nil {
			log.Warn().Err(err).Msg("failed to prune run history")
		} else if n > 0 {
			log.Info().Int("runs", n).Msg("pruned old runs from history")
		}
	}

	return scan.ExitCode(rep.EffectiveRisk().Level), nil
}

// remediate runs the fix loop over the report's findings and attaches the
// outcomes. Declining or aborting is not an error.
func remediate(
	ctx context.Context,
	rep *types.ProjectReport,
	runner *scan.Runner,
	gen fix.FixGenerator,
	cfg *config.Config,
	projectRoot string,
	sink events.Sink,
	store storage.Store,
	log zerolog.Logger,
	out io.Writer,
) error {
	confirmer, closeConfirmer, err := newConfirmer(cfg)
	if err != nil {
		return err
	}
	defer closeConfirmer()

	lockPath, err := storage.AcquireFixLock(projectRoot, rep.RunID)
	if err != nil {
		return err
	}
	defer func() { _ = storage.ReleaseFixLock(lockPath) }()

	// Finding paths are relative to the scanned directory
	fixRoot := rep.Root
	if info, err := os.Stat(fixRoot); err == nil && !info.IsDir() {
		fixRoot = filepath.Dir(fixRoot)
	}

	if dirty := uncommittedFindingFiles(ctx, fixRoot, rep.Vulnerabilities, log); len(dirty) > 0 {
		printWarning(out, "%d file(s) with findings have uncommitted changes: %s", len(dirty), strings.Join(dirty, ", "))
	}

	fs := fix.NewOSFileSystem(config.ResolvePath(projectRoot, cfg.AutoFix.BackupDir))
	loop := fix.NewLoop(gen, confirmer, fs, fix.Options{
		Root:         fixRoot,
		OnlySafe:     cfg.AutoFix.OnlySafe,
		CreateBackup: cfg.AutoFix.CreateBackup,
		RunID:        rep.RunID,
	}, sink, log)
	loop.Out = out

	sum, loopErr := loop.Run(ctx, rep.Vulnerabilities)
	runner.AttachRemediation(rep, sum.Outcomes)

	switch {
	case loopErr == nil:
	case errors.Is(loopErr, fix.ErrAborted):
		printWarning(out, "Fix session stopped; remaining findings were skipped")
	default:
		printWarning(out, "Fix session interrupted: %v", loopErr)
	}

	if store != nil {
		if err := store.RecordRemediation(context.WithoutCancel(ctx), rep.RunID, rep.Remediation); err != nil {
			log.Warn().Err(err).Msg("failed to record fix outcomes")
		}
	}
	return nil
}

// newConfirmer picks the confirm capability: auto-approve when confirmation is
// off, otherwise a terminal prompt. Without a terminal there is no one to ask.
func newConfirmer(cfg *config.Config) (fix.Confirmer, func(), error) {
	if !cfg.AutoFix.RequireConfirmation {
		return gates.AutoConfirmer{Approve: true}, func() {}, nil
	}
	if !gates.IsInteractive() {
		return nil, nil, errors.New("fix confirmation needs an interactive terminal; use --yes to apply fixes unattended")
	}
	tc, err := gates.NewTerminalConfirmer()
	if err != nil {
		return nil, nil, err
	}
	return tc, func() { _ = tc.Close() }, nil
}
