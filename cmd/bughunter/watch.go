package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/cost"
	"github.com/steveyegge/bughunter/internal/events"
	"github.com/steveyegge/bughunter/internal/report"
	"github.com/steveyegge/bughunter/internal/scan"
	"github.com/steveyegge/bughunter/internal/storage"
	"github.com/steveyegge/bughunter/internal/types"
)

const defaultDebounce = 500 * time.Millisecond

// watchSkipDirs are never watched; changes under them never trigger a scan.
var watchSkipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	config.DirName: true,
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Re-scan whenever source files change",
	Long: `Run a scan, then watch the project and scan again after files change.
Each re-scan prints the findings that appeared and the ones that were resolved.
Press Ctrl+C to stop.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target := "."
		if len(args) == 1 {
			target = args[0]
		}
		debounce, _ := cmd.Flags().GetDuration("debounce")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runWatch(ctx, target, debounce, os.Stdout, os.Stderr); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
			os.Exit(scan.ExitFatal)
		}
	},
}

func init() {
	watchCmd.Flags().Duration("debounce", defaultDebounce, "Quiet period after a change before re-scanning")
	rootCmd.AddCommand(watchCmd)
}

// watchSession re-runs the scan pipeline and reports what changed between runs.
type watchSession struct {
	runner  *scan.Runner
	target  string
	store   storage.Store
	log     zerolog.Logger
	out     io.Writer
	console *report.Console
	prev    []*types.Vulnerability
}

func newWatchSession(runner *scan.Runner, target string, store storage.Store, log zerolog.Logger, out io.Writer) *watchSession {
	console := report.NewConsole(out)
	console.Limit = defaultListLimit
	return &watchSession{
		runner:  runner,
		target:  target,
		store:   store,
		log:     log,
		out:     out,
		console: console,
	}
}

// rescan runs one scan. The first successful scan prints the full report,
// later ones only the difference.
func (w *watchSession) rescan(ctx context.Context, changed []string) {
	if len(changed) > 0 {
		fmt.Fprintf(w.out, "\n%s %d file(s) changed, re-scanning...\n", color.CyanString("→"), len(changed))
	}

	rep, err := w.runner.Run(ctx, w.target)
	if err != nil {
		if ctx.Err() == nil {
			printWarning(w.out, "Scan failed: %v", err)
		}
		return
	}
	if w.store != nil {
		if err := w.store.SaveReport(context.WithoutCancel(ctx), rep); err != nil {
			w.log.Warn().Err(err).Msg("failed to record run history")
		}
	}

	if w.prev == nil {
		w.console.Render(rep)
	} else {
		added, resolved := diffFindings(w.prev, rep.Vulnerabilities)
		printDiff(w.out, added, resolved)
		fmt.Fprintf(w.out, "Project risk: %s (%.1f/100)\n",
			report.SeverityColor(rep.ProjectRisk.Level).Sprint(rep.ProjectRisk.Level), rep.ProjectRisk.Score)
	}
	w.prev = rep.Vulnerabilities
	if w.prev == nil {
		w.prev = []*types.Vulnerability{}
	}
}

func runWatch(ctx context.Context, target string, debounce time.Duration, stdout, stderr io.Writer) error {
	projectRoot, err := projectRootFor(target)
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
	log := newLogger(cfg, stderr)

	oracle, err := connectOracle(ctx, cfg.Oracle, log)
	if err != nil {
		return err
	}
	attachBudget(oracle, cost.NewTracker(cfg.Budget, log))

	sink := events.Multi{events.LogSink{Log: log}}
	store := openHistory(ctx, cfg, projectRoot, log)
	if store != nil {
		defer func() { _ = store.Close() }()
		sink = append(sink, storage.NewEventSink(store, log))
	}

	watchRoot, err := filepath.Abs(target)
	if err != nil {
		return err
	}
	if info, statErr := os.Stat(watchRoot); statErr == nil && !info.IsDir() {
		watchRoot = filepath.Dir(watchRoot)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch init failed: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := addWatchRecursive(watcher, watchRoot); err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}

	session := newWatchSession(scan.NewRunner(cfg, oracle, sink, log), target, store, log, stdout)

	session.rescan(ctx, nil)
	fmt.Fprintf(stdout, "\n%s Watching %s (Ctrl+C to stop)\n", color.CyanString("→"), watchRoot)

	changes := make(chan fsnotify.Event)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				// New directories are watched as they appear
				if ev.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !skipWatchDir(ev.Name) {
						_ = addWatchRecursive(watcher, ev.Name)
					}
				}
				select {
				case changes <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	watchLoop(ctx, changes, watcher.Errors, debounce, func(changed []string) {
		session.rescan(ctx, changed)
	}, log)
	return nil
}

// watchLoop collects relevant change events and calls trigger once the
// debounce period passes without new events. trigger runs on the loop's
// goroutine, so scans never overlap.
func watchLoop(
	ctx context.Context,
	evs <-chan fsnotify.Event,
	errs <-chan error,
	debounce time.Duration,
	trigger func(changed []string),
	log zerolog.Logger,
) {
	var timer *time.Timer
	var timerC <-chan time.Time
	pending := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-evs:
			if !ok {
				return
			}
			if !relevantEvent(ev) {
				continue
			}
			pending[ev.Name] = true
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			timerC = timer.C
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn().Err(err).Msg("watch error")
		case <-timerC:
			timerC = nil
			changed := make([]string, 0, len(pending))
			for name := range pending {
				changed = append(changed, name)
			}
			sort.Strings(changed)
			pending = make(map[string]bool)
			trigger(changed)
		}
	}
}

// relevantEvent drops chmod-only events and anything under a skipped directory.
func relevantEvent(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	return !skipWatchDir(ev.Name)
}

func skipWatchDir(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if watchSkipDirs[part] {
			return true
		}
	}
	return false
}

func addWatchRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && watchSkipDirs[d.Name()] {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

// findingKey identifies a finding across runs. IDs come from the oracle and
// line numbers drift with edits, so neither is part of the key.
func findingKey(v *types.Vulnerability) string {
	return v.File + "\x00" + strings.ToLower(v.Category) + "\x00" + strings.ToLower(strings.TrimSpace(v.Title))
}

// diffFindings returns the findings of cur missing from prev and those of prev
// missing from cur, in their original order.
func diffFindings(prev, cur []*types.Vulnerability) (added, resolved []*types.Vulnerability) {
	before := make(map[string]bool, len(prev))
	for _, v := range prev {
		before[findingKey(v)] = true
	}
	after := make(map[string]bool, len(cur))
	for _, v := range cur {
		after[findingKey(v)] = true
	}

	for _, v := range cur {
		if !before[findingKey(v)] {
			added = append(added, v)
		}
	}
	for _, v := range prev {
		if !after[findingKey(v)] {
			resolved = append(resolved, v)
		}
	}
	return added, resolved
}

func printDiff(out io.Writer, added, resolved []*types.Vulnerability) {
	if len(added) == 0 && len(resolved) == 0 {
		fmt.Fprintln(out, "No change in findings")
		return
	}
	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	for _, v := range added {
		fmt.Fprintf(out, "%s %s %s (%s)\n", red("+"),
			report.SeverityColor(v.Severity).Sprint(v.Severity), v.Title, v.Location())
	}
	for _, v := range resolved {
		fmt.Fprintf(out, "%s %s %s (%s)\n", green("-"), string(v.Severity), v.Title, v.Location())
	}
	fmt.Fprintf(out, "%d new, %d resolved\n", len(added), len(resolved))
}
