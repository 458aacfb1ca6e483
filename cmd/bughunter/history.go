package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/events"
	"github.com/steveyegge/bughunter/internal/report"
	"github.com/steveyegge/bughunter/internal/scan"
	"github.com/steveyegge/bughunter/internal/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past scans",
	Long: `Show runs recorded in the history database (.bughunter/history.db),
newest first. Use the subcommands to inspect a run.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		withHistory(func(ctx context.Context, store storage.Store, _ *config.Config) error {
			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			report.NewConsole(os.Stdout).RenderRuns(runs)
			return nil
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the report of a past run (ID prefixes work)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")
		verbose, _ := cmd.Flags().GetBool("verbose")
		withHistory(func(ctx context.Context, store storage.Store, _ *config.Config) error {
			rep, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return report.WriteJSON(os.Stdout, rep)
			}
			console := report.NewConsole(os.Stdout)
			console.Verbose = verbose
			console.Render(rep)
			return nil
		})
	},
}

var historyEventsCmd = &cobra.Command{
	Use:   "events <run-id>",
	Short: "Show the event log of a past run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eventType, _ := cmd.Flags().GetString("type")
		file, _ := cmd.Flags().GetString("file")
		limit, _ := cmd.Flags().GetInt("limit")
		withHistory(func(ctx context.Context, store storage.Store, _ *config.Config) error {
			rep, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			evs, err := store.GetEvents(ctx, storage.EventFilter{
				RunID: rep.RunID,
				Type:  events.EventType(eventType),
				File:  file,
				Limit: limit,
			})
			if err != nil {
				return err
			}
			printEvents(os.Stdout, evs)
			return nil
		})
	},
}

var historyRecurringCmd = &cobra.Command{
	Use:   "recurring",
	Short: "List file and category pairs reported by several runs",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		minRuns, _ := cmd.Flags().GetInt("min-runs")
		limit, _ := cmd.Flags().GetInt("limit")
		withHistory(func(ctx context.Context, store storage.Store, _ *config.Config) error {
			recs, err := store.RecurringFindings(ctx, minRuns, limit)
			if err != nil {
				return err
			}
			printRecurring(os.Stdout, recs, minRuns)
			return nil
		})
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs older than the retention period",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		days, _ := cmd.Flags().GetInt("days")
		withHistory(func(ctx context.Context, store storage.Store, cfg *config.Config) error {
			if !cmd.Flags().Changed("days") {
				days = cfg.History.RetentionDays
			}
			if days <= 0 {
				fmt.Println("Retention is unlimited; nothing to prune")
				return nil
			}
			n, err := storage.Prune(ctx, store, days, time.Now())
			if err != nil {
				return err
			}
			printSuccess(os.Stdout, "Deleted %d run(s) older than %d days", n, days)
			return nil
		})
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "Number of runs to show (0 = all)")
	historyShowCmd.Flags().Bool("json", false, "Print the report as JSON")
	historyShowCmd.Flags().BoolP("verbose", "v", false, "Show descriptions, recommendations and examples")
	historyEventsCmd.Flags().StringP("type", "t", "", "Filter by event type (e.g., file_failed, fix_transition)")
	historyEventsCmd.Flags().StringP("file", "f", "", "Filter by file")
	historyEventsCmd.Flags().IntP("limit", "n", 0, "Maximum events to show (0 = all)")
	historyRecurringCmd.Flags().Int("min-runs", 2, "Minimum number of runs reporting the pair")
	historyRecurringCmd.Flags().IntP("limit", "n", 20, "Maximum pairs to show")
	historyPruneCmd.Flags().Int("days", 0, "Retention in days (default: history.retention_days)")

	historyCmd.AddCommand(historyShowCmd, historyEventsCmd, historyRecurringCmd, historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}

// withHistory opens the project's history database for fn, exiting on error.
func withHistory(fn func(ctx context.Context, store storage.Store, cfg *config.Config) error) {
	ctx := context.Background()

	projectRoot, err := projectRootFor(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(scan.ExitFatal)
	}
	cfg, err := loadConfig(projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(scan.ExitFatal)
	}
	if !cfg.History.Enabled {
		fmt.Fprintln(os.Stderr, "Run history is disabled (history.enabled: false)")
		os.Exit(1)
	}

	store, err := storage.Open(ctx, config.ResolvePath(projectRoot, cfg.History.Path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(scan.ExitFatal)
	}
	err = fn(ctx, store, cfg)
	_ = store.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printEvents(out io.Writer, evs []*events.Event) {
	if len(evs) == 0 {
		fmt.Fprintln(out, "No events found")
		return
	}
	gray := color.New(color.FgHiBlack).SprintFunc()
	magenta := color.New(color.FgMagenta).SprintFunc()

	for _, e := range evs {
		msgColor := color.New(color.Reset)
		switch e.Severity {
		case events.SeverityError:
			msgColor = color.New(color.FgRed)
		case events.SeverityWarning:
			msgColor = color.New(color.FgYellow)
		}
		subject := ""
		if e.File != "" {
			subject = " " + e.File
		}
		fmt.Fprintf(out, "[%s] %s%s: %s\n",
			gray(e.Timestamp.Local().Format("15:04:05.000")),
			magenta(e.Type),
			subject,
			msgColor.Sprint(e.Message))
	}
}

func printRecurring(out io.Writer, recs []storage.Recurrence, minRuns int) {
	if len(recs) == 0 {
		fmt.Fprintf(out, "No findings reported by %d or more runs\n", minRuns)
		return
	}
	fmt.Fprintf(out, "%5s  %-40s  %s\n", "RUNS", "FILE", "CATEGORY")
	for _, r := range recs {
		fmt.Fprintf(out, "%5d  %-40s  %s\n", r.Runs, r.File, r.Category)
	}
}
