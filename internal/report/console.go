package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/steveyegge/bughunter/internal/types"
)

// Console renders reports for a terminal. Colour follows color.NoColor.
type Console struct {
	Out io.Writer
	// Limit caps the findings listed; 0 lists all of them
	Limit int
	// Verbose adds descriptions, recommendations and examples
	Verbose bool
}

// NewConsole creates a renderer writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{Out: out}
}

// SeverityColor returns the colour used for a severity or risk level.
func SeverityColor(s types.Severity) *color.Color {
	switch s {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	case types.SeverityHigh:
		return color.New(color.FgRed)
	case types.SeverityMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

// Render prints the whole report: summary, findings, failures and remediation.
func (c *Console) Render(r *types.ProjectReport) {
	bold := color.New(color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(c.Out, "\n%s\n", bold("Security Scan Report"))
	fmt.Fprintf(c.Out, "%s\n", gray(fmt.Sprintf("Run %s  %s  %s", shortID(r.RunID), r.Root, r.Timestamp.Format(time.RFC3339))))

	c.renderSummary(r)
	c.renderFindings(r.Vulnerabilities)
	c.renderFailures(r.Failures, r.Warnings)
	if r.Remediation != nil {
		c.RenderRemediation(r.ProjectRisk, r.Remediation)
	}
	fmt.Fprintln(c.Out)
}

func (c *Console) renderSummary(r *types.ProjectReport) {
	risk := r.ProjectRisk
	st := r.ScanStats

	fmt.Fprintf(c.Out, "\nProject risk: %s (%.1f/100)\n",
		SeverityColor(risk.Level).Sprint(risk.Level), risk.Score)
	fmt.Fprintf(c.Out, "Files: %d scanned, %d failed, %d lines in %s\n",
		st.FilesScanned, st.FilesFailed, st.LinesAnalyzed, st.Duration.Round(time.Millisecond))

	if skipped := st.SkippedTooLarge + st.SkippedUnreadable + st.SkippedExcluded; skipped > 0 {
		fmt.Fprintf(c.Out, "Skipped: %d too large, %d unreadable, %d excluded\n",
			st.SkippedTooLarge, st.SkippedUnreadable, st.SkippedExcluded)
	}
	if st.InputTokens > 0 || st.OutputTokens > 0 {
		fmt.Fprintf(c.Out, "Tokens: %d in, %d out", st.InputTokens, st.OutputTokens)
		if st.EstimatedCostUSD > 0 {
			fmt.Fprintf(c.Out, " (~$%.2f)", st.EstimatedCostUSD)
		}
		fmt.Fprintln(c.Out)
	}

	parts := make([]string, 0, len(types.Severities))
	for _, s := range types.Severities {
		parts = append(parts, SeverityColor(s).Sprintf("%d %s", risk.Counts[s], strings.ToLower(string(s))))
	}
	fmt.Fprintf(c.Out, "Findings: %d (%s)\n", risk.Total, strings.Join(parts, ", "))
}

func (c *Console) renderFindings(vulns []*types.Vulnerability) {
	if len(vulns) == 0 {
		fmt.Fprintf(c.Out, "\n%s\n", color.GreenString("✓ No vulnerabilities found"))
		return
	}

	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Fprintf(c.Out, "\n%s\n", color.New(color.Bold).Sprint("Findings by priority"))

	shown := vulns
	if c.Limit > 0 && len(shown) > c.Limit {
		shown = shown[:c.Limit]
	}
	for _, v := range shown {
		sev := SeverityColor(v.Severity).Sprintf("%-8s", v.Severity)
		fmt.Fprintf(c.Out, "%3d. %s %5.1f  %s\n", v.PriorityRank, sev, v.RiskScore, v.Title)
		safe := ""
		if v.AutoFixSafe {
			safe = "  auto-fix safe"
		}
		fmt.Fprintf(c.Out, "     %s\n", gray(fmt.Sprintf("%s | %s | confidence %.0f%% | %s%s",
			v.Location(), v.Category, v.Confidence*100, v.ID, safe)))

		if c.Verbose {
			writeIndented(c.Out, "", v.Description)
			writeIndented(c.Out, "Impact: ", v.Impact)
			writeIndented(c.Out, "Exploit: ", v.ExploitationScenario)
			writeIndented(c.Out, "Fix: ", v.Recommendation)
			if v.SecureCodeExample != "" {
				fmt.Fprintf(c.Out, "     %s\n", gray("Secure example:"))
				for _, line := range strings.Split(strings.TrimRight(v.SecureCodeExample, "\n"), "\n") {
					fmt.Fprintf(c.Out, "       %s\n", line)
				}
			}
		}
	}
	if len(shown) < len(vulns) {
		fmt.Fprintf(c.Out, "     %s\n", gray(fmt.Sprintf("... %d more (use --all or --json)", len(vulns)-len(shown))))
	}
}

func (c *Console) renderFailures(failures []types.FileFailure, warnings []string) {
	if len(failures) == 0 && len(warnings) == 0 {
		return
	}
	yellow := color.New(color.FgYellow).SprintFunc()

	if len(failures) > 0 {
		fmt.Fprintf(c.Out, "\n%s\n", yellow(fmt.Sprintf("⚠ %d files could not be analyzed", len(failures))))
		for _, f := range failures {
			fmt.Fprintf(c.Out, "  %s [%s] %s\n", f.File, f.Kind, truncateString(f.Error, 100))
		}
	}
	if len(warnings) > 0 {
		fmt.Fprintf(c.Out, "\n%s\n", yellow(fmt.Sprintf("⚠ %d warnings", len(warnings))))
		for _, w := range warnings {
			fmt.Fprintf(c.Out, "  %s\n", truncateString(w, 120))
		}
	}
}

// RenderRemediation prints fix loop outcomes and the residual risk next to
// the risk the scan found.
func (c *Console) RenderRemediation(before types.ProjectRiskAssessment, rem *types.Remediation) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(c.Out, "\n%s\n", color.New(color.Bold).Sprint("Remediation"))
	fmt.Fprintf(c.Out, "%s applied, %s skipped, %s failed\n",
		green(rem.Applied), yellow(rem.Skipped), red(rem.Failed))

	for _, o := range rem.Outcomes {
		var mark string
		switch o.State {
		case types.FixApplied:
			mark = green("✓")
		case types.FixFailed:
			mark = red("✗")
		default:
			mark = yellow("-")
		}
		line := fmt.Sprintf("  %s %s %s", mark, o.VulnerabilityID, o.State)
		if o.Reason != "" {
			line += ": " + truncateString(o.Reason, 80)
		}
		fmt.Fprintln(c.Out, line)
	}

	after := rem.ResidualRisk
	fmt.Fprintf(c.Out, "Residual risk: %s (%.1f/100), was %s (%.1f/100)\n",
		SeverityColor(after.Level).Sprint(after.Level), after.Score,
		SeverityColor(before.Level).Sprint(before.Level), before.Score)
}

// RenderRuns prints a run history table.
func (c *Console) RenderRuns(runs []*types.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(c.Out, "No runs recorded yet")
		return
	}
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(c.Out, "%-8s  %-19s  %-8s  %6s  %5s  %5s  %s\n",
		"RUN", "STARTED", "LEVEL", "SCORE", "FILES", "VULNS", "FIXES")
	for _, run := range runs {
		fixes := gray("-")
		if run.ResidualLevel != "" {
			fixes = fmt.Sprintf("%d (now %s)", run.FixesApplied, SeverityColor(run.ResidualLevel).Sprint(run.ResidualLevel))
		}
		fmt.Fprintf(c.Out, "%-8s  %-19s  %s  %6.1f  %5d  %5d  %s\n",
			shortID(run.ID),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			SeverityColor(run.Level).Sprintf("%-8s", run.Level),
			run.Score,
			run.FilesScanned,
			run.Vulnerabilities,
			fixes,
		)
	}
}

func writeIndented(w io.Writer, label, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	fmt.Fprintf(w, "     %s%s\n", label, text)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncateString truncates a string to maxLen, adding "..." if truncated
func truncateString(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
