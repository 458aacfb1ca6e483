package main

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/steveyegge/bughunter/internal/discovery"
	"github.com/steveyegge/bughunter/internal/events"
)

// progressReporter shows scan progress on a terminal. When disabled it prints
// nothing, so piped and --json output stay clean.
type progressReporter struct {
	out     io.Writer
	enabled bool
	spinner *spinner.Spinner
}

func newProgressReporter(out io.Writer, enabled bool) *progressReporter {
	p := &progressReporter{out: out, enabled: enabled}
	if enabled {
		p.spinner = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
		p.spinner.Prefix = " "
		_ = p.spinner.Color("cyan", "bold")
	}
	return p
}

// Discovered prints the discovery summary and starts the spinner.
func (p *progressReporter) Discovered(st discovery.Stats) {
	if !p.enabled {
		return
	}
	fmt.Fprintf(p.out, "Found %d files (%d lines) to analyze", st.TotalFiles, st.TotalLines)
	if skipped := st.SkippedTooLarge + st.SkippedUnreadable + st.SkippedExcluded; skipped > 0 {
		fmt.Fprintf(p.out, ", %d skipped", skipped)
	}
	fmt.Fprintln(p.out)
	if st.TotalFiles > 0 {
		p.spinner.Suffix = " Analyzing..."
		p.spinner.Start()
	}
}

// Update is the orchestrator progress callback.
func (p *progressReporter) Update(pr events.Progress) {
	if !p.enabled {
		return
	}
	p.spinner.Lock()
	p.spinner.Suffix = " " + progressLine(pr)
	p.spinner.Unlock()
}

// Stop clears the spinner line.
func (p *progressReporter) Stop() {
	if p.enabled {
		p.spinner.Stop()
	}
}

func progressLine(pr events.Progress) string {
	line := fmt.Sprintf("[%d/%d] %s", pr.Processed, pr.Total, pr.Current)
	if pr.Failed > 0 {
		line += fmt.Sprintf(" (%d failed)", pr.Failed)
	}
	return line
}
