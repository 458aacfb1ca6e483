package scan

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/steveyegge/bughunter/internal/ai"
	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/discovery"
	"github.com/steveyegge/bughunter/internal/events"
	"github.com/steveyegge/bughunter/internal/priorities"
	"github.com/steveyegge/bughunter/internal/risk"
	"github.com/steveyegge/bughunter/internal/types"
)

// Exit codes of the scan command
const (
	ExitOK    = 0 // project risk below HIGH
	ExitRisk  = 1 // project risk HIGH or CRITICAL
	ExitFatal = 2 // connectivity failure, bad root or bad configuration
)

// ExitCode maps the project risk level to the process exit code.
func ExitCode(level types.Severity) int {
	if level.AtLeast(types.SeverityHigh) {
		return ExitRisk
	}
	return ExitOK
}

// usageReporter is implemented by oracles that count tokens (ai.Client).
type usageReporter interface {
	Usage() ai.Usage
}

// Runner wires discovery, analysis, scoring and prioritization.
type Runner struct {
	cfg    *config.Config
	oracle ai.Oracle
	sink   events.Sink
	log    zerolog.Logger
	engine *risk.Engine

	// OnDiscovered is called once discovery completes, before any oracle call.
	OnDiscovered func(discovery.Stats)
	// OnProgress is forwarded to the orchestrator.
	OnProgress func(events.Progress)

	now func() time.Time
}

// NewRunner creates a pipeline runner. cfg must already be validated.
func NewRunner(cfg *config.Config, oracle ai.Oracle, sink events.Sink, log zerolog.Logger) *Runner {
	if sink == nil {
		sink = events.Discard
	}
	return &Runner{
		cfg:    cfg,
		oracle: oracle,
		sink:   sink,
		log:    log,
		engine: risk.NewEngine(cfg.Risk),
		now:    time.Now,
	}
}

// Engine returns the risk engine used for scoring, for residual risk after fixes.
func (r *Runner) Engine() *risk.Engine { return r.engine }

// Run scans root and returns the prioritized report. Only an unusable root is
// returned as an error; per-file problems are recorded on the report.
func (r *Runner) Run(ctx context.Context, root string) (*types.ProjectReport, error) {
	start := r.now()
	runID := uuid.New().String()
	log := r.log.With().Str("run", runID).Logger()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %s: %w", root, err)
	}

	found, err := discovery.NewScanner(r.cfg.Scan, log).Scan(ctx, absRoot)
	if err != nil {
		return nil, err
	}
	stats := discovery.Statistics(found.Files, found.SkipCounts)
	if r.OnDiscovered != nil {
		r.OnDiscovered(stats)
	}
	r.sink.Emit(ctx, events.NewScanStartedEvent(runID, absRoot, len(found.Files)))

	orch := NewOrchestrator(r.oracle, r.cfg.Scan, r.cfg.Oracle.Environment, r.sink, log)
	orch.RunID = runID
	orch.OnProgress = r.OnProgress
	analysis := orch.Run(ctx, found.Files)

	r.engine.ScoreAll(analysis.Vulnerabilities)
	sorted := priorities.Prioritize(analysis.Vulnerabilities)
	assessment := r.engine.Assess(sorted)

	warnings := append([]string(nil), found.Warnings...)
	for _, d := range analysis.Dropped {
		warnings = append(warnings, d.Error())
	}

	report := &types.ProjectReport{
		RunID:           runID,
		Timestamp:       start.UTC(),
		Root:            absRoot,
		ProjectRisk:     assessment,
		Vulnerabilities: sorted,
		Failures:        analysis.Failures,
		Warnings:        warnings,
		ScanStats: types.ScanStats{
			FilesScanned:      analysis.Processed - analysis.Failed,
			FilesFailed:       analysis.Failed,
			LinesAnalyzed:     stats.TotalLines,
			BytesAnalyzed:     stats.TotalBytes,
			SkippedTooLarge:   stats.SkippedTooLarge,
			SkippedUnreadable: stats.SkippedUnreadable,
			SkippedExcluded:   stats.SkippedExcluded,
			EntriesDropped:    len(analysis.Dropped),
			Duration:          r.now().Sub(start),
		},
	}
	if u, ok := r.oracle.(usageReporter); ok {
		usage := u.Usage()
		report.ScanStats.InputTokens = usage.InputTokens
		report.ScanStats.OutputTokens = usage.OutputTokens
	}

	r.sink.Emit(ctx, events.NewScanCompletedEvent(runID, len(sorted), assessment.Score, string(assessment.Level)))
	log.Info().
		Int("vulnerabilities", len(sorted)).
		Int("failed", analysis.Failed).
		Float64("score", assessment.Score).
		Str("level", string(assessment.Level)).
		Msg("scan complete")

	return report, nil
}

// AttachRemediation records fix outcomes on the report and recomputes the
// project risk over the findings whose fix was not applied.
func (r *Runner) AttachRemediation(report *types.ProjectReport, outcomes []types.FixOutcome) {
	AttachRemediation(r.engine, report, outcomes)
}

// AttachRemediation is the engine-explicit form of Runner.AttachRemediation.
func AttachRemediation(engine *risk.Engine, report *types.ProjectReport, outcomes []types.FixOutcome) {
	rem := &types.Remediation{Outcomes: outcomes}
	applied := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		switch o.State {
		case types.FixApplied:
			rem.Applied++
			applied[o.VulnerabilityID] = true
		case types.FixSkipped:
			rem.Skipped++
		case types.FixFailed:
			rem.Failed++
		}
	}

	var remaining []*types.Vulnerability
	for _, v := range report.Vulnerabilities {
		if !applied[v.ID] {
			remaining = append(remaining, v)
		}
	}
	rem.ResidualRisk = engine.Assess(remaining)
	report.Remediation = rem
}
