// Package scan runs the analysis pipeline: discovered files are analyzed by the
// oracle on a bounded worker pool, normalized, scored and prioritized into a
// ProjectReport.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/steveyegge/bughunter/internal/ai"
	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/events"
	"github.com/steveyegge/bughunter/internal/normalize"
	"github.com/steveyegge/bughunter/internal/types"
	"golang.org/x/sync/errgroup"
)

// AnalysisResult is the merged output of one orchestrator run.
type AnalysisResult struct {
	Vulnerabilities []*types.Vulnerability
	Failures        []types.FileFailure
	Dropped         []*normalize.ValidationError
	Processed       int
	Failed          int
	Duration        time.Duration
}

// Orchestrator fans files out to the oracle with bounded concurrency.
// A failure in one file never affects another.
type Orchestrator struct {
	oracle      ai.Oracle
	cfg         config.ScanConfig
	environment string
	sink        events.Sink
	log         zerolog.Logger

	// RunID is stamped on emitted events
	RunID string
	// OnProgress is called after every file, serialized and with monotonically
	// increasing Processed. It must not block.
	OnProgress func(events.Progress)
}

// NewOrchestrator creates an orchestrator. A nil sink discards events.
func NewOrchestrator(oracle ai.Oracle, cfg config.ScanConfig, environment string, sink events.Sink, log zerolog.Logger) *Orchestrator {
	if sink == nil {
		sink = events.Discard
	}
	return &Orchestrator{
		oracle:      oracle,
		cfg:         cfg,
		environment: environment,
		sink:        sink,
		log:         log.With().Str("component", "orchestrator").Logger(),
	}
}

// runState is the shared accumulator, guarded by mu.
type runState struct {
	mu     sync.Mutex
	total  int
	result *AnalysisResult
}

// Run analyzes every file. It always returns a result; cancellation of ctx stops
// scheduling and the unscheduled files are recorded as failures.
func (o *Orchestrator) Run(ctx context.Context, files []types.FileRecord) *AnalysisResult {
	start := time.Now()
	st := &runState{
		total:  len(files),
		result: &AnalysisResult{Vulnerabilities: []*types.Vulnerability{}},
	}

	limit := o.cfg.Concurrency
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			for _, rest := range files[i:] {
				o.fail(ctx, st, rest, types.FailureAnalysis, fmt.Errorf("not analyzed: %w", err))
			}
			break
		}
		g.Go(func() error {
			o.analyzeFile(ctx, st, f)
			return nil
		})
	}
	_ = g.Wait()

	res := st.result
	sort.Slice(res.Vulnerabilities, func(i, j int) bool {
		return res.Vulnerabilities[i].ID < res.Vulnerabilities[j].ID
	})
	sort.Slice(res.Failures, func(i, j int) bool {
		return res.Failures[i].File < res.Failures[j].File
	})
	sort.SliceStable(res.Dropped, func(i, j int) bool {
		if res.Dropped[i].File != res.Dropped[j].File {
			return res.Dropped[i].File < res.Dropped[j].File
		}
		return res.Dropped[i].Index < res.Dropped[j].Index
	})
	res.Duration = time.Since(start)

	o.log.Debug().
		Int("files", st.total).
		Int("failed", res.Failed).
		Int("vulnerabilities", len(res.Vulnerabilities)).
		Dur("duration", res.Duration).
		Msg("analysis complete")
	return res
}

func (o *Orchestrator) analyzeFile(ctx context.Context, st *runState, f types.FileRecord) {
	if err := ctx.Err(); err != nil {
		o.fail(ctx, st, f, types.FailureAnalysis, fmt.Errorf("not analyzed: %w", err))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	raw, err := o.oracle.Analyze(callCtx, f.Content, types.ContextFor(f, o.environment))
	if err != nil {
		kind := types.FailureAnalysis
		switch {
		case errors.Is(err, ai.ErrBudgetExceeded):
			kind = types.FailureBudget
		case errors.Is(err, context.DeadlineExceeded) || (callCtx.Err() != nil && ctx.Err() == nil):
			kind = types.FailureTimeout
			err = fmt.Errorf("no reply within %v: %w", o.cfg.Timeout, err)
		}
		o.fail(ctx, st, f, kind, err)
		return
	}

	out := normalize.Normalize(raw, f)
	if out.Err != nil {
		o.fail(ctx, st, f, types.FailureProtocol, out.Err)
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.result.Vulnerabilities = append(st.result.Vulnerabilities, out.Vulnerabilities...)
	st.result.Dropped = append(st.result.Dropped, out.Dropped...)
	st.result.Processed++
	p := st.progress(f.RelativePath)

	for _, d := range out.Dropped {
		o.log.Warn().Str("file", d.File).Int("index", d.Index).Str("field", d.Field).Msg(d.Reason)
		o.sink.Emit(ctx, events.NewEntryDroppedEvent(o.RunID, d.File, d.Index, d.Error()))
	}
	o.sink.Emit(ctx, events.NewFileAnalyzedEvent(o.RunID, f.RelativePath, len(out.Vulnerabilities), len(out.Dropped), p))
	if o.OnProgress != nil {
		o.OnProgress(p)
	}
}

func (o *Orchestrator) fail(ctx context.Context, st *runState, f types.FileRecord, kind types.FailureKind, err error) {
	fe := &FileError{File: f.RelativePath, Kind: kind, Err: err}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.result.Failures = append(st.result.Failures, fe.Failure())
	st.result.Processed++
	st.result.Failed++
	p := st.progress(f.RelativePath)

	o.log.Warn().Str("file", f.RelativePath).Str("kind", string(kind)).Err(err).Msg("file analysis failed")
	o.sink.Emit(ctx, events.NewFileFailedEvent(o.RunID, f.RelativePath, string(kind), fe, p))
	if o.OnProgress != nil {
		o.OnProgress(p)
	}
}

// progress must be called with mu held.
func (st *runState) progress(current string) events.Progress {
	return events.Progress{
		Total:     st.total,
		Processed: st.result.Processed,
		Failed:    st.result.Failed,
		Remaining: st.total - st.result.Processed,
		Current:   current,
	}
}
