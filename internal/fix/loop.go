// Package fix runs the interactive remediation loop over prioritized findings.
//
// The loop is strictly sequential. Each finding walks the state machine in
// state.go; the target file is re-read from disk right before a fix is
// generated so a later fix always builds on an earlier one. Nothing is written
// without a second confirmation.
package fix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog"
	"github.com/steveyegge/bughunter/internal/events"
	"github.com/steveyegge/bughunter/internal/types"
)

// Confirmer asks the user a yes/no question. Returning ErrAborted (or any other
// error) ends the loop.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// FixGenerator produces a full replacement for a file (subset of ai.Oracle).
type FixGenerator interface {
	GenerateFix(ctx context.Context, vuln *types.Vulnerability, code string) (string, error)
}

// Options configures one loop run
type Options struct {
	Root         string // absolute project root; targets outside it fail
	OnlySafe     bool
	CreateBackup bool
	RunID        string
}

// Summary is the result of a loop run.
type Summary struct {
	Outcomes []types.FixOutcome
	Applied  int
	Skipped  int
	Failed   int
	Aborted  bool
}

// Loop is the fix reconciliation loop.
type Loop struct {
	gen     FixGenerator
	confirm Confirmer
	fs      FileSystem
	opts    Options
	sink    events.Sink
	log     zerolog.Logger

	// Out receives the human-readable finding details and diffs.
	Out io.Writer
}

// NewLoop creates a loop. A nil sink discards events; Out defaults to io.Discard.
func NewLoop(gen FixGenerator, confirm Confirmer, fs FileSystem, opts Options, sink events.Sink, log zerolog.Logger) *Loop {
	if sink == nil {
		sink = events.Discard
	}
	return &Loop{
		gen:     gen,
		confirm: confirm,
		fs:      fs,
		opts:    opts,
		sink:    sink,
		log:     log.With().Str("component", "fix").Logger(),
		Out:     io.Discard,
	}
}

// Run walks vulns in the given order, which must be priority order. The
// returned error is non-nil only when the loop stopped early: ErrAborted, a
// confirmer failure or context cancellation. The summary is always complete.
func (l *Loop) Run(ctx context.Context, vulns []*types.Vulnerability) (*Summary, error) {
	sum := &Summary{Outcomes: make([]types.FixOutcome, 0, len(vulns))}

	var stopErr error
	for _, v := range vulns {
		t := newTracker(v, l.transitionHook(ctx, v))

		if stopErr == nil {
			if err := ctx.Err(); err != nil {
				stopErr = err
			}
		}
		if stopErr != nil {
			l.must(t.move(types.FixSkipped, "aborted"))
			sum.add(t.outcome())
			continue
		}

		if err := l.process(ctx, t); err != nil {
			stopErr = err
			sum.Aborted = true
			if !t.state.IsTerminal() {
				l.must(t.move(types.FixSkipped, "aborted"))
			}
		}
		sum.add(t.outcome())
	}

	if stopErr != nil {
		sum.Aborted = true
	}
	l.log.Info().
		Int("applied", sum.Applied).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Bool("aborted", sum.Aborted).
		Msg("fix loop finished")
	return sum, stopErr
}

// process drives one finding to a terminal state. Only loop-stopping errors
// are returned; per-finding failures end in FAILED or SKIPPED.
func (l *Loop) process(ctx context.Context, t *tracker) error {
	v := t.vuln

	if l.opts.OnlySafe && !v.AutoFixSafe {
		l.must(t.move(types.FixSkipped, "not marked safe for automatic fixing"))
		return nil
	}

	path, err := l.resolve(v.File)
	if err != nil {
		l.must(t.move(types.FixFailed, err.Error()))
		return nil
	}

	l.describe(v)
	ok, err := l.confirm.Confirm(ctx, fmt.Sprintf("Generate a fix for %s?", v.ID))
	if err != nil {
		return err
	}
	if !ok {
		l.must(t.move(types.FixSkipped, "declined"))
		return nil
	}
	l.must(t.move(types.FixRequested, ""))

	current, err := l.fs.ReadFile(path)
	if err != nil {
		l.must(t.move(types.FixFailed, (&FilesystemError{Op: "read", Path: v.File, Err: err}).Error()))
		return nil
	}

	proposed, err := l.gen.GenerateFix(ctx, v, string(current))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.must(t.move(types.FixFailed, (&GenerationError{VulnerabilityID: v.ID, Err: err}).Error()))
		return nil
	}
	proposed = preserveTrailingNewline(string(current), matchLineEndings(string(current), proposed))

	switch {
	case strings.TrimSpace(proposed) == "":
		l.log.Warn().Str("vulnerability", v.ID).Msg("oracle proposed an empty file")
		l.must(t.move(types.FixSkipped, "empty proposal"))
		return nil
	case proposed == string(current):
		l.log.Warn().Str("vulnerability", v.ID).Msg("oracle proposed no change")
		l.must(t.move(types.FixSkipped, "no change proposed"))
		return nil
	}
	l.must(t.move(types.FixGenerated, ""))

	fmt.Fprintln(l.Out, Diff(v.File, string(current), proposed))
	ok, err = l.confirm.Confirm(ctx, fmt.Sprintf("Apply this change to %s?", v.File))
	if err != nil {
		return err
	}
	if !ok {
		l.must(t.move(types.FixSkipped, "declined"))
		return nil
	}

	if l.opts.CreateBackup {
		backup, err := l.fs.Backup(path, v.File)
		if err != nil {
			l.must(t.move(types.FixFailed, (&FilesystemError{Op: "backup", Path: v.File, Err: err}).Error()))
			return nil
		}
		t.backup = backup
	}

	if err := l.fs.WriteFile(path, []byte(proposed)); err != nil {
		l.must(t.move(types.FixFailed, (&FilesystemError{Op: "write", Path: v.File, Err: err}).Error()))
		return nil
	}
	l.must(t.move(types.FixApplied, ""))
	l.sink.Emit(ctx, events.NewFileModifiedEvent(l.opts.RunID, v.ID, v.File, t.backup))
	return nil
}

// resolve maps a report-relative path to an absolute path inside the root.
func (l *Loop) resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", &FilesystemError{Op: "resolve", Path: rel, Err: errors.New("not a relative path")}
	}
	path := filepath.Join(l.opts.Root, filepath.FromSlash(rel))
	back, err := filepath.Rel(l.opts.Root, path)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", &FilesystemError{Op: "resolve", Path: rel, Err: errors.New("outside the project root")}
	}
	return path, nil
}

func (l *Loop) describe(v *types.Vulnerability) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(l.Out, "\n#%d %s [%s] %s\n", v.PriorityRank, bold(v.Title), v.Severity, v.Location())
	fmt.Fprintf(l.Out, "   %s\n", v.Description)
	if v.Recommendation != "" {
		fmt.Fprintf(l.Out, "   Recommendation: %s\n", v.Recommendation)
	}
}

func (l *Loop) transitionHook(ctx context.Context, v *types.Vulnerability) func(from, to types.FixState, reason string) {
	return func(from, to types.FixState, reason string) {
		l.log.Debug().Str("vulnerability", v.ID).Str("from", string(from)).Str("to", string(to)).Str("reason", reason).Msg("fix transition")
		l.sink.Emit(ctx, events.NewFixTransitionEvent(l.opts.RunID, v.ID, v.File, string(from), string(to), reason))
	}
}

// must panics on an illegal transition; every call site moves along a
// listed edge, so a panic here is a programming error.
func (l *Loop) must(err error) {
	if err != nil {
		panic(err)
	}
}

func (s *Summary) add(o types.FixOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.State {
	case types.FixApplied:
		s.Applied++
	case types.FixSkipped:
		s.Skipped++
	case types.FixFailed:
		s.Failed++
	}
}

// preserveTrailingNewline re-adds the current file's final newline when the
// proposal drops it.
func preserveTrailingNewline(current, proposed string) string {
	if proposed == "" {
		return proposed
	}
	for _, nl := range []string{"\r\n", "\n"} {
		if strings.HasSuffix(current, nl) {
			if !strings.HasSuffix(proposed, "\n") {
				return proposed + nl
			}
			return proposed
		}
	}
	return proposed
}

// matchLineEndings rewrites the proposal's line endings to the current file's
// convention: CRLF when the current file has any CRLF line, LF otherwise.
func matchLineEndings(current, proposed string) string {
	lf := strings.ReplaceAll(proposed, "\r\n", "\n")
	if strings.Contains(current, "\r\n") {
		return strings.ReplaceAll(lf, "\n", "\r\n")
	}
	return lf
}

// Diff renders a unified diff of a proposed change.
func Diff(file, before, after string) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + file,
		ToFile:   "b/" + file,
		Context:  3,
	})
	if err != nil {
		return fmt.Sprintf("(diff unavailable: %v)", err)
	}
	return text
}
