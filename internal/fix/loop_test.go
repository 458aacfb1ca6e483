package fix

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/steveyegge/bughunter/internal/events"
	"github.com/steveyegge/bughunter/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedConfirmer answers prompts from a queue; an empty queue answers yes.
type scriptedConfirmer struct {
	mu      sync.Mutex
	answers []bool
	err     error
	prompts []string
}

func (c *scriptedConfirmer) Confirm(_ context.Context, prompt string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	if c.err != nil {
		return false, c.err
	}
	if len(c.answers) == 0 {
		return true, nil
	}
	a := c.answers[0]
	c.answers = c.answers[1:]
	return a, nil
}

// fakeGenerator applies fn to the code it is given.
type fakeGenerator struct {
	fn    func(v *types.Vulnerability, code string) (string, error)
	codes []string
}

func (g *fakeGenerator) GenerateFix(_ context.Context, v *types.Vulnerability, code string) (string, error) {
	g.codes = append(g.codes, code)
	return g.fn(v, code)
}

func replaceGen(old, new string) *fakeGenerator {
	return &fakeGenerator{fn: func(_ *types.Vulnerability, code string) (string, error) {
		return strings.Replace(code, old, new, 1), nil
	}}
}

type failingWriteFS struct {
	*OSFileSystem
}

func (failingWriteFS) WriteFile(string, []byte) error { return errors.New("disk full") }

type fixture struct {
	root    string
	backups string
	rec     *events.Recorder
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return &fixture{root: root, backups: filepath.Join(root, ".bughunter", "backups"), rec: &events.Recorder{}}
}

func (f *fixture) loop(gen FixGenerator, c Confirmer, opts Options) *Loop {
	opts.Root = f.root
	return NewLoop(gen, c, NewOSFileSystem(f.backups), opts, f.rec, zerolog.Nop())
}

func (f *fixture) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.root, rel))
	require.NoError(t, err)
	return string(data)
}

func vuln(id, file string) *types.Vulnerability {
	return &types.Vulnerability{ID: file + "#" + id, File: file, Line: 1, Title: "t", Severity: types.SeverityHigh, AutoFixSafe: true}
}

func states(sum *Summary) []types.FixState {
	out := make([]types.FixState, len(sum.Outcomes))
	for i, o := range sum.Outcomes {
		out[i] = o.State
	}
	return out
}

func TestLoop_AppliesFixWithBackup(t *testing.T) {
	f := newFixture(t, map[string]string{"app.js": "query(a + b)\nok()\n"})
	gen := &fakeGenerator{fn: func(*types.Vulnerability, string) (string, error) {
		return "query(a, [b])\nok()", nil
	}}

	sum, err := f.loop(gen, &scriptedConfirmer{}, Options{CreateBackup: true, RunID: "r1"}).
		Run(context.Background(), []*types.Vulnerability{vuln("V1", "app.js")})
	require.NoError(t, err)

	require.Len(t, sum.Outcomes, 1)
	out := sum.Outcomes[0]
	assert.Equal(t, types.FixApplied, out.State)
	assert.Equal(t, 1, sum.Applied)
	assert.Equal(t, "query(a, [b])\nok()\n", f.read(t, "app.js"), "trailing newline restored")

	require.NotEmpty(t, out.BackupPath)
	assert.True(t, strings.HasPrefix(out.BackupPath, filepath.Join(f.backups, "app.js.")))
	assert.True(t, strings.HasSuffix(out.BackupPath, ".bak"))
	backup, err := os.ReadFile(out.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, "query(a + b)\nok()\n", string(backup))

	var moves []string
	for _, e := range f.rec.OfType(events.EventTypeFixTransition) {
		moves = append(moves, e.Data["to"].(string))
		assert.Equal(t, "r1", e.RunID)
	}
	assert.Equal(t, []string{"FIX_REQUESTED", "FIX_GENERATED", "APPLIED"}, moves)
	assert.Len(t, f.rec.OfType(events.EventTypeFileModified), 1)
}

func TestLoop_SecondFixBuildsOnFirst(t *testing.T) {
	f := newFixture(t, map[string]string{"app.js": "one\ntwo\n"})
	gen := &fakeGenerator{fn: func(v *types.Vulnerability, code string) (string, error) {
		if v.ID == "app.js#A" {
			return strings.Replace(code, "one", "ONE", 1), nil
		}
		return strings.Replace(code, "two", "TWO", 1), nil
	}}

	sum, err := f.loop(gen, &scriptedConfirmer{}, Options{}).
		Run(context.Background(), []*types.Vulnerability{vuln("A", "app.js"), vuln("B", "app.js")})
	require.NoError(t, err)

	assert.Equal(t, []types.FixState{types.FixApplied, types.FixApplied}, states(sum))
	require.Len(t, gen.codes, 2)
	assert.Equal(t, "ONE\ntwo\n", gen.codes[1], "second generation sees the first fix")
	assert.Equal(t, "ONE\nTWO\n", f.read(t, "app.js"))
}

func TestLoop_IdenticalProposalIsSkipped(t *testing.T) {
	f := newFixture(t, map[string]string{"app.js": "same\n"})
	gen := &fakeGenerator{fn: func(_ *types.Vulnerability, code string) (string, error) {
		return strings.TrimSuffix(code, "\n"), nil
	}}

	sum, err := f.loop(gen, &scriptedConfirmer{}, Options{CreateBackup: true}).
		Run(context.Background(), []*types.Vulnerability{vuln("V", "app.js")})
	require.NoError(t, err)

	assert.Equal(t, types.FixSkipped, sum.Outcomes[0].State)
	assert.Equal(t, "no change proposed", sum.Outcomes[0].Reason)
	assert.Equal(t, "same\n", f.read(t, "app.js"))
	_, statErr := os.Stat(f.backups)
	assert.True(t, os.IsNotExist(statErr), "no backup without a write")
}

func TestLoop_EmptyProposalIsSkipped(t *testing.T) {
	f := newFixture(t, map[string]string{"app.js": "code\n"})
	gen := &fakeGenerator{fn: func(*types.Vulnerability, string) (string, error) { return "  \n", nil }}

	sum, err := f.loop(gen, &scriptedConfirmer{}, Options{}).
		Run(context.Background(), []*types.Vulnerability{vuln("V", "app.js")})
	require.NoError(t, err)
	assert.Equal(t, types.FixSkipped, sum.Outcomes[0].State)
	assert.Equal(t, "empty proposal", sum.Outcomes[0].Reason)
	assert.Equal(t, "code\n", f.read(t, "app.js"))
}

func TestLoop_Declines(t *testing.T) {
	f := newFixture(t, map[string]string{"app.js": "bad\n"})
	gen := replaceGen("bad", "good")

	// decline the request, then accept request but decline the write
	c := &scriptedConfirmer{answers: []bool{false, true, false}}
	sum, err := f.loop(gen, c, Options{}).
		Run(context.Background(), []*types.Vulnerability{vuln("A", "app.js"), vuln("B", "app.js")})
	require.NoError(t, err)

	assert.Equal(t, []types.FixState{types.FixSkipped, types.FixSkipped}, states(sum))
	assert.Equal(t, "declined", sum.Outcomes[0].Reason)
	assert.Len(t, gen.codes, 1, "no generation after the first decline")
	assert.Equal(t, "bad\n", f.read(t, "app.js"))
	assert.Len(t, c.prompts, 3)
}

func TestLoop_GenerationFailureContinues(t *testing.T) {
	f := newFixture(t, map[string]string{"a.js": "x\n", "b.js": "y\n"})
	gen := &fakeGenerator{fn: func(v *types.Vulnerability, code string) (string, error) {
		if v.File == "a.js" {
			return "", errors.New("rate limited")
		}
		return "Y\n", nil
	}}

	sum, err := f.loop(gen, &scriptedConfirmer{}, Options{}).
		Run(context.Background(), []*types.Vulnerability{vuln("V", "a.js"), vuln("V", "b.js")})
	require.NoError(t, err)

	assert.Equal(t, []types.FixState{types.FixFailed, types.FixApplied}, states(sum))
	assert.Contains(t, sum.Outcomes[0].Reason, "fix generation for a.js#V failed: rate limited")
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, "Y\n", f.read(t, "b.js"))
}

// stalledGenerator never answers; each call ends at its own deadline, the way
// an oracle attempt does.
type stalledGenerator struct {
	timeout time.Duration
	calls   int
}

func (g *stalledGenerator) GenerateFix(ctx context.Context, _ *types.Vulnerability, _ string) (string, error) {
	g.calls++
	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	<-attemptCtx.Done()
	return "", fmt.Errorf("fake API call failed: %w", attemptCtx.Err())
}

func TestLoop_GenerationTimeoutFailsAndContinues(t *testing.T) {
	f := newFixture(t, map[string]string{"a.js": "x\n", "b.js": "y\n"})
	gen := &stalledGenerator{timeout: 10 * time.Millisecond}

	sum, err := f.loop(gen, &scriptedConfirmer{}, Options{}).
		Run(context.Background(), []*types.Vulnerability{vuln("V", "a.js"), vuln("V", "b.js")})
	require.NoError(t, err)

	assert.Equal(t, []types.FixState{types.FixFailed, types.FixFailed}, states(sum))
	assert.Contains(t, sum.Outcomes[0].Reason, "deadline exceeded")
	assert.Equal(t, 2, gen.calls, "the loop moves on after a timed-out generation")
	assert.Equal(t, "x\n", f.read(t, "a.js"))
}

func TestLoop_ProposalTakesFileLineEndings(t *testing.T) {
	f := newFixture(t, map[string]string{"win.js": "a();\r\nb();\r\n", "unix.js": "a();\nb();\n"})
	gen := &fakeGenerator{fn: func(v *types.Vulnerability, code string) (string, error) {
		switch v.ID {
		case "win.js#SAME":
			return strings.ReplaceAll(code, "\r\n", "\n"), nil
		case "win.js#FIX":
			return "a();\nB();\n", nil
		default:
			return "a();\r\nB();\r\n", nil
		}
	}}

	sum, err := f.loop(gen, &scriptedConfirmer{}, Options{}).Run(context.Background(), []*types.Vulnerability{
		vuln("SAME", "win.js"),
		vuln("FIX", "win.js"),
		vuln("FIX", "unix.js"),
	})
	require.NoError(t, err)

	assert.Equal(t, []types.FixState{types.FixSkipped, types.FixApplied, types.FixApplied}, states(sum))
	assert.Equal(t, "no change proposed", sum.Outcomes[0].Reason)
	assert.Equal(t, "a();\r\nB();\r\n", f.read(t, "win.js"))
	assert.Equal(t, "a();\nB();\n", f.read(t, "unix.js"))
}

func TestLoop_WriteFailure(t *testing.T) {
	f := newFixture(t, map[string]string{"app.js": "bad\n"})
	fs := failingWriteFS{NewOSFileSystem(f.backups)}
	l := NewLoop(replaceGen("bad", "good"), &scriptedConfirmer{}, fs, Options{Root: f.root}, nil, zerolog.Nop())

	sum, err := l.Run(context.Background(), []*types.Vulnerability{vuln("V", "app.js")})
	require.NoError(t, err)
	assert.Equal(t, types.FixFailed, sum.Outcomes[0].State)
	assert.Contains(t, sum.Outcomes[0].Reason, "write app.js: disk full")
}

func TestLoop_MissingFileFails(t *testing.T) {
	f := newFixture(t, map[string]string{})
	sum, err := f.loop(replaceGen("a", "b"), &scriptedConfirmer{}, Options{}).
		Run(context.Background(), []*types.Vulnerability{vuln("V", "gone.js")})
	require.NoError(t, err)
	assert.Equal(t, types.FixFailed, sum.Outcomes[0].State)
	assert.Contains(t, sum.Outcomes[0].Reason, "read gone.js")
}

func TestLoop_OutsideRootFails(t *testing.T) {
	f := newFixture(t, map[string]string{})
	c := &scriptedConfirmer{}
	sum, err := f.loop(replaceGen("a", "b"), c, Options{}).Run(context.Background(), []*types.Vulnerability{
		vuln("V", "../escape.js"),
		vuln("W", "/etc/passwd"),
	})
	require.NoError(t, err)
	assert.Equal(t, []types.FixState{types.FixFailed, types.FixFailed}, states(sum))
	assert.Contains(t, sum.Outcomes[0].Reason, "outside the project root")
	assert.Empty(t, c.prompts)
}

func TestLoop_OnlySafe(t *testing.T) {
	f := newFixture(t, map[string]string{"app.js": "bad\n"})
	unsafe := vuln("U", "app.js")
	unsafe.AutoFixSafe = false

	c := &scriptedConfirmer{}
	sum, err := f.loop(replaceGen("bad", "good"), c, Options{OnlySafe: true}).
		Run(context.Background(), []*types.Vulnerability{unsafe, vuln("S", "app.js")})
	require.NoError(t, err)
	assert.Equal(t, []types.FixState{types.FixSkipped, types.FixApplied}, states(sum))
	assert.Equal(t, "not marked safe for automatic fixing", sum.Outcomes[0].Reason)
	assert.Len(t, c.prompts, 2, "only the safe finding is offered")
}

func TestLoop_Abort(t *testing.T) {
	f := newFixture(t, map[string]string{"app.js": "bad\n"})
	gen := replaceGen("bad", "good")
	c := &scriptedConfirmer{err: ErrAborted}

	sum, err := f.loop(gen, c, Options{}).
		Run(context.Background(), []*types.Vulnerability{vuln("A", "app.js"), vuln("B", "app.js")})
	assert.ErrorIs(t, err, ErrAborted)
	assert.True(t, sum.Aborted)
	assert.Equal(t, []types.FixState{types.FixSkipped, types.FixSkipped}, states(sum))
	for _, o := range sum.Outcomes {
		assert.Equal(t, "aborted", o.Reason)
	}
	assert.Len(t, c.prompts, 1)
	assert.Empty(t, gen.codes)
}

func TestLoop_CanceledContext(t *testing.T) {
	f := newFixture(t, map[string]string{"app.js": "bad\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := f.loop(replaceGen("bad", "good"), &scriptedConfirmer{}, Options{}).
		Run(ctx, []*types.Vulnerability{vuln("A", "app.js")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.FixSkipped, sum.Outcomes[0].State)
	assert.Equal(t, "bad\n", f.read(t, "app.js"))
}

func TestOSFileSystem_WritePreservesMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	dir := t.TempDir()
	p := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(p, []byte("old"), 0750))

	fs := NewOSFileSystem(filepath.Join(dir, "backups"))
	fs.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	backup, err := fs.Backup(p, "run.sh")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "backups", "run.sh.20240501-120000.000000.bak"), backup)

	require.NoError(t, fs.WriteFile(p, []byte("new")))
	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0750), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestCanTransition(t *testing.T) {
	legal := [][2]types.FixState{
		{types.FixPending, types.FixRequested},
		{types.FixPending, types.FixSkipped},
		{types.FixRequested, types.FixGenerated},
		{types.FixRequested, types.FixFailed},
		{types.FixGenerated, types.FixApplied},
		{types.FixGenerated, types.FixSkipped},
	}
	for _, tr := range legal {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s → %s", tr[0], tr[1])
	}

	illegal := [][2]types.FixState{
		{types.FixPending, types.FixApplied},
		{types.FixPending, types.FixGenerated},
		{types.FixRequested, types.FixApplied},
		{types.FixApplied, types.FixSkipped},
		{types.FixSkipped, types.FixRequested},
		{types.FixFailed, types.FixPending},
	}
	for _, tr := range illegal {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s → %s", tr[0], tr[1])
	}
}

func TestPreserveTrailingNewline(t *testing.T) {
	tests := []struct{ current, proposed, want string }{
		{"a\n", "b", "b\n"},
		{"a\n", "b\n", "b\n"},
		{"a", "b", "b"},
		{"a\r\n", "b", "b\r\n"},
		{"a\n", "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, preserveTrailingNewline(tt.current, tt.proposed), "%q/%q", tt.current, tt.proposed)
	}
}

func TestMatchLineEndings(t *testing.T) {
	tests := []struct{ current, proposed, want string }{
		{"a\r\nb\r\n", "a\nb\n", "a\r\nb\r\n"},
		{"a\r\nb\r\n", "a\r\nb\nc", "a\r\nb\r\nc"},
		{"a\nb\n", "a\r\nb\r\n", "a\nb\n"},
		{"a\nb\n", "a\nb", "a\nb"},
		{"", "x\r\n", "x\n"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchLineEndings(tt.current, tt.proposed), "%q/%q", tt.current, tt.proposed)
	}
}

func TestDiff(t *testing.T) {
	d := Diff("app.js", "a\nb\nc\n", "a\nB\nc\n")
	assert.Contains(t, d, "--- a/app.js")
	assert.Contains(t, d, "+++ b/app.js")
	assert.Contains(t, d, "-b\n")
	assert.Contains(t, d, "+B\n")
}
