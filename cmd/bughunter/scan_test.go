package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/steveyegge/bughunter/internal/ai"
	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/cost"
	"github.com/steveyegge/bughunter/internal/events"
	"github.com/steveyegge/bughunter/internal/report"
	"github.com/steveyegge/bughunter/internal/scan"
	"github.com/steveyegge/bughunter/internal/storage"
	"github.com/steveyegge/bughunter/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vulnerableJS = "const q = 'SELECT * FROM users WHERE id=' + req.query.id;\nexec('ls ' + req.query.dir);\n"

func TestRunScan_RiskyProjectExitsWithRisk(t *testing.T) {
	isolateEnv(t)
	root := writeProject(t, map[string]string{
		"app.js":      vulnerableJS,
		"lib/ok.go":   "package lib\n",
		"README.md":   "# docs",
		"dist/out.js": "minified",
	})
	oracle := newStubOracle()
	oracle.replies["app.js"] = riskyReply
	useOracle(t, oracle)

	var stdout, stderr bytes.Buffer
	code, err := runScan(context.Background(), root, scanOptions{}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, scan.ExitRisk, code)

	out := stdout.String()
	assert.Contains(t, out, "Security Scan Report")
	assert.Contains(t, out, "Project risk: HIGH")
	assert.Contains(t, out, "sql injection")
	assert.Contains(t, out, "command injection")

	// The run is recorded in the project's history
	store, err := storage.Open(context.Background(), filepath.Join(root, ".bughunter", "history.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	runs, err := store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Vulnerabilities)
}

func TestRunScan_CleanProjectExitsOK(t *testing.T) {
	isolateEnv(t)
	root := writeProject(t, map[string]string{"app.py": "print('hello')\n"})
	oracle := newStubOracle()
	oracle.replies["app.py"] = lowReply
	useOracle(t, oracle)

	var stdout, stderr bytes.Buffer
	code, err := runScan(context.Background(), root, scanOptions{NoHistory: true}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, scan.ExitOK, code)
	assert.Contains(t, stdout.String(), "Project risk: LOW")
	assert.NoFileExists(t, filepath.Join(root, ".bughunter", "history.db"))
}

func TestRunScan_JSONOutput(t *testing.T) {
	isolateEnv(t)
	root := writeProject(t, map[string]string{"app.js": vulnerableJS})
	oracle := newStubOracle()
	oracle.replies["app.js"] = riskyReply
	useOracle(t, oracle)

	var stdout, stderr bytes.Buffer
	code, err := runScan(context.Background(), root, scanOptions{JSON: true, NoHistory: true}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, scan.ExitRisk, code)

	var rep types.ProjectReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &rep), "stdout holds only the JSON report")
	require.Len(t, rep.Vulnerabilities, 2)
	assert.Equal(t, types.SeverityHigh, rep.ProjectRisk.Level)
	assert.Equal(t, 1, rep.Vulnerabilities[0].PriorityRank)
}

func TestRunScan_WritesReportFiles(t *testing.T) {
	isolateEnv(t)
	root := writeProject(t, map[string]string{"app.js": vulnerableJS})
	useOracle(t, newStubOracle())

	outPath := filepath.Join(t.TempDir(), "reports", "scan.json")
	var stdout, stderr bytes.Buffer
	code, err := runScan(context.Background(), root, scanOptions{Output: outPath, Save: true, NoHistory: true}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, scan.ExitOK, code)

	rep, err := report.Load(outPath)
	require.NoError(t, err)
	assert.Empty(t, rep.Vulnerabilities)
	assert.Equal(t, 1, rep.ScanStats.FilesScanned)

	reportDir := config.ResolvePath(root, config.DefaultConfig().Report.OutputDir)
	saved, err := filepath.Glob(filepath.Join(reportDir, "bughunter-report-*.json"))
	require.NoError(t, err)
	assert.Len(t, saved, 1)
	assert.Contains(t, stderr.String(), "Report saved to")
}

func TestRunScan_FixWithAutoApprove(t *testing.T) {
	isolateEnv(t)
	root := writeProject(t, map[string]string{"app.js": vulnerableJS})
	oracle := newStubOracle()
	oracle.replies["app.js"] = riskyReply
	useOracle(t, oracle)

	var stdout, stderr bytes.Buffer
	code, err := runScan(context.Background(), root, scanOptions{Fix: true, Yes: true}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, scan.ExitOK, code, "both findings fixed, residual risk is LOW")
	assert.Equal(t, 2, oracle.fixCalls)

	data, err := os.ReadFile(filepath.Join(root, "app.js"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "// fixed")
	assert.Contains(t, stdout.String(), "2 applied")
	assert.Contains(t, stdout.String(), "Residual risk: LOW")

	backups, err := os.ReadDir(filepath.Join(root, ".bughunter", "backups"))
	require.NoError(t, err)
	assert.NotEmpty(t, backups)
	assert.NoFileExists(t, storage.FixLockPath(root), "lock released")

	store, err := storage.Open(context.Background(), filepath.Join(root, ".bughunter", "history.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	runs, err := store.ListRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].FixesApplied)

	evs, err := store.GetEvents(context.Background(), storage.EventFilter{RunID: runs[0].ID, Type: events.EventTypeFileModified})
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestRunScan_FixRefusedWhileLocked(t *testing.T) {
	isolateEnv(t)
	root := writeProject(t, map[string]string{"app.js": vulnerableJS})
	oracle := newStubOracle()
	oracle.replies["app.js"] = riskyReply
	useOracle(t, oracle)

	_, err := storage.AcquireFixLock(root, "other-run")
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	code, err := runScan(context.Background(), root, scanOptions{Fix: true, Yes: true, NoHistory: true}, &stdout, &stderr)
	require.ErrorIs(t, err, storage.ErrFixInProgress)
	assert.Equal(t, scan.ExitFatal, code)
	assert.Equal(t, 0, oracle.fixCalls)
}

func TestRunScan_FatalErrors(t *testing.T) {
	isolateEnv(t)

	t.Run("missing root", func(t *testing.T) {
		useOracle(t, newStubOracle())
		var stdout, stderr bytes.Buffer
		code, err := runScan(context.Background(), filepath.Join(t.TempDir(), "nope"), scanOptions{}, &stdout, &stderr)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not exist")
		assert.Equal(t, scan.ExitFatal, code)
	})

	t.Run("oracle unreachable", func(t *testing.T) {
		useConnectError(t, errors.New("401 unauthorized"))
		root := writeProject(t, map[string]string{"app.js": "x"})
		var stdout, stderr bytes.Buffer
		code, err := runScan(context.Background(), root, scanOptions{}, &stdout, &stderr)
		require.Error(t, err)
		assert.True(t, ai.IsConnectivityError(err))
		assert.Equal(t, scan.ExitFatal, code)
	})

	t.Run("invalid configuration", func(t *testing.T) {
		useOracle(t, newStubOracle())
		root := writeProject(t, map[string]string{
			"app.js":                 "x",
			".bughunter/config.yaml": "oracle:\n  provider: nonsense\n",
		})
		var stdout, stderr bytes.Buffer
		code, err := runScan(context.Background(), root, scanOptions{}, &stdout, &stderr)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Equal(t, scan.ExitFatal, code)
	})

	t.Run("fix disabled", func(t *testing.T) {
		useOracle(t, newStubOracle())
		root := writeProject(t, map[string]string{
			"app.js":                 "x",
			".bughunter/config.yaml": "autofix:\n  enabled: false\n",
		})
		var stdout, stderr bytes.Buffer
		code, err := runScan(context.Background(), root, scanOptions{Fix: true}, &stdout, &stderr)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disabled")
		assert.Equal(t, scan.ExitFatal, code)
	})

	t.Run("json fix needs yes", func(t *testing.T) {
		useOracle(t, newStubOracle())
		root := writeProject(t, map[string]string{"app.js": "x"})
		var stdout, stderr bytes.Buffer
		code, err := runScan(context.Background(), root, scanOptions{Fix: true, JSON: true}, &stdout, &stderr)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--yes")
		assert.Equal(t, scan.ExitFatal, code)
	})
}

func TestScanOptions_Apply(t *testing.T) {
	cfg := config.DefaultConfig()
	scanOptions{}.apply(cfg)
	assert.Equal(t, config.DefaultConfig(), cfg, "zero options change nothing")

	scanOptions{
		Concurrency: 7,
		Timeout:     45 * time.Second,
		MaxSizeKB:   64,
		Environment: "staging",
		OnlySafe:    true,
		Yes:         true,
	}.apply(cfg)
	assert.Equal(t, 7, cfg.Scan.Concurrency)
	assert.Equal(t, 45*time.Second, cfg.Scan.Timeout)
	assert.Equal(t, 64, cfg.Scan.MaxFileSizeKB)
	assert.Equal(t, "staging", cfg.Oracle.Environment)
	assert.True(t, cfg.AutoFix.OnlySafe)
	assert.False(t, cfg.AutoFix.RequireConfirmation)
}

func TestNewConfirmer_AutoApprove(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AutoFix.RequireConfirmation = false
	c, closeFn, err := newConfirmer(cfg)
	require.NoError(t, err)
	defer closeFn()
	ok, err := c.Confirm(context.Background(), "Apply?")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProjectRootFor(t *testing.T) {
	isolateEnv(t)
	root := writeProject(t, map[string]string{
		".bughunter/config.yaml": "",
		"src/deep/file.go":       "package deep\n",
	})
	plain := writeProject(t, map[string]string{"main.go": "package main\n"})

	got, err := projectRootFor(filepath.Join(root, "src", "deep"))
	require.NoError(t, err)
	assert.Equal(t, root, got)

	got, err = projectRootFor(filepath.Join(root, "src", "deep", "file.go"))
	require.NoError(t, err)
	assert.Equal(t, root, got, "a file resolves through its directory")

	got, err = projectRootFor(filepath.Join(plain, "main.go"))
	require.NoError(t, err)
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(plain), config.DirName)); statErr != nil {
		assert.Equal(t, plain, got, "without a state directory the target directory is the root")
	}

	_, err = projectRootFor(filepath.Join(plain, "missing"))
	require.Error(t, err)
}

func TestProgressLine(t *testing.T) {
	assert.Equal(t, "[3/10] src/a.go", progressLine(events.Progress{Total: 10, Processed: 3, Current: "src/a.go"}))
	assert.Equal(t, "[4/10] b.py (1 failed)", progressLine(events.Progress{Total: 10, Processed: 4, Failed: 1, Current: "b.py"}))
}

func TestProgressReporter_DisabledIsSilent(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressReporter(&buf, false)
	p.Update(events.Progress{Total: 1, Processed: 1})
	p.Stop()
	assert.Empty(t, buf.String())
}

type budgetedOracle struct {
	*stubOracle
	budget ai.Budget
}

func (b *budgetedOracle) SetBudget(budget ai.Budget) { b.budget = budget }

func TestAttachBudget(t *testing.T) {
	tracker := cost.NewTracker(config.DefaultConfig().Budget, zerolog.Nop())

	aware := &budgetedOracle{stubOracle: newStubOracle()}
	attachBudget(aware, tracker)
	assert.Same(t, tracker, aware.budget)

	// Oracles without budget support are left alone
	attachBudget(newStubOracle(), tracker)
}
