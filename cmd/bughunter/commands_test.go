package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/events"
	"github.com/steveyegge/bughunter/internal/scan"
	"github.com/steveyegge/bughunter/internal/storage"
	"github.com/steveyegge/bughunter/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDoctor_MissingKeyIsCritical(t *testing.T) {
	isolateEnv(t)
	root := t.TempDir()
	useOracle(t, newStubOracle())

	var out bytes.Buffer
	code := runDoctor(context.Background(), root, false, &out)
	assert.Equal(t, scan.ExitFatal, code)
	assert.Contains(t, out.String(), "ANTHROPIC_API_KEY not set")
	assert.Contains(t, out.String(), "Skipped (no API key)")
}

func TestRunDoctor_AllChecksPass(t *testing.T) {
	isolateEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-0123456789")
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("# credentials\n"), 0600))
	useOracle(t, newStubOracle())

	var out bytes.Buffer
	code := runDoctor(context.Background(), root, true, &out)
	assert.Equal(t, 0, code, out.String())
	assert.Contains(t, out.String(), "Connection successful")
	assert.Contains(t, out.String(), "All checks passed")
	assert.NotContains(t, out.String(), "sk-ant-test-0123456789", "key is redacted")
}

func TestRunDoctor_ConnectionFailure(t *testing.T) {
	isolateEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-0123456789")
	useConnectError(t, errors.New("model not found"))

	var out bytes.Buffer
	code := runDoctor(context.Background(), t.TempDir(), false, &out)
	assert.Equal(t, scan.ExitFatal, code)
	assert.Contains(t, out.String(), "Connection failed")
	assert.Contains(t, out.String(), "model not found")
}

func TestRunDoctor_InvalidConfig(t *testing.T) {
	isolateEnv(t)
	root := writeProject(t, map[string]string{".bughunter/config.yaml": "oracle:\n  provider: bogus\n"})

	var out bytes.Buffer
	code := runDoctor(context.Background(), root, false, &out)
	assert.Equal(t, scan.ExitFatal, code)
	assert.Contains(t, out.String(), "Invalid configuration")
}

func TestInitProject(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()

	var out bytes.Buffer
	require.NoError(t, initProject(dir, false, &out))
	assert.FileExists(t, config.FilePath(dir))
	assert.FileExists(t, filepath.Join(dir, config.DirName, ".gitignore"))
	assert.Contains(t, out.String(), "Initialized bughunter")

	// The written example is a valid configuration
	cfg, err := config.Load(dir)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	err = initProject(dir, false, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, initProject(dir, true, &out))
}

func TestShowConfig(t *testing.T) {
	isolateEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-secret-0123456789")
	root := writeProject(t, map[string]string{".bughunter/config.yaml": "scan:\n  concurrency: 3\n"})

	var out bytes.Buffer
	require.NoError(t, showConfig(root, &out))
	s := out.String()
	assert.Contains(t, s, "# project root: "+root)
	assert.Contains(t, s, "# config file: "+config.FilePath(root))
	assert.NotContains(t, s, "sk-ant-secret-0123456789")
	assert.NotContains(t, s, "# INVALID")
	assert.Contains(t, s, "concurrency: 3")
}

func TestShowConfig_FlagsInvalid(t *testing.T) {
	isolateEnv(t)
	root := writeProject(t, map[string]string{".bughunter/config.yaml": "oracle:\n  provider: bogus\n"})

	var out bytes.Buffer
	require.NoError(t, showConfig(root, &out))
	assert.Contains(t, out.String(), "# INVALID: unknown oracle provider")
}

func TestExplainWith(t *testing.T) {
	o := newStubOracle()
	o.explain = "Untrusted input reaches a query."

	var out bytes.Buffer
	require.NoError(t, explainWith(context.Background(), o, "SQL Injection", &out))
	assert.Contains(t, out.String(), "SQL Injection")
	assert.Contains(t, out.String(), "Untrusted input reaches a query.")

	o.explain = ""
	err := explainWith(context.Background(), o, "XSS", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `explaining "XSS"`)
}

func TestPrintEvents(t *testing.T) {
	var out bytes.Buffer
	printEvents(&out, nil)
	assert.Equal(t, "No events found\n", out.String())

	out.Reset()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	printEvents(&out, []*events.Event{
		{Type: events.EventTypeScanStarted, Timestamp: ts, Severity: events.SeverityInfo, Message: "scan started"},
		{Type: events.EventTypeFileFailed, Timestamp: ts, File: "a.py", Severity: events.SeverityError, Message: "oracle timeout"},
	})
	s := out.String()
	assert.Contains(t, s, "scan_started: scan started")
	assert.Contains(t, s, "file_failed a.py: oracle timeout")
}

func TestPrintRecurring(t *testing.T) {
	var out bytes.Buffer
	printRecurring(&out, nil, 3)
	assert.Equal(t, "No findings reported by 3 or more runs\n", out.String())

	out.Reset()
	printRecurring(&out, []storage.Recurrence{{File: "app.js", Category: "SQL Injection", Runs: 4}}, 2)
	assert.Contains(t, out.String(), "RUNS")
	assert.Contains(t, out.String(), "app.js")
	assert.Contains(t, out.String(), "SQL Injection")
}

func TestUncommittedFindingFiles_OutsideRepository(t *testing.T) {
	root := writeProject(t, map[string]string{"app.js": "x"})
	vulns := []*types.Vulnerability{{File: "app.js"}}
	assert.Empty(t, uncommittedFindingFiles(context.Background(), root, vulns, zerolog.Nop()))
}
