package storage

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
	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/events"
	"github.com/steveyegge/bughunter/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for id, age := range map[string]time.Duration{"old": 40 * 24 * time.Hour, "recent": time.Hour} {
		require.NoError(t, s.SaveReport(ctx, &types.ProjectReport{
			RunID:       id,
			Timestamp:   now.Add(-age),
			ProjectRisk: types.ProjectRiskAssessment{Level: types.SeverityLow},
		}))
	}

	n, err := Prune(ctx, s, 0, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "zero retention keeps everything")

	n, err = Prune(ctx, s, 30, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetRun(ctx, "old")
	assert.True(t, errors.Is(err, ErrRunNotFound))
	_, err = s.GetRun(ctx, "recent")
	assert.NoError(t, err)
}

func TestEventSink_Stores(t *testing.T) {
	s := openTestStore(t)
	sink := NewEventSink(s, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Canceled runs still record their events
	sink.Emit(ctx, events.NewScanCompletedEvent("run-1", 0, 0, "LOW"))

	got, err := s.GetEvents(context.Background(), EventFilter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, events.EventTypeScanCompleted, got[0].Type)
}

func TestEventSink_ErrorsAreLogged(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Close())

	var buf bytes.Buffer
	sink := NewEventSink(s, zerolog.New(&buf))
	assert.NotPanics(t, func() {
		sink.Emit(context.Background(), events.NewScanStartedEvent("run-1", "/src", 1))
	})
	assert.Contains(t, buf.String(), "failed to store event")
}

func TestFixLock(t *testing.T) {
	root := t.TempDir()

	path, err := AcquireFixLock(root, "run-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, config.DirName, ".fix-lock"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var lock FixLock
	require.NoError(t, json.Unmarshal(data, &lock))
	assert.Equal(t, os.Getpid(), lock.PID)
	assert.Equal(t, "run-1", lock.RunID)

	// This process is alive, so a second claim fails
	_, err = AcquireFixLock(root, "run-2")
	assert.True(t, errors.Is(err, ErrFixInProgress))

	require.NoError(t, ReleaseFixLock(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, ReleaseFixLock(path), "releasing twice is harmless")
	assert.NoError(t, ReleaseFixLock(""))
}

func TestFixLock_StaleLockTakenOver(t *testing.T) {
	root := t.TempDir()
	hostname, err := os.Hostname()
	require.NoError(t, err)

	stale := FixLock{Holder: "bughunter", PID: 999999999, Hostname: hostname, StartedAt: time.Now().Add(-time.Hour)}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, config.DirName), 0755))
	require.NoError(t, os.WriteFile(FixLockPath(root), data, 0644))

	path, err := AcquireFixLock(root, "run-3")
	require.NoError(t, err)
	defer func() { _ = ReleaseFixLock(path) }()
}

func TestFixLock_RemoteHostAssumedAlive(t *testing.T) {
	assert.True(t, isProcessAlive(1, "some-other-host.invalid"))
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, config.DirName), 0755))
	deep := filepath.Join(root, "src", "pkg", "inner")
	require.NoError(t, os.MkdirAll(deep, 0755))

	got, err := FindProjectRoot(deep)
	require.NoError(t, err)
	want, err := filepath.Abs(root)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = FindProjectRoot(root)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFindProjectRoot_NotFound(t *testing.T) {
	// A state file (not directory) does not mark a project
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DirName), []byte("x"), 0644))

	_, err := FindProjectRoot(dir)
	if err == nil {
		t.Skip("an ancestor of the temp dir is itself a project")
	}
	assert.True(t, errors.Is(err, ErrNoProject))
}

func TestInitProject(t *testing.T) {
	root := t.TempDir()
	stateDir, err := InitProject(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, config.DirName), stateDir)

	ignore, err := os.ReadFile(filepath.Join(stateDir, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(ignore), "!config.yaml")

	// Existing .gitignore is kept
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, ".gitignore"), []byte("custom\n"), 0644))
	_, err = InitProject(root)
	require.NoError(t, err)
	ignore, err = os.ReadFile(filepath.Join(stateDir, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "custom\n", string(ignore))

	_, err = InitProject(filepath.Join(root, "missing"))
	assert.Error(t, err)
}
