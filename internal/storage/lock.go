package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/steveyegge/bughunter/internal/config"
)

// fixLockName is the lock file, relative to the project state directory.
const fixLockName = ".fix-lock"

// ErrFixInProgress is returned when another live process holds the fix lock.
var ErrFixInProgress = errors.New("another fix session is running")

// FixLock is the lock file format claiming exclusive write access to a project's
// source files. Only one fix session may modify a tree at a time; scans never
// take the lock.
type FixLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	RunID     string    `json:"run_id,omitempty"`
}

// FixLockPath returns the lock file location for a project root.
func FixLockPath(projectRoot string) string {
	return filepath.Join(projectRoot, config.DirName, fixLockName)
}

// AcquireFixLock creates the fix lock for projectRoot. A lock left behind by a
// process that no longer exists is taken over.
// Returns the lock file path for cleanup on shutdown.
func AcquireFixLock(projectRoot, runID string) (lockPath string, err error) {
	lockPath = FixLockPath(projectRoot)

	if data, err := os.ReadFile(lockPath); err == nil {
		var existing FixLock
		if json.Unmarshal(data, &existing) == nil && isProcessAlive(existing.PID, existing.Hostname) {
			return "", fmt.Errorf("%w (PID %d on %s, started %s)", ErrFixInProgress,
				existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
		}
		// Stale lock - will overwrite
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	lock := FixLock{
		Holder:    "bughunter",
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		RunID:     runID,
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", config.DirName, err)
	}
	if err := os.WriteFile(lockPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to create fix lock: %w", err)
	}

	return lockPath, nil
}

// ReleaseFixLock removes the lock file. Use defer.
func ReleaseFixLock(lockPath string) error {
	if lockPath == "" {
		return nil
	}

	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove fix lock: %w", err)
	}

	return nil
}

// isProcessAlive reports whether pid exists on hostname. Remote hosts and
// processes we cannot signal are assumed alive.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}

	if !strings.EqualFold(hostname, currentHost) {
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 checks existence without delivering anything
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}

	// EPERM: the process exists but belongs to someone else
	if errors.Is(err, syscall.EPERM) {
		return true
	}

	return false
}
