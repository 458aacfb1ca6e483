// Package git reads working tree state through the git CLI.
package git

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path"
	"sort"
	"strings"
)

// Git runs the git executable.
type Git struct {
	// gitPath is the path to the git executable
	gitPath string
}

// Status is the uncommitted state of a working tree. Paths are slash
// separated and relative to the directory the status was taken for.
type Status struct {
	// Modified files (staged or unstaged)
	Modified []string

	// Untracked files
	Untracked []string

	// Deleted files
	Deleted []string

	// Added files (staged)
	Added []string

	// Renamed files, by their new name
	Renamed []string

	// HasChanges is true if any changes exist
	HasChanges bool
}

// Changed reports whether rel has uncommitted content (deleted files excluded).
func (s *Status) Changed(rel string) bool {
	for _, list := range [][]string{s.Modified, s.Untracked, s.Added, s.Renamed} {
		for _, p := range list {
			if p == rel {
				return true
			}
		}
	}
	return false
}

// NewGit creates a new Git instance.
// It verifies that git is available on the system.
func NewGit(ctx context.Context) (*Git, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}

	// Verify git works
	cmd := exec.CommandContext(ctx, gitPath, "version")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}

	return &Git{gitPath: gitPath}, nil
}

// IsRepo reports whether dir is inside a git working tree.
func (g *Git) IsRepo(ctx context.Context, dir string) bool {
	out, err := exec.CommandContext(ctx, g.gitPath, "-C", dir, "rev-parse", "--is-inside-work-tree").Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// GetStatus returns the uncommitted changes under dir.
// SECURITY: dir must be a validated, trusted path. This function
// does not perform path validation or sandboxing.
func (g *Git) GetStatus(ctx context.Context, dir string) (*Status, error) {
	prefixOut, err := exec.CommandContext(ctx, g.gitPath, "-C", dir, "rev-parse", "--show-prefix").Output()
	if err != nil {
		return nil, fmt.Errorf("git rev-parse failed in %s: %w", dir, err)
	}
	prefix := strings.TrimSpace(string(prefixOut))

	// Use git status --porcelain for machine-readable output
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", dir, "status", "--porcelain", "--untracked-files=all", "--", ".")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git status failed in %s: %w", dir, err)
	}
	return parsePorcelain(string(output), prefix)
}

// parsePorcelain parses `git status --porcelain` output. Paths are reported
// relative to the repository top level; prefix (from rev-parse --show-prefix)
// is stripped and entries outside it are dropped.
func parsePorcelain(output, prefix string) (*Status, error) {
	status := &Status{
		Modified:  []string{},
		Untracked: []string{},
		Deleted:   []string{},
		Added:     []string{},
		Renamed:   []string{},
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 4 {
			continue
		}

		statusCode := line[0:2]
		filePath := line[3:]
		if i := strings.Index(filePath, " -> "); i >= 0 {
			filePath = filePath[i+len(" -> "):]
		}
		filePath = strings.Trim(filePath, `"`)
		if !strings.HasPrefix(filePath, prefix) {
			continue
		}
		filePath = path.Clean(strings.TrimPrefix(filePath, prefix))

		// Parse status codes: XY where X=index, Y=working tree
		// Reference: https://git-scm.com/docs/git-status#_short_format
		switch {
		case statusCode == "??":
			status.Untracked = append(status.Untracked, filePath)
		case statusCode[0] == 'A':
			status.Added = append(status.Added, filePath)
		case statusCode[0] == 'R':
			status.Renamed = append(status.Renamed, filePath)
		case statusCode[0] == 'D' || statusCode[1] == 'D':
			status.Deleted = append(status.Deleted, filePath)
		default:
			// Modified in index or tree, plus copied and unmerged entries
			status.Modified = append(status.Modified, filePath)
		}

		status.HasChanges = true
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse git status: %w", err)
	}

	return status, nil
}

// DirtyFiles returns the sorted subset of files (relative to dir) that have
// uncommitted changes.
func (g *Git) DirtyFiles(ctx context.Context, dir string, files []string) ([]string, error) {
	status, err := g.GetStatus(ctx, dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(files))
	var dirty []string
	for _, f := range files {
		if seen[f] {
			continue
		}
		seen[f] = true
		if status.Changed(f) {
			dirty = append(dirty, f)
		}
	}
	sort.Strings(dirty)
	return dirty, nil
}
