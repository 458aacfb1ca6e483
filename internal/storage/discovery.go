package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/steveyegge/bughunter/internal/config"
)

// ErrNoProject is returned when no enclosing directory holds a state directory.
var ErrNoProject = errors.New("no " + config.DirName + " directory found")

// stateGitignore keeps history and backups out of version control while the
// config file stays shareable.
const stateGitignore = `# bughunter state: history, backups and locks stay local
*
!.gitignore
!config.yaml
`

// FindProjectRoot walks up from startDir to the nearest directory containing
// .bughunter/. It lets history commands run from any subdirectory.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, config.DirName)); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w in %s or parent directories\n"+
				"  Run 'bughunter init' to initialize this project", ErrNoProject, startDir)
		}
		dir = parent
	}
}

// InitProject creates the state directory with its .gitignore.
// Existing files are left alone.
func InitProject(projectDir string) (string, error) {
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("project directory does not exist: %s", projectDir)
	}

	stateDir := filepath.Join(projectDir, config.DirName)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", config.DirName, err)
	}

	ignorePath := filepath.Join(stateDir, ".gitignore")
	if _, err := os.Stat(ignorePath); os.IsNotExist(err) {
		if err := os.WriteFile(ignorePath, []byte(stateGitignore), 0644); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", ignorePath, err)
		}
	}

	return stateDir, nil
}
