package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/steveyegge/bughunter/internal/ai"
	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/git"
	"github.com/steveyegge/bughunter/internal/logging"
	"github.com/steveyegge/bughunter/internal/storage"
	"github.com/steveyegge/bughunter/internal/types"
	"golang.org/x/term"
)

// connectOracle builds and verifies the oracle client. Tests replace it.
var connectOracle = func(ctx context.Context, cfg config.OracleConfig, log zerolog.Logger) (ai.Oracle, error) {
	client, err := ai.Connect(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// budgetSetter is implemented by oracles that enforce a spending budget (ai.Client).
type budgetSetter interface {
	SetBudget(ai.Budget)
}

func attachBudget(oracle ai.Oracle, b ai.Budget) {
	if bs, ok := oracle.(budgetSetter); ok {
		bs.SetBudget(b)
	}
}

// uncommittedFindingFiles returns the finding files under dir with uncommitted
// git changes. Nothing is reported when git is missing or dir is not a repository.
func uncommittedFindingFiles(ctx context.Context, dir string, vulns []*types.Vulnerability, log zerolog.Logger) []string {
	g, err := git.NewGit(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("git unavailable, skipping working tree check")
		return nil
	}
	if !g.IsRepo(ctx, dir) {
		return nil
	}
	files := make([]string, 0, len(vulns))
	for _, v := range vulns {
		files = append(files, v.File)
	}
	dirty, err := g.DirtyFiles(ctx, dir, files)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read git status")
		return nil
	}
	return dirty
}

// projectRootFor returns the directory holding configuration and history for
// target: the nearest enclosing directory with a .bughunter/ directory, or the
// target directory itself.
func projectRootFor(target string) (string, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", target, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("root %s does not exist", target)
		}
		return "", fmt.Errorf("cannot access root %s: %w", target, err)
	}
	dir := abs
	if !info.IsDir() {
		dir = filepath.Dir(abs)
	}

	root, err := storage.FindProjectRoot(dir)
	if err != nil {
		if errors.Is(err, storage.ErrNoProject) {
			return dir, nil
		}
		return "", err
	}
	return root, nil
}

// loadConfig loads the project configuration and applies the global flags.
// The result is not validated.
func loadConfig(projectRoot string) (*config.Config, error) {
	cfg, err := config.Load(projectRoot)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logJSON {
		cfg.Log.JSON = true
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	return logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Out: out})
}

// openHistory opens the run history. History is best effort: a failure is
// logged and the run continues without it.
func openHistory(ctx context.Context, cfg *config.Config, projectRoot string, log zerolog.Logger) storage.Store {
	if !cfg.History.Enabled {
		return nil
	}
	path := config.ResolvePath(projectRoot, cfg.History.Path)
	store, err := storage.Open(ctx, path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("run history unavailable")
		return nil
	}
	return store
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printSuccess(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

func printWarning(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "%s %s\n", color.YellowString("⚠"), fmt.Sprintf(format, args...))
}
