package discovery

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testScanConfig() config.ScanConfig {
	cfg := config.DefaultConfig().Scan
	cfg.MaxFileSizeKB = 1
	return cfg
}

func newTestScanner(cfg config.ScanConfig) *Scanner {
	return NewScanner(cfg, zerolog.Nop())
}

func relPaths(files []types.FileRecord) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.RelativePath)
	}
	return out
}

func TestScan_ThreeFileScenario(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.js", strings.Repeat("a", 2048))
	writeFile(t, root, "node_modules/lib/index.js", "module.exports = {}")
	writeFile(t, root, "app.js", "const a = 1;\nconst b = 2;\n")

	res, err := newTestScanner(testScanConfig()).Scan(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, res.Files, 1)
	f := res.Files[0]
	assert.Equal(t, "app.js", f.RelativePath)
	assert.Equal(t, filepath.Join(root, "app.js"), f.Path)
	assert.Equal(t, "JavaScript", f.Language)
	assert.Equal(t, 2, f.Lines)
	assert.Equal(t, int64(26), f.Size)
	assert.Equal(t, "const a = 1;\nconst b = 2;\n", f.Content)

	stats := Statistics(res.Files, res.SkipCounts)
	assert.Equal(t, 1, stats.TotalFiles)
	assert.Equal(t, 2, stats.TotalLines)
	assert.Equal(t, 1, stats.SkippedTooLarge)
	assert.Equal(t, 0, stats.SkippedUnreadable)
	// node_modules is pruned as a directory, its file is never visited
	assert.Equal(t, 0, stats.SkippedExcluded)
}

func TestScan_ExcludedFilesCountedOnce(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "vendor.min.js", strings.Repeat("x", 4096)) // excluded AND too large
	writeFile(t, root, "app.bundle.js", "x")
	writeFile(t, root, "main.go", "package main\n")

	res, err := newTestScanner(testScanConfig()).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"main.go"}, relPaths(res.Files))
	assert.Equal(t, 2, res.SkippedExcluded)
	assert.Equal(t, 0, res.SkippedTooLarge, "exclusion is checked before the size limit")
}

func TestScan_NoResultMatchesExcludeOrExceedsLimit(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.py", "print(1)\n")
	writeFile(t, root, "src/b.py", strings.Repeat("#", 1500))
	writeFile(t, root, "dist/out.js", "x")
	writeFile(t, root, "build/gen.ts", "x")
	writeFile(t, root, ".git/hooks/pre-commit.sh", "x")
	writeFile(t, root, "coverage/report.js", "x")
	writeFile(t, root, "lib/c.min.js", "x")
	writeFile(t, root, "lib/d.js", "x")
	writeFile(t, root, "README.md", "# readme")

	cfg := testScanConfig()
	res, err := newTestScanner(cfg).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"lib/d.js", "src/a.py"}, relPaths(res.Files))
	for _, f := range res.Files {
		assert.LessOrEqual(t, f.Size, cfg.MaxFileSizeBytes())
		assert.False(t, strings.HasPrefix(f.RelativePath, "dist/"))
		assert.False(t, strings.HasSuffix(f.RelativePath, ".min.js"))
	}
	assert.Equal(t, 1, res.SkippedTooLarge)
	assert.Equal(t, 1, res.SkippedExcluded)
}

func TestScan_DeterministicOrder(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"z.go", "a/b.go", "a.go", "A/c.go", "m/n/o.go"} {
		writeFile(t, root, rel, "package x\n")
	}

	s := newTestScanner(testScanConfig())
	first, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	second, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"A/c.go", "a.go", "a/b.go", "m/n/o.go", "z.go"}, relPaths(first.Files))
	assert.Equal(t, first.Files, second.Files)
}

func TestScan_ExtensionFilterIsCaseInsensitive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Main.JAVA", "class Main {}")
	writeFile(t, root, "notes.txt", "hello")

	res, err := newTestScanner(testScanConfig()).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"Main.JAVA"}, relPaths(res.Files))
	assert.Equal(t, "Java", res.Files[0].Language)
	assert.Equal(t, 0, res.SkippedExcluded, "files outside the extension set are not counted")
}

func TestScan_RespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "# generated\ngenerated/\n*.gen.go\n")
	writeFile(t, root, "generated/api.go", "package generated\n")
	writeFile(t, root, "x.gen.go", "package x\n")
	writeFile(t, root, "x.go", "package x\n")

	cfg := testScanConfig()
	res, err := newTestScanner(cfg).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"x.go"}, relPaths(res.Files))

	cfg.RespectGitignore = false
	res, err = newTestScanner(cfg).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"generated/api.go", "x.gen.go", "x.go"}, relPaths(res.Files))
}

func TestScan_AlwaysExcludesStateDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".bughunter/backups/app.js.20240101.bak", "x")
	writeFile(t, root, ".bughunter/backups/app.js", "x")
	writeFile(t, root, "app.js", "x")

	cfg := testScanConfig()
	cfg.ExcludePatterns = nil
	res, err := newTestScanner(cfg).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"app.js"}, relPaths(res.Files))
}

func TestScan_SingleFileRoot(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "script.txt", "line1\nline2")

	res, err := newTestScanner(testScanConfig()).Scan(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "script.txt", res.Files[0].RelativePath)
	assert.Equal(t, 2, res.Files[0].Lines)
}

func TestScan_MissingRoot(t *testing.T) {
	_, err := newTestScanner(testScanConfig()).Scan(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestScan_BrokenSymlinkIsUnreadable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}
	root := t.TempDir()
	writeFile(t, root, "ok.js", "x")
	require.NoError(t, os.Symlink(filepath.Join(root, "missing.js"), filepath.Join(root, "dangling.js")))

	res, err := newTestScanner(testScanConfig()).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok.js"}, relPaths(res.Files))
	assert.Equal(t, 1, res.SkippedUnreadable)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "dangling.js")
}

func TestScan_SymlinksToFilesReadDirsNotFollowed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}
	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, outside, "target.go", "package target\n")
	writeFile(t, outside, "dir/inner.go", "package inner\n")

	require.NoError(t, os.Symlink(filepath.Join(outside, "target.go"), filepath.Join(root, "link.go")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "dir"), filepath.Join(root, "linkdir")))

	res, err := newTestScanner(testScanConfig()).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"link.go"}, relPaths(res.Files))
	assert.Equal(t, "package target\n", res.Files[0].Content)
}

func TestScan_UnreadableFile(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	root := t.TempDir()
	writeFile(t, root, "ok.py", "x")
	locked := writeFile(t, root, "locked.py", "secret")
	require.NoError(t, os.Chmod(locked, 0000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0644) })

	res, err := newTestScanner(testScanConfig()).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok.py"}, relPaths(res.Files))
	assert.Equal(t, 1, res.SkippedUnreadable)
}

func TestScan_CanceledContext(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestScanner(testScanConfig()).Scan(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCountLines(t *testing.T) {
	assert.Equal(t, 0, countLines(nil))
	assert.Equal(t, 1, countLines([]byte("a")))
	assert.Equal(t, 1, countLines([]byte("a\n")))
	assert.Equal(t, 2, countLines([]byte("a\nb")))
	assert.Equal(t, 3, countLines([]byte("\n\n\n")))
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "Go", detectLanguage("x/y.go"))
	assert.Equal(t, "TypeScript", detectLanguage("a.TSX"))
	assert.Equal(t, "C#", detectLanguage("a.cs"))
	assert.Equal(t, "", detectLanguage("a.unknown"))
}

func TestStatistics(t *testing.T) {
	files := []types.FileRecord{
		{RelativePath: "a.go", Language: "Go", Lines: 10, Size: 100},
		{RelativePath: "b.go", Language: "Go", Lines: 5, Size: 50},
		{RelativePath: "c.x", Lines: 1, Size: 1},
	}
	st := Statistics(files, SkipCounts{SkippedTooLarge: 2, SkippedUnreadable: 1, SkippedExcluded: 4})
	assert.Equal(t, 3, st.TotalFiles)
	assert.Equal(t, 16, st.TotalLines)
	assert.Equal(t, int64(151), st.TotalBytes)
	assert.Equal(t, 2, st.SkippedTooLarge)
	assert.Equal(t, 1, st.SkippedUnreadable)
	assert.Equal(t, 4, st.SkippedExcluded)
	assert.Equal(t, map[string]int{"Go": 2, "other": 1}, st.Languages)

	empty := Statistics(nil, SkipCounts{})
	assert.Equal(t, 0, empty.TotalFiles)
}
