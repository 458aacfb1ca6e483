// Package discovery finds the source files a scan analyzes.
//
// A Scanner walks a root in lexical order and returns FileRecords sorted by
// relative path, so two scans of an unchanged tree produce identical output.
// Exclusion is checked before inclusion; excluded directories are pruned.
// Problems with individual entries are counted and reported as warnings,
// never returned as errors. The only error is an unusable root.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/types"
)

// SkipCounts tallies entries discovery did not turn into FileRecords.
// Files ignored for their extension are not counted.
type SkipCounts struct {
	SkippedTooLarge   int `json:"skippedTooLarge"`
	SkippedUnreadable int `json:"skippedUnreadable"`
	SkippedExcluded   int `json:"skippedExcluded"`
}

// Result is the output of one discovery pass
type Result struct {
	Files []types.FileRecord
	SkipCounts
	Warnings []string
}

// Scanner discovers analyzable files under a root.
type Scanner struct {
	cfg        config.ScanConfig
	extensions map[string]bool
	log        zerolog.Logger
}

// NewScanner creates a scanner for the given scan configuration.
func NewScanner(cfg config.ScanConfig, log zerolog.Logger) *Scanner {
	exts := make(map[string]bool, len(cfg.IncludeExtensions))
	for _, e := range cfg.IncludeExtensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return &Scanner{
		cfg:        cfg,
		extensions: exts,
		log:        log.With().Str("component", "discovery").Logger(),
	}
}

// Scan discovers files under root. root may be a directory or a single file;
// an explicitly named file bypasses the extension filter but not the size limit.
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %s: %w", root, err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("root %s does not exist", root)
		}
		return nil, fmt.Errorf("cannot access root %s: %w", root, err)
	}

	res := &Result{}

	if !info.IsDir() {
		s.addFile(res, absRoot, filepath.Base(absRoot), info)
		return res, nil
	}

	matcher := s.compileExcludes(absRoot)

	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		relPath, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return relErr
		}
		relPath = filepath.ToSlash(relPath)

		if err != nil {
			// Unreadable directory or entry; WalkDir already visited the dir itself
			s.unreadable(res, relPath, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if relPath == "." {
			return nil
		}

		// Directory-only patterns ("generated/") need the trailing slash to match
		if matcher.MatchesPath(relPath) || (d.IsDir() && matcher.MatchesPath(relPath+"/")) {
			if d.IsDir() {
				s.log.Debug().Str("dir", relPath).Msg("excluded directory pruned")
				return filepath.SkipDir
			}
			res.SkippedExcluded++
			return nil
		}

		if d.IsDir() {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			target, statErr := os.Stat(path)
			if statErr != nil {
				s.unreadable(res, relPath, statErr)
				return nil
			}
			if target.IsDir() {
				// Directory symlinks are not followed
				return nil
			}
			if !s.included(relPath) {
				return nil
			}
			s.addFile(res, path, relPath, target)
			return nil
		}

		if !d.Type().IsRegular() || !s.included(relPath) {
			return nil
		}

		fi, infoErr := d.Info()
		if infoErr != nil {
			s.unreadable(res, relPath, infoErr)
			return nil
		}
		s.addFile(res, path, relPath, fi)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, walkErr)
	}

	sort.Slice(res.Files, func(i, j int) bool {
		return res.Files[i].RelativePath < res.Files[j].RelativePath
	})

	s.log.Debug().
		Int("files", len(res.Files)).
		Int("too_large", res.SkippedTooLarge).
		Int("unreadable", res.SkippedUnreadable).
		Int("excluded", res.SkippedExcluded).
		Msg("discovery complete")

	return res, nil
}

// compileExcludes builds the exclusion matcher from configured globs plus the
// root .gitignore when enabled.
func (s *Scanner) compileExcludes(root string) *ignore.GitIgnore {
	patterns := append([]string(nil), s.cfg.ExcludePatterns...)
	patterns = append(patterns, "**/"+config.DirName+"/**")

	if s.cfg.RespectGitignore {
		data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
		if err == nil {
			patterns = append(patterns, strings.Split(string(data), "\n")...)
		}
	}
	return ignore.CompileIgnoreLines(patterns...)
}

func (s *Scanner) included(relPath string) bool {
	return s.extensions[strings.ToLower(filepath.Ext(relPath))]
}

func (s *Scanner) addFile(res *Result, path, relPath string, info fs.FileInfo) {
	if info.Size() > s.cfg.MaxFileSizeBytes() {
		res.SkippedTooLarge++
		s.log.Debug().Str("file", relPath).Int64("size", info.Size()).Msg("file exceeds size limit")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.unreadable(res, relPath, err)
		return
	}
	// The file may have grown between stat and read
	if int64(len(data)) > s.cfg.MaxFileSizeBytes() {
		res.SkippedTooLarge++
		return
	}

	res.Files = append(res.Files, types.FileRecord{
		Path:         path,
		RelativePath: relPath,
		Language:     detectLanguage(relPath),
		Content:      string(data),
		Size:         int64(len(data)),
		Lines:        countLines(data),
	})
}

func (s *Scanner) unreadable(res *Result, relPath string, err error) {
	res.SkippedUnreadable++
	msg := fmt.Sprintf("skipped unreadable %s: %v", relPath, err)
	res.Warnings = append(res.Warnings, msg)
	s.log.Warn().Str("path", relPath).Err(err).Msg("skipped unreadable entry")
}

// detectLanguage returns the language tag for a file extension, or "" if unknown.
func detectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))

	languageMap := map[string]string{
		".go":    "Go",
		".py":    "Python",
		".js":    "JavaScript",
		".jsx":   "JavaScript",
		".mjs":   "JavaScript",
		".cjs":   "JavaScript",
		".ts":    "TypeScript",
		".tsx":   "TypeScript",
		".java":  "Java",
		".c":     "C",
		".cpp":   "C++",
		".cc":    "C++",
		".h":     "C/C++ Header",
		".hpp":   "C++ Header",
		".rs":    "Rust",
		".rb":    "Ruby",
		".php":   "PHP",
		".swift": "Swift",
		".kt":    "Kotlin",
		".scala": "Scala",
		".sh":    "Shell",
		".bash":  "Shell",
		".sql":   "SQL",
		".cs":    "C#",
		".lua":   "Lua",
		".pl":    "Perl",
	}

	return languageMap[ext]
}

// countLines counts lines; a final line without a newline still counts.
func countLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	lines := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		lines++
	}
	return lines
}
