// Package report persists and renders scan reports.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/bughunter/internal/types"
)

// fileTimeLayout names saved reports so they sort chronologically.
const fileTimeLayout = "20060102-150405"

// WriteJSON writes r as indented JSON. Vulnerabilities keep their priority
// order and an empty list is written as [] rather than null.
func WriteJSON(w io.Writer, r *types.ProjectReport) error {
	out := *r
	if out.Vulnerabilities == nil {
		out.Vulnerabilities = []*types.Vulnerability{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

// SaveTo writes the JSON report to path, creating parent directories.
func SaveTo(path string, r *types.ProjectReport) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating report directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	if err := WriteJSON(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Save writes the report into dir under a timestamped name and returns the path.
func Save(dir string, r *types.ProjectReport) (string, error) {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	path := filepath.Join(dir, fmt.Sprintf("bughunter-report-%s.json", ts.UTC().Format(fileTimeLayout)))
	if err := SaveTo(path, r); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads a report written by WriteJSON.
func Load(path string) (*types.ProjectReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	var r types.ProjectReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", path, err)
	}
	return &r, nil
}
