package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/bughunter/internal/types"
)

// SaveReport stores a completed scan. Saving the same run twice replaces it.
func (s *SQLiteStorage) SaveReport(ctx context.Context, report *types.ProjectReport) error {
	// Findings live in their own table; the report blob holds everything else.
	stripped := *report
	stripped.Vulnerabilities = nil
	stripped.Remediation = nil
	reportJSON, err := json.Marshal(&stripped)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_runs WHERE id = ?`, report.RunID); err != nil {
		return fmt.Errorf("failed to replace run %s: %w", report.RunID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scan_runs (
			id, root, started_at, duration_ms, files_scanned, files_failed,
			vulnerability_count, risk_score, risk_level, report_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.RunID,
		report.Root,
		formatTime(report.Timestamp),
		report.ScanStats.Duration.Milliseconds(),
		report.ScanStats.FilesScanned,
		report.ScanStats.FilesFailed,
		len(report.Vulnerabilities),
		report.ProjectRisk.Score,
		string(report.ProjectRisk.Level),
		string(reportJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", report.RunID, err)
	}

	for _, v := range report.Vulnerabilities {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal vulnerability %s: %w", v.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO vulnerabilities (
				run_id, id, priority, severity, risk_score, category, file, line, title, data
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, report.RunID, v.ID, v.PriorityRank, string(v.Severity), v.RiskScore, v.Category, v.File, v.Line, v.Title, string(data))
		if err != nil {
			return fmt.Errorf("failed to insert vulnerability %s: %w", v.ID, err)
		}
	}

	if report.Remediation != nil {
		if err := recordRemediation(ctx, tx, report.RunID, report.Remediation); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecordRemediation stores fix loop outcomes for a saved run.
func (s *SQLiteStorage) RecordRemediation(ctx context.Context, runID string, rem *types.Remediation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := recordRemediation(ctx, tx, runID, rem); err != nil {
		return err
	}
	return tx.Commit()
}

func recordRemediation(ctx context.Context, tx *sql.Tx, runID string, rem *types.Remediation) error {
	remJSON, err := json.Marshal(rem)
	if err != nil {
		return fmt.Errorf("failed to marshal remediation: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE scan_runs SET remediation_json = ? WHERE id = ?`, string(remJSON), runID)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	now := formatTime(time.Now())
	for _, o := range rem.Outcomes {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO fix_attempts (
				run_id, vulnerability_id, state, reason, backup_path, recorded_at
			) VALUES (?, ?, ?, ?, ?, ?)
		`, runID, o.VulnerabilityID, string(o.State), o.Reason, o.BackupPath, now)
		if err != nil {
			return fmt.Errorf("failed to record fix attempt for %s: %w", o.VulnerabilityID, err)
		}
	}
	return nil
}

const runSummaryColumns = `
	r.id, r.root, r.started_at, r.duration_ms, r.files_scanned, r.files_failed,
	r.vulnerability_count, r.risk_score, r.risk_level, r.remediation_json,
	(SELECT COUNT(*) FROM fix_attempts f WHERE f.run_id = r.id AND f.state = 'APPLIED')
`

// ListRuns returns the most recent runs first. limit <= 0 means no limit.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]*types.RunSummary, error) {
	query := `SELECT ` + runSummaryColumns + ` FROM scan_runs r ORDER BY r.started_at DESC, r.id`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*types.RunSummary
	for rows.Next() {
		run, err := scanRunSummary(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun reassembles the report of a stored run, remediation included.
// The ID may be a unique prefix.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.ProjectReport, error) {
	runID, err := s.resolveRunID(ctx, id)
	if err != nil {
		return nil, err
	}

	var reportJSON string
	var remJSON sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT report_json, remediation_json FROM scan_runs WHERE id = ?`, runID).
		Scan(&reportJSON, &remJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	var report types.ProjectReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	if remJSON.Valid {
		var rem types.Remediation
		if err := json.Unmarshal([]byte(remJSON.String), &rem); err != nil {
			return nil, fmt.Errorf("failed to decode remediation of %s: %w", runID, err)
		}
		report.Remediation = &rem
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM vulnerabilities WHERE run_id = ? ORDER BY priority`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load vulnerabilities of %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	report.Vulnerabilities = []*types.Vulnerability{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v types.Vulnerability
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("failed to decode vulnerability: %w", err)
		}
		report.Vulnerabilities = append(report.Vulnerabilities, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &report, nil
}

// Recurrence is a finding location seen in more than one run.
type Recurrence struct {
	File     string `json:"file"`
	Category string `json:"category"`
	Runs     int    `json:"runs"`
}

// RecurringFindings lists file/category pairs reported by at least minRuns runs.
func (s *SQLiteStorage) RecurringFindings(ctx context.Context, minRuns, limit int) ([]Recurrence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file, category, COUNT(DISTINCT run_id) AS runs
		FROM vulnerabilities
		GROUP BY file, category
		HAVING runs >= ?
		ORDER BY runs DESC, file, category
		LIMIT ?
	`, minRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurring findings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Recurrence
	for rows.Next() {
		var r Recurrence
		if err := rows.Scan(&r.File, &r.Category, &r.Runs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) resolveRunID(ctx context.Context, id string) (string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM scan_runs WHERE id = ? OR id LIKE ? || '%' LIMIT 2`, id, id)
	if err != nil {
		return "", fmt.Errorf("failed to look up run %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var got string
		if err := rows.Scan(&got); err != nil {
			return "", err
		}
		if got == id {
			return got, nil
		}
		ids = append(ids, got)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("run ID prefix %q is ambiguous", id)
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRunSummary(row rowScanner) (*types.RunSummary, error) {
	var (
		run       types.RunSummary
		startedAt string
		durMS     int64
		level     string
		remJSON   sql.NullString
	)
	err := row.Scan(&run.ID, &run.Root, &startedAt, &durMS, &run.FilesScanned, &run.FilesFailed,
		&run.Vulnerabilities, &run.Score, &level, &remJSON, &run.FixesApplied)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid started_at %q: %w", startedAt, err)
	}
	run.Duration = time.Duration(durMS) * time.Millisecond
	run.Level = types.Severity(level)

	if remJSON.Valid {
		var rem types.Remediation
		if err := json.Unmarshal([]byte(remJSON.String), &rem); err == nil {
			run.ResidualLevel = rem.ResidualRisk.Level
		}
	}
	return &run, nil
}
