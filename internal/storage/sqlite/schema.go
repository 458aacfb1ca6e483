package sqlite

import "github.com/steveyegge/bughunter/internal/storage/migrations"

// schemaMigrations is the run history schema, oldest first.
var schemaMigrations = []migrations.Migration{
	{
		Version:     1,
		Description: "scan runs, vulnerabilities, fix attempts and events",
		Up: `
CREATE TABLE scan_runs (
    id TEXT PRIMARY KEY,
    root TEXT NOT NULL,
    started_at TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    files_scanned INTEGER NOT NULL DEFAULT 0,
    files_failed INTEGER NOT NULL DEFAULT 0,
    vulnerability_count INTEGER NOT NULL DEFAULT 0,
    risk_score REAL NOT NULL,
    risk_level TEXT NOT NULL CHECK(risk_level IN ('LOW', 'MEDIUM', 'HIGH', 'CRITICAL')),
    report_json TEXT NOT NULL,
    remediation_json TEXT
);

CREATE INDEX idx_scan_runs_started_at ON scan_runs(started_at);

CREATE TABLE vulnerabilities (
    run_id TEXT NOT NULL,
    id TEXT NOT NULL,
    priority INTEGER NOT NULL,
    severity TEXT NOT NULL,
    risk_score REAL NOT NULL,
    category TEXT NOT NULL,
    file TEXT NOT NULL,
    line INTEGER NOT NULL,
    title TEXT NOT NULL,
    data TEXT NOT NULL,
    PRIMARY KEY (run_id, id),
    FOREIGN KEY (run_id) REFERENCES scan_runs(id) ON DELETE CASCADE
);

CREATE TABLE fix_attempts (
    run_id TEXT NOT NULL,
    vulnerability_id TEXT NOT NULL,
    state TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    backup_path TEXT NOT NULL DEFAULT '',
    recorded_at TEXT NOT NULL,
    PRIMARY KEY (run_id, vulnerability_id),
    FOREIGN KEY (run_id) REFERENCES scan_runs(id) ON DELETE CASCADE
);

-- Events arrive before their run is saved, so run_id is not a foreign key
CREATE TABLE events (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    type TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    file TEXT NOT NULL DEFAULT '',
    vulnerability_id TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL,
    message TEXT NOT NULL,
    data TEXT
);

CREATE INDEX idx_events_run ON events(run_id, timestamp);
`,
		Down: `
DROP TABLE IF EXISTS events;
DROP TABLE IF EXISTS fix_attempts;
DROP TABLE IF EXISTS vulnerabilities;
DROP TABLE IF EXISTS scan_runs;
`,
	},
	{
		Version:     2,
		Description: "index findings by file for recurrence queries",
		Up:          `CREATE INDEX idx_vulnerabilities_file ON vulnerabilities(file, category);`,
		Down:        `DROP INDEX IF EXISTS idx_vulnerabilities_file;`,
	},
}
