package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/steveyegge/bughunter/internal/events"
)

// EventFilter selects stored events. Zero fields match everything.
type EventFilter struct {
	RunID string
	Type  events.EventType
	File  string
	Limit int
}

// StoreEvent stores one run event.
func (s *SQLiteStorage) StoreEvent(ctx context.Context, event *events.Event) error {
	var data sql.NullString
	if event.Data != nil {
		dataJSON, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		data = sql.NullString{String: string(dataJSON), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			id, run_id, type, timestamp, file, vulnerability_id, severity, message, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.RunID,
		string(event.Type),
		formatTime(event.Timestamp),
		event.File,
		event.VulnerabilityID,
		string(event.Severity),
		event.Message,
		data,
	)
	if err != nil {
		return fmt.Errorf("failed to store event (type=%s, run=%s): %w", event.Type, event.RunID, err)
	}
	return nil
}

// GetEvents returns matching events in emission order.
func (s *SQLiteStorage) GetEvents(ctx context.Context, filter EventFilter) ([]*events.Event, error) {
	query := `
		SELECT id, run_id, type, timestamp, file, vulnerability_id, severity, message, data
		FROM events
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, string(filter.Type))
	}
	if filter.File != "" {
		query += " AND file = ?"
		args = append(args, filter.File)
	}

	query += " ORDER BY timestamp, rowid"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*events.Event
	for rows.Next() {
		var (
			e        events.Event
			typ, sev string
			ts       string
			data     sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RunID, &typ, &ts, &e.File, &e.VulnerabilityID, &sev, &e.Message, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = events.EventType(typ)
		e.Severity = events.EventSeverity(sev)
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("invalid event timestamp %q: %w", ts, err)
		}
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DeleteRunsBefore removes runs (and their events) older than cutoff and
// returns the number of runs removed.
func (s *SQLiteStorage) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	c := formatTime(cutoff)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM events WHERE run_id IN (SELECT id FROM scan_runs WHERE started_at < ?)
	`, c); err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM scan_runs WHERE started_at < ?`, c)
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), tx.Commit()
}
