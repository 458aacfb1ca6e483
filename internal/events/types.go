package events

import (
	"time"
)

// EventType represents the type of event that occurred during a run.
type EventType string

const (
	// EventTypeScanStarted indicates discovery finished and analysis is starting
	EventTypeScanStarted EventType = "scan_started"
	// EventTypeFileAnalyzed indicates the oracle reply for a file was normalized
	EventTypeFileAnalyzed EventType = "file_analyzed"
	// EventTypeFileFailed indicates a per-file analysis failure
	EventTypeFileFailed EventType = "file_failed"
	// EventTypeEntryDropped indicates a vulnerability entry failed validation
	EventTypeEntryDropped EventType = "entry_dropped"
	// EventTypeScanCompleted indicates scoring and prioritization finished
	EventTypeScanCompleted EventType = "scan_completed"
	// EventTypeFixTransition indicates a fix loop state change for one vulnerability
	EventTypeFixTransition EventType = "fix_transition"
	// EventTypeFileModified indicates the fix loop wrote a file
	EventTypeFileModified EventType = "file_modified"
)

// EventSeverity represents the severity level of an event.
type EventSeverity string

const (
	// SeverityInfo indicates informational events
	SeverityInfo EventSeverity = "info"
	// SeverityWarning indicates potentially problematic events
	SeverityWarning EventSeverity = "warning"
	// SeverityError indicates error events
	SeverityError EventSeverity = "error"
)

// Event is one observable step of a scan or fix run.
type Event struct {
	// ID is the unique identifier for this event
	ID string `json:"id"`
	// Type is the type of event
	Type EventType `json:"type"`
	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`
	// RunID ties the event to one scan run
	RunID string `json:"run_id"`
	// File is the relative path the event concerns, if any
	File string `json:"file,omitempty"`
	// VulnerabilityID is set for fix loop events
	VulnerabilityID string `json:"vulnerability_id,omitempty"`
	// Severity is the severity level of this event
	Severity EventSeverity `json:"severity"`
	// Message is a human-readable description of the event
	Message string `json:"message"`
	// Data contains structured, type-specific data (must be JSON-serializable)
	Data map[string]interface{} `json:"data,omitempty"`
}

// Progress is the running count the orchestrator reports after every file.
type Progress struct {
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Remaining int    `json:"remaining"`
	Current   string `json:"current"`
}

// Data returns the progress as event data.
func (p Progress) Data() map[string]interface{} {
	return map[string]interface{}{
		"total":     p.Total,
		"processed": p.Processed,
		"failed":    p.Failed,
		"remaining": p.Remaining,
	}
}
