package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func newEvent(runID string, typ EventType, severity EventSeverity, file, message string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: time.Now(),
		RunID:     runID,
		File:      file,
		Severity:  severity,
		Message:   message,
	}
}

// NewScanStartedEvent creates the event emitted once discovery completes.
func NewScanStartedEvent(runID, root string, files int) *Event {
	e := newEvent(runID, EventTypeScanStarted, SeverityInfo, "", fmt.Sprintf("Analyzing %d files under %s", files, root))
	e.Data = map[string]interface{}{"root": root, "files": files}
	return e
}

// NewFileAnalyzedEvent creates the event for a successfully normalized file.
func NewFileAnalyzedEvent(runID, file string, found, dropped int, progress Progress) *Event {
	e := newEvent(runID, EventTypeFileAnalyzed, SeverityInfo, file,
		fmt.Sprintf("Analyzed %s: %d findings", file, found))
	e.Data = progress.Data()
	e.Data["found"] = found
	e.Data["dropped"] = dropped
	return e
}

// NewFileFailedEvent creates the event for a per-file analysis failure.
func NewFileFailedEvent(runID, file, kind string, err error, progress Progress) *Event {
	e := newEvent(runID, EventTypeFileFailed, SeverityWarning, file,
		fmt.Sprintf("Failed to analyze %s: %v", file, err))
	e.Data = progress.Data()
	e.Data["kind"] = kind
	return e
}

// NewEntryDroppedEvent creates the event for a vulnerability entry that failed validation.
func NewEntryDroppedEvent(runID, file string, index int, reason string) *Event {
	e := newEvent(runID, EventTypeEntryDropped, SeverityWarning, file,
		fmt.Sprintf("Dropped entry %d from %s: %s", index, file, reason))
	e.Data = map[string]interface{}{"index": index, "reason": reason}
	return e
}

// NewScanCompletedEvent creates the event emitted after scoring.
func NewScanCompletedEvent(runID string, vulnerabilities int, score float64, level string) *Event {
	e := newEvent(runID, EventTypeScanCompleted, SeverityInfo, "",
		fmt.Sprintf("Scan complete: %d findings, project risk %s (%.1f)", vulnerabilities, level, score))
	e.Data = map[string]interface{}{"vulnerabilities": vulnerabilities, "score": score, "level": level}
	return e
}

// NewFixTransitionEvent creates the event for a fix loop state change.
func NewFixTransitionEvent(runID, vulnID, file, from, to, reason string) *Event {
	severity := SeverityInfo
	if to == "FAILED" {
		severity = SeverityError
	}
	msg := fmt.Sprintf("State transition: %s → %s", from, to)
	if reason != "" {
		msg += " (" + reason + ")"
	}
	e := newEvent(runID, EventTypeFixTransition, severity, file, msg)
	e.VulnerabilityID = vulnID
	e.Data = map[string]interface{}{"from": from, "to": to, "reason": reason}
	return e
}

// NewFileModifiedEvent creates the event for a fix written to disk.
func NewFileModifiedEvent(runID, vulnID, file, backupPath string) *Event {
	e := newEvent(runID, EventTypeFileModified, SeverityInfo, file, fmt.Sprintf("Applied fix to %s", file))
	e.VulnerabilityID = vulnID
	e.Data = map[string]interface{}{"backup_path": backupPath}
	return e
}
