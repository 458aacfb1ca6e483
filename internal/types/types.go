package types

import (
	"fmt"
	"strings"
	"time"
)

// FileRecord is one source file produced by a discovery pass.
// Content is the discovery-time snapshot and must not be used for fixes.
type FileRecord struct {
	Path         string `json:"path"`
	RelativePath string `json:"relativePath"`
	Language     string `json:"language"`
	Content      string `json:"-"`
	Size         int64  `json:"size"`
	Lines        int    `json:"lines"`
}

// AnalysisContext is passed to the oracle alongside the file content.
type AnalysisContext struct {
	Language    string `json:"language"`
	File        string `json:"file"`
	Environment string `json:"environment"`
}

// ContextFor builds the analysis context for a file record.
func ContextFor(f FileRecord, environment string) AnalysisContext {
	return AnalysisContext{
		Language:    f.Language,
		File:        f.RelativePath,
		Environment: environment,
	}
}

// Severity represents the severity of a finding or the project risk level
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// IsValid checks if the severity value is one of the four levels
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank returns 4 for CRITICAL down to 1 for LOW, and 0 for unknown values.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ParseSeverity normalizes a severity string (case-insensitive, surrounding space ignored).
func ParseSeverity(raw string) (Severity, bool) {
	s := Severity(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", false
	}
	return s, true
}

// Vulnerability is a validated finding. Only the normalizer creates these;
// RiskScore and PriorityRank are filled in by scoring and prioritization.
type Vulnerability struct {
	ID                   string   `json:"id"`
	OracleID             string   `json:"oracleId,omitempty"`
	Title                string   `json:"title"`
	Severity             Severity `json:"severity"`
	Confidence           float64  `json:"confidence"`
	Category             string   `json:"category"`
	File                 string   `json:"file"`
	Line                 int      `json:"line"`
	Description          string   `json:"description"`
	Impact               string   `json:"impact,omitempty"`
	ExploitationScenario string   `json:"exploitationScenario,omitempty"`
	Recommendation       string   `json:"recommendation,omitempty"`
	SecureCodeExample    string   `json:"secureCodeExample,omitempty"`
	AutoFixSafe          bool     `json:"autoFixSafe"`
	RiskScore            float64  `json:"riskScore"`
	PriorityRank         int      `json:"priority"`
}

// Location returns "file:line" for display.
func (v *Vulnerability) Location() string {
	return fmt.Sprintf("%s:%d", v.File, v.Line)
}

// ProjectRiskAssessment is fully derived from a vulnerability set.
type ProjectRiskAssessment struct {
	Score  float64          `json:"score"`
	Level  Severity         `json:"level"`
	Counts map[Severity]int `json:"counts"`
	Total  int              `json:"total"`
}

// FixCandidate exists for the duration of one fix-loop iteration.
type FixCandidate struct {
	VulnerabilityID string
	Snapshot        string // on-disk content read immediately before generation
	Proposed        string
	Accepted        bool
}

// FailureKind classifies a per-file analysis failure
type FailureKind string

const (
	FailureAnalysis FailureKind = "analysis"
	FailureTimeout  FailureKind = "timeout"
	FailureProtocol FailureKind = "protocol"
	FailureBudget   FailureKind = "budget"
)

// FileFailure records one file whose analysis did not produce results.
type FileFailure struct {
	File  string      `json:"file"`
	Kind  FailureKind `json:"kind"`
	Error string      `json:"error"`
}

// ScanStats summarizes one run for the report.
type ScanStats struct {
	FilesScanned      int           `json:"filesScanned"`
	FilesFailed       int           `json:"filesFailed"`
	LinesAnalyzed     int           `json:"linesAnalyzed"`
	BytesAnalyzed     int64         `json:"bytesAnalyzed"`
	SkippedTooLarge   int           `json:"skippedTooLarge"`
	SkippedUnreadable int           `json:"skippedUnreadable"`
	SkippedExcluded   int           `json:"skippedExcluded"`
	EntriesDropped    int           `json:"entriesDropped"`
	Duration          time.Duration `json:"duration"`
	InputTokens       int64         `json:"inputTokens,omitempty"`
	OutputTokens      int64         `json:"outputTokens,omitempty"`
	EstimatedCostUSD  float64       `json:"estimatedCostUsd,omitempty"`
}

// FixState is a state of the per-vulnerability fix lifecycle.
type FixState string

const (
	FixPending   FixState = "PENDING"
	FixRequested FixState = "FIX_REQUESTED"
	FixGenerated FixState = "FIX_GENERATED"
	FixApplied   FixState = "APPLIED"
	FixSkipped   FixState = "SKIPPED"
	FixFailed    FixState = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s FixState) IsTerminal() bool {
	return s == FixApplied || s == FixSkipped || s == FixFailed
}

// FixOutcome is the final state of one vulnerability after the fix loop.
type FixOutcome struct {
	VulnerabilityID string   `json:"vulnerabilityId"`
	File            string   `json:"file"`
	State           FixState `json:"state"`
	Reason          string   `json:"reason,omitempty"`
	BackupPath      string   `json:"backupPath,omitempty"`
}

// Remediation is attached to a report when the fix loop ran.
type Remediation struct {
	Outcomes     []FixOutcome          `json:"outcomes"`
	Applied      int                   `json:"applied"`
	Skipped      int                   `json:"skipped"`
	Failed       int                   `json:"failed"`
	ResidualRisk ProjectRiskAssessment `json:"residualRisk"`
}

// ProjectReport is what the reporting collaborator consumes.
// Vulnerabilities are always in priority order.
type ProjectReport struct {
	RunID           string                `json:"runId"`
	Timestamp       time.Time             `json:"timestamp"`
	Root            string                `json:"root"`
	ProjectRisk     ProjectRiskAssessment `json:"projectRisk"`
	Vulnerabilities []*Vulnerability      `json:"vulnerabilities"`
	ScanStats       ScanStats             `json:"scanStats"`
	Failures        []FileFailure         `json:"failures,omitempty"`
	Warnings        []string              `json:"warnings,omitempty"`
	Remediation     *Remediation          `json:"remediation,omitempty"`
}

// EffectiveRisk returns the residual risk when remediation ran, otherwise the scan risk.
func (r *ProjectReport) EffectiveRisk() ProjectRiskAssessment {
	if r.Remediation != nil {
		return r.Remediation.ResidualRisk
	}
	return r.ProjectRisk
}

// RunSummary is one row of the run history.
type RunSummary struct {
	ID              string        `json:"id"`
	Root            string        `json:"root"`
	StartedAt       time.Time     `json:"startedAt"`
	Duration        time.Duration `json:"duration"`
	FilesScanned    int           `json:"filesScanned"`
	FilesFailed     int           `json:"filesFailed"`
	Vulnerabilities int           `json:"vulnerabilities"`
	Score           float64       `json:"score"`
	Level           Severity      `json:"level"`
	FixesApplied    int           `json:"fixesApplied"`
	ResidualLevel   Severity      `json:"residualLevel,omitempty"`
}
