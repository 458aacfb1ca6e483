// Package risk scores individual findings and whole projects.
//
// Every score is a pure function of the findings and the configured weights and
// thresholds. Factor values are confined to [0,100] and weights are
// non-negative, so each score is monotonic non-decreasing in every factor.
package risk

import (
	"math"
	"strings"

	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/types"
)

// Project score composition
const (
	maxScoreShare     = 0.7
	densityShare      = 0.3
	densityPerFinding = 10.0
)

// Factors are the four normalized inputs of a finding's score, each in [0,100].
type Factors struct {
	Severity       float64 `json:"severity"`
	Confidence     float64 `json:"confidence"`
	Exploitability float64 `json:"exploitability"`
	Impact         float64 `json:"impact"`
}

// Engine computes risk scores
type Engine struct {
	weights    config.RiskWeights
	thresholds config.Thresholds
}

// NewEngine creates an engine. cfg is expected to have passed config validation.
func NewEngine(cfg config.RiskConfig) *Engine {
	return &Engine{weights: cfg.Weights, thresholds: cfg.Thresholds}
}

var severityFactor = map[types.Severity]float64{
	types.SeverityLow:      25,
	types.SeverityMedium:   50,
	types.SeverityHigh:     75,
	types.SeverityCritical: 100,
}

var severityImpact = map[types.Severity]float64{
	types.SeverityLow:      20,
	types.SeverityMedium:   45,
	types.SeverityHigh:     70,
	types.SeverityCritical: 90,
}

// Factors derives the normalized factors of v.
func (e *Engine) Factors(v *types.Vulnerability) Factors {
	exploit := Classify(v.Category).Exploitability()
	if v.AutoFixSafe {
		exploit += 10
	}

	impact := severityImpact[v.Severity]
	if compromisesData(v.Category) {
		impact += 10
	}

	return Factors{
		Severity:       clamp(severityFactor[v.Severity]),
		Confidence:     clamp(v.Confidence * 100),
		Exploitability: clamp(exploit),
		Impact:         clamp(impact),
	}
}

// ScoreFactors combines factors with the configured weights, clamped to [0,100].
func (e *Engine) ScoreFactors(f Factors) float64 {
	w := e.weights
	sum := f.Severity*w.Severity +
		f.Confidence*w.Confidence +
		f.Exploitability*w.Exploitability +
		f.Impact*w.Impact
	return round1(clamp(sum))
}

// Score returns the risk score of one finding.
func (e *Engine) Score(v *types.Vulnerability) float64 {
	return e.ScoreFactors(e.Factors(v))
}

// ScoreAll assigns RiskScore on every finding.
func (e *Engine) ScoreAll(vulns []*types.Vulnerability) {
	for _, v := range vulns {
		v.RiskScore = e.Score(v)
	}
}

// Assess derives the project assessment. The highest finding dominates and the
// number of findings at or above the HIGH threshold adds density, so a single
// critical finding is never averaged away.
func (e *Engine) Assess(vulns []*types.Vulnerability) types.ProjectRiskAssessment {
	counts := make(map[types.Severity]int, len(types.Severities))
	for _, s := range types.Severities {
		counts[s] = 0
	}

	if len(vulns) == 0 {
		return types.ProjectRiskAssessment{Score: 0, Level: types.SeverityLow, Counts: counts}
	}

	maxScore := 0.0
	highCount := 0
	for _, v := range vulns {
		score := e.Score(v)
		if score > maxScore {
			maxScore = score
		}
		if score >= e.thresholds.High {
			highCount++
		}
		counts[v.Severity]++
	}

	density := math.Min(100, float64(highCount)*densityPerFinding)
	score := round1(clamp(maxScore*maxScoreShare + density*densityShare))

	return types.ProjectRiskAssessment{
		Score:  score,
		Level:  e.Level(score),
		Counts: counts,
		Total:  len(vulns),
	}
}

// Level maps a score to a level using the configured thresholds.
func (e *Engine) Level(score float64) types.Severity {
	switch {
	case score >= e.thresholds.Critical:
		return types.SeverityCritical
	case score >= e.thresholds.High:
		return types.SeverityHigh
	case score >= e.thresholds.Medium:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

func clamp(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return x
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

// CategoryClass groups free-form oracle categories for exploitability.
type CategoryClass string

const (
	ClassInjection  CategoryClass = "injection"
	ClassAccess     CategoryClass = "access"
	ClassExposure   CategoryClass = "exposure"
	ClassComponents CategoryClass = "components"
	ClassLogging    CategoryClass = "logging"
	ClassUnknown    CategoryClass = "unknown"
)

// classKeywords is checked in order; the first class with a matching keyword wins.
var classKeywords = []struct {
	class    CategoryClass
	keywords []string
}{
	{ClassInjection, []string{"injection", "sql", "xss", "cross-site scripting", "command", "traversal",
		"deserializ", "ssrf", "xxe", "template", "code execution", "remote code", "eval(", "prototype pollution"}},
	{ClassAccess, []string{"auth", "access control", "csrf", "cross-site request", "secret", "hardcoded", "hard-coded",
		"credential", "password", "api key", "token", "session", "privilege", "idor"}},
	{ClassExposure, []string{"exposure", "sensitive", "leak", "disclosure", "crypto", "encrypt", "hash", "random",
		"misconfig", "config", "cors", "header", "tls", "ssl", "certificate"}},
	{ClassComponents, []string{"race", "toctou", "concurren", "component", "dependenc", "outdated", "known vulnerab"}},
	{ClassLogging, []string{"logging", "monitoring", "audit"}},
}

// Classify maps a category to its class (case-insensitive keyword match).
func Classify(category string) CategoryClass {
	c := strings.ToLower(category)
	for _, ck := range classKeywords {
		for _, kw := range ck.keywords {
			if strings.Contains(c, kw) {
				return ck.class
			}
		}
	}
	return ClassUnknown
}

// Exploitability returns the base exploitability factor of the class.
func (c CategoryClass) Exploitability() float64 {
	switch c {
	case ClassInjection:
		return 90
	case ClassAccess:
		return 75
	case ClassExposure:
		return 55
	case ClassComponents:
		return 45
	case ClassLogging:
		return 25
	default:
		return 50
	}
}

var dataKeywords = []string{"sql", "injection", "secret", "credential", "password", "exposure", "sensitive",
	"leak", "disclosure", "deserializ", "traversal", "idor", "data"}

func compromisesData(category string) bool {
	c := strings.ToLower(category)
	for _, kw := range dataKeywords {
		if strings.Contains(c, kw) {
			return true
		}
	}
	return false
}
