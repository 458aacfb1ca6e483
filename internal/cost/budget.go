// Package cost tracks oracle token spending against a per-invocation budget.
package cost

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/steveyegge/bughunter/internal/config"
)

// BudgetStatus represents the current budget state
type BudgetStatus int

const (
	// BudgetHealthy indicates normal operation - under budget limits
	BudgetHealthy BudgetStatus = iota
	// BudgetWarning indicates usage at or above the alert threshold
	BudgetWarning
	// BudgetExceeded indicates a limit has been reached
	BudgetExceeded
)

// String returns a human-readable string representation of the budget status
func (s BudgetStatus) String() string {
	switch s {
	case BudgetHealthy:
		return "HEALTHY"
	case BudgetWarning:
		return "WARNING"
	case BudgetExceeded:
		return "EXCEEDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Stats is a snapshot of budget usage
type Stats struct {
	Status       BudgetStatus     `json:"status"`
	Calls        int64            `json:"calls"`
	InputTokens  int64            `json:"inputTokens"`
	OutputTokens int64            `json:"outputTokens"`
	CostUSD      float64          `json:"costUsd"`
	ByOperation  map[string]int64 `json:"byOperation"`
}

// TotalTokens is input plus output tokens.
func (s Stats) TotalTokens() int64 { return s.InputTokens + s.OutputTokens }

// Tracker tracks oracle usage and enforces the budget limits.
// It is safe for concurrent use.
type Tracker struct {
	cfg config.BudgetConfig
	log zerolog.Logger

	mu           sync.Mutex
	calls        int64
	inputTokens  int64
	outputTokens int64
	costUSD      float64
	byOperation  map[string]int64

	// Alert tracking (each alert is logged once)
	warningLogged  bool
	exceededLogged bool
}

// NewTracker creates a tracker. cfg is expected to have passed config validation.
func NewTracker(cfg config.BudgetConfig, log zerolog.Logger) *Tracker {
	return &Tracker{
		cfg:         cfg,
		log:         log.With().Str("component", "budget").Logger(),
		byOperation: make(map[string]int64),
	}
}

// RecordUsage records the tokens of one completed oracle call.
func (t *Tracker) RecordUsage(operation string, inputTokens, outputTokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls++
	t.inputTokens += inputTokens
	t.outputTokens += outputTokens
	t.costUSD += t.calculateCost(inputTokens, outputTokens)
	t.byOperation[operation] += inputTokens + outputTokens

	t.emitAlertsIfNeeded(t.statusLocked())
}

// CheckBudget returns the current budget status without recording usage
func (t *Tracker) CheckBudget() BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked()
}

// CanProceed reports whether another oracle call fits the budget, and if not, why.
func (t *Tracker) CanProceed() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tokenLimitExceeded() {
		return false, fmt.Sprintf("token budget exceeded (%d/%d tokens used)",
			t.inputTokens+t.outputTokens, t.cfg.MaxTokens)
	}
	if t.costLimitExceeded() {
		return false, fmt.Sprintf("cost budget exceeded ($%.2f/$%.2f used)", t.costUSD, t.cfg.MaxCostUSD)
	}
	return true, ""
}

// Stats returns current usage
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	ops := make(map[string]int64, len(t.byOperation))
	for k, v := range t.byOperation {
		ops[k] = v
	}
	return Stats{
		Status:       t.statusLocked(),
		Calls:        t.calls,
		InputTokens:  t.inputTokens,
		OutputTokens: t.outputTokens,
		CostUSD:      t.costUSD,
		ByOperation:  ops,
	}
}

// statusLocked must be called with mu held.
func (t *Tracker) statusLocked() BudgetStatus {
	if t.tokenLimitExceeded() || t.costLimitExceeded() {
		return BudgetExceeded
	}

	tokens := float64(t.inputTokens + t.outputTokens)
	if (t.cfg.MaxTokens > 0 && tokens >= t.cfg.AlertThreshold*float64(t.cfg.MaxTokens)) ||
		(t.cfg.MaxCostUSD > 0 && t.costUSD >= t.cfg.AlertThreshold*t.cfg.MaxCostUSD) {
		return BudgetWarning
	}
	return BudgetHealthy
}

func (t *Tracker) tokenLimitExceeded() bool {
	return t.cfg.MaxTokens > 0 && t.inputTokens+t.outputTokens >= t.cfg.MaxTokens
}

func (t *Tracker) costLimitExceeded() bool {
	return t.cfg.MaxCostUSD > 0 && t.costUSD >= t.cfg.MaxCostUSD
}

// calculateCost calculates the cost in USD for given token usage
func (t *Tracker) calculateCost(inputTokens, outputTokens int64) float64 {
	inputCost := float64(inputTokens) * t.cfg.InputTokenCost / 1_000_000
	outputCost := float64(outputTokens) * t.cfg.OutputTokenCost / 1_000_000
	return inputCost + outputCost
}

func (t *Tracker) emitAlertsIfNeeded(status BudgetStatus) {
	switch status {
	case BudgetWarning:
		if !t.warningLogged {
			t.warningLogged = true
			t.log.Warn().
				Int64("tokens", t.inputTokens+t.outputTokens).
				Int64("max_tokens", t.cfg.MaxTokens).
				Float64("cost_usd", t.costUSD).
				Float64("max_cost_usd", t.cfg.MaxCostUSD).
				Msg("approaching oracle budget")
		}
	case BudgetExceeded:
		if !t.exceededLogged {
			t.exceededLogged = true
			t.warningLogged = true
			t.log.Warn().
				Int64("tokens", t.inputTokens+t.outputTokens).
				Float64("cost_usd", t.costUSD).
				Msg("oracle budget exhausted; remaining calls are refused")
		}
	}
}
