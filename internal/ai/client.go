package ai

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/types"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Client implements Oracle on top of a model backend.
//
// Responsibilities are split across files:
//   - client.go: struct, constructor and the Oracle operations (this file)
//   - backend.go: provider backends
//   - retry.go: circuit breaker and retry logic
//   - json_parser.go: fence stripping and lenient JSON decoding
//   - prompts.go: prompt construction
type Client struct {
	backend        backend
	model          string
	maxTokens      int
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted // limits concurrent oracle calls
	limiter        *rate.Limiter       // nil = unlimited
	budget         Budget              // nil = unlimited
	log            zerolog.Logger

	calls        atomic.Int64
	inputTokens  atomic.Int64
	outputTokens atomic.Int64
}

var _ Oracle = (*Client)(nil)

// Usage is the cumulative token usage of a Client
type Usage struct {
	Calls        int64 `json:"calls"`
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// NewClient creates an oracle client. It does not contact the provider;
// use Connect or TestConnection for that.
func NewClient(cfg config.OracleConfig, log zerolog.Logger) (*Client, error) {
	b, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	return newClientWithBackend(b, cfg, log), nil
}

func newClientWithBackend(b backend, cfg config.OracleConfig, log zerolog.Logger) *Client {
	retry := retryConfigFrom(cfg)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	c := &Client{
		backend:   b,
		model:     cfg.Model,
		maxTokens: maxTokens,
		retry:     retry,
		log:       log.With().Str("component", "oracle").Str("provider", b.name()).Logger(),
	}

	if retry.CircuitBreakerEnabled {
		c.circuitBreaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
		c.log.Debug().
			Int("failure_threshold", retry.FailureThreshold).
			Int("success_threshold", retry.SuccessThreshold).
			Dur("open_timeout", retry.OpenTimeout).
			Msg("circuit breaker initialized")
	}

	if cfg.MaxConcurrentCalls > 0 {
		c.concurrencySem = semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls))
		c.log.Debug().Int("max_concurrent", cfg.MaxConcurrentCalls).Msg("oracle concurrency limiter initialized")
	}

	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return c
}

// SetBudget makes every later call check and record usage against b.
func (c *Client) SetBudget(b Budget) { c.budget = b }

// Provider returns the backend name
func (c *Client) Provider() string { return c.backend.name() }

// Usage returns cumulative token usage across all calls so far
func (c *Client) Usage() Usage {
	return Usage{
		Calls:        c.calls.Load(),
		InputTokens:  c.inputTokens.Load(),
		OutputTokens: c.outputTokens.Load(),
	}
}

// CircuitState reports the breaker state, or CircuitClosed when disabled
func (c *Client) CircuitState() CircuitState {
	if c.circuitBreaker == nil {
		return CircuitClosed
	}
	return c.circuitBreaker.GetState()
}

// call makes one oracle call with retry logic and records usage.
func (c *Client) call(ctx context.Context, operation, prompt string, maxTokens int) (string, error) {
	startTime := time.Now()

	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	if c.budget != nil {
		if ok, reason := c.budget.CanProceed(); !ok {
			return "", fmt.Errorf("%w: %s", ErrBudgetExceeded, reason)
		}
	}

	var resp completion
	err := c.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		r, apiErr := c.backend.complete(attemptCtx, prompt, maxTokens)
		if apiErr != nil {
			return apiErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s API call failed: %w", c.backend.name(), err)
	}

	c.calls.Add(1)
	c.inputTokens.Add(resp.InputTokens)
	c.outputTokens.Add(resp.OutputTokens)
	if c.budget != nil {
		c.budget.RecordUsage(operation, resp.InputTokens, resp.OutputTokens)
	}

	c.log.Debug().
		Str("operation", operation).
		Int64("input_tokens", resp.InputTokens).
		Int64("output_tokens", resp.OutputTokens).
		Bool("truncated", resp.Truncated).
		Dur("duration", time.Since(startTime)).
		Msg("oracle call")

	if resp.Truncated {
		return "", fmt.Errorf("%s %w (max_tokens %d)", operation, ErrTruncatedReply, maxTokens)
	}
	return resp.Text, nil
}

func checkCodeSize(code string) error {
	if len(code) > maxPromptCode {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrCodeTooLarge, len(code), maxPromptCode)
	}
	return nil
}

// Analyze sends one file for analysis and returns the raw reply.
func (c *Client) Analyze(ctx context.Context, code string, actx types.AnalysisContext) (string, error) {
	if err := checkCodeSize(code); err != nil {
		return "", err
	}
	return c.call(ctx, "analysis", buildAnalysisPrompt(code, actx), 0)
}

// GenerateFix asks for a complete replacement of the file. A fence is removed
// only when it wraps the whole reply.
func (c *Client) GenerateFix(ctx context.Context, vuln *types.Vulnerability, code string) (string, error) {
	if err := checkCodeSize(code); err != nil {
		return "", err
	}
	reply, err := c.call(ctx, "fix", buildFixPrompt(vuln, code), 0)
	if err != nil {
		return "", err
	}
	return StripWrappingFence(reply), nil
}

// Explain returns a short plain-language explanation of a vulnerability category.
func (c *Client) Explain(ctx context.Context, category string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return "", fmt.Errorf("category is required")
	}
	reply, err := c.call(ctx, "explain", buildExplainPrompt(category), 2048)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// TestConnection performs a minimal round trip. It never retries: a failing
// startup check should fail fast.
func (c *Client) TestConnection(ctx context.Context) ConnectionResult {
	var resp completion
	err := c.attempt(ctx, func(attemptCtx context.Context) error {
		var apiErr error
		resp, apiErr = c.backend.complete(attemptCtx, connectionTestPrompt, 16)
		return apiErr
	})
	if err != nil {
		return ConnectionResult{
			Success: false,
			Message: fmt.Sprintf("%s oracle unreachable", c.backend.name()),
			Error:   err.Error(),
		}
	}
	c.calls.Add(1)
	c.inputTokens.Add(resp.InputTokens)
	c.outputTokens.Add(resp.OutputTokens)

	return ConnectionResult{
		Success: true,
		Message: fmt.Sprintf("connected to %s (%s)", c.backend.name(), c.model),
	}
}
