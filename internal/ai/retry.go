package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/steveyegge/bughunter/internal/config"
)

// RetryConfig holds retry configuration for oracle calls
type RetryConfig struct {
	MaxRetries        int           // Maximum number of retries (default: 3)
	AttemptTimeout    time.Duration // Deadline of each attempt (default: 2m, 0 = none)
	InitialBackoff    time.Duration // Initial backoff duration (default: 1s)
	MaxBackoff        time.Duration // Maximum backoff duration (default: 30s)
	BackoffMultiplier float64       // Backoff multiplier (default: 2.0)

	// Circuit breaker settings
	CircuitBreakerEnabled bool
	FailureThreshold      int           // Failures before opening circuit (default: 5)
	SuccessThreshold      int           // Successes in half-open before closing (default: 2)
	OpenTimeout           time.Duration // How long to keep circuit open (default: 30s)
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:            3,
		AttemptTimeout:        2 * time.Minute,
		InitialBackoff:        1 * time.Second,
		MaxBackoff:            30 * time.Second,
		BackoffMultiplier:     2.0,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
	}
}

// retryConfigFrom derives the retry policy from oracle configuration.
func retryConfigFrom(cfg config.OracleConfig) RetryConfig {
	rc := DefaultRetryConfig()
	rc.MaxRetries = cfg.MaxRetries
	if cfg.Timeout > 0 {
		rc.AttemptTimeout = cfg.Timeout
	}
	if cfg.InitialBackoff > 0 {
		rc.InitialBackoff = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		rc.MaxBackoff = cfg.MaxBackoff
	}
	rc.CircuitBreakerEnabled = cfg.CircuitBreakerEnabled
	if cfg.FailureThreshold > 0 {
		rc.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.OpenTimeout > 0 {
		rc.OpenTimeout = cfg.OpenTimeout
	}
	return rc
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, requests pass through
	CircuitOpen                         // Too many failures, block requests (fail fast)
	CircuitHalfOpen                     // Testing recovery, allow limited requests
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker stops hammering an oracle that keeps failing
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	now              func() time.Time
}

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		now:              time.Now,
	}
}

// Allow checks if a request should be allowed through the circuit breaker
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return nil
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.openTimeout {
			cb.state = CircuitHalfOpen
			cb.successCount = 0
			return nil
		}
		return ErrCircuitOpen
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = CircuitClosed
			cb.failureCount = 0
			cb.successCount = 0
		}
	}
}

// RecordFailure records a failed request
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.state = CircuitOpen
			cb.successCount = 0
		}
	case CircuitHalfOpen:
		// Any failure in half-open immediately opens the circuit
		cb.state = CircuitOpen
		cb.successCount = 0
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ErrorType classifies oracle errors for retry decisions
type ErrorType string

const (
	ErrorTransient ErrorType = "transient" // 5xx, timeouts, connection resets
	ErrorQuota     ErrorType = "quota"     // 429 rate limits
	ErrorAuth      ErrorType = "auth"      // 401/403
	ErrorInvalid   ErrorType = "invalid"   // other 4xx
	ErrorUnknown   ErrorType = "unknown"
)

// classifyError inspects typed SDK errors first and falls back to message matching.
func classifyError(err error) ErrorType {
	if err == nil {
		return ErrorUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode)
	}
	var azErr *azcore.ResponseError
	if errors.As(err, &azErr) {
		return classifyStatus(azErr.StatusCode)
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") {
		return ErrorQuota
	}
	if strings.Contains(errStr, "401") || strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "invalid api key") {
		return ErrorAuth
	}
	for _, s := range []string{
		"500", "502", "503", "504", "529",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout", "overloaded",
		"connection refused", "connection reset", "timeout", "temporary failure", "eof",
	} {
		if strings.Contains(errStr, s) {
			return ErrorTransient
		}
	}
	if strings.Contains(errStr, "400") || strings.Contains(errStr, "404") {
		return ErrorInvalid
	}
	return ErrorUnknown
}

func classifyStatus(code int) ErrorType {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorQuota
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorAuth
	case code >= 500:
		return ErrorTransient
	case code >= 400:
		return ErrorInvalid
	default:
		return ErrorUnknown
	}
}

// isRetriableError determines if an error is retriable (transient)
func isRetriableError(err error) bool {
	switch classifyError(err) {
	case ErrorTransient, ErrorQuota:
		return true
	default:
		return false
	}
}

// retryWithBackoff executes an operation with retry and exponential backoff.
// The caller's ctx bounds the whole sequence including backoff sleeps; the
// orchestrator's per-file timeout therefore covers retries too. Each attempt
// also gets its own AttemptTimeout, and an expired attempt is retried.
func (c *Client) retryWithBackoff(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.concurrencySem != nil {
		if err := c.concurrencySem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("failed to acquire concurrency slot for %s: %w", operation, err)
		}
		defer c.concurrencySem.Release(1)
	}

	var lastErr error
	backoff := c.retry.InitialBackoff

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if c.circuitBreaker != nil {
			if err := c.circuitBreaker.Allow(); err != nil {
				c.log.Warn().Str("operation", operation).Msg("oracle call blocked by circuit breaker")
				return fmt.Errorf("%s failed: %w", operation, err)
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s failed: rate limiter: %w", operation, err)
			}
		}

		err := c.attempt(ctx, fn)
		if err == nil {
			if c.circuitBreaker != nil {
				c.circuitBreaker.RecordSuccess()
			}
			if attempt > 0 {
				c.log.Info().Str("operation", operation).Int("retries", attempt).Msg("oracle call succeeded after retries")
			}
			return nil
		}

		lastErr = err

		// Context expiry belongs to the caller, not to the oracle's health
		if ctx.Err() != nil {
			return fmt.Errorf("%s failed: %w", operation, ctx.Err())
		}

		retriable := isRetriableError(err)
		if c.circuitBreaker != nil && retriable {
			c.circuitBreaker.RecordFailure()
		}
		if !retriable {
			return err
		}

		if attempt == c.retry.MaxRetries {
			break
		}

		c.log.Debug().
			Str("operation", operation).
			Int("attempt", attempt+1).
			Int("max_attempts", c.retry.MaxRetries+1).
			Dur("backoff", backoff).
			Err(err).
			Msg("oracle call failed, retrying")

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * c.retry.BackoffMultiplier)
			if backoff > c.retry.MaxBackoff {
				backoff = c.retry.MaxBackoff
			}
		case <-ctx.Done():
			return fmt.Errorf("%s failed: context canceled during backoff: %w", operation, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, c.retry.MaxRetries+1, lastErr)
}

// attempt runs fn once under the per-attempt deadline.
func (c *Client) attempt(ctx context.Context, fn func(context.Context) error) error {
	if c.retry.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.retry.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}
