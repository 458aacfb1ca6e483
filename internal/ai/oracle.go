// Package ai is the boundary to the external AI oracle.
//
// The oracle is a text-in/text-out black box. Everything crossing this boundary
// is untrusted: replies may be fenced, truncated or not JSON at all. Decoding the
// analysis reply into findings is the normalize package's job; this package only
// transports text, strips fences from fix replies and owns retry policy.
package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/types"
)

// Oracle is the capability the scan and fix pipelines depend on.
type Oracle interface {
	// Analyze returns the raw reply for one file.
	Analyze(ctx context.Context, code string, actx types.AnalysisContext) (string, error)
	// GenerateFix returns the proposed full replacement content for the file.
	GenerateFix(ctx context.Context, vuln *types.Vulnerability, code string) (string, error)
	// TestConnection performs a minimal round trip.
	TestConnection(ctx context.Context) ConnectionResult
}

// Budget limits oracle spending. cost.Tracker implements it.
type Budget interface {
	CanProceed() (bool, string)
	RecordUsage(operation string, inputTokens, outputTokens int64)
}

// ErrBudgetExceeded is returned instead of calling the oracle once the budget is spent.
var ErrBudgetExceeded = errors.New("oracle budget exceeded")

// ErrTruncatedReply is returned when a reply stopped at the output token limit.
// A cut-off reply is never passed on as analysis or as a replacement file.
var ErrTruncatedReply = errors.New("oracle reply truncated at the token limit")

// ErrCodeTooLarge is returned, without calling the oracle, for code longer than
// the prompt can carry whole.
var ErrCodeTooLarge = errors.New("code too large for one oracle prompt")

// ConnectionResult is the outcome of TestConnection
type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ConnectivityError means the oracle is unreachable or rejects our credentials.
// It is the only run-fatal error.
type ConnectivityError struct {
	Provider string
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cannot reach %s oracle: %v", e.Provider, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// IsConnectivityError reports whether err is or wraps a ConnectivityError.
func IsConnectivityError(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// Connect initializes a client and verifies it with TestConnection.
// Any failure is returned as *ConnectivityError.
func Connect(ctx context.Context, cfg config.OracleConfig, log zerolog.Logger) (*Client, error) {
	client, err := NewClient(cfg, log)
	if err != nil {
		return nil, &ConnectivityError{Provider: cfg.Provider, Err: err}
	}

	result := client.TestConnection(ctx)
	if !result.Success {
		return nil, &ConnectivityError{Provider: cfg.Provider, Err: errors.New(result.Error)}
	}
	return client, nil
}
