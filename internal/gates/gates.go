// Package gates provides the confirmation capabilities the fix loop asks
// before generating and before writing a fix.
package gates

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/steveyegge/bughunter/internal/fix"
	"golang.org/x/term"
)

// Decision is a parsed answer to a confirmation prompt.
type Decision int

const (
	DecisionInvalid Decision = iota
	DecisionYes
	DecisionNo
	DecisionQuit
)

// ParseDecision interprets user input (case-insensitive, surrounding space ignored).
func ParseDecision(input string) Decision {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return DecisionYes
	case "n", "no":
		return DecisionNo
	case "q", "quit", "exit":
		return DecisionQuit
	default:
		return DecisionInvalid
	}
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// AutoConfirmer answers every prompt the same way (--yes / BUGHUNTER_AUTO_APPROVE).
type AutoConfirmer struct {
	Approve bool
}

var _ fix.Confirmer = AutoConfirmer{}

// Confirm implements fix.Confirmer.
func (a AutoConfirmer) Confirm(ctx context.Context, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return a.Approve, nil
}

// ScriptedConfirmer answers from a fixed list and aborts once it runs out.
type ScriptedConfirmer struct {
	mu      sync.Mutex
	answers []bool
	prompts []string
}

var _ fix.Confirmer = (*ScriptedConfirmer)(nil)

// NewScriptedConfirmer creates a confirmer that replays answers in order.
func NewScriptedConfirmer(answers ...bool) *ScriptedConfirmer {
	return &ScriptedConfirmer{answers: answers}
}

// Confirm implements fix.Confirmer.
func (s *ScriptedConfirmer) Confirm(_ context.Context, prompt string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if len(s.answers) == 0 {
		return false, fix.ErrAborted
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

// Prompts returns every prompt seen so far.
func (s *ScriptedConfirmer) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}
