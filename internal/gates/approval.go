package gates

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/steveyegge/bughunter/internal/fix"
)

// lineReader is the part of *readline.Instance the confirmer uses.
type lineReader interface {
	SetPrompt(prompt string)
	Readline() (string, error)
}

// TerminalConfirmer prompts on the terminal with readline.
// Ctrl+C, Ctrl+D and "q" abort the fix loop.
type TerminalConfirmer struct {
	rl     lineReader
	out    io.Writer
	closer io.Closer
}

var _ fix.Confirmer = (*TerminalConfirmer)(nil)

// NewTerminalConfirmer creates a confirmer bound to stdin/stdout.
func NewTerminalConfirmer() (*TerminalConfirmer, error) {
	rl, err := readline.NewEx(&readline.Config{
		InterruptPrompt:        "^C",
		EOFPrompt:              "quit",
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &TerminalConfirmer{rl: rl, out: rl.Stdout(), closer: rl}, nil
}

// Close releases the terminal.
func (c *TerminalConfirmer) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Confirm implements fix.Confirmer. Invalid input re-prompts.
func (c *TerminalConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	cyan := color.New(color.FgCyan).SprintFunc()
	c.rl.SetPrompt(cyan(prompt) + " [y/n/q]: ")

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return false, fix.ErrAborted
			}
			return false, fmt.Errorf("failed to read answer: %w", err)
		}

		switch ParseDecision(line) {
		case DecisionYes:
			return true, nil
		case DecisionNo:
			return false, nil
		case DecisionQuit:
			return false, fix.ErrAborted
		default:
			fmt.Fprintf(c.out, "Invalid input '%s'. Please enter y, n, or q.\n", line)
		}
	}
}
