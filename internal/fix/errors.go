package fix

import (
	"errors"
	"fmt"
)

// ErrAborted stops the loop; entries not yet handled are skipped.
var ErrAborted = errors.New("fix loop aborted")

// GenerationError means the oracle did not produce a usable proposal.
type GenerationError struct {
	VulnerabilityID string
	Err             error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("fix generation for %s failed: %v", e.VulnerabilityID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// FilesystemError is a failed read, backup or write of a target file.
type FilesystemError struct {
	Op   string // read, backup, write, resolve
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }
