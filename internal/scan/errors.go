package scan

import (
	"fmt"

	"github.com/steveyegge/bughunter/internal/types"
)

// FileError is a per-file analysis failure. It is recorded on the report and
// never aborts the run.
type FileError struct {
	File string
	Kind types.FailureKind
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s analysis of %s failed: %v", e.Kind, e.File, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Failure converts the error into its report form.
func (e *FileError) Failure() types.FileFailure {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return types.FileFailure{File: e.File, Kind: e.Kind, Error: msg}
}
