package normalize

import "fmt"

// ProtocolError means the oracle reply for a file could not be decoded into the
// expected shape at all. The file is recorded as failed; the run continues.
type ProtocolError struct {
	File   string
	Reason string
	Reply  string // truncated original reply, for diagnostics
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("oracle protocol error for %s: %s", e.File, e.Reason)
}

// ValidationError describes one reply entry that was dropped.
type ValidationError struct {
	File   string
	Index  int    // position of the entry in the reply array
	Field  string // offending field, empty when the entry itself is malformed
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: entry %d dropped: %s", e.File, e.Index, e.Reason)
	}
	return fmt.Sprintf("%s: entry %d dropped: field %q %s", e.File, e.Index, e.Field, e.Reason)
}
