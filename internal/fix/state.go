package fix

import (
	"fmt"

	"github.com/steveyegge/bughunter/internal/types"
)

// transitions lists the legal successors of every non-terminal state.
//
// State flow:
// - PENDING → FIX_REQUESTED when the user asks for a fix
// - FIX_REQUESTED → FIX_GENERATED when the oracle proposes a change
// - FIX_GENERATED → APPLIED when the user accepts and the write succeeds
// - any non-terminal state → SKIPPED or FAILED
var transitions = map[types.FixState][]types.FixState{
	types.FixPending:   {types.FixRequested, types.FixSkipped, types.FixFailed},
	types.FixRequested: {types.FixGenerated, types.FixSkipped, types.FixFailed},
	types.FixGenerated: {types.FixApplied, types.FixSkipped, types.FixFailed},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to types.FixState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// tracker follows one vulnerability through the state machine.
type tracker struct {
	vuln   *types.Vulnerability
	state  types.FixState
	reason string
	backup string
	onMove func(from, to types.FixState, reason string)
}

func newTracker(v *types.Vulnerability, onMove func(from, to types.FixState, reason string)) *tracker {
	return &tracker{vuln: v, state: types.FixPending, onMove: onMove}
}

func (t *tracker) move(to types.FixState, reason string) error {
	if !CanTransition(t.state, to) {
		return fmt.Errorf("illegal fix transition %s → %s for %s", t.state, to, t.vuln.ID)
	}
	from := t.state
	t.state = to
	t.reason = reason
	if t.onMove != nil {
		t.onMove(from, to, reason)
	}
	return nil
}

func (t *tracker) outcome() types.FixOutcome {
	return types.FixOutcome{
		VulnerabilityID: t.vuln.ID,
		File:            t.vuln.File,
		State:           t.state,
		Reason:          t.reason,
		BackupPath:      t.backup,
	}
}
