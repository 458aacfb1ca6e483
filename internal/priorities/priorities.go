// Package priorities orders findings for the report and the fix loop.
package priorities

import (
	"sort"

	"github.com/steveyegge/bughunter/internal/types"
)

// Less reports whether a ranks ahead of b.
//
// Ordering rules:
// - Higher severity first
// - Higher risk score first
// - Then file, line and ID ascending so equal-risk findings keep a stable order
func Less(a, b *types.Vulnerability) bool {
	if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
		return ra > rb
	}
	if a.RiskScore != b.RiskScore {
		return a.RiskScore > b.RiskScore
	}
	if a.File != b.File {
		return a.File < b.File
	}
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.ID < b.ID
}

// Prioritize returns a sorted copy of vulns and assigns 1-based PriorityRank.
// The input slice is not reordered.
func Prioritize(vulns []*types.Vulnerability) []*types.Vulnerability {
	out := make([]*types.Vulnerability, len(vulns))
	copy(out, vulns)
	sort.SliceStable(out, func(i, j int) bool {
		return Less(out[i], out[j])
	})
	for i, v := range out {
		v.PriorityRank = i + 1
	}
	return out
}

// Top returns at most n findings from an already prioritized list.
func Top(sorted []*types.Vulnerability, n int) []*types.Vulnerability {
	if n < 0 || n >= len(sorted) {
		return sorted
	}
	return sorted[:n]
}
