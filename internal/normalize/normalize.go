// Package normalize turns a raw oracle reply into validated vulnerabilities.
//
// The reply is untrusted. Decoding never panics: a reply that cannot be decoded
// yields a ProtocolError for the whole file, and individual malformed entries are
// dropped with a ValidationError while their siblings survive.
package normalize

import (
	"fmt"
	"math"
	"strings"

	"github.com/steveyegge/bughunter/internal/ai"
	"github.com/steveyegge/bughunter/internal/types"
)

// maxReplyPreview bounds the reply text kept on a ProtocolError
const maxReplyPreview = 500

// Outcome is the tagged result of normalizing one reply.
// When Err is non-nil the other fields are empty.
type Outcome struct {
	Vulnerabilities []*types.Vulnerability
	Dropped         []*ValidationError
	Err             error
}

// Normalize decodes raw and validates every entry against the finding schema.
// Accepted shapes are an object with a "vulnerabilities" array, or a bare array.
func Normalize(raw string, file types.FileRecord) Outcome {
	entries, perr := decode(raw, file.RelativePath)
	if perr != nil {
		return Outcome{Err: perr}
	}

	out := Outcome{Vulnerabilities: make([]*types.Vulnerability, 0, len(entries))}
	seen := make(map[string]bool, len(entries))

	for i, entry := range entries {
		vuln, verr := validateEntry(entry, i, file.RelativePath)
		if verr != nil {
			out.Dropped = append(out.Dropped, verr)
			continue
		}

		vuln.ID = uniqueID(file.RelativePath, vuln.OracleID, seen)
		out.Vulnerabilities = append(out.Vulnerabilities, vuln)
	}
	return out
}

func decode(raw, file string) ([]any, *ProtocolError) {
	result := ai.Parse[any](raw, "oracle reply")
	if !result.Success {
		return nil, &ProtocolError{File: file, Reason: result.Error, Reply: preview(raw)}
	}

	switch v := result.Data.(type) {
	case []any:
		return v, nil
	case map[string]any:
		list, ok := v["vulnerabilities"]
		if !ok {
			return nil, &ProtocolError{File: file, Reason: `reply object has no "vulnerabilities" field`, Reply: preview(raw)}
		}
		arr, ok := list.([]any)
		if !ok {
			if list == nil {
				return []any{}, nil
			}
			return nil, &ProtocolError{File: file, Reason: `"vulnerabilities" is not an array`, Reply: preview(raw)}
		}
		return arr, nil
	default:
		return nil, &ProtocolError{File: file, Reason: fmt.Sprintf("reply is a JSON %s, want object or array", jsonKind(v)), Reply: preview(raw)}
	}
}

func validateEntry(entry any, index int, file string) (*types.Vulnerability, *ValidationError) {
	fail := func(field, reason string) *ValidationError {
		return &ValidationError{File: file, Index: index, Field: field, Reason: reason}
	}

	obj, ok := entry.(map[string]any)
	if !ok {
		return nil, fail("", fmt.Sprintf("entry is a JSON %s, want object", jsonKind(entry)))
	}

	id, err := requiredString(obj, "id", true)
	if err != "" {
		return nil, fail("id", err)
	}
	title, err := requiredString(obj, "title", true)
	if err != "" {
		return nil, fail("title", err)
	}

	sevRaw, err := requiredString(obj, "severity", true)
	if err != "" {
		return nil, fail("severity", err)
	}
	severity, ok := types.ParseSeverity(sevRaw)
	if !ok {
		return nil, fail("severity", fmt.Sprintf("is %q, want one of LOW, MEDIUM, HIGH, CRITICAL", sevRaw))
	}

	confidence, err := requiredNumber(obj, "confidence")
	if err != "" {
		return nil, fail("confidence", err)
	}
	if confidence < 0 || confidence > 1 {
		return nil, fail("confidence", fmt.Sprintf("is %v, want a value in [0,1]", confidence))
	}

	category, err := requiredString(obj, "category", false)
	if err != "" {
		return nil, fail("category", err)
	}

	lineNum, err := requiredNumber(obj, "line")
	if err != "" {
		return nil, fail("line", err)
	}
	if lineNum < 0 || lineNum != math.Trunc(lineNum) || lineNum > math.MaxInt32 {
		return nil, fail("line", fmt.Sprintf("is %v, want a non-negative integer", lineNum))
	}

	description, err := requiredString(obj, "description", false)
	if err != "" {
		return nil, fail("description", err)
	}

	vuln := &types.Vulnerability{
		OracleID:    id,
		Title:       title,
		Severity:    severity,
		Confidence:  confidence,
		Category:    strings.TrimSpace(category),
		File:        file,
		Line:        int(lineNum),
		Description: description,
	}

	// Optional fields are type-checked when present. "file" is accepted but
	// ignored: findings always belong to the analyzed file.
	optional := []struct {
		name string
		dst  *string
	}{
		{"file", nil},
		{"impact", &vuln.Impact},
		{"exploitationScenario", &vuln.ExploitationScenario},
		{"recommendation", &vuln.Recommendation},
		{"secureCodeExample", &vuln.SecureCodeExample},
	}
	for _, f := range optional {
		s, present, err := optionalString(obj, f.name)
		if err != "" {
			return nil, fail(f.name, err)
		}
		if present && f.dst != nil {
			*f.dst = s
		}
	}

	if raw, present := obj["autoFixSafe"]; present && raw != nil {
		b, ok := raw.(bool)
		if !ok {
			return nil, fail("autoFixSafe", fmt.Sprintf("is a JSON %s, want boolean", jsonKind(raw)))
		}
		vuln.AutoFixSafe = b
	}

	return vuln, nil
}

func requiredString(obj map[string]any, name string, nonEmpty bool) (string, string) {
	raw, present := obj[name]
	if !present || raw == nil {
		return "", "is missing"
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Sprintf("is a JSON %s, want string", jsonKind(raw))
	}
	if nonEmpty && strings.TrimSpace(s) == "" {
		return "", "is empty"
	}
	if nonEmpty {
		s = strings.TrimSpace(s)
	}
	return s, ""
}

func requiredNumber(obj map[string]any, name string) (float64, string) {
	raw, present := obj[name]
	if !present || raw == nil {
		return 0, "is missing"
	}
	n, ok := raw.(float64)
	if !ok {
		return 0, fmt.Sprintf("is a JSON %s, want number", jsonKind(raw))
	}
	return n, ""
}

func optionalString(obj map[string]any, name string) (string, bool, string) {
	raw, present := obj[name]
	if !present || raw == nil {
		return "", false, ""
	}
	s, ok := raw.(string)
	if !ok {
		return "", false, fmt.Sprintf("is a JSON %s, want string", jsonKind(raw))
	}
	return s, true, ""
}

// uniqueID builds "<file>#<oracleID>", suffixing -2, -3... on collisions within a reply.
func uniqueID(file, oracleID string, seen map[string]bool) string {
	base := file + "#" + oracleID
	id := base
	for n := 2; seen[id]; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	seen[id] = true
	return id
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func preview(s string) string {
	if len(s) <= maxReplyPreview {
		return s
	}
	return s[:maxReplyPreview] + "..."
}
