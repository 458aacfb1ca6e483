package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Pre-compiled regular expressions for performance.
var (
	// ```lang\n ... ``` with any language tag; the newline after the tag is required
	// so that an untagged fence starting with code is not mistaken for a tag.
	codeFenceTaggedRegex = regexp.MustCompile("(?s)^```[A-Za-z0-9_+#.-]*[ \\t]*\\r?\\n(.*?)\\r?\\n?```\\s*$")
	// Matches: ```{...}```, ```json{...}```, ``` json {...}``` (single-line replies)
	codeFenceInlineRegex = regexp.MustCompile("(?s)^```[ \\t]*(?:json|javascript|js)?[ \\t]*(.*?)```\\s*$")
	codeFenceAnyRegex    = regexp.MustCompile("(?s)```[A-Za-z0-9_+#.-]*[ \\t]*\\r?\\n?(.*?)\\r?\\n?```")

	// JSON cleanup patterns
	trailingCommaRegex     = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRegex       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_$][a-zA-Z0-9_$]*)\s*:`)
	singleLineCommentRegex = regexp.MustCompile(`(?m)^\s*//.*$`)
	multiLineCommentRegex  = regexp.MustCompile(`(?s)/\*.*?\*/`)

	// JSON extraction patterns (greedy to capture nested structures)
	objectRegex = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	arrayRegex  = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
)

// maxParseInput bounds the text handed to the decoder.
const maxParseInput = 10 * 1024 * 1024

// ParseResult represents the result of a JSON parse operation.
// It is a tagged result: either Success with Data, or an Error message.
type ParseResult[T any] struct {
	Success      bool
	Data         T
	Error        string
	Strategy     string // which strategy produced Data
	OriginalText string
}

// Parse attempts to parse oracle output as JSON with multiple fallback strategies.
// It never panics.
//
// Strategy sequence:
//  1. Direct JSON parse
//  2. Remove code fences and retry
//  3. Fix common JSON issues and retry
//  4. Extract JSON from mixed content and retry
func Parse[T any](text string, context string) ParseResult[T] {
	if len(text) > maxParseInput {
		return createError[T](
			fmt.Sprintf("input exceeds size limit (%d > %d bytes)", len(text), maxParseInput),
			truncate(text, 1000),
			context,
		)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return createError[T]("empty input", text, context)
	}

	if result, err := tryDirectParse[T](trimmed); err == nil {
		return success(result, "direct", text)
	}

	withoutFences := StripCodeFences(trimmed)
	if withoutFences != trimmed {
		if result, err := tryDirectParse[T](withoutFences); err == nil {
			return success(result, "fences", text)
		}
	}

	cleaned := cleanupJSON(withoutFences)
	if result, err := tryDirectParse[T](cleaned); err == nil {
		return success(result, "cleanup", text)
	}

	// Extract from cleaned version, not trimmed (which may still have fences)
	if extracted := extractJSON(cleaned); extracted != "" {
		if result, err := tryDirectParse[T](extracted); err == nil {
			return success(result, "extract", text)
		}
	}

	return createError[T]("all JSON parsing strategies failed", text, context)
}

func success[T any](data T, strategy, text string) ParseResult[T] {
	return ParseResult[T]{
		Success:      true,
		Data:         data,
		Strategy:     strategy,
		OriginalText: text,
	}
}

// tryDirectParse attempts a direct JSON parse without any cleanup.
func tryDirectParse[T any](text string) (T, error) {
	var result T
	err := json.Unmarshal([]byte(text), &result)
	return result, err
}

// StripCodeFences removes a markdown code fence wrapping the text, whatever the
// language tag. Text without fences is returned trimmed.
func StripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)

	if m := codeFenceTaggedRegex.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := codeFenceInlineRegex.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}

	// Prose around a single fenced block: keep the block
	if m := codeFenceAnyRegex.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}

	// Single backticks wrapping the entire content
	if len(trimmed) > 1 && strings.HasPrefix(trimmed, "`") && strings.HasSuffix(trimmed, "`") {
		return strings.TrimSpace(trimmed[1 : len(trimmed)-1])
	}

	return trimmed
}

// StripWrappingFence removes a markdown fence only when it wraps the entire
// text. Fences inside the text are content (doc comments, fixtures) and are
// kept, as is any text without a wrapping fence.
func StripWrappingFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	if m := codeFenceTaggedRegex.FindStringSubmatch(trimmed); m != nil {
		return m[1]
	}
	if m := codeFenceInlineRegex.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// cleanupJSON fixes common JSON formatting issues.
// - Removes trailing commas before closing braces/brackets
// - Fixes unquoted object keys (basic cases, JavaScript identifiers only)
// - Removes whole-line // comments and /* */ comments
//
// Does NOT convert single quotes to double quotes, as this would break
// valid JSON containing apostrophes.
func cleanupJSON(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = trailingCommaRegex.ReplaceAllString(cleaned, "$1")
	cleaned = unquotedKeyRegex.ReplaceAllString(cleaned, `$1"$2":`)
	cleaned = singleLineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = multiLineCommentRegex.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// extractJSON tries to extract JSON objects or arrays from mixed content.
// Returns empty string if no JSON-like content is found.
//
// The first JSON-like character decides the type, preventing
// extraction of {"id": 1} from [{"id": 1}, {"id": 2}].
func extractJSON(text string) string {
	trimmed := strings.TrimSpace(text)

	if len(trimmed) > 0 {
		switch trimmed[0] {
		case '[':
			if match := arrayRegex.FindString(text); match != "" {
				return match
			}
		case '{':
			if match := objectRegex.FindString(text); match != "" {
				return match
			}
		}
	}

	// Objects are more common in oracle replies
	if match := objectRegex.FindString(text); match != "" {
		return match
	}
	if match := arrayRegex.FindString(text); match != "" {
		return match
	}
	return ""
}

// createError creates a failed ParseResult with error details.
func createError[T any](message, text, context string) ParseResult[T] {
	var zero T
	errorMsg := message
	if context != "" {
		errorMsg = context + ": " + message
	}
	return ParseResult[T]{
		Success:      false,
		Data:         zero,
		Error:        errorMsg,
		OriginalText: text,
	}
}

// truncate truncates a string to maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
